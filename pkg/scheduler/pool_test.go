package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lightLoad() (float64, float64, error)  { return 10.0, 20.0, nil }
func heavyLoad() (float64, float64, error)  { return 95.0, 40.0, nil }
func brokenLoad() (float64, float64, error) { return 0, 0, errors.New("no procfs") }

// countingJobs tracks how many jobs ran and the peak number running
// at once.
type countingJobs struct {
	ran  atomic.Int32
	cur  atomic.Int32
	peak atomic.Int32
}

func (c *countingJobs)make(n int, pause time.Duration) []Job {
	jobs := make([]Job, n)
	for i := 0; i < n; i++ {
		jobs[i] = Job{
			Name: fmt.Sprintf("job-%02d", i),
			Work: func(ctx context.Context) error {
				now := c.cur.Add(1)
				for {
					p := c.peak.Load()
					if now <= p || c.peak.CompareAndSwap(p, now) {
						break
					}
				}
				time.Sleep(pause)
				c.cur.Add(-1)
				c.ran.Add(1)
				return nil
			},
		}
	}
	return jobs
}

func TestPoolRunsEveryJob(t *testing.T) {
	p := &Pool{Min: 1, Max: 4, LoadCheckEvery: 2, HighWaterCPU: 85, HighWaterMem: 80, Sample: lightLoad}
	counts := &countingJobs{}

	errs := p.Run(context.Background(), counts.make(20, time.Millisecond))

	require.Len(t, errs, 20)
	for i, err := range errs {
		assert.NoError(t, err, "job %d", i)
	}
	assert.Equal(t, int32(20), counts.ran.Load())
	assert.LessOrEqual(t, counts.peak.Load(), int32(4))

	st := p.State()
	assert.Equal(t, 20, st.Completed)
	assert.Equal(t, 0, st.Failed)
	assert.Equal(t, 0, st.Workers, "all workers drained")
}

func TestPoolCollectsErrorsInJobOrder(t *testing.T) {
	errBoom := errors.New("boom")
	errBust := errors.New("bust")

	jobs := make([]Job, 12)
	for i := 0; i < 12; i++ {
		i := i
		jobs[i] = Job{Name: fmt.Sprintf("job-%02d", i), Work: func(ctx context.Context) error {
			switch i {
			case 3:
				return errBoom
			case 7:
				return errBust
			}
			return nil
		}}
	}

	p := &Pool{Min: 1, Max: 3, LoadCheckEvery: 4, HighWaterCPU: 85, HighWaterMem: 80, Sample: lightLoad}
	errs := p.Run(context.Background(), jobs)

	require.Len(t, errs, 12)
	for i, err := range errs {
		switch i {
		case 3:
			assert.ErrorIs(t, err, errBoom)
		case 7:
			assert.ErrorIs(t, err, errBust)
		default:
			assert.NoError(t, err, "job %d", i)
		}
	}
	assert.Equal(t, 2, p.State().Failed)
}

func TestPoolGrowsWhenLoadIsLight(t *testing.T) {
	p := &Pool{Min: 1, Max: 8, LoadCheckEvery: 1, HighWaterCPU: 85, HighWaterMem: 80, Sample: lightLoad}
	counts := &countingJobs{}

	errs := p.Run(context.Background(), counts.make(32, 2*time.Millisecond))

	for _, err := range errs {
		require.NoError(t, err)
	}
	st := p.State()
	assert.Equal(t, 8, st.Target, "steady light load walks the target up to Max")
	assert.LessOrEqual(t, counts.peak.Load(), int32(8))
	assert.Equal(t, 0, st.Workers)
	assert.InDelta(t, 10.0, st.CPUPct, 1e-9)
	assert.InDelta(t, 20.0, st.MemPct, 1e-9)
}

func TestPoolShrinksUnderPressure(t *testing.T) {
	p := &Pool{Min: 2, Max: 6, LoadCheckEvery: 1, HighWaterCPU: 85, HighWaterMem: 80, Sample: heavyLoad}
	counts := &countingJobs{}

	errs := p.Run(context.Background(), counts.make(24, time.Millisecond))

	for _, err := range errs {
		require.NoError(t, err)
	}
	st := p.State()
	assert.Equal(t, 2, st.Target, "sustained pressure walks the target down to Min")
	assert.LessOrEqual(t, counts.peak.Load(), int32(6))
	assert.Equal(t, 0, st.Workers)
}

func TestPoolSurvivesBrokenLoadSampling(t *testing.T) {
	p := &Pool{Min: 1, Max: 4, LoadCheckEvery: 1, HighWaterCPU: 85, HighWaterMem: 80, Sample: brokenLoad}
	counts := &countingJobs{}

	errs := p.Run(context.Background(), counts.make(10, 0))

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(10), counts.ran.Load())

	st := p.State()
	assert.GreaterOrEqual(t, st.Target, 1)
	assert.LessOrEqual(t, st.Target, 4)
}

func TestPoolFailsRemainingJobsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := atomic.Int32{}
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = Job{Name: fmt.Sprintf("job-%02d", i), Work: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}}
	}

	p := &Pool{Min: 1, Max: 4, LoadCheckEvery: 2, HighWaterCPU: 85, HighWaterMem: 80, Sample: lightLoad}
	errs := p.Run(ctx, jobs)

	require.Len(t, errs, 8)
	for i, err := range errs {
		assert.ErrorIs(t, err, context.Canceled, "job %d", i)
	}
	assert.Equal(t, int32(0), ran.Load(), "canceled jobs never start work")
	assert.Equal(t, 8, p.State().Failed)
}

func TestPoolNoJobs(t *testing.T) {
	p := &Pool{Min: 1, Max: 4, LoadCheckEvery: 1, HighWaterCPU: 85, HighWaterMem: 80, Sample: lightLoad}
	errs := p.Run(context.Background(), nil)
	assert.Empty(t, errs)
}
