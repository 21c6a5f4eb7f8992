// Package scheduler runs tile jobs on a worker pool whose size adapts
// to machine load. Workers pull jobs from a shared channel; completion
// events flow back to the controller, which samples CPU and memory
// pressure every few tiles and grows or shrinks the pool between
// configured bounds.
package scheduler

import(
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
)

// Grow marks sit this far below the configured high-water marks, so
// the pool doesn't oscillate around a single threshold.
const (
	cpuGrowHeadroom = 25.0
	memGrowHeadroom = 10.0
)

// A Job is one unit of tile work.
type Job struct {
	Name string
	Work func(ctx context.Context) error
}

// State is a point-in-time snapshot of the pool, for progress
// reporting.
type State struct {
	Workers   int // live right now
	Target    int // where the controller wants to be
	Completed int
	Failed    int
	CPUPct    float64
	MemPct    float64
}

type Pool struct {
	Min            int
	Max            int
	LoadCheckEvery int     // completed tiles between load samples
	HighWaterCPU   float64 // shrink above either high-water mark
	HighWaterMem   float64
	Verbosity      int

	// Sample reports CPU and memory pressure, each in [0,100].
	// Swapped out in tests.
	Sample func() (cpuPct, memPct float64, err error)

	target atomic.Int32
	live   atomic.Int32

	mu        sync.Mutex
	completed int
	failed    int
	lastCPU   float64
	lastMem   float64
}

func NewPool(cfg mosaic.Config) *Pool {
	return &Pool{
		Min:            cfg.MinWorkers,
		Max:            cfg.MaxWorkers,
		LoadCheckEvery: cfg.LoadCheckEvery,
		HighWaterCPU:   cfg.HighWaterCPU,
		HighWaterMem:   cfg.HighWaterMem,
		Verbosity:      cfg.Verbosity,
		Sample:         systemLoad,
	}
}

type indexedJob struct {
	idx  int
	name string
	work func(ctx context.Context) error
}

type jobDone struct {
	idx int
	err error
}

// Run executes every job and returns one error slot per job, in job
// order. A canceled context fails the remaining jobs with the
// context's error rather than abandoning them silently.
func (p *Pool)Run(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	if len(jobs) == 0 {
		return errs
	}

	jobsChan := make(chan indexedJob, len(jobs))
	doneChan := make(chan jobDone, len(jobs))
	for i, job := range jobs {
		jobsChan<- indexedJob{idx: i, name: job.Name, work: job.Work}
	}
	close(jobsChan)

	n := p.initialWorkers(len(jobs))
	p.target.Store(int32(n))

	var wg sync.WaitGroup
	spawnUpToTarget := func() {
		for p.live.Load() < p.target.Load() {
			p.live.Add(1)
			wg.Add(1)
			go p.worker(ctx, jobsChan, doneChan, &wg)
		}
	}
	spawnUpToTarget()

	completed, sinceCheck := 0, 0
	for completed < len(jobs) {
		d := <-doneChan
		errs[d.idx] = d.err
		completed++
		sinceCheck++

		p.mu.Lock()
		p.completed++
		if d.err != nil {
			p.failed++
		}
		p.mu.Unlock()

		if d.err != nil {
			log.Printf("scheduler: tile %s failed: %v", jobs[d.idx].Name, d.err)
		}

		if sinceCheck >= p.LoadCheckEvery && completed < len(jobs) {
			sinceCheck = 0
			p.retune()
			spawnUpToTarget()
		}
	}

	wg.Wait()
	return errs
}

func (p *Pool)worker(ctx context.Context, jobsChan <-chan indexedJob, doneChan chan<- jobDone, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobsChan {
		err := ctx.Err()
		if err == nil {
			err = job.work(ctx)
		}
		doneChan<- jobDone{idx: job.idx, err: err}
		if p.shouldRetire() {
			return
		}
	}
	p.live.Add(-1)
}

// shouldRetire peels surplus workers off one at a time after the
// target drops. The compare-and-swap stops two workers retiring for
// the same surplus slot.
func (p *Pool)shouldRetire() bool {
	for {
		l := p.live.Load()
		if l <= p.target.Load() {
			return false
		}
		if p.live.CompareAndSwap(l, l-1) {
			return true
		}
	}
}

// initialWorkers clamps the starting size to the machine and the work:
// no more workers than CPUs, no more than tiles, never below Min.
func (p *Pool)initialWorkers(nJobs int) int {
	n := p.Max
	if c := runtime.NumCPU(); c < n {
		n = c
	}
	if nJobs < n {
		n = nJobs
	}
	if n < p.Min {
		n = p.Min
	}
	if n < p.Max && p.Verbosity > 0 {
		log.Printf("scheduler: reduced workers from %d to %d (%d CPUs, %d tiles)", p.Max, n, runtime.NumCPU(), nJobs)
	}
	return n
}

func (p *Pool)retune() {
	if p.Sample == nil {
		return
	}
	cpuPct, memPct, err := p.Sample()
	if err != nil {
		if p.Verbosity > 0 {
			log.Printf("scheduler: load sample failed: %v", err)
		}
		return
	}

	p.mu.Lock()
	p.lastCPU, p.lastMem = cpuPct, memPct
	p.mu.Unlock()

	cur := int(p.target.Load())
	want := cur
	switch {
	case cpuPct > p.HighWaterCPU || memPct > p.HighWaterMem:
		want = cur - 1
	case cpuPct < p.HighWaterCPU-cpuGrowHeadroom && memPct < p.HighWaterMem-memGrowHeadroom:
		want = cur + 1
	}
	if want > p.Max {
		want = p.Max
	}
	if want < p.Min {
		want = p.Min
	}

	if want != cur {
		p.target.Store(int32(want))
		if p.Verbosity > 0 {
			log.Printf("scheduler: %d -> %d workers (cpu %.0f%%, mem %.0f%%)", cur, want, cpuPct, memPct)
		}
	}
}

func (p *Pool)State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Workers:   int(p.live.Load()),
		Target:    int(p.target.Load()),
		Completed: p.completed,
		Failed:    p.failed,
		CPUPct:    p.lastCPU,
		MemPct:    p.lastMem,
	}
}
