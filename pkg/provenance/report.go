package provenance

import(
	"log"
	"sort"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/skypies/util/histogram"
	"gonum.org/v1/gonum/stat"

	"github.com/flutter-gis/flutter-earth-download/pkg/stitch"
)

const maxStageMS = int64(time.Hour / time.Millisecond)

// A RunReport accumulates outcomes while tiles finish and renders the
// end-of-run summary. Safe for concurrent AddTile/RecordStage.
type RunReport struct {
	RunID     string
	StartedAt time.Time

	mu        sync.Mutex
	tiles     []TileReport
	scores    []float64
	scoreHist histogram.Histogram
	timings   map[string]*hdrhistogram.Histogram
	composite *stitch.Report
}

func NewRunReport(runID string) *RunReport {
	return &RunReport{
		RunID:     runID,
		StartedAt: time.Now(),
		scoreHist: histogram.Histogram{NumBuckets:20, ValMin:0, ValMax:100},
		timings:   map[string]*hdrhistogram.Histogram{},
	}
}

func (r *RunReport)AddTile(tr TileReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tiles = append(r.tiles, tr)
	for _, rec := range tr.Selections {
		r.scores = append(r.scores, rec.Score)
		r.scoreHist.Add(histogram.ScalarVal(int(rec.Score * 100.0)))
	}
	r.recordStage("tile", time.Duration(tr.ElapsedMS)*time.Millisecond)
}

// RecordStage folds one stage duration into that stage's latency
// histogram. Tile durations are recorded by AddTile; this is for the
// run-level stages (stitch, write).
func (r *RunReport)RecordStage(stage string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordStage(stage, elapsed)
}

func (r *RunReport)recordStage(stage string, elapsed time.Duration) {
	h, ok := r.timings[stage]
	if !ok {
		h = hdrhistogram.New(1, maxStageMS, 3)
		r.timings[stage] = h
	}
	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if ms > maxStageMS {
		ms = maxStageMS
	}
	h.RecordValue(ms)
}

func (r *RunReport)SetComposite(rep *stitch.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.composite = rep
}

// Counts tallies finished tiles: failed means the tile produced no
// raster at all; a shortfall tile still succeeded.
func (r *RunReport)Counts() (succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.tiles {
		if tr.Failure != "" {
			failed++
		} else {
			succeeded++
		}
	}
	return
}

// MeanCoverage averages coverage over the tiles that produced output.
func (r *RunReport)MeanCoverage() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum, n := 0.0, 0
	for _, tr := range r.tiles {
		if tr.Failure == "" {
			sum += tr.Coverage
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Log renders the closing summary. Failures and shortfalls print
// whatever the verbosity.
func (r *RunReport)Log() {
	r.mu.Lock()
	defer r.mu.Unlock()

	nShortfall := 0
	failed := []TileReport{}
	for _, tr := range r.tiles {
		if tr.Shortfall {
			nShortfall++
		}
		if tr.Failure != "" {
			failed = append(failed, tr)
		}
	}

	log.Printf("run %s: %d tiles in %s, %d failed, %d short of target coverage",
		r.RunID, len(r.tiles), time.Since(r.StartedAt).Round(time.Second), len(failed), nShortfall)

	if r.composite != nil {
		for _, bc := range r.composite.Bands {
			log.Printf("run %s: band %-4s %6.2f%% covered", r.RunID, bc.Band, bc.Coverage*100.0)
		}
	}

	if len(r.scores) > 0 {
		sorted := append([]float64{}, r.scores...)
		sort.Float64s(sorted)
		log.Printf("run %s: %d selections, score mean %.3f stddev %.3f median %.3f",
			r.RunID, len(sorted),
			stat.Mean(sorted, nil), stat.StdDev(sorted, nil),
			stat.Quantile(0.5, stat.Empirical, sorted, nil))
		log.Printf("run %s: score distribution %v", r.RunID, r.scoreHist)
	}

	stages := make([]string, 0, len(r.timings))
	for name := range r.timings {
		stages = append(stages, name)
	}
	sort.Strings(stages)
	for _, name := range stages {
		h := r.timings[name]
		log.Printf("run %s: stage %-7s p50 %dms p90 %dms max %dms (%d samples)",
			r.RunID, name, h.ValueAtQuantile(50), h.ValueAtQuantile(90), h.Max(), h.TotalCount())
	}

	for _, tr := range failed {
		log.Printf("run %s: tile %s FAILED: %s", r.RunID, tr.TileID, tr.Failure)
	}
	for _, tr := range r.tiles {
		if tr.Shortfall && tr.Failure == "" {
			log.Printf("run %s: tile %s short of target: %.2f%% coverage after %d iterations",
				r.RunID, tr.TileID, tr.Coverage*100.0, tr.Iterations)
		}
	}
}
