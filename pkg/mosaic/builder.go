package mosaic

import(
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// TileMosaicState is everything selection and gap-filling decide
// about one tile: the ordered composite list, the coverage achieved,
// and what went wrong along the way. Created when the tile starts,
// final once gap-filling terminates.
type TileMosaicState struct {
	Tile   tiling.Tile
	Window tiling.DateRange

	Selected []Selection // priority order: earlier entries win pixels

	Coverage     float64
	Iterations   int
	LastCoverage float64
	NoProgress   int

	Shortfall *CoverageShortfallError
	Failure   error

	SkippedSources []string // zero temporal overlap
	Discarded      []string // missing required bands, or unfetchable

	StartedAt  time.Time
	FinishedAt time.Time

	fetches map[string]int
}

func (s *TileMosaicState)countFetch(source string) {
	if s.fetches == nil {
		s.fetches = map[string]int{}
	}
	s.fetches[source]++
}

func (s *TileMosaicState)fetchCount(source string) int {
	return s.fetches[source]
}

// A Builder runs the whole per-tile pipeline: query, score, scan,
// select, composite, gap-fill. One Builder serves many tiles
// concurrently; it holds no per-tile state.
type Builder struct {
	Catalog         Catalog
	Sources         []SourceConfig
	Resample        ResampleFunc
	TargetCoverage  float64
	MaxGapIterations int
	MetadataWorkers int
	Verbosity       int
}

func NewBuilder(cfg Config, cat Catalog) *Builder {
	return &Builder{
		Catalog:          cat,
		Sources:          cfg.Sources,
		Resample:         GetResampler(cfg.Resampler),
		TargetCoverage:   cfg.TargetCoverage,
		MaxGapIterations: cfg.MaxGapIterations,
		MetadataWorkers:  cfg.MetadataWorkers,
		Verbosity:        cfg.Verbosity,
	}
}

func (b *Builder)sourceMap() map[string]SourceConfig {
	m := make(map[string]SourceConfig, len(b.Sources))
	for _, sc := range b.Sources {
		m[sc.Name] = sc
	}
	return m
}

// querySources pulls candidate metadata for the given sources in a
// bounded sub-pool. Queries are pure reads with no ordering
// dependency, but the scan's relaxation logic depends on evaluation
// order, so each source's list is re-sorted by ascending cloud
// before anything downstream sees it.
func (b *Builder)querySources(ctx context.Context, srcs []SourceConfig, tile tiling.Tile, window tiling.DateRange) map[string][]*ImageCandidate {
	results := map[string][]*ImageCandidate{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.MetadataWorkers)

	for _, src := range srcs {
		src := src
		g.Go(func() error {
			cands, err := b.Catalog.QueryCandidates(ctx, src.Name, tile.Bounds, tile.EPSG, window)
			if err != nil {
				log.Printf("tile %s: query %s failed, treating as empty: %v", tile.ID, src.Name, err)
				return nil
			}
			mu.Lock()
			results[src.Name] = cands
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for name := range results {
		sort.SliceStable(results[name], func(i, j int) bool {
			a, c := results[name][i], results[name][j]
			if a.CloudFraction != c.CloudFraction {
				return a.CloudFraction < c.CloudFraction
			}
			return a.ID < c.ID
		})
	}
	return results
}

// scoreAll scores every candidate, dropping the ones without
// mandatory bands. Returns how many candidates survive overall.
func (b *Builder)scoreAll(scorer Scorer, bySource map[string][]*ImageCandidate, state *TileMosaicState) int {
	total := 0
	for name, cands := range bySource {
		kept := cands[:0]
		for _, c := range cands {
			if _, err := scorer.Score(c); err != nil {
				state.Discarded = append(state.Discarded, c.ID)
				if b.Verbosity > 0 {
					log.Printf("tile %s: %v", state.Tile.ID, err)
				}
				continue
			}
			kept = append(kept, c)
		}
		bySource[name] = kept
		total += len(kept)
	}
	return total
}

// scanSources runs the per-source threshold state machines in
// priority order and returns the closed scans.
func scanSources(srcs []SourceConfig, bySource map[string][]*ImageCandidate, preScanTotal int) []*ThresholdScan {
	scans := []*ThresholdScan{}
	for _, src := range srcs {
		cands := bySource[src.Name]
		if len(cands) == 0 {
			continue
		}
		scan := NewThresholdScan(src, preScanTotal)
		for _, c := range cands {
			if scan.Done() {
				break
			}
			scan.Evaluate(c)
		}
		scan.Close()
		scans = append(scans, scan)
	}
	return scans
}

func scansYieldNothing(scans []*ThresholdScan) bool {
	for _, ts := range scans {
		if len(ts.Accepted()) > 0 {
			return false
		}
		if fb, _ := ts.Fallback(); fb != nil {
			return false
		}
	}
	return true
}

// SelectTileImages runs the metadata-only half of the pipeline:
// query, score, scan, select. Deterministic given identical catalog
// state. The returned pool holds the scored-but-unselected
// candidates gap-filling may still draw from.
func (b *Builder)SelectTileImages(ctx context.Context, tile tiling.Tile, window tiling.DateRange) (*TileMosaicState, []*ImageCandidate, error) {
	state := &TileMosaicState{
		Tile:      tile,
		Window:    window,
		StartedAt: time.Now(),
	}

	primary := []SourceConfig{}
	reserve := []SourceConfig{}
	for _, src := range b.Sources {
		if !src.Operational().Overlaps(window) {
			state.SkippedSources = append(state.SkippedSources, src.Name)
			if b.Verbosity > 0 {
				log.Printf("tile %s: %v", tile.ID, NoCandidatesError{Source: src.Name})
			}
			continue
		}
		if src.LastResort {
			reserve = append(reserve, src)
		} else {
			primary = append(primary, src)
		}
	}

	scorer := NewScorer(window, b.Sources)
	bySource := b.querySources(ctx, primary, tile, window)
	preScanTotal := b.scoreAll(scorer, bySource, state)

	scans := scanSources(primary, bySource, preScanTotal)

	// Last-resort sources only get a look when everything else came
	// up completely empty.
	if scansYieldNothing(scans) && len(reserve) > 0 {
		log.Printf("tile %s: primary sources empty, consulting last-resort sources", tile.ID)
		reserveBySource := b.querySources(ctx, reserve, tile, window)
		preScanTotal += b.scoreAll(scorer, reserveBySource, state)
		for name, cands := range reserveBySource {
			bySource[name] = cands
		}
		scans = append(scans, scanSources(reserve, reserveBySource, preScanTotal)...)
	}

	state.Selected = SelectCandidates(scans)
	if len(state.Selected) == 0 {
		state.Failure = ZeroSelectedError{TileID: tile.ID}
		return state, nil, state.Failure
	}

	selectedIDs := map[string]bool{}
	for _, sel := range state.Selected {
		selectedIDs[sel.Candidate.ID] = true
	}
	pool := []*ImageCandidate{}
	for _, cands := range bySource {
		for _, c := range cands {
			if !selectedIDs[c.ID] {
				pool = append(pool, c)
			}
		}
	}

	return state, pool, nil
}

// ProcessTile is the full per-tile pipeline: selection, initial
// composite, gap-fill. Returns the final state and the finished tile
// raster. Per-tile failures come back as errors without touching any
// other tile.
func (b *Builder)ProcessTile(ctx context.Context, tile tiling.Tile, window tiling.DateRange) (*TileMosaicState, *Raster, error) {
	state, pool, err := b.SelectTileImages(ctx, tile, window)
	if err != nil {
		state.FinishedAt = time.Now()
		return state, nil, err
	}

	raster := NewTileRaster(tile)
	kept := state.Selected[:0]
	for _, sel := range state.Selected {
		scene, err := b.Catalog.FetchBands(ctx, sel.Candidate, CanonicalBands, tile.Bounds)
		if err != nil {
			log.Printf("tile %s: fetch %s failed, dropping from composite: %v", tile.ID, sel.Candidate.ID, err)
			state.Discarded = append(state.Discarded, sel.Candidate.ID)
			continue
		}
		contrib, err := Reproject(raster, scene, b.Resample)
		if err != nil {
			log.Printf("tile %s: reproject %s failed, dropping from composite: %v", tile.ID, sel.Candidate.ID, err)
			state.Discarded = append(state.Discarded, sel.Candidate.ID)
			continue
		}
		CompositeInto(raster, contrib)
		state.countFetch(sel.Candidate.Source)
		kept = append(kept, sel)
	}
	state.Selected = kept
	if len(state.Selected) == 0 {
		state.Failure = ZeroSelectedError{TileID: tile.ID}
		state.FinishedAt = time.Now()
		return state, nil, state.Failure
	}

	gf := GapFiller{
		Catalog:       b.Catalog,
		Sources:       b.sourceMap(),
		Resample:      b.Resample,
		Target:        b.TargetCoverage,
		MaxIterations: b.MaxGapIterations,
		Verbosity:     b.Verbosity,
	}
	if err := gf.Fill(ctx, state, raster, pool); err != nil {
		state.FinishedAt = time.Now()
		return state, nil, err
	}

	// Standardize the output band set: holes in the non-mandatory
	// bands become zero, RGB holes stay no-data.
	for _, name := range CanonicalBands {
		required := false
		for _, req := range RequiredBands {
			if name == req { required = true }
		}
		if !required {
			raster.ZeroFillBand(name)
		}
	}

	state.FinishedAt = time.Now()
	log.Printf("tile %s: %d selected, coverage %.3f%% after %d gap-fill iterations",
		tile.ID, len(state.Selected), state.Coverage*100.0, state.Iterations)
	return state, raster, nil
}
