// Package provenance records what the engine decided and why: a JSON
// trail per tile, a SQLite manifest per run, and an end-of-run report
// with score and timing distributions. Coverage shortfalls are always
// surfaced, never smoothed over.
package provenance

import(
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
)

// NewRunID mints the identifier that ties tile reports, manifest rows
// and log lines of one run together.
func NewRunID() string { return uuid.New().String() }

// A Record is one selected scene in a tile's composite list. Slice
// order is composite priority.
type Record struct {
	Source        string                 `json:"source"`
	CandidateID   string                 `json:"candidate_id"`
	Score         float64                `json:"score"`
	CloudFraction float64                `json:"cloud_fraction"`
	Resolution    float64                `json:"resolution_m"`
	Reason        mosaic.SelectionReason `json:"reason"`
}

// A TileReport is the full provenance trail of one tile.
type TileReport struct {
	RunID       string    `json:"run_id"`
	TileID      string    `json:"tile_id"`
	EPSG        int       `json:"epsg"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Selections []Record `json:"selections"`

	Coverage   float64 `json:"coverage"`
	Iterations int     `json:"gap_fill_iterations"`
	Shortfall  bool    `json:"coverage_shortfall"`

	SkippedSources []string `json:"skipped_sources,omitempty"`
	Discarded      []string `json:"discarded,omitempty"`
	Failure        string   `json:"failure,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`
}

// NewTileReport flattens a finished tile state into its trail.
func NewTileReport(runID string, state *mosaic.TileMosaicState) TileReport {
	tr := TileReport{
		RunID:          runID,
		TileID:         state.Tile.ID,
		EPSG:           state.Tile.EPSG,
		WindowStart:    state.Window.Start,
		WindowEnd:      state.Window.End,
		Coverage:       state.Coverage,
		Iterations:     state.Iterations,
		Shortfall:      state.Shortfall != nil,
		SkippedSources: state.SkippedSources,
		Discarded:      state.Discarded,
		StartedAt:      state.StartedAt,
		FinishedAt:     state.FinishedAt,
		ElapsedMS:      state.FinishedAt.Sub(state.StartedAt).Milliseconds(),
	}
	if state.Failure != nil {
		tr.Failure = state.Failure.Error()
	}
	for _, sel := range state.Selected {
		c := sel.Candidate
		tr.Selections = append(tr.Selections, Record{
			Source:        c.Source,
			CandidateID:   c.ID,
			Score:         c.Score(),
			CloudFraction: c.CloudFraction,
			Resolution:    c.Resolution,
			Reason:        sel.Reason,
		})
	}
	return tr
}

// Write drops the report next to the tile's raster as
// <tileID>.provenance.json.
func (tr TileReport)Write(dir string) error {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("provenance: marshal tile %s: %w", tr.TileID, err)
	}
	path := filepath.Join(dir, tr.TileID+".provenance.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("provenance: %w", err)
	}
	return nil
}
