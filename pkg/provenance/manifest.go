package provenance

import(
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// A Manifest is the run database. Rows land as tiles complete, so a
// crashed run still leaves an inspectable trail.
type Manifest struct {
	conn *sql.DB
	mu   sync.Mutex
}

func OpenManifest(path string) (*Manifest, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	m := &Manifest{conn: conn}
	if err := m.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("manifest: migrate: %w", err)
	}
	return m, nil
}

func (m *Manifest)migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		bbox TEXT NOT NULL,
		window_start DATETIME NOT NULL,
		window_end DATETIME NOT NULL,
		tile_count INTEGER NOT NULL,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		mean_coverage REAL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tiles (
		run_id TEXT NOT NULL,
		tile_id TEXT NOT NULL,
		epsg INTEGER NOT NULL,
		coverage REAL NOT NULL,
		iterations INTEGER NOT NULL,
		shortfall INTEGER NOT NULL,
		failure TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		PRIMARY KEY (run_id, tile_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS selections (
		run_id TEXT NOT NULL,
		tile_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		source TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		score REAL NOT NULL,
		cloud_fraction REAL NOT NULL,
		resolution_m REAL NOT NULL,
		reason TEXT NOT NULL,
		PRIMARY KEY (run_id, tile_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_tiles_run ON tiles(run_id);
	CREATE INDEX IF NOT EXISTS idx_selections_tile ON selections(run_id, tile_id);
	`
	_, err := m.conn.Exec(schema)
	return err
}

func (m *Manifest)Close() error { return m.conn.Close() }

// StartRun opens the run's row before any tile work begins.
func (m *Manifest)StartRun(runID, bbox string, window tiling.DateRange, tileCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.conn.Exec(`
		INSERT INTO runs (id, started_at, bbox, window_start, window_end, tile_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, time.Now().UTC(), bbox, window.Start, window.End, tileCount)
	if err != nil {
		return fmt.Errorf("manifest: start run %s: %w", runID, err)
	}
	return nil
}

// RecordTile writes one tile and its selections in a transaction, as
// the tile completes. Re-recording a tile replaces its rows.
func (m *Manifest)RecordTile(tr TileReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.conn.Begin()
	if err != nil {
		return fmt.Errorf("manifest: tile %s: %w", tr.TileID, err)
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO tiles
			(run_id, tile_id, epsg, coverage, iterations, shortfall, failure, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.RunID, tr.TileID, tr.EPSG, tr.Coverage, tr.Iterations, tr.Shortfall, tr.Failure, tr.StartedAt, tr.FinishedAt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("manifest: tile %s: %w", tr.TileID, err)
	}

	for i, rec := range tr.Selections {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO selections
				(run_id, tile_id, position, source, candidate_id, score, cloud_fraction, resolution_m, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, tr.RunID, tr.TileID, i, rec.Source, rec.CandidateID, rec.Score, rec.CloudFraction, rec.Resolution, string(rec.Reason))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("manifest: tile %s selection %d: %w", tr.TileID, i, err)
		}
	}

	return tx.Commit()
}

// FinishRun closes out the run's row with the final tallies.
func (m *Manifest)FinishRun(runID string, succeeded, failed int, meanCoverage float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.conn.Exec(`
		UPDATE runs SET finished_at = ?, succeeded = ?, failed = ?, mean_coverage = ?
		WHERE id = ?
	`, time.Now().UTC(), succeeded, failed, meanCoverage, runID)
	if err != nil {
		return fmt.Errorf("manifest: finish run %s: %w", runID, err)
	}
	return nil
}
