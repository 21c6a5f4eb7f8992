package main

import(
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flutter-gis/flutter-earth-download/pkg/catalog"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
	"github.com/flutter-gis/flutter-earth-download/pkg/provenance"
	"github.com/flutter-gis/flutter-earth-download/pkg/quicklook"
	"github.com/flutter-gis/flutter-earth-download/pkg/scheduler"
	"github.com/flutter-gis/flutter-earth-download/pkg/stitch"
	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

const thumbDim = 512

var(
	fConfigFile string
	fBBox       string
	fStart      string
	fEnd        string
	fOutputDir  string
	fWorkers    int
	fVerbosity  int
	fMonthly    bool
	fDryRun     bool
)

func init() {
	flag.StringVar(&fConfigFile, "config", "", "YAML config file (defaults apply without one)")
	flag.StringVar(&fBBox, "bbox", "", "area of interest, west,south,east,north in WGS84 degrees")
	flag.StringVar(&fStart, "start", "", "acquisition window start, YYYY-MM-DD")
	flag.StringVar(&fEnd, "end", "", "acquisition window end, YYYY-MM-DD")
	flag.StringVar(&fOutputDir, "out", "", "output directory (overrides config)")
	flag.IntVar(&fWorkers, "workers", 0, "max concurrent tiles (overrides config)")
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.BoolVar(&fMonthly, "monthly", false, "build one composite per calendar month of the window")
	flag.BoolVar(&fDryRun, "dryrun", false, "plan the tiling and stop before any processing")
	flag.Parse()

	godotenv.Load() // .env overrides, if one exists

	log.Printf("flutter-earth starting\n")
}

func main() {
	cfg := loadConfig()

	box, err := parseBBox(fBBox)
	if err != nil {
		log.Fatal(err)
	}
	window, err := parseWindow(fStart, fEnd)
	if err != nil {
		log.Fatal(err)
	}

	tiles, err := tiling.MakeTiles(box, cfg.TileSizePx, cfg.TargetResolution)
	if err != nil {
		log.Fatalf("tiling failed: %v", err)
	}
	log.Printf("%s cut into %d tiles of %dpx at %.1fm (EPSG:%d)",
		fBBox, len(tiles), cfg.TileSizePx, cfg.TargetResolution, tiles[0].EPSG)

	if fDryRun {
		for _, tile := range tiles {
			log.Printf("  tile %s: %s, %dx%dpx", tile.ID, tile.Bounds, tile.WidthPx, tile.HeightPx)
		}
		return
	}

	windows := []tiling.DateRange{window}
	if fMonthly {
		windows = tiling.MonthRanges(window)
		log.Printf("splitting window into %d monthly composites", len(windows))
	}

	for _, w := range windows {
		wcfg := cfg
		label := "composite"
		if fMonthly {
			label = w.Start.Format("2006-01")
			wcfg.OutputDir = filepath.Join(cfg.OutputDir, label)
		}
		if err := run(context.Background(), wcfg, w, tiles); err != nil {
			log.Fatalf("%s: %v", label, err)
		}
	}
}

func loadConfig() mosaic.Config {
	cfg := mosaic.NewConfig()
	if fConfigFile != "" {
		var err error
		if cfg, err = mosaic.LoadConfig(fConfigFile); err != nil {
			log.Fatalf("configuration: %v", err)
		}
	}
	cfg.ApplyEnv()

	if fOutputDir != "" { cfg.OutputDir = fOutputDir }
	if fWorkers > 0    { cfg.MaxWorkers = fWorkers }
	if fVerbosity > 0  { cfg.Verbosity = fVerbosity }
	if err := cfg.FinalizeConfiguration(); err != nil {
		log.Fatalf("configuration: %v", err)
	}

	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 2,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	return cfg
}

// run is one full composite: process every tile through the engine,
// stitch the survivors, write outputs, and account for all of it.
func run(ctx context.Context, cfg mosaic.Config, window tiling.DateRange, tiles []tiling.Tile) error {
	tilesDir := filepath.Join(cfg.OutputDir, "tiles")
	provDir := filepath.Join(cfg.OutputDir, "provenance")
	for _, dir := range []string{tilesDir, provDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	cat, err := catalog.NewLocal(cfg)
	if err != nil {
		return fmt.Errorf("catalog: %v", err)
	}
	builder := mosaic.NewBuilder(cfg, cat)

	runID := provenance.NewRunID()
	manifest, err := provenance.OpenManifest(filepath.Join(cfg.OutputDir, "manifest.db"))
	if err != nil {
		return fmt.Errorf("manifest: %v", err)
	}
	defer manifest.Close()
	if err := manifest.StartRun(runID, fBBox, window, len(tiles)); err != nil {
		return fmt.Errorf("manifest: %v", err)
	}

	report := provenance.NewRunReport(runID)
	defer closeOut(manifest, report, runID)
	log.Printf("run %s: window %s to %s",
		runID, window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))

	// One job per tile. The channels inside the pool order the writes
	// to tilePaths; each job touches only its own slot.
	tilePaths := make([]string, len(tiles))
	jobs := make([]scheduler.Job, len(tiles))
	for i, tile := range tiles {
		i, tile := i, tile
		jobs[i] = scheduler.Job{
			Name: tile.ID,
			Work: func(ctx context.Context) error {
				state, raster, err := builder.ProcessTile(ctx, tile, window)

				if err == nil && raster != nil {
					path := filepath.Join(tilesDir, tile.ID+".tif")
					if werr := stitch.WriteRaster(path, raster); werr != nil {
						err = fmt.Errorf("write tile %s: %v", tile.ID, werr)
						state.Failure = err
					} else {
						tilePaths[i] = path
					}
				}

				if state != nil {
					tr := provenance.NewTileReport(runID, state)
					report.AddTile(tr)
					if werr := tr.Write(provDir); werr != nil {
						log.Printf("tile %s: provenance write failed: %v", tile.ID, werr)
					}
					if merr := manifest.RecordTile(tr); merr != nil {
						log.Printf("tile %s: manifest write failed: %v", tile.ID, merr)
					}
				}
				return err
			},
		}
	}

	errs := scheduler.NewPool(cfg).Run(ctx, jobs)

	goodPaths := []string{}
	goodTiles := []tiling.Tile{}
	for i := range tiles {
		if errs[i] == nil && tilePaths[i] != "" {
			goodPaths = append(goodPaths, tilePaths[i])
			goodTiles = append(goodTiles, tiles[i])
		}
	}
	if len(goodPaths) == 0 {
		return fmt.Errorf("all %d tiles failed; nothing to stitch", len(tiles))
	}

	stitchStart := time.Now()
	spec, err := stitch.SpecFor(goodTiles)
	if err != nil {
		return err
	}
	composite, srep, err := stitch.NewStitcher(cfg).Composite(ctx, goodPaths, spec)
	if err != nil {
		return fmt.Errorf("stitch: %v", err)
	}
	report.SetComposite(srep)
	report.RecordStage("stitch", time.Since(stitchStart))

	compositePath := filepath.Join(cfg.OutputDir, "composite.tif")
	if err := stitch.WriteRaster(compositePath, composite); err != nil {
		return fmt.Errorf("write composite: %v", err)
	}
	log.Printf("composite written '%s': %dx%dpx from %d tiles, coverage %.2f%%",
		compositePath, composite.WidthPx, composite.HeightPx, srep.TileCount, srep.Coverage()*100.0)

	if cfg.WriteQuicklooks {
		renderStart := time.Now()
		writeQuicklooks(cfg, composite)
		report.RecordStage("render", time.Since(renderStart))
	}

	return nil
}

// closeOut finalizes the manifest row and prints the run report, on
// failed runs as much as good ones.
func closeOut(manifest *provenance.Manifest, report *provenance.RunReport, runID string) {
	succeeded, failed := report.Counts()
	if err := manifest.FinishRun(runID, succeeded, failed, report.MeanCoverage()); err != nil {
		log.Printf("manifest: %v", err)
	}
	report.Log()
}

// Render failures never fail the run; the data products are already
// safely on disk by this point.
func writeQuicklooks(cfg mosaic.Config, composite *mosaic.Raster) {
	renders := map[string]func(string) error{
		"composite.png": func(fn string) error { return quicklook.WritePreview(composite, fn) },
		"coverage.png":  func(fn string) error { return quicklook.WriteCoverageHeatmap(composite, fn) },
		"thumbnail.png": func(fn string) error { return quicklook.WriteThumbnail(composite, thumbDim, fn) },
	}
	if cfg.WriteHDRDebug {
		renders["composite.hdr"] = func(fn string) error { return quicklook.WriteHDR(composite, fn) }
	}

	for name, render := range renders {
		fn := filepath.Join(cfg.OutputDir, name)
		if err := render(fn); err != nil {
			log.Printf("quicklook %s: %v", name, err)
			continue
		}
		log.Printf("quicklook written '%s'", fn)
	}
}

// parseBBox parses "west,south,east,north" in WGS84 degrees.
func parseBBox(s string) (tiling.LonLatBox, error) {
	if s == "" {
		return tiling.LonLatBox{}, fmt.Errorf("required: -bbox west,south,east,north")
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tiling.LonLatBox{}, fmt.Errorf("bbox '%s': want 4 comma-separated values", s)
	}
	vals := [4]float64{}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tiling.LonLatBox{}, fmt.Errorf("bbox '%s': %v", s, err)
		}
		vals[i] = v
	}
	box := tiling.LonLatBox{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}
	return box, box.Validate()
}

func parseWindow(start, end string) (tiling.DateRange, error) {
	if start == "" || end == "" {
		return tiling.DateRange{}, fmt.Errorf("required: -start and -end, YYYY-MM-DD")
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return tiling.DateRange{}, fmt.Errorf("start date: %v", err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return tiling.DateRange{}, fmt.Errorf("end date: %v", err)
	}
	if !e.After(s) {
		return tiling.DateRange{}, fmt.Errorf("window: end %s must follow start %s", end, start)
	}
	return tiling.DateRange{Start: s, End: e}, nil
}
