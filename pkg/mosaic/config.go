package mosaic

import(
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

/* Example config file ...

catalog_root: /data/scenes
output_dir: out
target_resolution_m: 5.0
tile_size_px: 1024
feather_px: 80

sources:
  - name: SENTINEL_2
    max_per_tile: 12
  - name: VIIRS
    last_resort: true

*/

type Config struct {
	CatalogRoot string `yaml:"catalog_root"`
	OutputDir   string `yaml:"output_dir"`
	LogFile     string `yaml:"log_file"`
	Verbosity   int    `yaml:"verbosity"`

	// Tiling
	TileSizePx       int     `yaml:"tile_size_px"`
	TargetResolution float64 `yaml:"target_resolution_m"`

	// Gap-fill
	TargetCoverage   float64 `yaml:"target_coverage"`
	MaxGapIterations int     `yaml:"max_gap_iterations"`

	// Strategies, resolved by name
	Resampler       string `yaml:"resampler"`
	FeatherStrategy string `yaml:"feather_strategy"`
	FeatherPx       int    `yaml:"feather_px"`

	// Worker pool
	MetadataWorkers int     `yaml:"metadata_workers"`
	MinWorkers      int     `yaml:"min_workers"`
	MaxWorkers      int     `yaml:"max_workers"`
	LoadCheckEvery  int     `yaml:"load_check_every"`
	HighWaterCPU    float64 `yaml:"high_water_cpu"`
	HighWaterMem    float64 `yaml:"high_water_mem"`

	// Catalog politeness
	QueryRatePerSec float64 `yaml:"query_rate_per_sec"`
	BandCacheSize   int     `yaml:"band_cache_size"`

	// Outputs
	WriteQuicklooks bool `yaml:"write_quicklooks"`
	WriteHDRDebug   bool `yaml:"write_hdr_debug"`
	Harmonize       bool `yaml:"harmonize"`

	// Source overrides, matched to the built-in table by name.
	Sources []SourceConfig `yaml:"sources"`
}

func NewConfig() Config {
	return Config{
		OutputDir:        "out",
		TileSizePx:       1024,
		TargetResolution: 5.0,
		TargetCoverage:   DefaultTargetCoverage,
		MaxGapIterations: DefaultMaxGapIterations,
		Resampler:        "bilinear",
		FeatherStrategy:  "cosine",
		FeatherPx:        80,
		MetadataWorkers:  4,
		MinWorkers:       1,
		MaxWorkers:       10,
		LoadCheckEvery:   4,
		HighWaterCPU:     85.0,
		HighWaterMem:     80.0,
		QueryRatePerSec:  20.0,
		BandCacheSize:    64,
		WriteQuicklooks:  true,
		Harmonize:        true,
	}
}

func LoadConfig(filename string) (Config, error) {
	c := NewConfig()

	if contents, err := os.ReadFile(filename); err != nil {
		return c, fmt.Errorf("read '%s': %v", filename, err)
	} else if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse '%s': %v", filename, err)
	}

	return c, c.FinalizeConfiguration()
}

// FinalizeConfiguration does sanity checks and other post-processing:
// source overrides merge into the built-in table, ladders and caps
// get their defaults, strategy names are verified resolvable.
func (c *Config)FinalizeConfiguration() error {
	c.Sources = mergeSources(DefaultSources(), c.Sources)

	switch c.Resampler {
	case "", "bilinear", "nearest":
	default:
		return fmt.Errorf("no resampler strategy named '%s'", c.Resampler)
	}
	switch c.FeatherStrategy {
	case "", "cosine", "linear", "none":
	default:
		return fmt.Errorf("no feather strategy named '%s'", c.FeatherStrategy)
	}

	if c.TargetCoverage <= 0 || c.TargetCoverage > 1 {
		return fmt.Errorf("target_coverage %f outside (0,1]", c.TargetCoverage)
	}
	if c.MaxGapIterations < 1 {
		return fmt.Errorf("max_gap_iterations must be at least 1")
	}
	if c.FeatherPx < 0 {
		return fmt.Errorf("feather_px must not be negative")
	}
	if c.MinWorkers < 1 { c.MinWorkers = 1 }
	if c.MaxWorkers < c.MinWorkers { c.MaxWorkers = c.MinWorkers }
	if c.MetadataWorkers < 1 { c.MetadataWorkers = 1 }
	if c.LoadCheckEvery < 1 { c.LoadCheckEvery = 1 }

	return nil
}

// ApplyEnv lets the environment override the paths and worker clamps,
// for running the same config across machines.
func (c *Config)ApplyEnv() {
	c.CatalogRoot = getEnv("FLUTTER_EARTH_CATALOG_ROOT", c.CatalogRoot)
	c.OutputDir = getEnv("FLUTTER_EARTH_OUTPUT_DIR", c.OutputDir)
	c.LogFile = getEnv("FLUTTER_EARTH_LOG_FILE", c.LogFile)
	c.MinWorkers = getEnvAsInt("FLUTTER_EARTH_MIN_WORKERS", c.MinWorkers)
	c.MaxWorkers = getEnvAsInt("FLUTTER_EARTH_MAX_WORKERS", c.MaxWorkers)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// mergeSources overlays YAML source entries onto the built-in table,
// matching by name; unknown names append as custom sources.
func mergeSources(defaults, overrides []SourceConfig) []SourceConfig {
	byName := map[string]int{}
	for i, sc := range defaults {
		byName[sc.Name] = i
	}

	for _, ov := range overrides {
		i, known := byName[ov.Name]
		if !known {
			ov = fillSourceDefaults(ov, len(defaults))
			byName[ov.Name] = len(defaults)
			defaults = append(defaults, ov)
			continue
		}
		base := defaults[i]
		if ov.Resolution != 0      { base.Resolution = ov.Resolution }
		if ov.MaxPerTile != 0      { base.MaxPerTile = ov.MaxPerTile }
		if ov.ScorePenalty != 0    { base.ScorePenalty = ov.ScorePenalty }
		if !ov.PenaltyAfter.IsZero()    { base.PenaltyAfter = ov.PenaltyAfter }
		if !ov.OperationalFrom.IsZero() { base.OperationalFrom = ov.OperationalFrom }
		if !ov.OperationalTo.IsZero()   { base.OperationalTo = ov.OperationalTo }
		if ov.LastResort           { base.LastResort = true }
		if len(ov.CloudSchedule) > 0    { base.CloudSchedule = ov.CloudSchedule }
		if len(ov.QualitySchedule) > 0  { base.QualitySchedule = ov.QualitySchedule }
		defaults[i] = base
	}
	return defaults
}

func fillSourceDefaults(sc SourceConfig, priority int) SourceConfig {
	if sc.MaxPerTile == 0   { sc.MaxPerTile = 20 }
	if sc.ScorePenalty == 0 { sc.ScorePenalty = 1.0 }
	if sc.Priority == 0     { sc.Priority = priority }
	if len(sc.CloudSchedule) == 0   { sc.CloudSchedule = append([]float64{}, DefaultCloudSchedule...) }
	if len(sc.QualitySchedule) == 0 { sc.QualitySchedule = append([]float64{}, DefaultQualitySchedule...) }
	return sc
}
