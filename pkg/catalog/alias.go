package catalog

import(
	"fmt"
	"os"
	"path/filepath"

	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
)

// Landsat Collection 2 surface reflectance band names, mapped onto the
// canonical Sentinel-2 numbering the engine uses everywhere else.
var bandAliases = map[string]string{
	"SR_B4": mosaic.BandRed,
	"SR_B3": mosaic.BandGreen,
	"SR_B2": mosaic.BandBlue,
	"SR_B5": mosaic.BandNIR,
	"SR_B6": mosaic.BandSWIR1,
	"SR_B7": mosaic.BandSWIR2,
}

// canonicalBand normalizes an archive band name. Unknown names pass
// through untouched: index bands and masks have no aliases.
func canonicalBand(name string) string {
	if canon, ok := bandAliases[name]; ok {
		return canon
	}
	return name
}

// bandPath finds the file holding a canonical band, trying the
// canonical spelling first and then the archive aliases, so a Landsat
// scene directory keeps its native file names.
func bandPath(sceneDir, band string) (string, error) {
	path := filepath.Join(sceneDir, band+".tif")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	for alias, canon := range bandAliases {
		if canon != band {
			continue
		}
		path = filepath.Join(sceneDir, alias+".tif")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no file for band %s", band)
}
