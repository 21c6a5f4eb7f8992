package stitch

import(
	"log"
	"math"
)

// A FeatherFunc maps a pixel's distance to the tile's valid-data
// boundary into a blend weight. Weights only matter relative to the
// other tiles covering a pixel; where a single tile contributes, the
// division by weightSum hands back its value exactly.
type FeatherFunc func(dist, featherPx float64) float64

// A valid pixel never weighs zero. A boundary pixel only one tile
// covers has to survive the blend whatever its distance.
const minFeatherWeight = 1e-3

// featherCosine is the half-cosine ramp: 0 at the valid-data
// boundary, 1 from featherPx inward. Smooth at both ends, so
// overlapping tiles cross-fade with no visible crease.
func featherCosine(dist, featherPx float64) float64 {
	if featherPx <= 0 {
		return 1.0
	}
	t := dist / featherPx
	if t >= 1 {
		return 1.0
	}
	w := 0.5 * (1.0 - math.Cos(math.Pi*t))
	if w < minFeatherWeight {
		w = minFeatherWeight
	}
	return w
}

func featherLinear(dist, featherPx float64) float64 {
	if featherPx <= 0 {
		return 1.0
	}
	t := dist / featherPx
	if t >= 1 {
		return 1.0
	}
	if t < minFeatherWeight {
		t = minFeatherWeight
	}
	return t
}

func featherNone(dist, featherPx float64) float64 {
	return 1.0
}

// GetFeather maps a config strategy name to its implementation.
func GetFeather(name string) FeatherFunc {
	switch name {
	case "", "cosine":
		return featherCosine
	case "linear":
		return featherLinear
	case "none":
		return featherNone
	default:
		log.Fatalf("unknown feather strategy '%s'", name)
	}
	return nil
}
