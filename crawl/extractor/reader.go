package extractor

import (
	"fmt"
	"math"
	"strings"
)

// Reader decodes raster files. Implementations are not expected to be safe
// for concurrent use; every extraction task owns its own instance.
type Reader interface {
	Open(path string) (*Raster, error)
	// Transformer returns a transformation from crs to WGS84 longitude/latitude.
	Transformer(crs string) (Transformer, error)
}

type Transformer interface {
	// Transform reprojects the points in place.
	Transform(xs, ys []float64) error
	Close()
}

const (
	WGS84         = "EPSG:4326"
	WebMercator   = "EPSG:3857"
	earthRadius   = 6378137.0
	radiansToDegs = 180.0 / math.Pi
)

type identityTransformer struct{}

func (identityTransformer) Transform(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("coordinate length mismatch: %d != %d", len(xs), len(ys))
	}
	return nil
}

func (identityTransformer) Close() {}

type mercatorTransformer struct{}

func (mercatorTransformer) Transform(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("coordinate length mismatch: %d != %d", len(xs), len(ys))
	}
	for i := range xs {
		xs[i] = xs[i] / earthRadius * radiansToDegs
		ys[i] = (2*math.Atan(math.Exp(ys[i]/earthRadius)) - math.Pi/2) * radiansToDegs
	}
	return nil
}

func (mercatorTransformer) Close() {}

// BuiltinTransformer covers the CRS codes that need no projection library.
func BuiltinTransformer(crs string) (Transformer, error) {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case WGS84, "OGC:CRS84", "CRS:84":
		return identityTransformer{}, nil
	case WebMercator, "EPSG:900913", "EPSG:3785":
		return mercatorTransformer{}, nil
	case "":
		return nil, fmt.Errorf("raster has no coordinate reference")
	default:
		return nil, fmt.Errorf("unsupported coordinate reference: %s", crs)
	}
}
