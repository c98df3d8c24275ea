package extractor

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const DefaultDensifyPoints = 21

// densifiedRing walks the rectangle counter-clockwise from the south west
// corner, inserting densify evenly spaced points on every edge. The ring is
// closed.
func densifiedRing(b NativeBounds, densify int) (xs, ys []float64) {
	corners := [5][2]float64{
		{b.West, b.South},
		{b.East, b.South},
		{b.East, b.North},
		{b.West, b.North},
		{b.West, b.South},
	}

	steps := densify + 1
	n := 4*steps + 1
	xs = make([]float64, 0, n)
	ys = make([]float64, 0, n)
	for c := 0; c < 4; c++ {
		x0, y0 := corners[c][0], corners[c][1]
		x1, y1 := corners[c+1][0], corners[c+1][1]
		for s := 0; s < steps; s++ {
			f := float64(s) / float64(steps)
			xs = append(xs, x0+(x1-x0)*f)
			ys = append(ys, y0+(y1-y0)*f)
		}
	}
	xs = append(xs, xs[0])
	ys = append(ys, ys[0])
	return xs, ys
}

// footprint reprojects the densified raster extent to WGS84 and returns its
// bounding box together with the footprint polygon.
func footprint(b NativeBounds, tr Transformer, densify int) (Bounds, *geojson.Geometry, error) {
	if densify < DefaultDensifyPoints {
		densify = DefaultDensifyPoints
	}
	if !(b.East > b.West) || !(b.North > b.South) {
		return Bounds{}, nil, fmt.Errorf("degenerate raster bounds %+v", b)
	}

	xs, ys := densifiedRing(b, densify)
	if err := tr.Transform(xs, ys); err != nil {
		return Bounds{}, nil, fmt.Errorf("reprojecting footprint: %v", err)
	}

	out := Bounds{
		North: math.Inf(-1),
		East:  math.Inf(-1),
		South: math.Inf(1),
		West:  math.Inf(1),
	}
	ring := make(orb.Ring, len(xs))
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) || math.IsInf(xs[i], 0) || math.IsInf(ys[i], 0) {
			return Bounds{}, nil, fmt.Errorf("footprint point %d is not finite after reprojection", i)
		}
		ring[i] = orb.Point{xs[i], ys[i]}
		out.West = math.Min(out.West, xs[i])
		out.East = math.Max(out.East, xs[i])
		out.South = math.Min(out.South, ys[i])
		out.North = math.Max(out.North, ys[i])
	}

	return out, geojson.NewGeometry(orb.Polygon{ring}), nil
}
