package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb/geojson"
)

const NumPercentiles = 99

// NativeBounds is the raster extent in its own coordinate reference.
type NativeBounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Raster is a decoded single band raster as handed over by a Reader.
// Band holds Width*Height samples in row-major order.
type Raster struct {
	Path     string
	Width    int
	Height   int
	Band     []float64
	NoData   *float64
	DataType string
	CRS      string
	Bounds   NativeBounds
	ResX     float64
	ResY     float64
}

// Bounds are geographic WGS84 degrees.
type Bounds struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	South float64 `json:"south"`
	West  float64 `json:"west"`
}

// NoData is a nodata sentinel. NaN and infinities are encoded as JSON strings.
type NoData float64

func (n NoData) MarshalJSON() ([]byte, error) {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return json.Marshal(v)
}

func (n *NoData) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid nodata value %q", s)
		}
		*n = NoData(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = NoData(v)
	return nil
}

type Metadata struct {
	Bounds               Bounds            `json:"bounds"`
	ConvexHull           *geojson.Geometry `json:"convex_hull"`
	ValidPercentage      float64           `json:"valid_percentage"`
	Range                [2]float64        `json:"range"`
	Mean                 float64           `json:"mean"`
	Stdev                float64           `json:"stdev"`
	Median               float64           `json:"median"`
	Percentiles          []float64         `json:"percentiles"`
	Dtype                string            `json:"dtype"`
	MinScalarType        string            `json:"min_scalar_type"`
	PixelSize            float64           `json:"pixel_size"`
	NoDataValue          *NoData           `json:"nodata_value"`
	ValidPxCount         int64             `json:"valid_px_count"`
	TotalPxCount         int64             `json:"total_px_count"`
	NegativePxCount      int64             `json:"negative_px_count"`
	Top100FrequentValues []float64         `json:"top_100_frequent_values"`
}

// Validate checks the invariants every stored record has to satisfy.
func (md *Metadata) Validate() error {
	if md == nil {
		return errors.New("metadata record is nil")
	}
	if len(md.Percentiles) != NumPercentiles {
		return fmt.Errorf("expected %d percentiles, got %d", NumPercentiles, len(md.Percentiles))
	}
	if md.Range[0] > md.Range[1] {
		return fmt.Errorf("invalid range [%v, %v]", md.Range[0], md.Range[1])
	}
	if md.Median < md.Range[0] || md.Median > md.Range[1] {
		return fmt.Errorf("median %v outside range [%v, %v]", md.Median, md.Range[0], md.Range[1])
	}
	if md.ConvexHull == nil {
		return errors.New("missing convex hull")
	}
	return nil
}

type Status int

const (
	Success Status = iota
	Skip
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Skip:
		return "skip"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

var ErrNoValidData = errors.New("no valid pixels found")

// Result is the outcome of extracting one file. Metadata is set on Success,
// Reason on Skip and Err on Failure.
type Result struct {
	Path     string
	Status   Status
	Metadata *Metadata
	Reason   error
	Err      error
}
