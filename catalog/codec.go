package catalog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	geo "github.com/nci/geometry"
	"github.com/paulmach/orb/geojson"

	extr "github.com/nci/rastercat/crawl/extractor"
)

// metadata table columns following the key columns, in insert order.
var metadataColumns = []string{
	"bounds_north", "bounds_east", "bounds_south", "bounds_west",
	"convex_hull", "valid_percentage", "min", "max", "mean", "stdev",
	"percentiles", "metadata", "footprint_wkt",
}

var reservedColumns = map[string]struct{}{"filepath": {}}

func init() {
	for _, c := range metadataColumns {
		reservedColumns[c] = struct{}{}
	}
}

// extendedMetadata holds the fields without a dedicated column.
type extendedMetadata struct {
	Dtype                string       `json:"dtype"`
	MinScalarType        string       `json:"min_scalar_type"`
	PixelSize            float64      `json:"pixel_size"`
	Median               float64      `json:"median"`
	NoDataValue          *extr.NoData `json:"nodata_value"`
	ValidPxCount         int64        `json:"valid_px_count"`
	TotalPxCount         int64        `json:"total_px_count"`
	NegativePxCount      int64        `json:"negative_px_count"`
	Top100FrequentValues []float64    `json:"top_100_frequent_values"`
}

// encodePercentiles packs the percentiles as little endian float32.
func encodePercentiles(pcts []float64) ([]byte, error) {
	if len(pcts) != extr.NumPercentiles {
		return nil, fmt.Errorf("expected %d percentiles, got %d", extr.NumPercentiles, len(pcts))
	}
	buf := make([]byte, 4*len(pcts))
	for i, p := range pcts {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(p)))
	}
	return buf, nil
}

func decodePercentiles(buf []byte) ([]float64, error) {
	if len(buf) != 4*extr.NumPercentiles {
		return nil, fmt.Errorf("percentile blob has %d bytes, expected %d", len(buf), 4*extr.NumPercentiles)
	}
	pcts := make([]float64, extr.NumPercentiles)
	for i := range pcts {
		pcts[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return pcts, nil
}

// encodeMetadata returns the column values in metadataColumns order.
func encodeMetadata(md *extr.Metadata) ([]interface{}, error) {
	hull, err := json.Marshal(md.ConvexHull)
	if err != nil {
		return nil, fmt.Errorf("encoding convex hull: %v", err)
	}

	pcts, err := encodePercentiles(md.Percentiles)
	if err != nil {
		return nil, err
	}

	wkt, err := footprintWKT(hull)
	if err != nil {
		return nil, err
	}

	ext, err := json.Marshal(&extendedMetadata{
		Dtype:                md.Dtype,
		MinScalarType:        md.MinScalarType,
		PixelSize:            md.PixelSize,
		Median:               md.Median,
		NoDataValue:          md.NoDataValue,
		ValidPxCount:         md.ValidPxCount,
		TotalPxCount:         md.TotalPxCount,
		NegativePxCount:      md.NegativePxCount,
		Top100FrequentValues: md.Top100FrequentValues,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding extended metadata: %v", err)
	}

	return []interface{}{
		md.Bounds.North, md.Bounds.East, md.Bounds.South, md.Bounds.West,
		string(hull), md.ValidPercentage, md.Range[0], md.Range[1], md.Mean, md.Stdev,
		pcts, string(ext), wkt,
	}, nil
}

// footprintWKT renders a GeoJSON geometry as WKT for spatial databases.
func footprintWKT(geometry []byte) (string, error) {
	var feat geo.Feature
	doc := `{"type":"Feature","properties":{},"geometry":` + string(geometry) + `}`
	if err := json.Unmarshal([]byte(doc), &feat); err != nil {
		return "", fmt.Errorf("decoding footprint: %v", err)
	}
	if feat.Geometry == nil {
		return "", fmt.Errorf("footprint has no geometry")
	}
	return feat.Geometry.MarshalWKT(), nil
}

type metadataRow struct {
	north, east, south, west float64
	convexHull               string
	validPercentage          float64
	min, max                 float64
	mean, stdev              float64
	percentiles              []byte
	extended                 string
	footprintWKT             string
}

func (r *metadataRow) scanTargets() []interface{} {
	return []interface{}{
		&r.north, &r.east, &r.south, &r.west,
		&r.convexHull, &r.validPercentage, &r.min, &r.max, &r.mean, &r.stdev,
		&r.percentiles, &r.extended, &r.footprintWKT,
	}
}

func (r *metadataRow) decode() (*extr.Metadata, error) {
	hull, err := geojson.UnmarshalGeometry([]byte(r.convexHull))
	if err != nil {
		return nil, fmt.Errorf("decoding convex hull: %v", err)
	}

	pcts, err := decodePercentiles(r.percentiles)
	if err != nil {
		return nil, err
	}

	var ext extendedMetadata
	if len(r.extended) > 0 {
		if err := json.Unmarshal([]byte(r.extended), &ext); err != nil {
			return nil, fmt.Errorf("decoding extended metadata: %v", err)
		}
	}

	return &extr.Metadata{
		Bounds:               extr.Bounds{North: r.north, East: r.east, South: r.south, West: r.west},
		ConvexHull:           hull,
		ValidPercentage:      r.validPercentage,
		Range:                [2]float64{r.min, r.max},
		Mean:                 r.mean,
		Stdev:                r.stdev,
		Median:               ext.Median,
		Percentiles:          pcts,
		Dtype:                ext.Dtype,
		MinScalarType:        ext.MinScalarType,
		PixelSize:            ext.PixelSize,
		NoDataValue:          ext.NoDataValue,
		ValidPxCount:         ext.ValidPxCount,
		TotalPxCount:         ext.TotalPxCount,
		NegativePxCount:      ext.NegativePxCount,
		Top100FrequentValues: ext.Top100FrequentValues,
	}, nil
}
