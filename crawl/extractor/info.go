package extractor

import (
	"errors"
	"fmt"
)

type Extractor struct {
	Reader        Reader
	DensifyPoints int
}

func NewExtractor(reader Reader, densifyPoints int) *Extractor {
	if densifyPoints < DefaultDensifyPoints {
		densifyPoints = DefaultDensifyPoints
	}
	return &Extractor{Reader: reader, DensifyPoints: densifyPoints}
}

// Extract opens the raster at path and derives its metadata record.
func (e *Extractor) Extract(path string) Result {
	res := Result{Path: path}

	raster, err := e.Reader.Open(path)
	if err != nil {
		res.Status = Failure
		res.Err = fmt.Errorf("opening raster %s: %w", path, err)
		return res
	}

	// An empty raster is skipped before its coordinate reference is looked at.
	valid, err := maskedPixels(raster)
	switch {
	case errors.Is(err, ErrNoValidData):
		res.Status = Skip
		res.Reason = err
		return res
	case err != nil:
		res.Status = Failure
		res.Err = fmt.Errorf("raster %s: %w", path, err)
		return res
	}

	tr, err := e.Reader.Transformer(raster.CRS)
	if err != nil {
		res.Status = Failure
		res.Err = fmt.Errorf("raster %s: %w", path, err)
		return res
	}
	defer tr.Close()

	md, err := buildMetadata(raster, valid, tr, e.DensifyPoints)
	if err != nil {
		res.Status = Failure
		res.Err = fmt.Errorf("raster %s: %w", path, err)
		return res
	}
	res.Status = Success
	res.Metadata = md
	return res
}

// ComputeMetadata builds the metadata record of an already decoded raster.
// It returns ErrNoValidData when every sample is nodata, NaN or infinite.
func ComputeMetadata(r *Raster, tr Transformer, densifyPoints int) (*Metadata, error) {
	valid, err := maskedPixels(r)
	if err != nil {
		return nil, err
	}
	return buildMetadata(r, valid, tr, densifyPoints)
}

// maskedPixels checks the band size and returns the valid samples.
func maskedPixels(r *Raster) ([]float64, error) {
	total := len(r.Band)
	if r.Width > 0 && r.Height > 0 && total != r.Width*r.Height {
		return nil, fmt.Errorf("band holds %d samples, expected %dx%d", total, r.Width, r.Height)
	}

	// Rasters without a declared nodata value treat 0 as nodata.
	nodata := 0.0
	if r.NoData != nil {
		nodata = *r.NoData
	}

	valid := validPixels(r.Band, nodata)
	if len(valid) == 0 {
		return nil, ErrNoValidData
	}
	return valid, nil
}

func buildMetadata(r *Raster, valid []float64, tr Transformer, densifyPoints int) (*Metadata, error) {
	total := len(r.Band)
	bounds, hull, err := footprint(r.Bounds, tr, densifyPoints)
	if err != nil {
		return nil, err
	}

	top, negative := frequencies(valid)
	s := summarise(valid)

	md := &Metadata{
		Bounds:               bounds,
		ConvexHull:           hull,
		ValidPercentage:      float64(len(valid)) / float64(total) * 100,
		Range:                [2]float64{s.min, s.max},
		Mean:                 s.mean,
		Stdev:                s.stdev,
		Median:               s.median,
		Percentiles:          s.percentiles,
		Dtype:                r.DataType,
		MinScalarType:        minimumDtype(r.DataType, s.min, s.max),
		PixelSize:            r.ResX,
		ValidPxCount:         int64(len(valid)),
		TotalPxCount:         int64(total),
		NegativePxCount:      negative,
		Top100FrequentValues: top,
	}
	if r.NoData != nil {
		nd := NoData(*r.NoData)
		md.NoDataValue = &nd
	}
	return md, nil
}
