package gdalreader

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_srs_api.h" /* for SRS calls */
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"strings"
	"unsafe"

	extr "github.com/nci/rastercat/crawl/extractor"
)

var GDALTypes = map[C.GDALDataType]string{
	C.GDT_Byte:    extr.Uint8,
	C.GDT_UInt16:  extr.Uint16,
	C.GDT_Int16:   extr.Int16,
	C.GDT_UInt32:  extr.Uint32,
	C.GDT_Int32:   extr.Int32,
	C.GDT_Float32: extr.Float32,
	C.GDT_Float64: extr.Float64,
}

// Reader decodes rasters through GDAL. A Reader holds no state, but GDAL
// handles are never shared: every Open call owns its dataset handle.
type Reader struct{}

func New() *Reader {
	initOnce.Do(initGdal)
	return &Reader{}
}

func (r *Reader) Open(path string) (*extr.Raster, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	hDataset := C.GDALOpen(cPath, C.GA_ReadOnly)
	if hDataset == nil {
		return nil, fmt.Errorf("GDAL could not open dataset %s: %s", path, C.GoString(C.CPLGetLastErrorMsg()))
	}
	defer C.GDALClose(hDataset)

	if C.GDALGetRasterCount(hDataset) < 1 {
		return nil, fmt.Errorf("dataset %s has no raster bands", path)
	}

	xSize := int(C.GDALGetRasterXSize(hDataset))
	ySize := int(C.GDALGetRasterYSize(hDataset))
	if xSize <= 0 || ySize <= 0 {
		return nil, fmt.Errorf("dataset %s has empty extent %dx%d", path, xSize, ySize)
	}

	hBand := C.GDALGetRasterBand(hDataset, 1)

	dtype, ok := GDALTypes[C.GDALGetRasterDataType(hBand)]
	if !ok {
		return nil, fmt.Errorf("dataset %s: unsupported band data type %d", path, int(C.GDALGetRasterDataType(hBand)))
	}

	var hasNoData C.int
	noDataVal := float64(C.GDALGetRasterNoDataValue(hBand, &hasNoData))

	band := make([]float64, xSize*ySize)
	cErr := C.GDALRasterIO(hBand, C.GF_Read, 0, 0, C.int(xSize), C.int(ySize),
		unsafe.Pointer(&band[0]), C.int(xSize), C.int(ySize), C.GDT_Float64, 0, 0)
	if cErr != C.CE_None {
		return nil, fmt.Errorf("dataset %s: band read failed: %s", path, C.GoString(C.CPLGetLastErrorMsg()))
	}

	dArr := [6]C.double{}
	if C.GDALGetGeoTransform(hDataset, &dArr[0]) != C.CE_None {
		return nil, fmt.Errorf("dataset %s has no geotransform", path)
	}
	geot := (*[6]float64)(unsafe.Pointer(&dArr))[:]
	if geot[2] != 0 || geot[4] != 0 {
		return nil, fmt.Errorf("dataset %s: rotated geotransforms are not supported", path)
	}

	ulX, ulY := geot[0], geot[3]
	lrX := geot[0] + float64(xSize)*geot[1]
	lrY := geot[3] + float64(ySize)*geot[5]

	raster := &extr.Raster{
		Path:     path,
		Width:    xSize,
		Height:   ySize,
		Band:     band,
		DataType: dtype,
		CRS:      C.GoString(C.GDALGetProjectionRef(hDataset)),
		Bounds: extr.NativeBounds{
			West:  minf(ulX, lrX),
			East:  maxf(ulX, lrX),
			South: minf(ulY, lrY),
			North: maxf(ulY, lrY),
		},
		ResX: geot[1],
		ResY: -geot[5],
	}
	if hasNoData != 0 {
		raster.NoData = &noDataVal
	}
	return raster, nil
}

// Transformer builds an OGR coordinate transformation to WGS84 in
// longitude/latitude axis order. EPSG:4326 and web mercator short-circuit to
// the pure Go transformers.
func (r *Reader) Transformer(crs string) (extr.Transformer, error) {
	if tr, err := extr.BuiltinTransformer(crs); err == nil {
		return tr, nil
	}
	if strings.TrimSpace(crs) == "" {
		return nil, fmt.Errorf("raster has no coordinate reference")
	}

	cCRS := C.CString(crs)
	defer C.free(unsafe.Pointer(cCRS))

	hSrc := C.OSRNewSpatialReference(nil)
	if C.OSRSetFromUserInput(hSrc, cCRS) != C.OGRERR_NONE {
		C.OSRDestroySpatialReference(hSrc)
		return nil, fmt.Errorf("invalid coordinate reference: %s", crs)
	}
	C.OSRSetAxisMappingStrategy(hSrc, C.OAMS_TRADITIONAL_GIS_ORDER)

	hDst := C.OSRNewSpatialReference(nil)
	C.OSRImportFromEPSG(hDst, 4326)
	C.OSRSetAxisMappingStrategy(hDst, C.OAMS_TRADITIONAL_GIS_ORDER)

	hTrans := C.OCTNewCoordinateTransformation(hSrc, hDst)
	if hTrans == nil {
		C.OSRDestroySpatialReference(hSrc)
		C.OSRDestroySpatialReference(hDst)
		return nil, fmt.Errorf("no transformation from %s to WGS84: %s", crs, C.GoString(C.CPLGetLastErrorMsg()))
	}

	return &ogrTransformer{src: hSrc, dst: hDst, trans: hTrans}, nil
}

type ogrTransformer struct {
	src   C.OGRSpatialReferenceH
	dst   C.OGRSpatialReferenceH
	trans C.OGRCoordinateTransformationH
}

func (t *ogrTransformer) Transform(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("coordinate length mismatch: %d != %d", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return nil
	}

	cXs := make([]C.double, len(xs))
	cYs := make([]C.double, len(ys))
	for i := range xs {
		cXs[i] = C.double(xs[i])
		cYs[i] = C.double(ys[i])
	}

	if C.OCTTransform(t.trans, C.int(len(xs)), &cXs[0], &cYs[0], nil) == 0 {
		return fmt.Errorf("coordinate transformation failed: %s", C.GoString(C.CPLGetLastErrorMsg()))
	}

	for i := range xs {
		xs[i] = float64(cXs[i])
		ys[i] = float64(cYs[i])
	}
	return nil
}

func (t *ogrTransformer) Close() {
	C.OCTDestroyCoordinateTransformation(t.trans)
	C.OSRDestroySpatialReference(t.src)
	C.OSRDestroySpatialReference(t.dst)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
