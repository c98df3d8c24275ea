package catalog

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	extr "github.com/nci/rastercat/crawl/extractor"
)

func openTestStore(test *testing.T) *Store {
	test.Helper()
	store, err := Open(DriverSQLite, filepath.Join(test.TempDir(), "catalog.sqlite"), zap.NewNop().Sugar())
	require.NoError(test, err)
	test.Cleanup(func() { store.Close() })
	return store
}

func newTestCatalog(test *testing.T) *Store {
	test.Helper()
	store := openTestStore(test)
	require.NoError(test, store.CreateSchema(context.Background(), FileSchema))
	return store
}

func sampleMetadata(test *testing.T, values ...float64) *extr.Metadata {
	test.Helper()
	nodata := -1.0
	raster := &extr.Raster{
		Width:    len(values),
		Height:   1,
		Band:     values,
		NoData:   &nodata,
		DataType: extr.Float32,
		CRS:      extr.WGS84,
		Bounds:   extr.NativeBounds{West: 149, South: -36, East: 150, North: -35},
		ResX:     0.25,
		ResY:     0.25,
	}
	tr, err := extr.BuiltinTransformer(raster.CRS)
	require.NoError(test, err)
	md, err := extr.ComputeMetadata(raster, tr, extr.DefaultDensifyPoints)
	require.NoError(test, err)
	return md
}

func TestCreateSchema(test *testing.T) {
	ctx := context.Background()
	store := openTestStore(test)

	_, err := store.ListKeys(ctx)
	assert.ErrorIs(test, err, ErrSchema)

	require.NoError(test, store.CreateSchema(ctx, FileSchema))

	keys, err := store.ListKeys(ctx)
	require.NoError(test, err)
	assert.Equal(test, FileSchema, keys)

	// same keys again is a no-op
	require.NoError(test, store.CreateSchema(ctx, FileSchema))

	err = store.CreateSchema(ctx, Schema{{Name: "product"}, {Name: "date"}})
	assert.ErrorIs(test, err, ErrSchemaMismatch)

	keys, err = store.ListKeys(ctx)
	require.NoError(test, err)
	assert.Equal(test, []string{"file"}, keys.Names())
}

func TestCreateSchemaMultipleKeys(test *testing.T) {
	ctx := context.Background()
	store := openTestStore(test)
	schema := Schema{{Name: "product", Description: "sensor"}, {Name: "date"}}
	require.NoError(test, store.CreateSchema(ctx, schema))

	keys, err := store.ListKeys(ctx)
	require.NoError(test, err)
	assert.Equal(test, schema, keys)

	key, err := keys.KeyFromMap(map[string]string{"date": "2020", "product": "ndvi"})
	require.NoError(test, err)
	require.NoError(test, store.Upsert(ctx, key, "data/ndvi_2020.tif", sampleMetadata(test, 1, 2)))

	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	require.Len(test, datasets, 1)
	assert.Equal(test, Key{"ndvi", "2020"}, datasets[0].Key)
}

func TestCreateSchemaRejectsBadNames(test *testing.T) {
	ctx := context.Background()
	store := openTestStore(test)

	assert.Error(test, store.CreateSchema(ctx, Schema{}))
	assert.Error(test, store.CreateSchema(ctx, Schema{{Name: "file; DROP TABLE x"}}))
	assert.Error(test, store.CreateSchema(ctx, Schema{{Name: "filepath"}}))
	assert.Error(test, store.CreateSchema(ctx, Schema{{Name: "a"}, {Name: "A"}}))
}

func TestUpsertRoundTrip(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)
	md := sampleMetadata(test, -1, 0.5, 2, 2, 3.25, -7, 11)

	require.NoError(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", md))

	got, err := store.GetMetadata(ctx, Key{"a"})
	require.NoError(test, err)

	require.Len(test, got.Percentiles, extr.NumPercentiles)
	for i := range md.Percentiles {
		assert.InDelta(test, md.Percentiles[i], got.Percentiles[i], 1e-5*math.Max(1, math.Abs(md.Percentiles[i])))
	}
	assert.Equal(test, md.Bounds, got.Bounds)
	assert.Equal(test, md.ConvexHull.Geometry(), got.ConvexHull.Geometry())
	assert.Equal(test, md.ValidPercentage, got.ValidPercentage)
	assert.Equal(test, md.Range, got.Range)
	assert.Equal(test, md.Mean, got.Mean)
	assert.Equal(test, md.Stdev, got.Stdev)
	assert.Equal(test, md.Median, got.Median)
	assert.Equal(test, md.Dtype, got.Dtype)
	assert.Equal(test, md.MinScalarType, got.MinScalarType)
	assert.Equal(test, md.PixelSize, got.PixelSize)
	assert.Equal(test, md.NoDataValue, got.NoDataValue)
	assert.Equal(test, md.ValidPxCount, got.ValidPxCount)
	assert.Equal(test, md.TotalPxCount, got.TotalPxCount)
	assert.Equal(test, int64(1), got.NegativePxCount)
	assert.Equal(test, md.Top100FrequentValues, got.Top100FrequentValues)
}

func TestUpsertRoundTripNaNNoData(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)

	nodata := math.NaN()
	raster := &extr.Raster{
		Width:    4,
		Height:   1,
		Band:     []float64{math.NaN(), 2, 3, math.NaN()},
		NoData:   &nodata,
		DataType: extr.Float32,
		CRS:      extr.WGS84,
		Bounds:   extr.NativeBounds{West: 149, South: -36, East: 150, North: -35},
		ResX:     0.25,
		ResY:     1,
	}
	tr, err := extr.BuiltinTransformer(raster.CRS)
	require.NoError(test, err)
	md, err := extr.ComputeMetadata(raster, tr, extr.DefaultDensifyPoints)
	require.NoError(test, err)
	assert.Equal(test, 50.0, md.ValidPercentage)

	require.NoError(test, store.Upsert(ctx, Key{"nan"}, "data/nan.tif", md))

	got, err := store.GetMetadata(ctx, Key{"nan"})
	require.NoError(test, err)
	require.NotNil(test, got.NoDataValue)
	assert.True(test, math.IsNaN(float64(*got.NoDataValue)))
	assert.Equal(test, [2]float64{2, 3}, got.Range)

	var raw string
	require.NoError(test, store.db.QueryRow(`SELECT metadata FROM metadata`).Scan(&raw))
	assert.Contains(test, raw, `"nodata_value":"NaN"`)
}

func TestFootprintWKT(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)
	require.NoError(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", sampleMetadata(test, 1, 2)))

	wkt, err := store.GetFootprintWKT(ctx, Key{"a"})
	require.NoError(test, err)
	assert.True(test, strings.HasPrefix(strings.ToUpper(wkt), "POLYGON"), wkt)
	assert.Contains(test, wkt, "149")
	assert.Contains(test, wkt, "-36")

	_, err = store.GetFootprintWKT(ctx, Key{"missing"})
	assert.ErrorIs(test, err, ErrNotFound)
}

func TestUpsertReplaces(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)

	require.NoError(test, store.Upsert(ctx, Key{"a"}, "old/a.tif", sampleMetadata(test, 1, 2)))
	require.NoError(test, store.Upsert(ctx, Key{"a"}, "new/a.tif", sampleMetadata(test, 5, 6)))

	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Equal(test, []Dataset{{Key: Key{"a"}, Filepath: "new/a.tif"}}, datasets)

	md, err := store.GetMetadata(ctx, Key{"a"})
	require.NoError(test, err)
	assert.Equal(test, [2]float64{5, 6}, md.Range)
}

func TestUpsertRejectsInvalidMetadata(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)

	md := sampleMetadata(test, 1, 2)
	md.Percentiles = md.Percentiles[:10]
	assert.Error(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", md))
	assert.Error(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", nil))

	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Empty(test, datasets)
}

func TestDelete(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)

	require.NoError(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", sampleMetadata(test, 1)))
	require.NoError(test, store.Upsert(ctx, Key{"b"}, "data/b.tif", sampleMetadata(test, 2)))

	require.NoError(test, store.Delete(ctx, Key{"b"}))
	// deleting an absent key is a no-op
	require.NoError(test, store.Delete(ctx, Key{"b"}))
	require.NoError(test, store.Delete(ctx, Key{"zzz"}))

	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Equal(test, []Dataset{{Key: Key{"a"}, Filepath: "data/a.tif"}}, datasets)

	_, err = store.GetMetadata(ctx, Key{"b"})
	assert.ErrorIs(test, err, ErrNotFound)
	_, err = store.GetMetadata(ctx, Key{"a"})
	assert.NoError(test, err)
}

func TestKeyArity(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)
	md := sampleMetadata(test, 1)

	var arityErr *KeyArityError
	err := store.Upsert(ctx, Key{"a", "b"}, "data/a.tif", md)
	require.True(test, errors.As(err, &arityErr))
	assert.Equal(test, 2, arityErr.Got)
	assert.Equal(test, 1, arityErr.Want)

	err = store.Delete(ctx, Key{})
	assert.True(test, errors.As(err, &arityErr))

	_, err = store.GetMetadata(ctx, Key{"a", "b"})
	assert.True(test, errors.As(err, &arityErr))

	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Empty(test, datasets)
}

func TestUpsertIsAtomic(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)
	injected := errors.New("injected failure")

	store.beforeMetadataWrite = func() error { return injected }
	err := store.Upsert(ctx, Key{"a"}, "data/a.tif", sampleMetadata(test, 1, 2))
	assert.ErrorIs(test, err, injected)

	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Empty(test, datasets)
	_, err = store.GetMetadata(ctx, Key{"a"})
	assert.ErrorIs(test, err, ErrNotFound)

	// a failed replacement keeps the previous rows
	store.beforeMetadataWrite = nil
	require.NoError(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", sampleMetadata(test, 1, 2)))
	store.beforeMetadataWrite = func() error { return injected }
	assert.Error(test, store.Upsert(ctx, Key{"a"}, "moved/a.tif", sampleMetadata(test, 8, 9)))

	datasets, err = store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Equal(test, []Dataset{{Key: Key{"a"}, Filepath: "data/a.tif"}}, datasets)
	md, err := store.GetMetadata(ctx, Key{"a"})
	require.NoError(test, err)
	assert.Equal(test, [2]float64{1, 2}, md.Range)
}

func TestEnsureSchema(test *testing.T) {
	ctx := context.Background()
	store := openTestStore(test)

	reset, err := store.EnsureSchema(ctx, FileSchema, false)
	require.NoError(test, err)
	assert.True(test, reset)

	require.NoError(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", sampleMetadata(test, 1)))

	reset, err = store.EnsureSchema(ctx, FileSchema, false)
	require.NoError(test, err)
	assert.False(test, reset)

	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Len(test, datasets, 1)

	reset, err = store.EnsureSchema(ctx, FileSchema, true)
	require.NoError(test, err)
	assert.True(test, reset)

	datasets, err = store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Empty(test, datasets)
}

func TestEnsureSchemaRecoversCorruption(test *testing.T) {
	ctx := context.Background()
	store := newTestCatalog(test)
	require.NoError(test, store.Upsert(ctx, Key{"a"}, "data/a.tif", sampleMetadata(test, 1)))

	_, err := store.db.Exec("DROP TABLE keys")
	require.NoError(test, err)
	_, err = store.ListKeys(ctx)
	require.ErrorIs(test, err, ErrSchema)

	reset, err := store.EnsureSchema(ctx, FileSchema, false)
	require.NoError(test, err)
	assert.True(test, reset)

	keys, err := store.ListKeys(ctx)
	require.NoError(test, err)
	assert.Equal(test, FileSchema, keys)
	datasets, err := store.ListDatasets(ctx)
	require.NoError(test, err)
	assert.Empty(test, datasets)
}

func TestTransientErrorsKeepCatalog(test *testing.T) {
	store := newTestCatalog(test)
	require.NoError(test, store.Upsert(context.Background(), Key{"a"}, "data/a.tif", sampleMetadata(test, 1)))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListDatasets(cancelled)
	require.Error(test, err)
	assert.NotErrorIs(test, err, ErrSchema)

	_, err = store.ListKeys(cancelled)
	require.Error(test, err)
	assert.NotErrorIs(test, err, ErrSchema)

	reset, err := store.EnsureSchema(cancelled, FileSchema, false)
	assert.Error(test, err)
	assert.False(test, reset)

	datasets, err := store.ListDatasets(context.Background())
	require.NoError(test, err)
	assert.Len(test, datasets, 1)
}

func TestListDatasetsMissingTable(test *testing.T) {
	store := newTestCatalog(test)
	_, err := store.db.Exec("DROP TABLE datasets")
	require.NoError(test, err)

	_, err = store.ListDatasets(context.Background())
	assert.ErrorIs(test, err, ErrSchema)
}

func TestIsMissingSchema(test *testing.T) {
	assert.True(test, isMissingSchema(&pq.Error{Code: "42P01"}))
	assert.True(test, isMissingSchema(&pq.Error{Code: "42703"}))
	assert.False(test, isMissingSchema(&pq.Error{Code: "57P01"}))
	assert.True(test, isMissingSchema(errors.New("SQL logic error: no such table: datasets (1)")))
	assert.False(test, isMissingSchema(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(test, isMissingSchema(context.Canceled))
	assert.False(test, isMissingSchema(nil))
}

func TestOpenUnknownDriver(test *testing.T) {
	_, err := Open("oracle", "", nil)
	assert.Error(test, err)
}
