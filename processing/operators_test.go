package processing

import (
	"context"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/mock"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func newTile[T raster.Pixel](t *testing.T, time primitives.TimeInterval, shape raster.GridShape2D, y, x int, values []T, noData *T) *raster.Tile2D[T] {
	info := raster.TileInformation{
		GlobalTilePosition: raster.NewGridIdx2D(y, x),
		TileSizeInPixels:   shape,
		GlobalGeoTransform: raster.DefaultGeoTransform(),
	}
	tile, err := raster.NewTile2D(time, info, raster.MustNewGrid2D(shape, values, noData))
	require.NoError(t, err)
	return tile
}

func rasterSource[T raster.Pixel](noData *float64, tiles ...*raster.Tile2D[T]) engine.RasterOperator {
	return mock.NewMockRasterSource(tiles, engine.RasterResultDescriptor{
		SpatialReference: primitives.Epsg4326(),
		Measurement:      primitives.UnitlessMeasurement(),
		NoDataValue:      noData,
	})
}

func partitionQuery(ulx, uly, lrx, lry float64, time primitives.TimeInterval) primitives.RasterQueryRectangle {
	return primitives.RasterQueryRectangle{
		SpatialBounds:     primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(ulx, uly), primitives.NewCoordinate2D(lrx, lry)),
		TimeInterval:      time,
		SpatialResolution: primitives.OneResolution(),
	}
}

func bboxQuery(llx, lly, urx, ury float64) primitives.VectorQueryRectangle {
	return primitives.VectorQueryRectangle{
		SpatialBounds:     primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(llx, lly), primitives.NewCoordinate2D(urx, ury)),
		TimeInterval:      primitives.DefaultTimeInterval(),
		SpatialResolution: primitives.OneResolution(),
	}
}

// queryRaster initializes op and collects all tiles of query.
func queryRaster[T raster.Pixel](t *testing.T, op engine.RasterOperator, ectx engine.ExecutionContext, query primitives.RasterQueryRectangle) (engine.RasterResultDescriptor, []*raster.Tile2D[T]) {
	ctx := context.Background()
	initialized, err := engine.InitializeRaster(ctx, ectx, op)
	require.NoError(t, err)
	typed, err := initialized.QueryProcessor()
	require.NoError(t, err)
	processor, err := engine.RasterProcessorAs[T](typed)
	require.NoError(t, err)
	stream, err := processor.RasterQuery(ctx, query, engine.NewMockQueryContext(datasize.MB))
	require.NoError(t, err)
	tiles, err := engine.Collect(ctx, stream)
	require.NoError(t, err)
	return initialized.ResultDescriptor(), tiles
}

func queryPoints(t *testing.T, op engine.VectorOperator, query primitives.VectorQueryRectangle) (engine.VectorResultDescriptor, []*collections.MultiPointCollection) {
	ctx := context.Background()
	initialized, err := engine.InitializeVector(ctx, engine.NewMockExecutionContext(engine.MockTilingSpecification()), op)
	require.NoError(t, err)
	typed, err := initialized.QueryProcessor()
	require.NoError(t, err)
	processor, err := engine.VectorProcessorAs[geom.MultiPoint](typed)
	require.NoError(t, err)
	stream, err := processor.VectorQuery(ctx, query, engine.NewMockQueryContext(datasize.MB))
	require.NoError(t, err)
	cs, err := engine.Collect(ctx, stream)
	require.NoError(t, err)
	return initialized.ResultDescriptor(), cs
}

// columnValues reads a numeric column of all collections, nil for nulls.
func columnValues(t *testing.T, cs []*collections.MultiPointCollection, name string) []*float64 {
	var values []*float64
	for _, c := range cs {
		data, err := c.Data(name)
		require.NoError(t, err)
		for i := 0; i < data.Len(); i++ {
			if v, ok := data.FloatAt(i); ok {
				values = append(values, ptr(v))
			} else {
				values = append(values, nil)
			}
		}
	}
	return values
}
