package mock

import (
	"context"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/dataset"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partition(ulx, uly, lrx, lry float64) primitives.SpatialPartition2D {
	return primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(ulx, uly), primitives.NewCoordinate2D(lrx, lry))
}

func bbox(llx, lly, urx, ury float64) primitives.BoundingBox2D {
	return primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(llx, lly), primitives.NewCoordinate2D(urx, ury))
}

func testTile(t *testing.T, time primitives.TimeInterval, y, x int, values []uint8) *raster.Tile2D[uint8] {
	info := raster.TileInformation{
		GlobalTilePosition: raster.NewGridIdx2D(y, x),
		TileSizeInPixels:   raster.NewGridShape2D(2, 2),
		GlobalGeoTransform: raster.DefaultGeoTransform(),
	}
	tile, err := raster.NewTile2D(time, info, raster.MustNewGrid2D(info.TileSizeInPixels, values, nil))
	require.NoError(t, err)
	return tile
}

func TestMockRasterSource(t *testing.T) {
	ctx := context.Background()
	early := primitives.NewTimeIntervalUnchecked(0, 5)
	late := primitives.NewTimeIntervalUnchecked(5, 10)
	source := NewMockRasterSource([]*raster.Tile2D[uint8]{
		testTile(t, early, 0, 0, []uint8{1, 2, 3, 4}),
		testTile(t, early, 0, 1, []uint8{5, 6, 7, 8}),
		testTile(t, late, 0, 0, []uint8{9, 10, 11, 12}),
	}, engine.RasterResultDescriptor{SpatialReference: primitives.Epsg4326()})

	initialized, err := engine.InitializeRaster(ctx, engine.NewMockExecutionContext(engine.MockTilingSpecification()), source)
	require.NoError(t, err)
	assert.Equal(t, raster.U8, initialized.ResultDescriptor().DataType)
	typed, err := initialized.QueryProcessor()
	require.NoError(t, err)
	processor, err := engine.RasterProcessorAs[uint8](typed)
	require.NoError(t, err)

	tests := []struct {
		name  string
		query primitives.RasterQueryRectangle
		want  [][]uint8
	}{
		{
			name:  "first tile, first time step",
			query: primitives.RasterQueryRectangle{SpatialBounds: partition(0, 0, 2, -2), TimeInterval: primitives.NewTimeInstant(0)},
			want:  [][]uint8{{1, 2, 3, 4}},
		},
		{
			name:  "both tiles, all time",
			query: primitives.RasterQueryRectangle{SpatialBounds: partition(0, 0, 4, -2), TimeInterval: primitives.NewTimeIntervalUnchecked(0, 10)},
			want:  [][]uint8{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}},
		},
		{
			name:  "outside",
			query: primitives.RasterQueryRectangle{SpatialBounds: partition(10, 0, 12, -2), TimeInterval: primitives.NewTimeIntervalUnchecked(0, 10)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := processor.RasterQuery(ctx, tt.query, engine.NewMockQueryContext(datasize.KB))
			require.NoError(t, err)
			tiles, err := engine.Collect(ctx, stream)
			require.NoError(t, err)
			var got [][]uint8
			for _, tile := range tiles {
				got = append(got, tile.Grid.Data)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMockFeatureCollectionSource(t *testing.T) {
	ctx := context.Background()
	first := collections.MustNewFeatureCollection(
		[]geom.MultiPoint{{{0, 0}}, {{5, 5}}},
		[]primitives.TimeInterval{primitives.NewTimeIntervalUnchecked(0, 10), primitives.NewTimeIntervalUnchecked(20, 30)},
		map[string]collections.FeatureData{"id": collections.IntData([]int64{1, 2})},
	)
	second := collections.MustNewFeatureCollection(
		[]geom.MultiPoint{{{1, 1}}},
		nil,
		map[string]collections.FeatureData{"id": collections.IntData([]int64{3})},
	)
	source := NewMockFeatureCollectionSource(primitives.Epsg4326(), first, second)
	initialized, err := engine.InitializeVector(ctx, engine.NewMockExecutionContext(engine.MockTilingSpecification()), source)
	require.NoError(t, err)
	columnType, ok := initialized.ResultDescriptor().ColumnType("id")
	require.True(t, ok)
	assert.Equal(t, collections.Int, columnType)

	typed, err := initialized.QueryProcessor()
	require.NoError(t, err)
	processor, err := engine.VectorProcessorAs[geom.MultiPoint](typed)
	require.NoError(t, err)

	query := primitives.VectorQueryRectangle{SpatialBounds: bbox(-1, -1, 2, 2), TimeInterval: primitives.NewTimeIntervalUnchecked(0, 10)}
	stream, err := processor.VectorQuery(ctx, query, engine.NewMockQueryContext(datasize.KB))
	require.NoError(t, err)
	got, err := engine.Collect(ctx, stream)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []geom.MultiPoint{{{0, 0}}}, got[0].Geometries)
	assert.Equal(t, []geom.MultiPoint{{{1, 1}}}, got[1].Geometries)
}

func TestMockFeatureCollectionSource_DifferentColumns(t *testing.T) {
	a := collections.MustNewFeatureCollection([]geom.MultiPoint{{{0, 0}}}, nil, map[string]collections.FeatureData{"a": collections.IntData([]int64{1})})
	b := collections.MustNewFeatureCollection([]geom.MultiPoint{{{0, 0}}}, nil, map[string]collections.FeatureData{"b": collections.IntData([]int64{1})})
	_, err := engine.InitializeVector(context.Background(), engine.NewMockExecutionContext(engine.MockTilingSpecification()),
		NewMockFeatureCollectionSource(primitives.Epsg4326(), a, b))
	var spec engine.InvalidOperatorSpecError
	require.ErrorAs(t, err, &spec)
}

func TestMockDatasetDataSource(t *testing.T) {
	ctx := context.Background()
	ectx := engine.NewMockExecutionContext(engine.MockTilingSpecification())
	id := dataset.NewInternalDatasetID()
	hooked := 0
	ectx.AddMetaData(id, &engine.StaticMetaData[MockDatasetDataSourceLoadingInfo, engine.VectorResultDescriptor, primitives.VectorQueryRectangle]{
		Info: MockDatasetDataSourceLoadingInfo{Points: []primitives.Coordinate2D{
			primitives.NewCoordinate2D(1, 2),
			primitives.NewCoordinate2D(3, 4),
			primitives.NewCoordinate2D(100, 100),
		}},
		Descriptor: engine.NewVectorResultDescriptor(collections.MultiPoint, primitives.Epsg4326(), nil),
		Hook: func(context.Context) error {
			hooked++
			return nil
		},
	})

	op, err := engine.DecodeVectorOperator([]byte(`{"type": "MockDatasetDataSource", "params": {"dataset": {"type": "internal", "datasetId": "` + id.InternalID.String() + `"}}}`))
	require.NoError(t, err)
	initialized, err := engine.InitializeVector(ctx, ectx, op)
	require.NoError(t, err)
	typed, err := initialized.QueryProcessor()
	require.NoError(t, err)
	processor, err := engine.VectorProcessorAs[geom.MultiPoint](typed)
	require.NoError(t, err)

	query := primitives.VectorQueryRectangle{
		SpatialBounds:     bbox(-10, -10, 10, 10),
		TimeInterval:      primitives.DefaultTimeInterval(),
		SpatialResolution: primitives.ZeroPointOneResolution(),
	}
	tests := []struct {
		name      string
		chunkSize datasize.ByteSize
		wantLens  []int
	}{
		{name: "one chunk", chunkSize: datasize.KB, wantLens: []int{2}},
		{name: "one point per chunk", chunkSize: coordinateByteSize, wantLens: []int{1, 1}},
		{name: "chunk size below a point", chunkSize: 1, wantLens: []int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := processor.VectorQuery(ctx, query, engine.NewMockQueryContext(tt.chunkSize))
			require.NoError(t, err)
			chunks, err := engine.Collect(ctx, stream)
			require.NoError(t, err)
			var lens []int
			for _, c := range chunks {
				lens = append(lens, c.Len())
				assert.Equal(t, primitives.DefaultTimeInterval(), c.Times[0])
			}
			assert.Equal(t, tt.wantLens, lens)
		})
	}
	assert.Equal(t, len(tests), hooked)
}

func TestMockDatasetDataSource_WrongMetaData(t *testing.T) {
	ectx := engine.NewMockExecutionContext(engine.MockTilingSpecification())
	id := dataset.NewInternalDatasetID()
	ectx.AddMetaData(id, &engine.StaticMetaData[string, engine.VectorResultDescriptor, primitives.VectorQueryRectangle]{})

	source := &MockDatasetDataSource{}
	source.Params.Dataset = id
	_, err := engine.InitializeVector(context.Background(), ectx, source)
	require.ErrorIs(t, err, engine.ErrDatasetLoadingInfoProviderMismatch)

	source.Params.Dataset = dataset.NewInternalDatasetID()
	_, err = engine.InitializeVector(context.Background(), ectx, source)
	require.ErrorIs(t, err, engine.ErrUnknownDatasetID)
}

func TestMockRasterDatasetSource(t *testing.T) {
	ctx := context.Background()
	ectx := engine.NewMockExecutionContext(engine.MockTilingSpecification())
	id := dataset.NewInternalDatasetID()
	ectx.AddMetaData(id, &engine.StaticMetaData[MockRasterDatasetLoadingInfo, engine.RasterResultDescriptor, primitives.RasterQueryRectangle]{
		Info: MockRasterDatasetLoadingInfo{
			GeoTransform: raster.DefaultGeoTransform(),
			TileSize:     raster.NewGridShape2D(2, 2),
			Tiles: []MockRasterTile{
				{Time: primitives.NewTimeIntervalUnchecked(0, 10), Position: raster.NewGridIdx2D(0, 0), Values: []float64{1.7, -3, 300, 0}},
			},
		},
		Descriptor: engine.RasterResultDescriptor{DataType: raster.I16, SpatialReference: primitives.Epsg4326(), NoDataValue: func() *float64 { v := 0.0; return &v }()},
	})

	source := &MockRasterDatasetSource{}
	source.Params.Dataset = id
	initialized, err := engine.InitializeRaster(ctx, ectx, source)
	require.NoError(t, err)
	typed, err := initialized.QueryProcessor()
	require.NoError(t, err)
	require.Equal(t, raster.I16, typed.DataType())
	processor, err := engine.RasterProcessorAs[int16](typed)
	require.NoError(t, err)

	stream, err := processor.RasterQuery(ctx, primitives.RasterQueryRectangle{
		SpatialBounds:     partition(0, 0, 2, -2),
		TimeInterval:      primitives.NewTimeInstant(5),
		SpatialResolution: primitives.OneResolution(),
	}, engine.NewMockQueryContext(datasize.KB))
	require.NoError(t, err)
	tiles, err := engine.Collect(ctx, stream)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, []int16{1, -3, 300, 0}, tiles[0].Grid.Data)
	_, valid, err := tiles[0].Grid.MaskedAt(raster.NewGridIdx2D(1, 1))
	require.NoError(t, err)
	assert.False(t, valid)

	tests := []struct {
		name       string
		resolution primitives.SpatialResolution
		wantEmpty  []bool
	}{
		{name: "dataset resolution fills missing tiles", resolution: primitives.OneResolution(), wantEmpty: []bool{false, true}},
		{name: "other resolution", resolution: primitives.SpatialResolution{X: 0.5, Y: 0.5}, wantEmpty: []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := processor.RasterQuery(ctx, primitives.RasterQueryRectangle{
				SpatialBounds:     partition(0, 0, 4, -2),
				TimeInterval:      primitives.NewTimeIntervalUnchecked(0, 10),
				SpatialResolution: tt.resolution,
			}, engine.NewMockQueryContext(datasize.KB))
			require.NoError(t, err)
			tiles, err := engine.Collect(ctx, stream)
			require.NoError(t, err)
			empty := make([]bool, 0, len(tiles))
			for _, tile := range tiles {
				empty = append(empty, tile.IsEmpty())
			}
			assert.Equal(t, tt.wantEmpty, empty)
		})
	}
}
