package plot

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/mock"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func rasterSource(t *testing.T, values []uint8, noData *uint8) engine.RasterOperator {
	shape := raster.NewGridShape2D(3, 2)
	info := raster.TileInformation{
		GlobalTilePosition: raster.NewGridIdx2D(0, 0),
		TileSizeInPixels:   shape,
		GlobalGeoTransform: raster.DefaultGeoTransform(),
	}
	tile, err := raster.NewTile2D(primitives.DefaultTimeInterval(), info, raster.MustNewGrid2D(shape, values, noData))
	require.NoError(t, err)
	return mock.NewMockRasterSource([]*raster.Tile2D[uint8]{tile}, engine.RasterResultDescriptor{
		SpatialReference: primitives.Epsg4326(),
		Measurement:      primitives.UnitlessMeasurement(),
	})
}

func dataSource(t *testing.T, columns ...[]int64) engine.VectorOperator {
	cs := make([]*collections.DataCollection, 0, len(columns))
	for _, values := range columns {
		c, err := collections.NewDataCollection(len(values), nil, map[string]collections.FeatureData{
			"foo": collections.IntData(values),
		})
		require.NoError(t, err)
		cs = append(cs, c)
	}
	return mock.NewMockFeatureCollectionSource(primitives.Epsg4326(), cs...)
}

func plotQuery() primitives.PlotQueryRectangle {
	return primitives.PlotQueryRectangle{
		SpatialBounds:     primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(-180, -90), primitives.NewCoordinate2D(180, 90)),
		TimeInterval:      primitives.DefaultTimeInterval(),
		SpatialResolution: primitives.OneResolution(),
	}
}

func runHistogram(t *testing.T, op *Histogram) *HistogramData {
	ctx := context.Background()
	initialized, err := engine.InitializePlot(ctx, engine.NewMockExecutionContext(engine.MockTilingSpecification()), op)
	require.NoError(t, err)
	processor, err := initialized.QueryProcessor()
	require.NoError(t, err)
	result, err := processor.PlotQuery(ctx, plotQuery(), engine.NewMockQueryContext(datasize.MB))
	require.NoError(t, err)
	require.Equal(t, HistogramPlotType, result.PlotType)
	histogram, ok := result.Data.(*HistogramData)
	require.True(t, ok)
	return histogram
}

func TestHistogram(t *testing.T) {
	tests := []struct {
		params  HistogramParams
		rasters func(t *testing.T) []engine.RasterOperator
		vectors func(t *testing.T) []engine.VectorOperator
		want    []uint64
		wantMin float64
		wantMax float64
	}{
		{
			params: HistogramParams{Bounds: ValueBounds(0, 8), Buckets: ptr(3)},
			rasters: func(t *testing.T) []engine.RasterOperator {
				return []engine.RasterOperator{rasterSource(t, []uint8{1, 2, 3, 4, 5, 6}, nil)}
			},
			want:    []uint64{2, 3, 1},
			wantMin: 0,
			wantMax: 8,
		},
		{
			params: HistogramParams{Bounds: DataBounds()},
			rasters: func(t *testing.T) []engine.RasterOperator {
				return []engine.RasterOperator{rasterSource(t, []uint8{1, 2, 3, 4, 5, 6}, nil)}
			},
			want:    []uint64{3, 3},
			wantMin: 1,
			wantMax: 6,
		},
		{
			params: HistogramParams{Bounds: DataBounds(), Buckets: ptr(2)},
			rasters: func(t *testing.T) []engine.RasterOperator {
				return []engine.RasterOperator{rasterSource(t, []uint8{0, 2, 3, 4, 0, 6}, ptr[uint8](0))}
			},
			want:    []uint64{2, 2},
			wantMin: 2,
			wantMax: 6,
		},
		{
			params: HistogramParams{ColumnName: "foo", Bounds: ValueBounds(0, 8), Buckets: ptr(3)},
			vectors: func(t *testing.T) []engine.VectorOperator {
				return []engine.VectorOperator{dataSource(t, []int64{1, 1, 2, 2, 3, 3, 4, 4}, []int64{5, 6, 7, 8})}
			},
			want:    []uint64{4, 5, 3},
			wantMin: 0,
			wantMax: 8,
		},
		{
			params: HistogramParams{ColumnName: "foo", Bounds: ValueBounds(5, 5), Buckets: ptr(2)},
			vectors: func(t *testing.T) []engine.VectorOperator {
				return []engine.VectorOperator{dataSource(t, []int64{4, 5, 5, 6})}
			},
			want:    []uint64{2, 0},
			wantMin: 5,
			wantMax: 5,
		},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			op := &Histogram{}
			op.Params = tt.params
			if tt.rasters != nil {
				op.RasterSources = tt.rasters(t)
			}
			if tt.vectors != nil {
				op.VectorSources = tt.vectors(t)
			}
			histogram := runHistogram(t, op)
			assert.Equal(t, tt.want, histogram.Counts())
			assert.Equal(t, tt.wantMin, histogram.Buckets[0].Min)
			assert.Equal(t, tt.wantMax, histogram.Buckets[len(histogram.Buckets)-1].Max)
		})
	}
}

func TestHistogram_Initialization(t *testing.T) {
	tests := map[string]struct {
		params  HistogramParams
		rasters int
		vectors int
	}{
		"no source":           {params: HistogramParams{Bounds: DataBounds()}},
		"two sources":         {params: HistogramParams{ColumnName: "foo", Bounds: DataBounds()}, rasters: 1, vectors: 1},
		"missing column":      {params: HistogramParams{Bounds: DataBounds()}, vectors: 1},
		"unknown column":      {params: HistogramParams{ColumnName: "bar", Bounds: DataBounds()}, vectors: 1},
		"min larger than max": {params: HistogramParams{Bounds: ValueBounds(2, 1)}, rasters: 1},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			op := &Histogram{}
			op.Params = tt.params
			for i := 0; i < tt.rasters; i++ {
				op.RasterSources = append(op.RasterSources, rasterSource(t, []uint8{1, 2, 3, 4, 5, 6}, nil))
			}
			for i := 0; i < tt.vectors; i++ {
				op.VectorSources = append(op.VectorSources, dataSource(t, []int64{1}))
			}
			_, err := engine.InitializePlot(context.Background(), engine.NewMockExecutionContext(engine.MockTilingSpecification()), op)
			require.Error(t, err)
		})
	}
}

func TestHistogram_NoValues(t *testing.T) {
	op := &Histogram{}
	op.Params = HistogramParams{Bounds: DataBounds()}
	op.RasterSources = []engine.RasterOperator{rasterSource(t, []uint8{0, 0, 0, 0, 0, 0}, ptr[uint8](0))}

	ctx := context.Background()
	initialized, err := engine.InitializePlot(ctx, engine.NewMockExecutionContext(engine.MockTilingSpecification()), op)
	require.NoError(t, err)
	processor, err := initialized.QueryProcessor()
	require.NoError(t, err)
	_, err = processor.PlotQuery(ctx, plotQuery(), engine.NewMockQueryContext(datasize.MB))
	require.ErrorIs(t, err, ErrNoBuckets)
}

func TestHistogramParams_JSON(t *testing.T) {
	tests := map[string]struct {
		json string
		want HistogramParams
	}{
		"values": {
			json: `{"columnName": "foobar", "bounds": {"min": 5.0, "max": 10.0}, "buckets": 15}`,
			want: HistogramParams{ColumnName: "foobar", Bounds: ValueBounds(5, 10), Buckets: ptr(15)},
		},
		"data": {
			json: `{"bounds": "data"}`,
			want: HistogramParams{Bounds: DataBounds()},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var params HistogramParams
			require.NoError(t, json.Unmarshal([]byte(tt.json), &params))
			assert.Equal(t, tt.want, params)

			encoded, err := json.Marshal(params)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(encoded))
		})
	}

	var params HistogramParams
	require.Error(t, json.Unmarshal([]byte(`{"bounds": "auto"}`), &params))
	require.Error(t, json.Unmarshal([]byte(`{"bounds": {"min": 1}}`), &params))
}

func TestHistogram_Decode(t *testing.T) {
	op, err := engine.DecodePlotOperator([]byte(`{
		"type": "Histogram",
		"params": {"bounds": {"min": 0, "max": 8}, "buckets": 3}
	}`))
	require.NoError(t, err)
	histogram, ok := op.(*Histogram)
	require.True(t, ok)
	assert.Equal(t, ValueBounds(0, 8), histogram.Params.Bounds)

	_, err = engine.DecodePlotOperator([]byte(`{
		"type": "Histogram",
		"params": {"bounds": "data", "buckets": 0}
	}`))
	var specErr engine.InvalidOperatorSpecError
	require.ErrorAs(t, err, &specErr)
}
