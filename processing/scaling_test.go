package processing

import (
	"context"
	"testing"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRasterScaling(t *testing.T) {
	time := primitives.NewTimeIntervalUnchecked(0, 10)
	shape := raster.NewGridShape2D(2, 2)
	withProperties := func(tile *raster.Tile2D[uint8]) *raster.Tile2D[uint8] {
		tile.Properties.Scale = ptr(2.0)
		tile.Properties.Offset = ptr(1.0)
		return tile
	}

	tests := []struct {
		name   string
		params RasterScalingParams
		input  []uint8
		want   []uint8
	}{
		{
			name:   "unscale with constants",
			params: RasterScalingParams{Slope: ConstantValue(2), Offset: ConstantValue(1), ScalingMode: Unscale},
			input:  []uint8{7, 7, 7, 6},
			want:   []uint8{15, 15, 15, 13},
		},
		{
			name:   "scale with constants",
			params: RasterScalingParams{Slope: ConstantValue(2), Offset: ConstantValue(1), ScalingMode: Scale},
			input:  []uint8{15, 15, 15, 13},
			want:   []uint8{7, 7, 7, 6},
		},
		{
			name:   "unscale with tile properties",
			params: RasterScalingParams{Slope: MetadataKey("", "scale"), Offset: MetadataKey("", "offset"), ScalingMode: Unscale},
			input:  []uint8{7, 7, 7, 6},
			want:   []uint8{15, 15, 15, 13},
		},
		{
			name:   "results are clamped",
			params: RasterScalingParams{Slope: ConstantValue(100), Offset: ConstantValue(0), ScalingMode: Unscale},
			input:  []uint8{0, 1, 2, 3},
			want:   []uint8{0, 100, 200, 255},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &RasterScaling{}
			op.Params = tt.params
			op.RasterSources = []engine.RasterOperator{rasterSource(nil, withProperties(newTile(t, time, shape, 0, 0, tt.input, nil)))}

			_, tiles := queryRaster[uint8](t, op, engine.NewMockExecutionContext(engine.MockTilingSpecification()), partitionQuery(0, 0, 2, -2, time))
			require.Len(t, tiles, 1)
			assert.Equal(t, tt.want, tiles[0].Grid.Data)
		})
	}
}

func TestRasterScaling_SkipsNoData(t *testing.T) {
	time := primitives.NewTimeIntervalUnchecked(0, 10)
	op := &RasterScaling{}
	op.Params = RasterScalingParams{Slope: ConstantValue(2), Offset: ConstantValue(1), ScalingMode: Unscale}
	op.RasterSources = []engine.RasterOperator{
		rasterSource(ptr(0.0), newTile(t, time, raster.NewGridShape2D(2, 2), 0, 0, []uint8{0, 1, 0, 2}, ptr[uint8](0))),
	}

	_, tiles := queryRaster[uint8](t, op, engine.NewMockExecutionContext(engine.MockTilingSpecification()), partitionQuery(0, 0, 2, -2, time))
	require.Len(t, tiles, 1)
	assert.Equal(t, []uint8{0, 3, 0, 5}, tiles[0].Grid.Data)
}

func TestRasterScaling_Errors(t *testing.T) {
	time := primitives.NewTimeIntervalUnchecked(0, 10)

	tests := []struct {
		name   string
		params RasterScalingParams
	}{
		{
			name:   "missing tile property",
			params: RasterScalingParams{Slope: MetadataKey("", "scale"), Offset: ConstantValue(0), ScalingMode: Unscale},
		},
		{
			name:   "zero slope",
			params: RasterScalingParams{Slope: ConstantValue(0), Offset: ConstantValue(0), ScalingMode: Scale},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &RasterScaling{}
			op.Params = tt.params
			op.RasterSources = []engine.RasterOperator{rasterSource(nil, newTile(t, time, raster.NewGridShape2D(2, 2), 0, 0, []uint8{1, 2, 3, 4}, nil))}

			ctx := context.Background()
			initialized, err := engine.InitializeRaster(ctx, engine.NewMockExecutionContext(engine.MockTilingSpecification()), op)
			require.NoError(t, err)
			typed, err := initialized.QueryProcessor()
			require.NoError(t, err)
			processor, err := engine.RasterProcessorAs[uint8](typed)
			require.NoError(t, err)
			stream, err := processor.RasterQuery(ctx, partitionQuery(0, 0, 2, -2, time), engine.NewMockQueryContext(1024))
			require.NoError(t, err)
			_, err = engine.Collect(ctx, stream)
			require.Error(t, err)
		})
	}
}

func TestRasterScaling_Decode(t *testing.T) {
	op, err := engine.DecodeRasterOperator([]byte(`{
		"type": "RasterScaling",
		"params": {
			"slope": {"type": "constant", "value": 2},
			"offset": {"type": "metadataKey", "key": "offset"},
			"scalingMode": "unscale"
		},
		"rasterSources": []
	}`))
	require.NoError(t, err)
	scaling, ok := op.(*RasterScaling)
	require.True(t, ok)
	assert.Equal(t, ConstantValue(2), scaling.Params.Slope)
	assert.Equal(t, MetadataKey("", "offset"), scaling.Params.Offset)

	_, err = engine.DecodeRasterOperator([]byte(`{
		"type": "RasterScaling",
		"params": {
			"slope": {"type": "constant", "value": 2},
			"offset": {"type": "metadataKey"},
			"scalingMode": "unscale"
		}
	}`))
	var specErr engine.InvalidOperatorSpecError
	require.ErrorAs(t, err, &specErr)
}
