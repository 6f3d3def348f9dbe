package processing

import (
	"testing"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRasterTypeConversion(t *testing.T) {
	time := primitives.NewTimeIntervalUnchecked(0, 10)
	noData := -9999.0
	source := rasterSource(&noData, newTile(t, time, raster.NewGridShape2D(2, 2), 0, 0, []float64{-1, 1.5, 300, noData}, &noData))

	op, err := engine.DecodeRasterOperator([]byte(`{"type": "RasterTypeConversion", "params": {"outputDataType": "U8"}}`))
	require.NoError(t, err)
	conversion, ok := op.(*RasterTypeConversion)
	require.True(t, ok)
	conversion.RasterSources = []engine.RasterOperator{source}

	descriptor, tiles := queryRaster[uint8](t, conversion, engine.NewMockExecutionContext(engine.MockTilingSpecification()), partitionQuery(0, 0, 2, -2, time))
	assert.Equal(t, raster.U8, descriptor.DataType)
	require.NotNil(t, descriptor.NoDataValue)
	assert.Equal(t, 0.0, *descriptor.NoDataValue)
	require.Len(t, tiles, 1)
	assert.Equal(t, []uint8{0, 1, 255, 0}, tiles[0].Grid.Data)
}
