package raster

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/pdok/geoflow/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat64(t *testing.T) {
	assert.Equal(t, uint8(255), FromFloat64[uint8](300))
	assert.Equal(t, uint8(0), FromFloat64[uint8](-3))
	assert.Equal(t, uint8(7), FromFloat64[uint8](7.9))
	assert.Equal(t, int8(-7), FromFloat64[int8](-7.9))
	assert.Equal(t, uint8(0), FromFloat64[uint8](math.NaN()))
	assert.Equal(t, uint64(math.MaxUint64), FromFloat64[uint64](1e30))
	assert.Equal(t, int64(math.MaxInt64), FromFloat64[int64](1e30))
	assert.Equal(t, int64(math.MinInt64), FromFloat64[int64](-1e30))
	assert.Equal(t, 1.5, FromFloat64[float64](1.5))
}

func TestDataType(t *testing.T) {
	for _, d := range AllDataTypes() {
		t.Run(d.String(), func(t *testing.T) {
			raw, err := json.Marshal(d)
			require.NoError(t, err)
			var parsed DataType
			require.NoError(t, json.Unmarshal(raw, &parsed))
			assert.Equal(t, d, parsed)
		})
	}
	assert.Equal(t, U8, MustDataTypeOf[uint8]())
	assert.Equal(t, F32, MustDataTypeOf[float32]())
	assert.True(t, I16.IsIntegral())
	assert.False(t, F64.IsIntegral())
	_, err := DataTypeOf[int]()
	assert.Error(t, err)
}

func TestGrid2D(t *testing.T) {
	_, err := NewGrid2D(NewGridShape2D(2, 2), []uint8{1, 2, 3}, nil)
	require.ErrorIs(t, err, ErrDimensionCapacityDiff)

	g := MustNewGrid2D(NewGridShape2D(2, 3), []uint8{1, 2, 3, 4, 0, 6}, NoData[uint8](0))
	v, err := g.At(NewGridIdx2D(1, 0))
	require.NoError(t, err)
	assert.Equal(t, uint8(4), v)

	_, valid, err := g.MaskedAt(NewGridIdx2D(1, 1))
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = g.At(NewGridIdx2D(2, 0))
	assert.ErrorIs(t, err, ErrGridIndexOutOfBounds)

	empty := NewEmptyGrid2D(NewGridShape2D(2, 2), NoData[int16](-1))
	v16, valid, err := empty.MaskedAt(NewGridIdx2D(0, 0))
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, int16(-1), v16)

	require.NoError(t, empty.Set(NewGridIdx2D(0, 1), 5))
	assert.Equal(t, []int16{-1, 5, -1, -1}, empty.Data)
}

func TestGeoTransform_SpatialToGridBounds(t *testing.T) {
	gt := DefaultGeoTransform()
	tests := []struct {
		partition primitives.SpatialPartition2D
		want      GridBoundingBox2D
	}{
		{
			partition: primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(0, 0), primitives.NewCoordinate2D(2, -2)),
			want:      GridBoundingBox2D{Min: NewGridIdx2D(0, 0), Max: NewGridIdx2D(1, 1)},
		},
		{
			partition: primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(0.5, -0.5), primitives.NewCoordinate2D(2.5, -2.5)),
			want:      GridBoundingBox2D{Min: NewGridIdx2D(0, 0), Max: NewGridIdx2D(2, 2)},
		},
		{
			partition: primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(-2, 3), primitives.NewCoordinate2D(0, 1)),
			want:      GridBoundingBox2D{Min: NewGridIdx2D(-3, -2), Max: NewGridIdx2D(-2, -1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.partition.String(), func(t *testing.T) {
			got := gt.SpatialToGridBounds(tt.partition)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, gt.SpatialToGridBounds(gt.GridToSpatialBounds(got)))
		})
	}
}

func TestGeoTransform_Coordinates(t *testing.T) {
	gt, err := NewGeoTransform(primitives.NewCoordinate2D(10, 20), 2, -2)
	require.NoError(t, err)
	assert.Equal(t, NewGridIdx2D(1, 2), gt.CoordinateToGridIdx2D(primitives.NewCoordinate2D(14, 18)))
	assert.Equal(t, primitives.NewCoordinate2D(14, 18), gt.GridIdxToUpperLeftCoordinate(NewGridIdx2D(1, 2)))
	assert.Equal(t, primitives.NewCoordinate2D(15, 17), gt.GridIdxToCenterCoordinate(NewGridIdx2D(1, 2)))

	_, err = NewGeoTransform(primitives.NewCoordinate2D(0, 0), 1, 1)
	assert.ErrorIs(t, err, ErrInvalidGeoTransform)
}

func TestTilingStrategy_TileInformationIterator(t *testing.T) {
	spec := NewTilingSpecification(primitives.NewCoordinate2D(0, 0), NewGridShape2D(2, 2))
	strategy := spec.StrategyFor(primitives.OneResolution())

	tests := []struct {
		partition primitives.SpatialPartition2D
		want      []GridIdx2D
	}{
		{
			partition: primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(0, 0), primitives.NewCoordinate2D(2, -2)),
			want:      []GridIdx2D{{0, 0}},
		},
		{
			partition: primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(0, 1), primitives.NewCoordinate2D(3, 0)),
			want:      []GridIdx2D{{-1, 0}, {-1, 1}},
		},
		{
			partition: primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(-1, 1), primitives.NewCoordinate2D(1, -1)),
			want:      []GridIdx2D{{-1, -1}, {-1, 0}, {0, -1}, {0, 0}},
		},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.partition), func(t *testing.T) {
			it := strategy.TileInformations(tt.partition)
			require.Equal(t, len(tt.want), it.Len())
			infos := it.All()
			got := make([]GridIdx2D, 0, len(infos))
			for _, info := range infos {
				got = append(got, info.GlobalTilePosition)
				assert.Equal(t, NewGridShape2D(2, 2), info.TileSizeInPixels)
			}
			assert.Equal(t, tt.want, got)
			_, ok := it.Next()
			assert.False(t, ok)
		})
	}
}

func TestTileInformation(t *testing.T) {
	info := TileInformation{
		GlobalSizeInTiles:  NewGridShape2D(1, 2),
		GlobalTilePosition: NewGridIdx2D(-1, 1),
		TileSizeInPixels:   NewGridShape2D(2, 2),
		GlobalGeoTransform: DefaultGeoTransform(),
	}
	assert.Equal(t, NewGridIdx2D(-2, 2), info.GlobalPixelPosition())
	assert.Equal(t, primitives.NewCoordinate2D(2, 2), info.TileGeoTransform().OriginCoordinate)
	assert.Equal(t,
		primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(2, 2), primitives.NewCoordinate2D(4, 0)),
		info.SpatialPartition())
}

func TestProperties(t *testing.T) {
	scale, offset := 2.0, 1.0
	p := Properties{Scale: &scale, Offset: &offset}
	p.Set(PropertiesKey{Domain: "gdal", Key: "factor"}, 3.0)

	got, err := p.NumberProperty(PropertiesKey{Key: "scale"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = p.NumberProperty(PropertiesKey{Domain: "gdal", Key: "factor"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	_, err = p.NumberProperty(PropertiesKey{Key: "missing"})
	assert.Error(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var parsed Properties
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, p, parsed)
}

func TestConvertTile(t *testing.T) {
	info := TileInformation{
		GlobalSizeInTiles:  NewGridShape2D(1, 1),
		TileSizeInPixels:   NewGridShape2D(1, 3),
		GlobalGeoTransform: DefaultGeoTransform(),
	}
	tile, err := NewTile2D(primitives.NewTimeIntervalUnchecked(0, 1), info,
		MustNewGrid2D(NewGridShape2D(1, 3), []int16{-1, 300, 7}, NoData[int16](-1)))
	require.NoError(t, err)

	converted := ConvertTile[int16, uint8](tile)
	assert.Equal(t, []uint8{0, 255, 7}, converted.Grid.Data)
	assert.Equal(t, uint8(0), *converted.Grid.NoDataValue)
}
