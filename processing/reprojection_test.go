package processing

import (
	"context"
	"math"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/mock"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reprojection(target primitives.SpatialReference) *Reprojection {
	op := &Reprojection{}
	op.Params = ReprojectionParams{TargetSpatialReference: target}
	return op
}

func TestReprojection_RasterIdentity(t *testing.T) {
	shape := raster.NewGridShape2D(2, 2)
	early := primitives.NewTimeIntervalUnchecked(0, 5)
	late := primitives.NewTimeIntervalUnchecked(5, 10)
	tiles := []*raster.Tile2D[uint8]{
		newTile(t, early, shape, -1, 0, []uint8{1, 2, 3, 4}, nil),
		newTile(t, early, shape, -1, 1, []uint8{5, 6, 7, 8}, nil),
		newTile(t, late, shape, -1, 0, []uint8{9, 10, 11, 12}, nil),
		newTile(t, late, shape, -1, 1, []uint8{13, 14, 15, 16}, nil),
	}
	op := reprojection(primitives.Epsg4326())
	op.RasterSources = []engine.RasterOperator{rasterSource(nil, tiles...)}
	ectx := engine.NewMockExecutionContext(raster.NewTilingSpecification(primitives.NewCoordinate2D(0, 0), shape))

	descriptor, got := queryRaster[uint8](t, op, ectx, partitionQuery(0, 1, 3, 0, primitives.NewTimeIntervalUnchecked(0, 10)))
	assert.Equal(t, primitives.Epsg4326(), descriptor.SpatialReference)
	require.NotNil(t, descriptor.NoDataValue)
	assert.Equal(t, 0.0, *descriptor.NoDataValue)

	require.Len(t, got, len(tiles))
	for i, tile := range got {
		assert.Equal(t, tiles[i].Time, tile.Time)
		assert.Equal(t, tiles[i].TilePosition(), tile.TilePosition())
		assert.Equal(t, tiles[i].Grid.Data, tile.Grid.Data)
	}
}

func TestReprojection_Vector(t *testing.T) {
	points := collections.MustNewFeatureCollection([]geom.MultiPoint{{{0, 0}}, {{10, 20}}}, nil, map[string]collections.FeatureData{
		"id": collections.IntData([]int64{1, 2}),
	})
	op := reprojection(primitives.Epsg3857())
	op.VectorSources = []engine.VectorOperator{mock.NewMockFeatureCollectionSource(primitives.Epsg4326(), points)}

	descriptor, cs := queryPoints(t, op, bboxQuery(-2e6, -1e6, 2e6, 3e6))
	assert.Equal(t, primitives.Epsg3857(), descriptor.SpatialReference)
	idType, ok := descriptor.ColumnType("id")
	require.True(t, ok)
	assert.Equal(t, collections.Int, idType)

	require.Len(t, cs, 1)
	require.Equal(t, 2, cs[0].Len())
	origin, projected := cs[0].Geometries[0][0], cs[0].Geometries[1][0]
	assert.InDelta(t, 0, origin[0], 1e-6)
	assert.InDelta(t, 0, origin[1], 1e-6)
	assert.InEpsilon(t, 1113194.9079327357, projected[0], 1e-6)
	assert.InEpsilon(t, 2273030.926987689, projected[1], 1e-6)
	assert.Equal(t, floats(1, 2), columnValues(t, cs, "id"))
}

func TestReprojection_VectorRoundTrip(t *testing.T) {
	coordinates := []geom.MultiPoint{{{5.1, 52.1}}, {{-70.25, -33.5}}, {{150, 10}}}
	points := collections.MustNewFeatureCollection(coordinates, nil, nil)

	inner := reprojection(primitives.Epsg3857())
	inner.VectorSources = []engine.VectorOperator{mock.NewMockFeatureCollectionSource(primitives.Epsg4326(), points)}
	outer := reprojection(primitives.Epsg4326())
	outer.VectorSources = []engine.VectorOperator{inner}

	_, cs := queryPoints(t, outer, bboxQuery(-179, -80, 179, 80))
	var got []geom.MultiPoint
	for _, c := range cs {
		got = append(got, c.Geometries...)
	}
	require.Len(t, got, len(coordinates))
	for i, want := range coordinates {
		for axis := 0; axis < 2; axis++ {
			assert.InDelta(t, want[0][axis], got[i][0][axis], 1e-6*math.Max(1, math.Abs(want[0][axis])))
		}
	}
}

func TestReprojection_Initialization(t *testing.T) {
	points := collections.MustNewFeatureCollection([]geom.MultiPoint{{{0, 0}}}, nil, nil)

	tests := []struct {
		name   string
		target primitives.SpatialReference
		source primitives.SpatialReference
	}{
		{name: "unsupported target", target: primitives.NewSpatialReference(primitives.AuthorityEpsg, 28992), source: primitives.Epsg4326()},
		{name: "unreferenced target", target: primitives.SpatialReference{}, source: primitives.Epsg4326()},
		{name: "unreferenced source", target: primitives.Epsg3857(), source: primitives.SpatialReference{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := reprojection(tt.target)
			op.VectorSources = []engine.VectorOperator{mock.NewMockFeatureCollectionSource(tt.source, points)}
			_, err := engine.InitializeVector(context.Background(), engine.NewMockExecutionContext(engine.MockTilingSpecification()), op)
			require.Error(t, err)
		})
	}
}
