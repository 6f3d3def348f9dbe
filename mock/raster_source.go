// Package mock contains in-memory source operators for tests and for the dataset catalog of the CLI.
package mock

import (
	"context"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

type MockRasterSourceParams[T raster.Pixel] struct {
	Data             []*raster.Tile2D[T]           `json:"data"`
	ResultDescriptor engine.RasterResultDescriptor `json:"resultDescriptor"`
}

// MockRasterSource serves a fixed list of tiles. A query yields the tiles that intersect it in space and
// time, in list order.
type MockRasterSource[T raster.Pixel] struct {
	engine.Operator[MockRasterSourceParams[T]]
}

func NewMockRasterSource[T raster.Pixel](tiles []*raster.Tile2D[T], descriptor engine.RasterResultDescriptor) *MockRasterSource[T] {
	s := &MockRasterSource[T]{}
	s.Params = MockRasterSourceParams[T]{Data: tiles, ResultDescriptor: descriptor}
	return s
}

func (s *MockRasterSource[T]) TypeName() string {
	return "MockRasterSource"
}

func (s *MockRasterSource[T]) InitializeRaster(context.Context, engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	if err := engine.CheckRasterSources(len(s.RasterSources), 0, 0); err != nil {
		return nil, err
	}
	descriptor := s.Params.ResultDescriptor
	descriptor.DataType = raster.MustDataTypeOf[T]()
	return &engine.InitializedRaster{
		Descriptor: descriptor,
		Processor:  engine.NewTypedRasterQueryProcessor[T](&MockRasterSourceProcessor[T]{Tiles: s.Params.Data}),
	}, nil
}

type MockRasterSourceProcessor[T raster.Pixel] struct {
	Tiles []*raster.Tile2D[T]
}

func (p *MockRasterSourceProcessor[T]) RasterQuery(_ context.Context, query primitives.RasterQueryRectangle, _ engine.QueryContext) (engine.Stream[*raster.Tile2D[T]], error) {
	var matching []*raster.Tile2D[T]
	for _, tile := range p.Tiles {
		if tile.Time.Intersects(query.TimeInterval) && tile.SpatialPartition().Intersects(query.SpatialBounds) {
			matching = append(matching, tile.Clone())
		}
	}
	return engine.FromSlice(matching), nil
}
