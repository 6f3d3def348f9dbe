package adapters

import (
	"context"

	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

// RasterConversion converts the tiles of Source to another pixel type. Values are clamped to the range
// of Out and no-data stays no-data.
type RasterConversion[In, Out raster.Pixel] struct {
	Source engine.RasterQueryProcessor[In]
}

func (c *RasterConversion[In, Out]) RasterQuery(ctx context.Context, query primitives.RasterQueryRectangle, qctx engine.QueryContext) (engine.Stream[*raster.Tile2D[Out]], error) {
	src, err := c.Source.RasterQuery(ctx, query, qctx)
	if err != nil {
		return nil, err
	}
	return engine.Map(src, func(ctx context.Context, tile *raster.Tile2D[In]) (*raster.Tile2D[Out], error) {
		var out *raster.Tile2D[Out]
		err := qctx.ThreadPool().Run(ctx, func() error {
			out = raster.ConvertTile[In, Out](tile)
			return nil
		})
		return out, err
	}), nil
}

// NewRasterConversion wraps a processor of any pixel type into one producing Out.
func NewRasterConversion[Out raster.Pixel](source engine.TypedRasterQueryProcessor) (engine.RasterQueryProcessor[Out], error) {
	return engine.RasterDispatch[engine.RasterQueryProcessor[Out]]{
		U8:  convertFrom[uint8, Out],
		U16: convertFrom[uint16, Out],
		U32: convertFrom[uint32, Out],
		U64: convertFrom[uint64, Out],
		I8:  convertFrom[int8, Out],
		I16: convertFrom[int16, Out],
		I32: convertFrom[int32, Out],
		I64: convertFrom[int64, Out],
		F32: convertFrom[float32, Out],
		F64: convertFrom[float64, Out],
	}.Call(source)
}

func convertFrom[In, Out raster.Pixel](p engine.RasterQueryProcessor[In]) (engine.RasterQueryProcessor[Out], error) {
	if same, ok := p.(engine.RasterQueryProcessor[Out]); ok {
		return same, nil
	}
	return &RasterConversion[In, Out]{Source: p}, nil
}

// MapQueryProcessor rewrites vector queries before they reach Source.
type MapQueryProcessor[G collections.Geometry] struct {
	Source  engine.VectorQueryProcessor[G]
	Rewrite func(query primitives.VectorQueryRectangle) (*primitives.VectorQueryRectangle, error)
}

// VectorQuery yields nothing when Rewrite returns no query.
func (m *MapQueryProcessor[G]) VectorQuery(ctx context.Context, query primitives.VectorQueryRectangle, qctx engine.QueryContext) (engine.Stream[*collections.FeatureCollection[G]], error) {
	rewritten, err := m.Rewrite(query)
	if err != nil {
		return nil, err
	}
	if rewritten == nil {
		return engine.Empty[*collections.FeatureCollection[G]](), nil
	}
	return m.Source.VectorQuery(ctx, *rewritten, qctx)
}
