package engine

import (
	"context"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

// RasterQueryProcessor answers raster queries with a stream of tiles: time groups ascending, tiles
// row-major inside a group.
type RasterQueryProcessor[T raster.Pixel] interface {
	RasterQuery(ctx context.Context, query primitives.RasterQueryRectangle, qctx QueryContext) (Stream[*raster.Tile2D[T]], error)
}

type VectorQueryProcessor[G collections.Geometry] interface {
	VectorQuery(ctx context.Context, query primitives.VectorQueryRectangle, qctx QueryContext) (Stream[*collections.FeatureCollection[G]], error)
}

// PlotData is the single result of a plot query.
type PlotData struct {
	PlotType string `json:"plotType"`
	Data     any    `json:"data"`
}

type PlotQueryProcessor interface {
	PlotQuery(ctx context.Context, query primitives.PlotQueryRectangle, qctx QueryContext) (PlotData, error)
}

// RasterQueryProcessorFunc adapts a function to a RasterQueryProcessor.
type RasterQueryProcessorFunc[T raster.Pixel] func(ctx context.Context, query primitives.RasterQueryRectangle, qctx QueryContext) (Stream[*raster.Tile2D[T]], error)

func (f RasterQueryProcessorFunc[T]) RasterQuery(ctx context.Context, query primitives.RasterQueryRectangle, qctx QueryContext) (Stream[*raster.Tile2D[T]], error) {
	return f(ctx, query, qctx)
}

type VectorQueryProcessorFunc[G collections.Geometry] func(ctx context.Context, query primitives.VectorQueryRectangle, qctx QueryContext) (Stream[*collections.FeatureCollection[G]], error)

func (f VectorQueryProcessorFunc[G]) VectorQuery(ctx context.Context, query primitives.VectorQueryRectangle, qctx QueryContext) (Stream[*collections.FeatureCollection[G]], error) {
	return f(ctx, query, qctx)
}

// TypedRasterQueryProcessor carries a RasterQueryProcessor of any pixel type together with that type.
type TypedRasterQueryProcessor struct {
	dataType  raster.DataType
	processor any
}

func NewTypedRasterQueryProcessor[T raster.Pixel](p RasterQueryProcessor[T]) TypedRasterQueryProcessor {
	return TypedRasterQueryProcessor{dataType: raster.MustDataTypeOf[T](), processor: p}
}

func (t TypedRasterQueryProcessor) DataType() raster.DataType {
	return t.dataType
}

// RasterProcessorAs returns the processor if its pixel type is T.
func RasterProcessorAs[T raster.Pixel](t TypedRasterQueryProcessor) (RasterQueryProcessor[T], error) {
	p, ok := t.processor.(RasterQueryProcessor[T])
	if !ok {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrQueryProcessorTypeMismatch, raster.MustDataTypeOf[T](), t.dataType)
	}
	return p, nil
}

// RasterDispatch has one handler per pixel type. Call picks the handler matching the processor.
type RasterDispatch[R any] struct {
	U8  func(RasterQueryProcessor[uint8]) (R, error)
	U16 func(RasterQueryProcessor[uint16]) (R, error)
	U32 func(RasterQueryProcessor[uint32]) (R, error)
	U64 func(RasterQueryProcessor[uint64]) (R, error)
	I8  func(RasterQueryProcessor[int8]) (R, error)
	I16 func(RasterQueryProcessor[int16]) (R, error)
	I32 func(RasterQueryProcessor[int32]) (R, error)
	I64 func(RasterQueryProcessor[int64]) (R, error)
	F32 func(RasterQueryProcessor[float32]) (R, error)
	F64 func(RasterQueryProcessor[float64]) (R, error)
}

func (d RasterDispatch[R]) Call(t TypedRasterQueryProcessor) (R, error) {
	var zero R
	switch p := t.processor.(type) {
	case RasterQueryProcessor[uint8]:
		return callHandler(d.U8, p, t.dataType)
	case RasterQueryProcessor[uint16]:
		return callHandler(d.U16, p, t.dataType)
	case RasterQueryProcessor[uint32]:
		return callHandler(d.U32, p, t.dataType)
	case RasterQueryProcessor[uint64]:
		return callHandler(d.U64, p, t.dataType)
	case RasterQueryProcessor[int8]:
		return callHandler(d.I8, p, t.dataType)
	case RasterQueryProcessor[int16]:
		return callHandler(d.I16, p, t.dataType)
	case RasterQueryProcessor[int32]:
		return callHandler(d.I32, p, t.dataType)
	case RasterQueryProcessor[int64]:
		return callHandler(d.I64, p, t.dataType)
	case RasterQueryProcessor[float32]:
		return callHandler(d.F32, p, t.dataType)
	case RasterQueryProcessor[float64]:
		return callHandler(d.F64, p, t.dataType)
	}
	return zero, fmt.Errorf("%w: %T", ErrQueryProcessorTypeMismatch, t.processor)
}

func callHandler[P any, R any](handler func(P) (R, error), p P, name fmt.Stringer) (R, error) {
	if handler == nil {
		var zero R
		return zero, fmt.Errorf("%w: %s", ErrEmptyDispatch, name)
	}
	return handler(p)
}

// TypedVectorQueryProcessor carries a VectorQueryProcessor of any geometry type together with that type.
type TypedVectorQueryProcessor struct {
	dataType  collections.VectorDataType
	processor any
}

func NewTypedVectorQueryProcessor[G collections.Geometry](p VectorQueryProcessor[G]) TypedVectorQueryProcessor {
	return TypedVectorQueryProcessor{dataType: collections.VectorDataTypeOf[G](), processor: p}
}

func (t TypedVectorQueryProcessor) DataType() collections.VectorDataType {
	return t.dataType
}

func VectorProcessorAs[G collections.Geometry](t TypedVectorQueryProcessor) (VectorQueryProcessor[G], error) {
	p, ok := t.processor.(VectorQueryProcessor[G])
	if !ok {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrQueryProcessorTypeMismatch, collections.VectorDataTypeOf[G](), t.dataType)
	}
	return p, nil
}

// VectorDispatch has one handler per geometry type.
type VectorDispatch[R any] struct {
	Data            func(VectorQueryProcessor[collections.NoGeometry]) (R, error)
	MultiPoint      func(VectorQueryProcessor[geom.MultiPoint]) (R, error)
	MultiLineString func(VectorQueryProcessor[geom.MultiLineString]) (R, error)
	MultiPolygon    func(VectorQueryProcessor[geom.MultiPolygon]) (R, error)
}

func (d VectorDispatch[R]) Call(t TypedVectorQueryProcessor) (R, error) {
	var zero R
	name := vectorTypeName(t.dataType)
	switch p := t.processor.(type) {
	case VectorQueryProcessor[collections.NoGeometry]:
		return callHandler(d.Data, p, name)
	case VectorQueryProcessor[geom.MultiPoint]:
		return callHandler(d.MultiPoint, p, name)
	case VectorQueryProcessor[geom.MultiLineString]:
		return callHandler(d.MultiLineString, p, name)
	case VectorQueryProcessor[geom.MultiPolygon]:
		return callHandler(d.MultiPolygon, p, name)
	}
	return zero, fmt.Errorf("%w: %T", ErrQueryProcessorTypeMismatch, t.processor)
}

type vectorTypeName collections.VectorDataType

func (n vectorTypeName) String() string {
	return string(n)
}
