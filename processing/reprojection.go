package processing

import (
	"context"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/adapters"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/projection"
	"github.com/pdok/geoflow/raster"
)

type ReprojectionParams struct {
	TargetSpatialReference primitives.SpatialReference `json:"targetSpatialReference"`
}

// Reprojection moves a raster or a vector source into another spatial reference. Vector geometries are
// projected coordinate by coordinate. Raster tiles are resampled with nearest neighbour on the output
// tiling grid.
type Reprojection struct {
	engine.Operator[ReprojectionParams]
}

func init() {
	engine.RegisterRasterOperator("Reprojection", func() engine.RasterOperator { return &Reprojection{} })
	engine.RegisterVectorOperator("Reprojection", func() engine.VectorOperator { return &Reprojection{} })
}

func (o *Reprojection) TypeName() string {
	return "Reprojection"
}

func (o *Reprojection) targetReference() (primitives.SpatialReference, error) {
	target := o.Params.TargetSpatialReference
	if target.IsUnreferenced() || !projection.IsSupported(target) {
		return primitives.SpatialReference{}, engine.InvalidOperatorSpecError{
			Reason: fmt.Sprintf(`cannot reproject to "%s"`, target),
		}
	}
	return target, nil
}

func (o *Reprojection) InitializeVector(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	if err := engine.CheckVectorSources(len(o.VectorSources), 1, 1); err != nil {
		return nil, err
	}
	if err := engine.CheckRasterSources(len(o.RasterSources), 0, 0); err != nil {
		return nil, err
	}
	target, err := o.targetReference()
	if err != nil {
		return nil, err
	}
	sources, err := o.InitializeSources(ctx, ectx)
	if err != nil {
		return nil, err
	}
	source := sources.Vectors[0]
	descriptor := source.ResultDescriptor()
	from := descriptor.SpatialReference
	toSource, err := projection.NewCoordinateProjector(target, from)
	if err != nil {
		return nil, err
	}
	toTarget, err := projection.NewCoordinateProjector(from, target)
	if err != nil {
		return nil, err
	}
	typed, err := source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	rewrite := sourceQuery(toSource)
	processor, err := engine.VectorDispatch[engine.TypedVectorQueryProcessor]{
		Data: func(p engine.VectorQueryProcessor[collections.NoGeometry]) (engine.TypedVectorQueryProcessor, error) {
			return engine.NewTypedVectorQueryProcessor[collections.NoGeometry](&adapters.MapQueryProcessor[collections.NoGeometry]{
				Source:  p,
				Rewrite: rewrite,
			}), nil
		},
		MultiPoint:      reprojectVector[geom.MultiPoint](rewrite, toTarget),
		MultiLineString: reprojectVector[geom.MultiLineString](rewrite, toTarget),
		MultiPolygon:    reprojectVector[geom.MultiPolygon](rewrite, toTarget),
	}.Call(typed)
	if err != nil {
		return nil, err
	}
	descriptor.SpatialReference = target
	return &engine.InitializedVector{Descriptor: descriptor, Processor: processor}, nil
}

// sourceQuery translates a query in the target reference into one in the source reference.
func sourceQuery(toSource *projection.CoordinateProjector) func(primitives.VectorQueryRectangle) (*primitives.VectorQueryRectangle, error) {
	return func(query primitives.VectorQueryRectangle) (*primitives.VectorQueryRectangle, error) {
		bounds, err := toSource.ProjectBoundingBox(query.SpatialBounds)
		if err != nil {
			return nil, err
		}
		resolution, err := toSource.SuggestResolution(query.SpatialBounds, query.SpatialResolution)
		if err != nil {
			return nil, err
		}
		return &primitives.VectorQueryRectangle{
			SpatialBounds:     bounds,
			TimeInterval:      query.TimeInterval,
			SpatialResolution: resolution,
		}, nil
	}
}

func reprojectVector[G collections.Geometry](
	rewrite func(primitives.VectorQueryRectangle) (*primitives.VectorQueryRectangle, error),
	toTarget *projection.CoordinateProjector,
) func(engine.VectorQueryProcessor[G]) (engine.TypedVectorQueryProcessor, error) {
	return func(source engine.VectorQueryProcessor[G]) (engine.TypedVectorQueryProcessor, error) {
		return engine.NewTypedVectorQueryProcessor[G](&vectorReprojectionProcessor[G]{
			source:   &adapters.MapQueryProcessor[G]{Source: source, Rewrite: rewrite},
			toTarget: toTarget,
		}), nil
	}
}

type vectorReprojectionProcessor[G collections.Geometry] struct {
	source   engine.VectorQueryProcessor[G]
	toTarget *projection.CoordinateProjector
}

func (p *vectorReprojectionProcessor[G]) VectorQuery(ctx context.Context, query primitives.VectorQueryRectangle, qctx engine.QueryContext) (engine.Stream[*collections.FeatureCollection[G]], error) {
	src, err := p.source.VectorQuery(ctx, query, qctx)
	if err != nil {
		return nil, err
	}
	return engine.Map(src, func(_ context.Context, c *collections.FeatureCollection[G]) (*collections.FeatureCollection[G], error) {
		return projection.ProjectCollection(p.toTarget, c)
	}), nil
}

func (o *Reprojection) InitializeRaster(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	if err := engine.CheckRasterSources(len(o.RasterSources), 1, 1); err != nil {
		return nil, err
	}
	if err := engine.CheckVectorSources(len(o.VectorSources), 0, 0); err != nil {
		return nil, err
	}
	target, err := o.targetReference()
	if err != nil {
		return nil, err
	}
	sources, err := o.InitializeSources(ctx, ectx)
	if err != nil {
		return nil, err
	}
	source := sources.Rasters[0]
	descriptor := source.ResultDescriptor()
	from := descriptor.SpatialReference
	if _, err = projection.NewCoordinateProjector(target, from); err != nil {
		return nil, err
	}
	noData := 0.0
	if descriptor.NoDataValue != nil {
		noData = *descriptor.NoDataValue
	}
	typed, err := source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	r := rasterReprojection{from: from, to: target, tiling: ectx.TilingSpecification(), noData: noData}
	processor, err := engine.RasterDispatch[engine.TypedRasterQueryProcessor]{
		U8:  reprojectRaster[uint8](r),
		U16: reprojectRaster[uint16](r),
		U32: reprojectRaster[uint32](r),
		U64: reprojectRaster[uint64](r),
		I8:  reprojectRaster[int8](r),
		I16: reprojectRaster[int16](r),
		I32: reprojectRaster[int32](r),
		I64: reprojectRaster[int64](r),
		F32: reprojectRaster[float32](r),
		F64: reprojectRaster[float64](r),
	}.Call(typed)
	if err != nil {
		return nil, err
	}

	descriptor.SpatialReference = target
	descriptor.NoDataValue = &noData
	// extents of the source do not carry over to the target reference
	descriptor.Bbox = nil
	descriptor.Resolution = nil
	return &engine.InitializedRaster{Descriptor: descriptor, Processor: processor}, nil
}

type rasterReprojection struct {
	from, to primitives.SpatialReference
	tiling   raster.TilingSpecification
	noData   float64
}

func reprojectRaster[T raster.Pixel](r rasterReprojection) func(engine.RasterQueryProcessor[T]) (engine.TypedRasterQueryProcessor, error) {
	return func(source engine.RasterQueryProcessor[T]) (engine.TypedRasterQueryProcessor, error) {
		return engine.NewTypedRasterQueryProcessor[T](&rasterReprojectionProcessor[T]{
			source:       source,
			reprojection: r,
			fill:         raster.FromFloat64[T](r.noData),
		}), nil
	}
}

type rasterReprojectionProcessor[T raster.Pixel] struct {
	source       engine.RasterQueryProcessor[T]
	reprojection rasterReprojection
	fill         T
}

// RasterQuery derives the source resolution from the whole query, then assembles every output tile from
// one sub-query.
func (p *rasterReprojectionProcessor[T]) RasterQuery(ctx context.Context, query primitives.RasterQueryRectangle, qctx engine.QueryContext) (engine.Stream[*raster.Tile2D[T]], error) {
	toSource, err := projection.NewCoordinateProjector(p.reprojection.to, p.reprojection.from)
	if err != nil {
		return nil, err
	}
	inResolution, err := toSource.SuggestResolution(query.SpatialBounds.AsBoundingBox(), query.SpatialResolution)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug().
		Stringer("from", p.reprojection.from).
		Stringer("to", p.reprojection.to).
		Float64("sourceResolution", inResolution.X).
		Msg("reprojecting raster")

	fill := p.fill
	adapter := &adapters.RasterSubQueryAdapter[T, *adapters.ReprojectionAccu[T]]{
		Source: p.source,
		Tiling: p.reprojection.tiling,
		SubQuery: adapters.TileReprojectionSubQuery[T]{
			InSRS:        p.reprojection.from,
			OutSRS:       p.reprojection.to,
			FillValue:    fill,
			InResolution: inResolution,
		},
		NoDataValue: &fill,
	}
	return adapter.RasterQuery(ctx, query, qctx)
}
