package processing

import (
	"context"
	"fmt"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

type ScalingMode string

const (
	// Scale computes (p - offset) / slope.
	Scale ScalingMode = "scale"
	// Unscale computes p * slope + offset.
	Unscale ScalingMode = "unscale"
)

const (
	metadataKey = "metadataKey"
	constant    = "constant"
)

// PropertiesKeyOrValue is either a fixed number or the key of a numeric tile property.
type PropertiesKeyOrValue struct {
	Type   string  `json:"type" validate:"oneof=metadataKey constant"`
	Domain string  `json:"domain,omitempty"`
	Key    string  `json:"key,omitempty" validate:"required_if=Type metadataKey"`
	Value  float64 `json:"value,omitempty"`
}

func ConstantValue(v float64) PropertiesKeyOrValue {
	return PropertiesKeyOrValue{Type: constant, Value: v}
}

func MetadataKey(domain, key string) PropertiesKeyOrValue {
	return PropertiesKeyOrValue{Type: metadataKey, Domain: domain, Key: key}
}

func (k PropertiesKeyOrValue) resolve(props raster.Properties) (float64, error) {
	if k.Type == constant {
		return k.Value, nil
	}
	return props.NumberProperty(raster.PropertiesKey{Domain: k.Domain, Key: k.Key})
}

type RasterScalingParams struct {
	Slope             PropertiesKeyOrValue    `json:"slope"`
	Offset            PropertiesKeyOrValue    `json:"offset"`
	OutputMeasurement *primitives.Measurement `json:"outputMeasurement,omitempty"`
	ScalingMode       ScalingMode             `json:"scalingMode" validate:"oneof=scale unscale"`
}

// RasterScaling applies a linear transformation to every valid pixel of its single raster source.
// Slope and offset are constants or are read from the properties of each tile. The pixel type stays
// the same; results are clamped to its range.
type RasterScaling struct {
	engine.Operator[RasterScalingParams]
}

func init() {
	engine.RegisterRasterOperator("RasterScaling", func() engine.RasterOperator { return &RasterScaling{} })
}

func (o *RasterScaling) TypeName() string {
	return "RasterScaling"
}

func (o *RasterScaling) InitializeRaster(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	if err := engine.CheckRasterSources(len(o.RasterSources), 1, 1); err != nil {
		return nil, err
	}
	if err := engine.CheckVectorSources(len(o.VectorSources), 0, 0); err != nil {
		return nil, err
	}
	sources, err := o.InitializeSources(ctx, ectx)
	if err != nil {
		return nil, err
	}
	source := sources.Rasters[0]
	descriptor := source.ResultDescriptor()
	if o.Params.OutputMeasurement != nil {
		descriptor.Measurement = *o.Params.OutputMeasurement
	}
	typed, err := source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	processor, err := engine.RasterDispatch[engine.TypedRasterQueryProcessor]{
		U8:  scalingFor[uint8](o.Params),
		U16: scalingFor[uint16](o.Params),
		U32: scalingFor[uint32](o.Params),
		U64: scalingFor[uint64](o.Params),
		I8:  scalingFor[int8](o.Params),
		I16: scalingFor[int16](o.Params),
		I32: scalingFor[int32](o.Params),
		I64: scalingFor[int64](o.Params),
		F32: scalingFor[float32](o.Params),
		F64: scalingFor[float64](o.Params),
	}.Call(typed)
	if err != nil {
		return nil, err
	}
	return &engine.InitializedRaster{Descriptor: descriptor, Processor: processor}, nil
}

func scalingFor[T raster.Pixel](params RasterScalingParams) func(engine.RasterQueryProcessor[T]) (engine.TypedRasterQueryProcessor, error) {
	return func(source engine.RasterQueryProcessor[T]) (engine.TypedRasterQueryProcessor, error) {
		return engine.NewTypedRasterQueryProcessor[T](&rasterScalingProcessor[T]{
			source: source,
			slope:  params.Slope,
			offset: params.Offset,
			mode:   params.ScalingMode,
		}), nil
	}
}

type rasterScalingProcessor[T raster.Pixel] struct {
	source engine.RasterQueryProcessor[T]
	slope  PropertiesKeyOrValue
	offset PropertiesKeyOrValue
	mode   ScalingMode
}

func (p *rasterScalingProcessor[T]) RasterQuery(ctx context.Context, query primitives.RasterQueryRectangle, qctx engine.QueryContext) (engine.Stream[*raster.Tile2D[T]], error) {
	src, err := p.source.RasterQuery(ctx, query, qctx)
	if err != nil {
		return nil, err
	}
	return engine.Map(src, func(ctx context.Context, tile *raster.Tile2D[T]) (*raster.Tile2D[T], error) {
		if tile.IsEmpty() {
			return tile, nil
		}
		slope, err := p.slope.resolve(tile.Properties)
		if err != nil {
			return nil, fmt.Errorf("slope of tile %v: %w", tile.TilePosition(), err)
		}
		offset, err := p.offset.resolve(tile.Properties)
		if err != nil {
			return nil, fmt.Errorf("offset of tile %v: %w", tile.TilePosition(), err)
		}
		transform := func(v float64) float64 { return v*slope + offset }
		if p.mode == Scale {
			if slope == 0 {
				return nil, fmt.Errorf("scaling tile %v: slope is zero", tile.TilePosition())
			}
			transform = func(v float64) float64 { return (v - offset) / slope }
		}
		err = qctx.ThreadPool().Run(ctx, func() error {
			scaleGrid(&tile.Grid, transform)
			return nil
		})
		return tile, err
	}), nil
}

// scaleGrid transforms the valid pixels in place.
func scaleGrid[T raster.Pixel](grid *raster.Grid2D[T], transform func(float64) float64) {
	for i, v := range grid.Data {
		if grid.IsNoData(v) {
			continue
		}
		grid.Data[i] = raster.FromFloat64[T](transform(raster.AsFloat64(v)))
	}
}
