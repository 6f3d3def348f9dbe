package processing

import (
	"context"

	"github.com/pdok/geoflow/adapters"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/raster"
)

type RasterTypeConversionParams struct {
	OutputDataType raster.DataType `json:"outputDataType" validate:"required"`
}

// RasterTypeConversion changes the pixel type of its raster source. Values outside of the range of the
// output type are clamped.
type RasterTypeConversion struct {
	engine.Operator[RasterTypeConversionParams]
}

func init() {
	engine.RegisterRasterOperator("RasterTypeConversion", func() engine.RasterOperator { return &RasterTypeConversion{} })
}

func (o *RasterTypeConversion) TypeName() string {
	return "RasterTypeConversion"
}

func (o *RasterTypeConversion) InitializeRaster(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
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
	typed, err := source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	var processor engine.TypedRasterQueryProcessor
	switch o.Params.OutputDataType {
	case raster.U8:
		processor, err = convertTo[uint8](typed, &descriptor)
	case raster.U16:
		processor, err = convertTo[uint16](typed, &descriptor)
	case raster.U32:
		processor, err = convertTo[uint32](typed, &descriptor)
	case raster.U64:
		processor, err = convertTo[uint64](typed, &descriptor)
	case raster.I8:
		processor, err = convertTo[int8](typed, &descriptor)
	case raster.I16:
		processor, err = convertTo[int16](typed, &descriptor)
	case raster.I32:
		processor, err = convertTo[int32](typed, &descriptor)
	case raster.I64:
		processor, err = convertTo[int64](typed, &descriptor)
	case raster.F32:
		processor, err = convertTo[float32](typed, &descriptor)
	case raster.F64:
		processor, err = convertTo[float64](typed, &descriptor)
	default:
		return nil, engine.InvalidOperatorSpecError{Reason: "unknown output data type " + o.Params.OutputDataType.String()}
	}
	if err != nil {
		return nil, err
	}
	return &engine.InitializedRaster{Descriptor: descriptor, Processor: processor}, nil
}

// convertTo also moves the descriptor to T.
func convertTo[T raster.Pixel](source engine.TypedRasterQueryProcessor, descriptor *engine.RasterResultDescriptor) (engine.TypedRasterQueryProcessor, error) {
	converted, err := adapters.NewRasterConversion[T](source)
	if err != nil {
		return engine.TypedRasterQueryProcessor{}, err
	}
	descriptor.DataType = raster.MustDataTypeOf[T]()
	if descriptor.NoDataValue != nil {
		noData := raster.AsFloat64(raster.FromFloat64[T](*descriptor.NoDataValue))
		descriptor.NoDataValue = &noData
	}
	return engine.NewTypedRasterQueryProcessor[T](converted), nil
}
