package engine

import (
	"context"

	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/metrics"
	"go.uber.org/multierr"
)

// RasterOperator is the declarative form of an operator producing rasters.
type RasterOperator interface {
	TypeName() string
	InitializeRaster(ctx context.Context, ectx ExecutionContext) (InitializedRasterOperator, error)
}

type InitializedRasterOperator interface {
	ResultDescriptor() RasterResultDescriptor
	QueryProcessor() (TypedRasterQueryProcessor, error)
}

type VectorOperator interface {
	TypeName() string
	InitializeVector(ctx context.Context, ectx ExecutionContext) (InitializedVectorOperator, error)
}

type InitializedVectorOperator interface {
	ResultDescriptor() VectorResultDescriptor
	QueryProcessor() (TypedVectorQueryProcessor, error)
}

type PlotOperator interface {
	TypeName() string
	InitializePlot(ctx context.Context, ectx ExecutionContext) (InitializedPlotOperator, error)
}

type InitializedPlotOperator interface {
	ResultDescriptor() PlotResultDescriptor
	QueryProcessor() (PlotQueryProcessor, error)
}

// Operator is embedded by every concrete operator. It holds the parameters and the child operators.
type Operator[P any] struct {
	Params        P
	RasterSources []RasterOperator
	VectorSources []VectorOperator
}

func (o *Operator[P]) operatorParams() any {
	return &o.Params
}

func (o *Operator[P]) sources() ([]RasterOperator, []VectorOperator) {
	return o.RasterSources, o.VectorSources
}

func (o *Operator[P]) setSources(rasters []RasterOperator, vectors []VectorOperator) {
	o.RasterSources = rasters
	o.VectorSources = vectors
}

// declarative is satisfied by every type embedding Operator.
type declarative interface {
	operatorParams() any
	sources() ([]RasterOperator, []VectorOperator)
	setSources([]RasterOperator, []VectorOperator)
}

// InitializedSources are the initialized children of an operator, in declaration order.
type InitializedSources struct {
	Rasters []InitializedRasterOperator
	Vectors []InitializedVectorOperator
}

// InitializeSources initializes all children and hands them over: the operator is left without sources.
// Errors of all children are combined.
func (o *Operator[P]) InitializeSources(ctx context.Context, ectx ExecutionContext) (InitializedSources, error) {
	var (
		initialized InitializedSources
		errs        error
	)
	for _, source := range o.RasterSources {
		op, err := InitializeRaster(ctx, ectx, source)
		errs = multierr.Append(errs, err)
		initialized.Rasters = append(initialized.Rasters, op)
	}
	for _, source := range o.VectorSources {
		op, err := InitializeVector(ctx, ectx, source)
		errs = multierr.Append(errs, err)
		initialized.Vectors = append(initialized.Vectors, op)
	}
	if errs != nil {
		return InitializedSources{}, errs
	}
	o.RasterSources, o.VectorSources = nil, nil
	return initialized, nil
}

// InitializeRaster initializes op, logging and counting the initialization.
func InitializeRaster(ctx context.Context, ectx ExecutionContext, op RasterOperator) (InitializedRasterOperator, error) {
	ctx = logger.WithOperator(ctx, op.TypeName())
	initialized, err := op.InitializeRaster(ctx, ectx)
	if err != nil {
		logger.FromContext(ctx).Debug().Err(err).Msg("raster operator initialization failed")
		return nil, err
	}
	metrics.OperatorInitializations.WithLabelValues(op.TypeName()).Inc()
	logger.FromContext(ctx).Debug().
		Stringer("dataType", initialized.ResultDescriptor().DataType).
		Msg("raster operator initialized")
	return initialized, nil
}

func InitializeVector(ctx context.Context, ectx ExecutionContext, op VectorOperator) (InitializedVectorOperator, error) {
	ctx = logger.WithOperator(ctx, op.TypeName())
	initialized, err := op.InitializeVector(ctx, ectx)
	if err != nil {
		logger.FromContext(ctx).Debug().Err(err).Msg("vector operator initialization failed")
		return nil, err
	}
	metrics.OperatorInitializations.WithLabelValues(op.TypeName()).Inc()
	logger.FromContext(ctx).Debug().
		Str("dataType", string(initialized.ResultDescriptor().DataType)).
		Msg("vector operator initialized")
	return initialized, nil
}

func InitializePlot(ctx context.Context, ectx ExecutionContext, op PlotOperator) (InitializedPlotOperator, error) {
	ctx = logger.WithOperator(ctx, op.TypeName())
	initialized, err := op.InitializePlot(ctx, ectx)
	if err != nil {
		logger.FromContext(ctx).Debug().Err(err).Msg("plot operator initialization failed")
		return nil, err
	}
	metrics.OperatorInitializations.WithLabelValues(op.TypeName()).Inc()
	return initialized, nil
}

// InitializedRaster is a ready InitializedRasterOperator.
type InitializedRaster struct {
	Descriptor RasterResultDescriptor
	Processor  TypedRasterQueryProcessor
}

func (i *InitializedRaster) ResultDescriptor() RasterResultDescriptor {
	return i.Descriptor
}

func (i *InitializedRaster) QueryProcessor() (TypedRasterQueryProcessor, error) {
	return i.Processor, nil
}

type InitializedVector struct {
	Descriptor VectorResultDescriptor
	Processor  TypedVectorQueryProcessor
}

func (i *InitializedVector) ResultDescriptor() VectorResultDescriptor {
	return i.Descriptor
}

func (i *InitializedVector) QueryProcessor() (TypedVectorQueryProcessor, error) {
	return i.Processor, nil
}

type InitializedPlot struct {
	Descriptor PlotResultDescriptor
	Processor  PlotQueryProcessor
}

func (i *InitializedPlot) ResultDescriptor() PlotResultDescriptor {
	return i.Descriptor
}

func (i *InitializedPlot) QueryProcessor() (PlotQueryProcessor, error) {
	return i.Processor, nil
}
