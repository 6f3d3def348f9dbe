package processing

import (
	"context"
	"fmt"
	"math"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/adapters"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/mapslicehelp"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

const maxJoinRasters = 8

type AggregationMethod string

const (
	First AggregationMethod = "first"
	Mean  AggregationMethod = "mean"
)

type RasterVectorJoinParams struct {
	// Names holds the output column of every raster source, in source order.
	Names               []string          `json:"names" validate:"min=1,max=8,dive,required"`
	FeatureAggregation  AggregationMethod `json:"featureAggregation" default:"first" validate:"oneof=first mean"`
	TemporalAggregation AggregationMethod `json:"temporalAggregation" default:"first" validate:"oneof=first mean"`
}

// RasterVectorJoin samples its raster sources at the points of its vector source and adds one column
// per raster. The values of all points of a feature are aggregated first, then the values of all time
// slices the feature's time overlaps.
type RasterVectorJoin struct {
	engine.Operator[RasterVectorJoinParams]
}

func init() {
	engine.RegisterVectorOperator("RasterVectorJoin", func() engine.VectorOperator { return &RasterVectorJoin{} })
}

func (o *RasterVectorJoin) TypeName() string {
	return "RasterVectorJoin"
}

func (o *RasterVectorJoin) InitializeVector(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	if err := engine.CheckVectorSources(len(o.VectorSources), 1, 1); err != nil {
		return nil, err
	}
	if err := engine.CheckRasterSources(len(o.RasterSources), 1, maxJoinRasters); err != nil {
		return nil, err
	}
	if len(o.RasterSources) != len(o.Params.Names) {
		return nil, engine.InvalidOperatorSpecError{
			Reason: fmt.Sprintf("%d raster sources need %d names, got %d", len(o.RasterSources), len(o.RasterSources), len(o.Params.Names)),
		}
	}
	if mapslicehelp.HasDuplicates(o.Params.Names) {
		return nil, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf("duplicate column names %v", o.Params.Names)}
	}
	params := o.Params
	sources, err := o.InitializeSources(ctx, ectx)
	if err != nil {
		return nil, err
	}

	vector := sources.Vectors[0]
	descriptor := vector.ResultDescriptor()
	if descriptor.DataType != collections.MultiPoint {
		return nil, engine.InvalidTypeError{Expected: string(collections.MultiPoint), Found: string(descriptor.DataType)}
	}
	rasters := make([]engine.TypedRasterQueryProcessor, 0, len(sources.Rasters))
	for i, source := range sources.Rasters {
		name := params.Names[i]
		if _, exists := descriptor.ColumnType(name); exists {
			return nil, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf(`column "%s" already exists`, name)}
		}
		descriptor = descriptor.WithColumn(name, joinColumnType(params, source.ResultDescriptor().DataType))
		processor, err := source.QueryProcessor()
		if err != nil {
			return nil, err
		}
		rasters = append(rasters, processor)
	}

	typed, err := vector.QueryProcessor()
	if err != nil {
		return nil, err
	}
	points, err := engine.VectorProcessorAs[geom.MultiPoint](typed)
	if err != nil {
		return nil, err
	}
	return &engine.InitializedVector{
		Descriptor: descriptor,
		Processor: engine.NewTypedVectorQueryProcessor[geom.MultiPoint](&rasterVectorJoinProcessor{
			points:  points,
			rasters: rasters,
			params:  params,
		}),
	}, nil
}

// joinColumnType is Int only when first values of an integral raster are copied unchanged.
func joinColumnType(params RasterVectorJoinParams, dataType raster.DataType) collections.FeatureDataType {
	if params.FeatureAggregation == First && params.TemporalAggregation == First && dataType.IsIntegral() {
		return collections.Int
	}
	return collections.Float
}

type rasterVectorJoinProcessor struct {
	points  engine.VectorQueryProcessor[geom.MultiPoint]
	rasters []engine.TypedRasterQueryProcessor
	params  RasterVectorJoinParams
}

func (p *rasterVectorJoinProcessor) VectorQuery(ctx context.Context, query primitives.VectorQueryRectangle, qctx engine.QueryContext) (engine.Stream[*collections.MultiPointCollection], error) {
	src, err := p.points.VectorQuery(ctx, query, qctx)
	if err != nil {
		return nil, err
	}
	return engine.Map(src, func(ctx context.Context, points *collections.MultiPointCollection) (*collections.MultiPointCollection, error) {
		for i, typed := range p.rasters {
			j := &pointJoin{points: points, query: query, qctx: qctx, params: p.params}
			data, err := engine.RasterDispatch[collections.FeatureData]{
				U8:  extractWith[uint8](ctx, j),
				U16: extractWith[uint16](ctx, j),
				U32: extractWith[uint32](ctx, j),
				U64: extractWith[uint64](ctx, j),
				I8:  extractWith[int8](ctx, j),
				I16: extractWith[int16](ctx, j),
				I32: extractWith[int32](ctx, j),
				I64: extractWith[int64](ctx, j),
				F32: extractWith[float32](ctx, j),
				F64: extractWith[float64](ctx, j),
			}.Call(typed)
			if err != nil {
				return nil, err
			}
			if points, err = points.AddColumn(p.params.Names[i], data); err != nil {
				return nil, err
			}
		}
		return points, nil
	}), nil
}

// pointJoin extracts the values of one raster for one collection.
type pointJoin struct {
	points *collections.MultiPointCollection
	query  primitives.VectorQueryRectangle
	qctx   engine.QueryContext
	params RasterVectorJoinParams
}

func extractWith[T raster.Pixel](ctx context.Context, j *pointJoin) func(engine.RasterQueryProcessor[T]) (collections.FeatureData, error) {
	return func(source engine.RasterQueryProcessor[T]) (collections.FeatureData, error) {
		return extractRasterValues(ctx, j, source)
	}
}

func extractRasterValues[T raster.Pixel](ctx context.Context, j *pointJoin, source engine.RasterQueryProcessor[T]) (collections.FeatureData, error) {
	sorted, perm, err := j.points.SortByTimeAsc()
	if err != nil {
		return collections.FeatureData{}, err
	}
	n := sorted.Len()
	temporal := newAggregator(j.params.TemporalAggregation, n)
	spans := featureTimeSpans(sorted.Times)
	logger.FromContext(ctx).Debug().Int("features", n).Int("timeSpans", len(spans)).Msg("joining raster values")

	for _, span := range spans {
		if temporal.satisfied() {
			break
		}
		query, err := primitives.RasterQueryFromVector(j.query.WithTimeInterval(span.time))
		if err != nil {
			return collections.FeatureData{}, err
		}
		tiles, err := source.RasterQuery(ctx, query, j.qctx)
		if err != nil {
			return collections.FeatureData{}, err
		}
		if err = joinSpan(ctx, tiles, sorted, span, temporal, j.params.FeatureAggregation); err != nil {
			return collections.FeatureData{}, err
		}
	}

	values := make([]*float64, n)
	for i, v := range temporal.result() {
		values[perm[i]] = v
	}
	if joinColumnType(j.params, raster.MustDataTypeOf[T]()) == collections.Int {
		ints := make([]*int64, n)
		for i, v := range values {
			if v != nil {
				iv := clampToInt64(*v)
				ints[i] = &iv
			}
		}
		return collections.NullableIntData(ints), nil
	}
	return collections.NullableFloatData(values), nil
}

// joinSpan folds the tiles of one sub-query into temporal. Every time slice of the tiles gets a fresh
// feature aggregator. Slices are only pulled until temporal is satisfied.
func joinSpan[T raster.Pixel](
	ctx context.Context,
	tiles engine.Stream[*raster.Tile2D[T]],
	points *collections.MultiPointCollection,
	span featureTimeSpan,
	temporal aggregator,
	method AggregationMethod,
) error {
	slices := adapters.TimeMultiFold(tiles,
		func() aggregator { return newAggregator(method, points.Len()) },
		func(_ context.Context, feature aggregator, tile *raster.Tile2D[T]) (aggregator, error) {
			geoTransform := tile.TileGeoTransform()
			for i := span.start; i <= span.end; i++ {
				for _, c := range points.Geometries[i] {
					v, valid, err := tile.Grid.MaskedAt(geoTransform.CoordinateToGridIdx2D(primitives.NewCoordinate2D(c[0], c[1])))
					if err != nil || !valid {
						// outside of this tile, or no-data
						continue
					}
					feature.add(i, raster.AsFloat64(v))
				}
			}
			return feature, nil
		})
	for !temporal.satisfied() {
		feature, err := slices.Next(ctx)
		if engine.IsEOF(err) {
			return nil
		}
		if err != nil {
			return err
		}
		temporal.addAll(feature.result())
	}
	return nil
}

// clampToInt64 converts v, saturating at the bounds of int64.
func clampToInt64(v float64) int64 {
	switch {
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// featureTimeSpan is a run of features, start to end inclusive, that share one time interval.
type featureTimeSpan struct {
	time       primitives.TimeInterval
	start, end int
}

// featureTimeSpans groups time sorted features.
func featureTimeSpans(times []primitives.TimeInterval) []featureTimeSpan {
	var spans []featureTimeSpan
	for i, t := range times {
		if len(spans) > 0 && spans[len(spans)-1].time == t {
			spans[len(spans)-1].end = i
			continue
		}
		spans = append(spans, featureTimeSpan{time: t, start: i, end: i})
	}
	return spans
}

// aggregator combines values per feature. Features without values are null.
type aggregator interface {
	add(i int, v float64)
	addAll(values []*float64)
	satisfied() bool
	result() []*float64
}

func newAggregator(method AggregationMethod, n int) aggregator {
	if method == Mean {
		return &meanAggregator{sums: make([]float64, n), counts: make([]int, n)}
	}
	return &firstAggregator{values: make([]*float64, n), missing: n}
}

// firstAggregator keeps the first value of every feature. It is satisfied when every feature has one.
type firstAggregator struct {
	values  []*float64
	missing int
}

func (a *firstAggregator) add(i int, v float64) {
	if a.values[i] != nil {
		return
	}
	a.values[i] = &v
	a.missing--
}

func (a *firstAggregator) addAll(values []*float64) {
	for i, v := range values {
		if v != nil {
			a.add(i, *v)
		}
	}
}

func (a *firstAggregator) satisfied() bool {
	return a.missing == 0
}

func (a *firstAggregator) result() []*float64 {
	return a.values
}

type meanAggregator struct {
	sums   []float64
	counts []int
}

func (a *meanAggregator) add(i int, v float64) {
	a.sums[i] += v
	a.counts[i]++
}

func (a *meanAggregator) addAll(values []*float64) {
	for i, v := range values {
		if v != nil {
			a.add(i, *v)
		}
	}
}

func (a *meanAggregator) satisfied() bool {
	return false
}

func (a *meanAggregator) result() []*float64 {
	out := make([]*float64, len(a.sums))
	for i, count := range a.counts {
		if count > 0 {
			mean := a.sums[i] / float64(count)
			out[i] = &mean
		}
	}
	return out
}
