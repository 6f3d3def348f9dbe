// Package plot contains operators that reduce a raster or vector stream to a single plot.
package plot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

const HistogramPlotType = "Histogram"

var ErrNoBuckets = errors.New("histogram needs at least one bucket")

// HistogramBounds are either fixed or, when Min and Max are nil, taken from the data.
// The JSON form is "data" or {"min": .., "max": ..}.
type HistogramBounds struct {
	Min *float64
	Max *float64
}

func DataBounds() HistogramBounds {
	return HistogramBounds{}
}

func ValueBounds(lo, hi float64) HistogramBounds {
	return HistogramBounds{Min: &lo, Max: &hi}
}

func (b HistogramBounds) MarshalJSON() ([]byte, error) {
	if b.Min == nil || b.Max == nil {
		return json.Marshal("data")
	}
	return json.Marshal(struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	}{*b.Min, *b.Max})
}

func (b *HistogramBounds) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "data" {
			return fmt.Errorf(`histogram bounds must be "data" or {"min", "max"}, got "%s"`, s)
		}
		*b = DataBounds()
		return nil
	}
	var values struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if values.Min == nil || values.Max == nil {
		return errors.New("histogram bounds need both min and max")
	}
	*b = HistogramBounds{Min: values.Min, Max: values.Max}
	return nil
}

type HistogramParams struct {
	// ColumnName is the numeric column to count. Only used with a vector source.
	ColumnName string          `json:"columnName,omitempty"`
	Bounds     HistogramBounds `json:"bounds"`
	Buckets    *int            `json:"buckets,omitempty" validate:"omitempty,min=1"`
}

// Histogram counts the valid values of a raster or of a numeric vector column in equal width buckets.
// Unknown bounds or bucket counts are taken from a first pass over the data, the counts from a second.
type Histogram struct {
	engine.Operator[HistogramParams]
}

func init() {
	engine.RegisterPlotOperator(HistogramPlotType, func() engine.PlotOperator { return &Histogram{} })
}

func (o *Histogram) TypeName() string {
	return HistogramPlotType
}

func (o *Histogram) InitializePlot(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedPlotOperator, error) {
	if n := len(o.RasterSources) + len(o.VectorSources); n != 1 {
		return nil, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf("histogram needs exactly one source, got %d", n)}
	}
	params := o.Params
	if b := params.Bounds; b.Min != nil && b.Max != nil && *b.Min > *b.Max {
		return nil, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf("histogram min %v is larger than max %v", *b.Min, *b.Max)}
	}
	options := metadataOptions{buckets: params.Buckets, min: params.Bounds.Min, max: params.Bounds.Max}
	sources, err := o.InitializeSources(ctx, ectx)
	if err != nil {
		return nil, err
	}

	if len(sources.Rasters) == 1 {
		source := sources.Rasters[0]
		typed, err := source.QueryProcessor()
		if err != nil {
			return nil, err
		}
		descriptor := source.ResultDescriptor()
		return &engine.InitializedPlot{
			Descriptor: engine.PlotResultDescriptor{SpatialReference: descriptor.SpatialReference},
			Processor: &histogramProcessor{
				values:      rasterValues(typed),
				options:     options,
				measurement: descriptor.Measurement,
			},
		}, nil
	}

	source := sources.Vectors[0]
	descriptor := source.ResultDescriptor()
	if params.ColumnName == "" {
		return nil, engine.InvalidOperatorSpecError{Reason: "histogram on vector input is missing columnName"}
	}
	columnType, ok := descriptor.ColumnType(params.ColumnName)
	if !ok {
		return nil, engine.ColumnDoesNotExistError{Column: params.ColumnName}
	}
	if !columnType.IsNumeric() {
		return nil, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf(`column "%s" must be numeric`, params.ColumnName)}
	}
	typed, err := source.QueryProcessor()
	if err != nil {
		return nil, err
	}
	return &engine.InitializedPlot{
		Descriptor: engine.PlotResultDescriptor{SpatialReference: descriptor.SpatialReference},
		Processor: &histogramProcessor{
			values:      vectorValues(typed, params.ColumnName),
			options:     options,
			measurement: primitives.UnitlessMeasurement(),
		},
	}, nil
}

// valueSource streams the valid values of one query to fn.
type valueSource func(ctx context.Context, query primitives.PlotQueryRectangle, qctx engine.QueryContext, fn func(float64)) error

func rasterValues(typed engine.TypedRasterQueryProcessor) valueSource {
	return func(ctx context.Context, query primitives.PlotQueryRectangle, qctx engine.QueryContext, fn func(float64)) error {
		rasterQuery, err := primitives.RasterQueryFromVector(query)
		if err != nil {
			return err
		}
		_, err = engine.RasterDispatch[struct{}]{
			U8:  forEachPixel[uint8](ctx, rasterQuery, qctx, fn),
			U16: forEachPixel[uint16](ctx, rasterQuery, qctx, fn),
			U32: forEachPixel[uint32](ctx, rasterQuery, qctx, fn),
			U64: forEachPixel[uint64](ctx, rasterQuery, qctx, fn),
			I8:  forEachPixel[int8](ctx, rasterQuery, qctx, fn),
			I16: forEachPixel[int16](ctx, rasterQuery, qctx, fn),
			I32: forEachPixel[int32](ctx, rasterQuery, qctx, fn),
			I64: forEachPixel[int64](ctx, rasterQuery, qctx, fn),
			F32: forEachPixel[float32](ctx, rasterQuery, qctx, fn),
			F64: forEachPixel[float64](ctx, rasterQuery, qctx, fn),
		}.Call(typed)
		return err
	}
}

func forEachPixel[T raster.Pixel](ctx context.Context, query primitives.RasterQueryRectangle, qctx engine.QueryContext, fn func(float64)) func(engine.RasterQueryProcessor[T]) (struct{}, error) {
	return func(processor engine.RasterQueryProcessor[T]) (struct{}, error) {
		tiles, err := processor.RasterQuery(ctx, query, qctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, engine.ForEach(ctx, tiles, func(tile *raster.Tile2D[T]) error {
			if tile.IsEmpty() {
				return nil
			}
			for _, v := range tile.Grid.Data {
				if !tile.Grid.IsNoData(v) {
					fn(raster.AsFloat64(v))
				}
			}
			return nil
		})
	}
}

func vectorValues(typed engine.TypedVectorQueryProcessor, column string) valueSource {
	return func(ctx context.Context, query primitives.PlotQueryRectangle, qctx engine.QueryContext, fn func(float64)) error {
		_, err := engine.VectorDispatch[struct{}]{
			Data:            forEachColumnValue[collections.NoGeometry](ctx, query, qctx, column, fn),
			MultiPoint:      forEachColumnValue[geom.MultiPoint](ctx, query, qctx, column, fn),
			MultiLineString: forEachColumnValue[geom.MultiLineString](ctx, query, qctx, column, fn),
			MultiPolygon:    forEachColumnValue[geom.MultiPolygon](ctx, query, qctx, column, fn),
		}.Call(typed)
		return err
	}
}

func forEachColumnValue[G collections.Geometry](ctx context.Context, query primitives.PlotQueryRectangle, qctx engine.QueryContext, column string, fn func(float64)) func(engine.VectorQueryProcessor[G]) (struct{}, error) {
	return func(processor engine.VectorQueryProcessor[G]) (struct{}, error) {
		cs, err := processor.VectorQuery(ctx, query, qctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, engine.ForEach(ctx, cs, func(c *collections.FeatureCollection[G]) error {
			data, err := c.Data(column)
			if err != nil {
				return err
			}
			for i := 0; i < data.Len(); i++ {
				if v, ok := data.FloatAt(i); ok {
					fn(v)
				}
			}
			return nil
		})
	}
}

type metadataOptions struct {
	buckets  *int
	min, max *float64
}

func (o metadataOptions) complete() bool {
	return o.buckets != nil && o.min != nil && o.max != nil
}

type histogramMetadata struct {
	buckets  int
	min, max float64
}

// merge prefers the configured values over the computed ones.
func (o metadataOptions) merge(computed histogramMetadata) histogramMetadata {
	if o.buckets != nil {
		computed.buckets = *o.buckets
	}
	if o.min != nil {
		computed.min = *o.min
	}
	if o.max != nil {
		computed.max = *o.max
	}
	return computed
}

// metadataAccu tracks count and range of the valid values.
type metadataAccu struct {
	n        int
	min, max float64
}

func newMetadataAccu() *metadataAccu {
	return &metadataAccu{min: math.MaxFloat64, max: -math.MaxFloat64}
}

func (a *metadataAccu) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	a.n++
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
}

// metadata picks ⌊√n⌋ buckets.
func (a *metadataAccu) metadata() histogramMetadata {
	return histogramMetadata{buckets: int(math.Sqrt(float64(a.n))), min: a.min, max: a.max}
}

type histogramProcessor struct {
	values      valueSource
	options     metadataOptions
	measurement primitives.Measurement
}

func (p *histogramProcessor) PlotQuery(ctx context.Context, query primitives.PlotQueryRectangle, qctx engine.QueryContext) (engine.PlotData, error) {
	var metadata histogramMetadata
	if p.options.complete() {
		metadata = p.options.merge(histogramMetadata{})
	} else {
		accu := newMetadataAccu()
		if err := p.values(ctx, query, qctx, accu.add); err != nil {
			return engine.PlotData{}, err
		}
		metadata = p.options.merge(accu.metadata())
	}
	logger.FromContext(ctx).Debug().
		Int("buckets", metadata.buckets).
		Float64("min", metadata.min).
		Float64("max", metadata.max).
		Msg("computing histogram")

	histogram, err := NewHistogramData(metadata.buckets, metadata.min, metadata.max, p.measurement)
	if err != nil {
		return engine.PlotData{}, err
	}
	if err = p.values(ctx, query, qctx, histogram.Add); err != nil {
		return engine.PlotData{}, err
	}
	return engine.PlotData{PlotType: HistogramPlotType, Data: histogram}, nil
}

type HistogramBucket struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count uint64  `json:"count"`
}

// HistogramData holds equal width buckets over [min, max].
type HistogramData struct {
	Buckets     []HistogramBucket      `json:"buckets"`
	Measurement primitives.Measurement `json:"measurement"`

	min, max float64
}

func NewHistogramData(buckets int, lo, hi float64, measurement primitives.Measurement) (*HistogramData, error) {
	if buckets < 1 {
		return nil, ErrNoBuckets
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return nil, fmt.Errorf("invalid histogram range [%v, %v]", lo, hi)
	}
	h := &HistogramData{Buckets: make([]HistogramBucket, buckets), Measurement: measurement, min: lo, max: hi}
	width := (hi - lo) / float64(buckets)
	for i := range h.Buckets {
		h.Buckets[i].Min = lo + float64(i)*width
		h.Buckets[i].Max = lo + float64(i+1)*width
	}
	h.Buckets[buckets-1].Max = hi
	return h, nil
}

// Add counts v. Values outside of the range are ignored; the maximum falls into the last bucket.
func (h *HistogramData) Add(v float64) {
	if math.IsNaN(v) || v < h.min || v > h.max {
		return
	}
	idx := 0
	if h.max > h.min {
		idx = int(math.Floor((v - h.min) / (h.max - h.min) * float64(len(h.Buckets))))
	}
	h.Buckets[min(idx, len(h.Buckets)-1)].Count++
}

func (h *HistogramData) Counts() []uint64 {
	counts := make([]uint64, len(h.Buckets))
	for i, b := range h.Buckets {
		counts[i] = b.Count
	}
	return counts
}
