package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/pdok/geoflow/dataset"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constantParams struct {
	Value uint8  `json:"value" validate:"lte=200"`
	Label string `json:"label" default:"constant"`
}

type constantRaster struct {
	Operator[constantParams]
}

func (o *constantRaster) TypeName() string {
	return "TestConstant"
}

func (o *constantRaster) InitializeRaster(context.Context, ExecutionContext) (InitializedRasterOperator, error) {
	if o.Params.Value == 13 {
		return nil, InvalidOperatorSpecError{Reason: "unlucky"}
	}
	value := o.Params.Value
	processor := RasterQueryProcessorFunc[uint8](func(_ context.Context, q primitives.RasterQueryRectangle, _ QueryContext) (Stream[*raster.Tile2D[uint8]], error) {
		info := raster.TileInformation{TileSizeInPixels: raster.NewGridShape2D(1, 1), GlobalGeoTransform: raster.DefaultGeoTransform()}
		return FromSlice([]*raster.Tile2D[uint8]{{
			Time:     q.TimeInterval,
			TileInfo: info,
			Grid:     raster.MustNewGrid2D(info.TileSizeInPixels, []uint8{value}, nil),
		}}), nil
	})
	return &InitializedRaster{
		Descriptor: RasterResultDescriptor{DataType: raster.U8, Measurement: primitives.UnitlessMeasurement()},
		Processor:  NewTypedRasterQueryProcessor[uint8](processor),
	}, nil
}

type sumParams struct{}

type sumRaster struct {
	Operator[sumParams]
}

func (o *sumRaster) TypeName() string {
	return "TestSum"
}

func (o *sumRaster) InitializeRaster(ctx context.Context, ectx ExecutionContext) (InitializedRasterOperator, error) {
	if err := CheckRasterSources(len(o.RasterSources), 1, 2); err != nil {
		return nil, err
	}
	sources, err := o.InitializeSources(ctx, ectx)
	if err != nil {
		return nil, err
	}
	return sources.Rasters[0], nil
}

func init() {
	RegisterRasterOperator("TestConstant", func() RasterOperator { return &constantRaster{} })
	RegisterRasterOperator("TestSum", func() RasterOperator { return &sumRaster{} })
}

func TestStreams(t *testing.T) {
	ctx := context.Background()

	got, err := Collect(ctx, Map(FromSlice([]int{1, 2, 3}), func(_ context.Context, i int) (string, error) {
		return fmt.Sprint(i * 2), nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4", "6"}, got)

	boom := errors.New("boom")
	failing := Failing(boom, 1, 2)
	items, err := Collect(ctx, failing)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, items)
	_, err = failing.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	mapped := Map(FromSlice([]int{1, 2}), func(_ context.Context, i int) (int, error) {
		return 0, boom
	})
	_, err = mapped.Next(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = mapped.Next(ctx)
	assert.True(t, IsEOF(err), "a failed stream ends")

	empty, err := Collect(ctx, Empty[int]())
	require.NoError(t, err)
	assert.Empty(t, empty)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = FromSlice([]int{1}).Next(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerPool_ParallelFor(t *testing.T) {
	pool := NewWorkerPool(3)
	var sum atomic.Int64
	require.NoError(t, pool.ParallelFor(context.Background(), 100, func(i int) error {
		sum.Add(int64(i))
		return nil
	}))
	assert.Equal(t, int64(4950), sum.Load())

	boom := errors.New("boom")
	err := pool.ParallelFor(context.Background(), 10, func(i int) error {
		if i == 7 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)

	covered := make([]bool, 10)
	require.NoError(t, pool.ParallelChunks(context.Background(), 10, func(from, to int) error {
		for i := from; i < to; i++ {
			covered[i] = true
		}
		return nil
	}))
	assert.NotContains(t, covered, false)
}

func TestRasterDispatch(t *testing.T) {
	processor := NewTypedRasterQueryProcessor[int16](RasterQueryProcessorFunc[int16](nil))
	assert.Equal(t, raster.I16, processor.DataType())

	dispatch := RasterDispatch[string]{
		U8:  func(RasterQueryProcessor[uint8]) (string, error) { return "u8", nil },
		I16: func(RasterQueryProcessor[int16]) (string, error) { return "i16", nil },
	}
	got, err := dispatch.Call(processor)
	require.NoError(t, err)
	assert.Equal(t, "i16", got)

	_, err = dispatch.Call(NewTypedRasterQueryProcessor[float32](RasterQueryProcessorFunc[float32](nil)))
	assert.ErrorIs(t, err, ErrEmptyDispatch)

	_, err = RasterProcessorAs[uint8](processor)
	assert.ErrorIs(t, err, ErrQueryProcessorTypeMismatch)
	_, err = RasterProcessorAs[int16](processor)
	assert.NoError(t, err)
}

func TestDecodeRasterOperator(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr error
	}{
		{
			name: "nested",
			json: `{"type": "TestSum", "rasterSources": [{"type": "TestConstant", "params": {"value": 7}}]}`,
		},
		{
			name:    "unknown envelope key",
			json:    `{"type": "TestConstant", "params": {"value": 7}, "sources": []}`,
			wantErr: InvalidOperatorSpecError{},
		},
		{
			name:    "unknown params key",
			json:    `{"type": "TestConstant", "params": {"value": 7, "extra": 1}}`,
			wantErr: InvalidOperatorSpecError{},
		},
		{
			name:    "invalid params",
			json:    `{"type": "TestConstant", "params": {"value": 201}}`,
			wantErr: InvalidOperatorSpecError{},
		},
		{
			name:    "unknown operator",
			json:    `{"type": "Nope"}`,
			wantErr: ErrUnknownOperator,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := DecodeRasterOperator([]byte(tt.json))
			switch want := tt.wantErr.(type) {
			case nil:
				require.NoError(t, err)
				require.NotNil(t, op)
			case InvalidOperatorSpecError:
				require.ErrorAs(t, err, &want)
			default:
				require.ErrorIs(t, err, want)
			}
		})
	}
}

func TestEncodeOperator_RoundTrip(t *testing.T) {
	in := `{"type": "Raster", "operator": {"type": "TestSum", "params": {}, "rasterSources": [{"type": "TestConstant", "params": {"value": 7}}]}}`
	var workflow TypedOperator
	require.NoError(t, json.Unmarshal([]byte(in), &workflow))
	require.Equal(t, RasterKind, workflow.Kind)

	sum, ok := workflow.Raster.(*sumRaster)
	require.True(t, ok)
	constant, ok := sum.RasterSources[0].(*constantRaster)
	require.True(t, ok)
	assert.Equal(t, "constant", constant.Params.Label)

	out, err := json.Marshal(workflow)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "Raster", "operator": {"type": "TestSum", "params": {},
		"rasterSources": [{"type": "TestConstant", "params": {"value": 7, "label": "constant"}}]}}`, string(out))
}

func TestInitializeSources(t *testing.T) {
	ctx := context.Background()
	ectx := NewMockExecutionContext(MockTilingSpecification())

	sum := &sumRaster{}
	_, err := InitializeRaster(ctx, ectx, sum)
	var arity InvalidNumberOfRasterInputsError
	require.ErrorAs(t, err, &arity)
	assert.Equal(t, 0, arity.Found)

	unlucky := &constantRaster{}
	unlucky.Params.Value = 13
	sum.RasterSources = []RasterOperator{unlucky, &constantRaster{}}
	_, err = InitializeRaster(ctx, ectx, sum)
	var spec InvalidOperatorSpecError
	require.ErrorAs(t, err, &spec)

	good := &constantRaster{}
	good.Params.Value = 9
	sum.RasterSources = []RasterOperator{good}
	initialized, err := InitializeRaster(ctx, ectx, sum)
	require.NoError(t, err)
	assert.Empty(t, sum.RasterSources)

	typed, err := initialized.QueryProcessor()
	require.NoError(t, err)
	processor, err := RasterProcessorAs[uint8](typed)
	require.NoError(t, err)
	query := primitives.RasterQueryRectangle{
		SpatialBounds:     primitives.NewSpatialPartition2DUnchecked(primitives.NewCoordinate2D(0, 1), primitives.NewCoordinate2D(1, 0)),
		TimeInterval:      primitives.NewTimeIntervalUnchecked(0, 1),
		SpatialResolution: primitives.OneResolution(),
	}
	stream, err := processor.RasterQuery(ctx, query, NewMockQueryContext(datasize.KB))
	require.NoError(t, err)
	tiles, err := Collect(ctx, stream)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, []uint8{9}, tiles[0].Grid.Data)
}

func TestMetaDataFor(t *testing.T) {
	ctx := context.Background()
	ectx := NewMockExecutionContext(MockTilingSpecification())
	id := dataset.NewInternalDatasetID()

	_, err := MetaDataFor[string, RasterResultDescriptor, primitives.RasterQueryRectangle](ctx, ectx, id)
	require.ErrorIs(t, err, ErrUnknownDatasetID)

	hooked := 0
	ectx.AddMetaData(id, &StaticMetaData[string, RasterResultDescriptor, primitives.RasterQueryRectangle]{
		Info: "file.tif",
		Hook: func(context.Context) error {
			hooked++
			return nil
		},
	})
	md, err := MetaDataFor[string, RasterResultDescriptor, primitives.RasterQueryRectangle](ctx, ectx, id)
	require.NoError(t, err)
	info, err := md.LoadingInfo(ctx, primitives.RasterQueryRectangle{})
	require.NoError(t, err)
	assert.Equal(t, "file.tif", info)
	require.NoError(t, RunPreLoadHook(ctx, md))
	assert.Equal(t, 1, hooked)

	_, err = MetaDataFor[int, RasterResultDescriptor, primitives.RasterQueryRectangle](ctx, ectx, id)
	assert.ErrorIs(t, err, ErrDatasetLoadingInfoProviderMismatch)
}
