package engine

import (
	"context"
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/pdok/geoflow/dataset"
	"github.com/pdok/geoflow/raster"
)

// MetaDataProvider resolves dataset ids to their metadata. Callers type-assert with MetaDataFor.
type MetaDataProvider interface {
	MetaData(ctx context.Context, id dataset.DatasetID) (any, error)
}

// ExecutionContext is available while operators are initialized.
type ExecutionContext interface {
	MetaDataProvider
	ThreadPool() *WorkerPool
	TilingSpecification() raster.TilingSpecification
}

// QueryContext is available while a query runs.
type QueryContext interface {
	ChunkByteSize() datasize.ByteSize
	ThreadPool() *WorkerPool
}

// MetaData describes how to load a dataset (L) for a query (Q) and what it yields (R).
type MetaData[L, R, Q any] interface {
	LoadingInfo(ctx context.Context, query Q) (L, error)
	ResultDescriptor(ctx context.Context) (R, error)
}

// PreLoadHook is optionally implemented by metadata that needs work before loading.
type PreLoadHook interface {
	Execute(ctx context.Context) error
}

// MetaDataFor looks up id and asserts its metadata type.
func MetaDataFor[L, R, Q any](ctx context.Context, provider MetaDataProvider, id dataset.DatasetID) (MetaData[L, R, Q], error) {
	raw, err := provider.MetaData(ctx, id)
	if err != nil {
		return nil, err
	}
	typed, ok := raw.(MetaData[L, R, Q])
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s has %T", ErrDatasetLoadingInfoProviderMismatch, id, raw)
	}
	return typed, nil
}

// StaticMetaData returns the same loading info for every query.
type StaticMetaData[L, R, Q any] struct {
	Info       L
	Descriptor R
	Hook       func(ctx context.Context) error
}

func (m *StaticMetaData[L, R, Q]) LoadingInfo(context.Context, Q) (L, error) {
	return m.Info, nil
}

func (m *StaticMetaData[L, R, Q]) ResultDescriptor(context.Context) (R, error) {
	return m.Descriptor, nil
}

// Execute runs Hook, if any.
func (m *StaticMetaData[L, R, Q]) Execute(ctx context.Context) error {
	if m.Hook == nil {
		return nil
	}
	return m.Hook(ctx)
}

// RunPreLoadHook executes the hook of metadata implementing PreLoadHook.
func RunPreLoadHook(ctx context.Context, metadata any) error {
	if hook, ok := metadata.(PreLoadHook); ok {
		return hook.Execute(ctx)
	}
	return nil
}

// DefaultExecutionContext serves metadata from a provider.
type DefaultExecutionContext struct {
	Provider MetaDataProvider
	Pool     *WorkerPool
	Tiling   raster.TilingSpecification
}

func (c *DefaultExecutionContext) ThreadPool() *WorkerPool {
	return c.Pool
}

func (c *DefaultExecutionContext) TilingSpecification() raster.TilingSpecification {
	return c.Tiling
}

func (c *DefaultExecutionContext) MetaData(ctx context.Context, id dataset.DatasetID) (any, error) {
	return c.Provider.MetaData(ctx, id)
}

type DefaultQueryContext struct {
	ChunkSize datasize.ByteSize
	Pool      *WorkerPool
}

func (c *DefaultQueryContext) ChunkByteSize() datasize.ByteSize {
	return c.ChunkSize
}

func (c *DefaultQueryContext) ThreadPool() *WorkerPool {
	return c.Pool
}
