package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/c2h5oh/datasize"
	"github.com/pdok/geoflow/dataset"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

// MockExecutionContext keeps metadata in memory. Used by tests and examples.
type MockExecutionContext struct {
	Pool     *WorkerPool
	Tiling   raster.TilingSpecification
	metaData map[dataset.DatasetID]any
}

func NewMockExecutionContext(tiling raster.TilingSpecification) *MockExecutionContext {
	return &MockExecutionContext{
		Pool:     NewWorkerPool(runtime.NumCPU()),
		Tiling:   tiling,
		metaData: make(map[dataset.DatasetID]any),
	}
}

// MockTilingSpecification has its origin at (0, 0) and 512x512 tiles.
func MockTilingSpecification() raster.TilingSpecification {
	return raster.NewTilingSpecification(primitives.NewCoordinate2D(0, 0), raster.NewGridShape2D(512, 512))
}

func (c *MockExecutionContext) AddMetaData(id dataset.DatasetID, metaData any) {
	c.metaData[id] = metaData
}

func (c *MockExecutionContext) ThreadPool() *WorkerPool {
	return c.Pool
}

func (c *MockExecutionContext) TilingSpecification() raster.TilingSpecification {
	return c.Tiling
}

func (c *MockExecutionContext) MetaData(_ context.Context, id dataset.DatasetID) (any, error) {
	m, ok := c.metaData[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatasetID, id)
	}
	return m, nil
}

type MockQueryContext struct {
	ChunkSize datasize.ByteSize
	Pool      *WorkerPool
}

func NewMockQueryContext(chunkSize datasize.ByteSize) *MockQueryContext {
	return &MockQueryContext{ChunkSize: chunkSize, Pool: NewWorkerPool(runtime.NumCPU())}
}

func (c *MockQueryContext) ChunkByteSize() datasize.ByteSize {
	return c.ChunkSize
}

func (c *MockQueryContext) ThreadPool() *WorkerPool {
	return c.Pool
}
