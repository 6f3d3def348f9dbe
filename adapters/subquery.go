// Package adapters contains the stream transformers the processing operators are built from.
package adapters

import (
	"context"
	"io"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/metrics"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

// FoldAccu is an output tile under construction.
type FoldAccu[T raster.Pixel] interface {
	Tile() *raster.Tile2D[T]
}

// SubQueryTileAggregator decides how one output tile is assembled from source tiles.
type SubQueryTileAggregator[T raster.Pixel, A FoldAccu[T]] interface {
	// TileQueryRectangle returns the source query for an output tile, or nil when the tile stays empty.
	TileQueryRectangle(tile raster.TileInformation, query primitives.RasterQueryRectangle, start primitives.TimeInstance) (*primitives.RasterQueryRectangle, error)
	NewFoldAccu(ctx context.Context, tile raster.TileInformation, query primitives.RasterQueryRectangle, pool *engine.WorkerPool) (A, error)
	Fold(ctx context.Context, accu A, source *raster.Tile2D[T], pool *engine.WorkerPool) (A, error)
}

type subQueryState int

const (
	nextTile subQueryState = iota
	awaitingSubQuery
	folding
	emitting
	done
)

// RasterSubQueryAdapter answers a raster query tile by tile: every output tile of the tiling grid is
// built from one sub-query against the source.
type RasterSubQueryAdapter[T raster.Pixel, A FoldAccu[T]] struct {
	Source   engine.RasterQueryProcessor[T]
	Tiling   raster.TilingSpecification
	SubQuery SubQueryTileAggregator[T, A]
	// NoDataValue is set on tiles that have no sub-query.
	NoDataValue *T
}

func (a *RasterSubQueryAdapter[T, A]) RasterQuery(_ context.Context, query primitives.RasterQueryRectangle, qctx engine.QueryContext) (engine.Stream[*raster.Tile2D[T]], error) {
	strategy := a.Tiling.StrategyFor(query.SpatialResolution)
	run := &subQueryRun[T, A]{
		adapter:   a,
		query:     query,
		qctx:      qctx,
		strategy:  strategy,
		tiles:     strategy.TileInformations(query.SpatialBounds),
		stepStart: query.TimeInterval.Start,
	}
	return engine.Terminating(run.next), nil
}

// subQueryRun is the state of one query. Every call of next performs transitions until a tile is ready.
type subQueryRun[T raster.Pixel, A FoldAccu[T]] struct {
	adapter  *RasterSubQueryAdapter[T, A]
	query    primitives.RasterQueryRectangle
	qctx     engine.QueryContext
	strategy raster.TilingStrategy
	tiles    *raster.TileInformationIterator

	state     subQueryState
	stepStart primitives.TimeInstance
	// stepInterval is taken from the first source tile of the step.
	stepInterval *primitives.TimeInterval
	// held are output tiles of the step built before stepInterval was known.
	held  []*raster.Tile2D[T]
	ready []*raster.Tile2D[T]

	tile    raster.TileInformation
	subTile engine.Stream[*raster.Tile2D[T]]
	accu    A
	folded  int
}

// stepTime is the time of output tiles of the current step that had no source tile.
func (r *subQueryRun[T, A]) stepTime() primitives.TimeInterval {
	if r.stepInterval != nil {
		return *r.stepInterval
	}
	return primitives.NewTimeIntervalUnchecked(r.stepStart, max(r.query.TimeInterval.End, r.stepStart))
}

// emit queues out, or holds it back while the step interval is unknown.
func (r *subQueryRun[T, A]) emit(out *raster.Tile2D[T]) {
	metrics.TilesProduced.WithLabelValues("subquery").Inc()
	if r.stepInterval == nil {
		r.held = append(r.held, out)
		return
	}
	r.ready = append(r.ready, out)
}

// release stamps the held tiles with time and queues them.
func (r *subQueryRun[T, A]) release(time primitives.TimeInterval) {
	for _, tile := range r.held {
		tile.Time = time
		r.ready = append(r.ready, tile)
	}
	r.held = nil
}

func (r *subQueryRun[T, A]) next(ctx context.Context) (*raster.Tile2D[T], error) {
	for {
		if len(r.ready) > 0 {
			out := r.ready[0]
			r.ready[0] = nil
			r.ready = r.ready[1:]
			return out, nil
		}
		switch r.state {
		case done:
			return nil, io.EOF
		case nextTile:
			tile, ok := r.tiles.Next()
			if !ok {
				r.release(r.stepTime())
				if !r.advanceTimeStep() {
					r.state = done
					continue
				}
				tile, _ = r.tiles.Next()
			}
			r.tile = tile
			r.state = awaitingSubQuery
		case awaitingSubQuery:
			subQuery, err := r.adapter.SubQuery.TileQueryRectangle(r.tile, r.query, r.stepStart)
			if err != nil {
				return nil, err
			}
			if subQuery == nil {
				r.state = nextTile
				r.emit(raster.NewEmptyTile2D(r.stepTime(), r.tile, r.adapter.NoDataValue))
				continue
			}
			r.accu, err = r.adapter.SubQuery.NewFoldAccu(ctx, r.tile, *subQuery, r.qctx.ThreadPool())
			if err != nil {
				return nil, err
			}
			r.accu.Tile().Time = r.stepTime()
			metrics.SubQueries.Inc()
			r.subTile, err = r.adapter.Source.RasterQuery(ctx, *subQuery, r.qctx)
			if err != nil {
				return nil, err
			}
			r.folded = 0
			r.state = folding
		case folding:
			source, err := r.subTile.Next(ctx)
			if engine.IsEOF(err) {
				r.state = emitting
				continue
			}
			if err != nil {
				return nil, err
			}
			if r.accu, err = r.adapter.SubQuery.Fold(ctx, r.accu, source, r.qctx.ThreadPool()); err != nil {
				return nil, err
			}
			if r.folded == 0 {
				out := r.accu.Tile()
				out.Time = source.Time
				out.Properties = source.Properties.Clone()
			}
			r.folded++
		case emitting:
			out := r.accu.Tile()
			if r.folded > 0 && r.stepInterval == nil {
				interval := out.Time
				r.stepInterval = &interval
				r.release(interval)
			}
			r.subTile = nil
			r.state = nextTile
			r.emit(out)
		}
	}
}

// advanceTimeStep starts the next time step at the end of the current one. It reports false when the
// query time is exhausted or no source tile told where the step ends.
func (r *subQueryRun[T, A]) advanceTimeStep() bool {
	if r.stepInterval == nil || r.stepInterval.End >= r.query.TimeInterval.End || r.stepInterval.End <= r.stepStart {
		return false
	}
	r.stepStart = r.stepInterval.End
	r.stepInterval = nil
	r.tiles = r.strategy.TileInformations(r.query.SpatialBounds)
	return r.tiles.Len() > 0
}
