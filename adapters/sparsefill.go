package adapters

import (
	"context"
	"fmt"
	"io"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/metrics"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

// SparseTilesFillError reports a source tile that breaks the canonical order.
type SparseTilesFillError struct {
	Reason   string
	Position raster.GridIdx2D
	Time     primitives.TimeInterval
}

func (e SparseTilesFillError) Error() string {
	return fmt.Sprintf("sparse tiles fill: %s (tile %v at %v)", e.Reason, e.Position, e.Time)
}

// SparseTilesFill completes a sparse tile stream: for every time slice it yields one tile per tile
// position of the query, in row-major order. Missing tiles and temporal gaps before, between and after
// the source's time slices become empty tiles with noDataValue.
func SparseTilesFill[T raster.Pixel](
	src engine.Stream[*raster.Tile2D[T]],
	query primitives.RasterQueryRectangle,
	strategy raster.TilingStrategy,
	noDataValue *T,
) engine.Stream[*raster.Tile2D[T]] {
	f := &sparseFill[T]{
		src:      src,
		query:    query,
		infos:    strategy.TileInformations(query.SpatialBounds).All(),
		noData:   noDataValue,
		sliceEnd: query.TimeInterval.Start,
	}
	return engine.Terminating(f.next)
}

type sparseFill[T raster.Pixel] struct {
	src    engine.Stream[*raster.Tile2D[T]]
	query  primitives.RasterQueryRectangle
	infos  []raster.TileInformation
	noData *T

	pending *raster.Tile2D[T]
	srcDone bool

	slice    primitives.TimeInterval
	inSlice  bool
	idx      int
	sliced   bool
	sliceEnd primitives.TimeInstance
	finished bool
}

func (f *sparseFill[T]) peek(ctx context.Context) error {
	if f.pending != nil || f.srcDone {
		return nil
	}
	tile, err := f.src.Next(ctx)
	if engine.IsEOF(err) {
		f.srcDone = true
		return nil
	}
	if err != nil {
		return err
	}
	f.pending = tile
	return nil
}

// startSlice picks the next time slice: the time of the next source tile, or the gap before it.
func (f *sparseFill[T]) startSlice() error {
	switch {
	case f.pending == nil && !f.sliced:
		f.slice = f.query.TimeInterval
	case f.pending == nil:
		if f.sliceEnd >= f.query.TimeInterval.End {
			f.finished = true
			return nil
		}
		f.slice = primitives.NewTimeIntervalUnchecked(f.sliceEnd, f.query.TimeInterval.End)
	case f.sliced && f.pending.Time.Start < f.sliceEnd:
		return SparseTilesFillError{Reason: "time slices overlap", Position: f.pending.TilePosition(), Time: f.pending.Time}
	case f.pending.Time.Start > f.sliceEnd:
		f.slice = primitives.NewTimeIntervalUnchecked(f.sliceEnd, f.pending.Time.Start)
	default:
		f.slice = f.pending.Time
	}
	f.inSlice, f.sliced, f.idx = true, true, 0
	return nil
}

func (f *sparseFill[T]) next(ctx context.Context) (*raster.Tile2D[T], error) {
	if err := f.peek(ctx); err != nil {
		return nil, err
	}
	if !f.inSlice && !f.finished {
		if err := f.startSlice(); err != nil {
			return nil, err
		}
	}
	if f.finished || len(f.infos) == 0 {
		return nil, io.EOF
	}

	expected := f.infos[f.idx]
	var out *raster.Tile2D[T]
	if p := f.pending; p != nil && p.Time == f.slice {
		switch order := comparePositions(p.TilePosition(), expected.GlobalTilePosition); {
		case order == 0:
			out, f.pending = p, nil
		case order < 0:
			return nil, SparseTilesFillError{Reason: "tile position out of order", Position: p.TilePosition(), Time: p.Time}
		}
	} else if p != nil && p.Time.Start < f.slice.End {
		return nil, SparseTilesFillError{Reason: "tile time differs from its time slice", Position: p.TilePosition(), Time: p.Time}
	}
	if out == nil {
		out = raster.NewEmptyTile2D(f.slice, expected, f.noData)
		metrics.TilesProduced.WithLabelValues("sparse_fill").Inc()
	}

	f.idx++
	if f.idx == len(f.infos) {
		if p := f.pending; p != nil && p.Time == f.slice {
			return nil, SparseTilesFillError{Reason: "tile outside of the query", Position: p.TilePosition(), Time: p.Time}
		}
		f.inSlice = false
		f.sliceEnd = f.slice.End
	}
	return out, nil
}

// comparePositions orders tile positions row-major.
func comparePositions(a, b raster.GridIdx2D) int {
	switch {
	case a.Y() != b.Y():
		return a.Y() - b.Y()
	default:
		return a.X() - b.X()
	}
}
