package adapters

import (
	"context"
	"io"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

type timeFoldState int

const (
	awaitingSourceTile timeFoldState = iota
	accumulatingGroup
	emittingGroup
	foldDone
)

// TimeMultiFold folds all tiles sharing a time interval into one accumulator and emits one accumulator
// per time group. The source must deliver tiles grouped by time. The last group is emitted at the end of
// the source; an empty source yields nothing.
func TimeMultiFold[T raster.Pixel, A any](
	src engine.Stream[*raster.Tile2D[T]],
	init func() A,
	fold func(ctx context.Context, accu A, tile *raster.Tile2D[T]) (A, error),
) engine.Stream[A] {
	var (
		state   = awaitingSourceTile
		accu    A
		time    primitives.TimeInterval
		pending *raster.Tile2D[T]
	)
	return engine.Terminating(func(ctx context.Context) (A, error) {
		var zero A
		for {
			switch state {
			case foldDone:
				return zero, io.EOF
			case awaitingSourceTile:
				tile, err := src.Next(ctx)
				if engine.IsEOF(err) {
					state = foldDone
					continue
				}
				if err != nil {
					return zero, err
				}
				accu, time, pending = init(), tile.Time, tile
				state = accumulatingGroup
			case accumulatingGroup:
				if pending != nil {
					var err error
					if accu, err = fold(ctx, accu, pending); err != nil {
						return zero, err
					}
					pending = nil
				}
				tile, err := src.Next(ctx)
				if engine.IsEOF(err) {
					state = emittingGroup
					continue
				}
				if err != nil {
					return zero, err
				}
				pending = tile
				if tile.Time != time {
					state = emittingGroup
				}
			case emittingGroup:
				out := accu
				if pending == nil {
					state = foldDone
				} else {
					accu, time = init(), pending.Time
					state = accumulatingGroup
				}
				return out, nil
			}
		}
	})
}
