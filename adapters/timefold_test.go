package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeMultiFold(t *testing.T) {
	early := primitives.NewTimeIntervalUnchecked(0, 5)
	late := primitives.NewTimeIntervalUnchecked(5, 10)
	sum := func(_ context.Context, accu int, tile *raster.Tile2D[uint8]) (int, error) {
		for _, v := range tile.Grid.Data {
			accu += int(v)
		}
		return accu, nil
	}

	tests := []struct {
		name  string
		tiles []*raster.Tile2D[uint8]
		want  []int
	}{
		{
			name: "two groups",
			tiles: []*raster.Tile2D[uint8]{
				tileAt(t, early, 0, 0, []uint8{1, 1, 1, 1}, nil),
				tileAt(t, early, 0, 1, []uint8{2, 2, 2, 2}, nil),
				tileAt(t, late, 0, 0, []uint8{3, 3, 3, 3}, nil),
			},
			want: []int{12, 12},
		},
		{
			name:  "single tile",
			tiles: []*raster.Tile2D[uint8]{tileAt(t, early, 0, 0, []uint8{1, 2, 3, 4}, nil)},
			want:  []int{10},
		},
		{
			name: "empty source",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := TimeMultiFold(engine.FromSlice(tt.tiles), func() int { return 0 }, sum)
			got, err := engine.Collect(context.Background(), stream)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeMultiFold_Error(t *testing.T) {
	boom := errors.New("boom")
	tiles := []*raster.Tile2D[uint8]{tileAt(t, primitives.NewTimeIntervalUnchecked(0, 5), 0, 0, []uint8{1, 2, 3, 4}, nil)}
	count := func(_ context.Context, accu int, _ *raster.Tile2D[uint8]) (int, error) {
		return accu + 1, nil
	}

	_, err := engine.Collect(context.Background(), TimeMultiFold(engine.Failing(boom, tiles...), func() int { return 0 }, count))
	require.ErrorIs(t, err, boom)

	failingFold := func(context.Context, int, *raster.Tile2D[uint8]) (int, error) {
		return 0, boom
	}
	_, err = engine.Collect(context.Background(), TimeMultiFold(engine.FromSlice(tiles), func() int { return 0 }, failingFold))
	require.ErrorIs(t, err, boom)
}
