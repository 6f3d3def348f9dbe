package adapters

import (
	"context"
	"fmt"

	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/projection"
	"github.com/pdok/geoflow/raster"
)

// TileAccu is the plain fold accumulator: just the output tile.
type TileAccu[T raster.Pixel] struct {
	tile *raster.Tile2D[T]
}

func NewTileAccu[T raster.Pixel](tile *raster.Tile2D[T]) *TileAccu[T] {
	return &TileAccu[T]{tile: tile}
}

func (a *TileAccu[T]) Tile() *raster.Tile2D[T] {
	return a.tile
}

// IdentitySubQuery queries exactly the area of the output tile and copies source pixels by their global
// pixel index. Source and output share the tiling grid.
type IdentitySubQuery[T raster.Pixel] struct {
	NoDataValue *T
}

func (IdentitySubQuery[T]) TileQueryRectangle(tile raster.TileInformation, query primitives.RasterQueryRectangle, start primitives.TimeInstance) (*primitives.RasterQueryRectangle, error) {
	return &primitives.RasterQueryRectangle{
		SpatialBounds:     tile.SpatialPartition(),
		TimeInterval:      primitives.NewTimeInstant(start),
		SpatialResolution: query.SpatialResolution,
	}, nil
}

func (s IdentitySubQuery[T]) NewFoldAccu(_ context.Context, tile raster.TileInformation, _ primitives.RasterQueryRectangle, _ *engine.WorkerPool) (*TileAccu[T], error) {
	return NewTileAccu(raster.NewEmptyTile2D(primitives.DefaultTimeInterval(), tile, s.NoDataValue)), nil
}

func (IdentitySubQuery[T]) Fold(ctx context.Context, accu *TileAccu[T], source *raster.Tile2D[T], pool *engine.WorkerPool) (*TileAccu[T], error) {
	if source.IsEmpty() {
		return accu, nil
	}
	out := accu.tile
	overlap, ok := intersectGridBounds(out.TileInfo.GlobalPixelBounds(), source.TileInfo.GlobalPixelBounds())
	if !ok {
		return accu, nil
	}
	out.Grid.Materialize()
	err := pool.Run(ctx, func() error {
		for y := overlap.Min.Y(); y <= overlap.Max.Y(); y++ {
			for x := overlap.Min.X(); x <= overlap.Max.X(); x++ {
				global := raster.NewGridIdx2D(y, x)
				v, valid, err := source.Grid.MaskedAt(source.TileInfo.GlobalToLocalIdx(global))
				if err != nil {
					return err
				}
				if !valid {
					continue
				}
				if err = out.Grid.Set(out.TileInfo.GlobalToLocalIdx(global), v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return accu, err
}

func intersectGridBounds(a, b raster.GridBoundingBox2D) (raster.GridBoundingBox2D, bool) {
	out := raster.GridBoundingBox2D{
		Min: raster.NewGridIdx2D(max(a.Min.Y(), b.Min.Y()), max(a.Min.X(), b.Min.X())),
		Max: raster.NewGridIdx2D(min(a.Max.Y(), b.Max.Y()), min(a.Max.X(), b.Max.X())),
	}
	return out, out.Min.Y() <= out.Max.Y() && out.Min.X() <= out.Max.X()
}

// ReprojectionAccu holds the output tile and, per output pixel, the pixel center in source coordinates.
type ReprojectionAccu[T raster.Pixel] struct {
	tile        *raster.Tile2D[T]
	coordinates []primitives.Coordinate2D
	projected   []bool
}

func (a *ReprojectionAccu[T]) Tile() *raster.Tile2D[T] {
	return a.tile
}

// TileReprojectionSubQuery builds output tiles in OutSRS from a source in InSRS. Every output pixel takes
// the value of the source pixel its center projects into (nearest neighbour). Pixels that cannot be
// projected or that no source pixel covers keep FillValue.
type TileReprojectionSubQuery[T raster.Pixel] struct {
	InSRS        primitives.SpatialReference
	OutSRS       primitives.SpatialReference
	FillValue    T
	InResolution primitives.SpatialResolution
}

func (s TileReprojectionSubQuery[T]) TileQueryRectangle(tile raster.TileInformation, _ primitives.RasterQueryRectangle, start primitives.TimeInstance) (*primitives.RasterQueryRectangle, error) {
	toSource, err := projection.NewCoordinateProjector(s.OutSRS, s.InSRS)
	if err != nil {
		return nil, err
	}
	toOutput, err := projection.NewCoordinateProjector(s.InSRS, s.OutSRS)
	if err != nil {
		return nil, err
	}
	valid, ok, err := toOutput.ValidBounds()
	if err != nil || !ok {
		return nil, err
	}
	bounds, ok := tile.SpatialPartition().AsBoundingBox().Intersection(valid)
	if !ok {
		return nil, nil
	}
	partition, err := primitives.PartitionFromBoundingBox(bounds)
	if err != nil {
		return nil, nil
	}
	sourceBounds, err := toSource.ProjectPartition(partition)
	if err != nil {
		return nil, nil
	}
	return &primitives.RasterQueryRectangle{
		SpatialBounds:     sourceBounds,
		TimeInterval:      primitives.NewTimeInstant(start),
		SpatialResolution: s.InResolution,
	}, nil
}

// NewFoldAccu projects the centers of all output pixels on the worker pool.
func (s TileReprojectionSubQuery[T]) NewFoldAccu(ctx context.Context, tile raster.TileInformation, _ primitives.RasterQueryRectangle, pool *engine.WorkerPool) (*ReprojectionAccu[T], error) {
	toSource, err := projection.NewCoordinateProjector(s.OutSRS, s.InSRS)
	if err != nil {
		return nil, err
	}
	shape := tile.TileSizeInPixels
	geoTransform := tile.TileGeoTransform()
	accu := &ReprojectionAccu[T]{
		tile:        &raster.Tile2D[T]{TileInfo: tile, Grid: raster.NewFilledGrid2D(shape, s.FillValue, raster.NoData(s.FillValue))},
		coordinates: make([]primitives.Coordinate2D, shape.NumberOfElements()),
		projected:   make([]bool, shape.NumberOfElements()),
	}
	err = pool.ParallelChunks(ctx, shape.NumberOfElements(), func(from, to int) error {
		centers := make([]primitives.Coordinate2D, 0, to-from)
		for i := from; i < to; i++ {
			centers = append(centers, geoTransform.GridIdxToCenterCoordinate(raster.NewGridIdx2D(i/shape.X(), i%shape.X())))
		}
		if projected, err := toSource.ProjectCoordinates(centers); err == nil {
			copy(accu.coordinates[from:to], projected)
			for i := from; i < to; i++ {
				accu.projected[i] = true
			}
			return nil
		}
		// one bad coordinate fails the batch, so fall back to single coordinates
		for i, c := range centers {
			projected, err := toSource.Project(c)
			if err != nil {
				continue
			}
			accu.coordinates[from+i] = projected
			accu.projected[from+i] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("projecting pixel centers of tile %v: %w", tile.GlobalTilePosition, err)
	}
	return accu, nil
}

// Fold looks up every output pixel in the source tile. A coordinate on a source pixel edge belongs to the
// pixel whose upper left corner it is.
func (s TileReprojectionSubQuery[T]) Fold(ctx context.Context, accu *ReprojectionAccu[T], source *raster.Tile2D[T], pool *engine.WorkerPool) (*ReprojectionAccu[T], error) {
	if source.IsEmpty() {
		return accu, nil
	}
	partition := source.SpatialPartition()
	geoTransform := source.TileGeoTransform()
	out := accu.tile.Grid.Data
	err := pool.ParallelChunks(ctx, len(out), func(from, to int) error {
		for i := from; i < to; i++ {
			if !accu.projected[i] || !partition.ContainsCoordinate(accu.coordinates[i]) {
				continue
			}
			v, valid, err := source.Grid.MaskedAt(geoTransform.CoordinateToGridIdx2D(accu.coordinates[i]))
			if err != nil || !valid {
				continue
			}
			out[i] = v
		}
		return nil
	})
	return accu, err
}
