package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/pdok/geoflow/mathhelp"
	"github.com/pdok/geoflow/primitives"
)

var ErrInvalidGeoTransform = errors.New("invalid geo transform")

// GeoTransform maps pixel indices to coordinates. YPixelSize is negative for north-up rasters.
type GeoTransform struct {
	OriginCoordinate primitives.Coordinate2D `json:"originCoordinate"`
	XPixelSize       float64                 `json:"xPixelSize"`
	YPixelSize       float64                 `json:"yPixelSize"`
}

func NewGeoTransform(origin primitives.Coordinate2D, xPixelSize, yPixelSize float64) (GeoTransform, error) {
	if xPixelSize <= 0 || yPixelSize >= 0 {
		return GeoTransform{}, fmt.Errorf("%w: pixel size (%v, %v) must be positive in x and negative in y",
			ErrInvalidGeoTransform, xPixelSize, yPixelSize)
	}
	return GeoTransform{OriginCoordinate: origin, XPixelSize: xPixelSize, YPixelSize: yPixelSize}, nil
}

func DefaultGeoTransform() GeoTransform {
	return GeoTransform{OriginCoordinate: primitives.NewCoordinate2D(0, 0), XPixelSize: 1, YPixelSize: -1}
}

// CoordinateToGridIdx2D returns the pixel containing c. Coordinates on a pixel edge belong to the pixel to the right/below.
func (g GeoTransform) CoordinateToGridIdx2D(c primitives.Coordinate2D) GridIdx2D {
	return GridIdx2D{
		mathhelp.FloorToInt((c.Y - g.OriginCoordinate.Y) / g.YPixelSize),
		mathhelp.FloorToInt((c.X - g.OriginCoordinate.X) / g.XPixelSize),
	}
}

func (g GeoTransform) GridIdxToUpperLeftCoordinate(idx GridIdx2D) primitives.Coordinate2D {
	return primitives.NewCoordinate2D(
		g.OriginCoordinate.X+float64(idx.X())*g.XPixelSize,
		g.OriginCoordinate.Y+float64(idx.Y())*g.YPixelSize,
	)
}

func (g GeoTransform) GridIdxToCenterCoordinate(idx GridIdx2D) primitives.Coordinate2D {
	return primitives.NewCoordinate2D(
		g.OriginCoordinate.X+(float64(idx.X())+0.5)*g.XPixelSize,
		g.OriginCoordinate.Y+(float64(idx.Y())+0.5)*g.YPixelSize,
	)
}

// SpatialToGridBounds returns the pixels touched by p. The lower right corner is exclusive.
func (g GeoTransform) SpatialToGridBounds(p primitives.SpatialPartition2D) GridBoundingBox2D {
	ul := g.CoordinateToGridIdx2D(p.UpperLeft)

	fy := (p.LowerRight.Y - g.OriginCoordinate.Y) / g.YPixelSize
	fx := (p.LowerRight.X - g.OriginCoordinate.X) / g.XPixelSize
	lr := GridIdx2D{exclusiveEnd(fy), exclusiveEnd(fx)}

	return GridBoundingBox2D{
		Min: ul,
		Max: GridIdx2D{max(lr[0], ul[0]), max(lr[1], ul[1])},
	}
}

func exclusiveEnd(f float64) int {
	fl := math.Floor(f)
	if fl == f {
		return int(fl) - 1
	}
	return int(fl)
}

func (g GeoTransform) GridToSpatialBounds(b GridBoundingBox2D) primitives.SpatialPartition2D {
	return primitives.NewSpatialPartition2DUnchecked(
		g.GridIdxToUpperLeftCoordinate(b.Min),
		g.GridIdxToUpperLeftCoordinate(b.Max.Add(GridIdx2D{1, 1})),
	)
}

func (g GeoTransform) SpatialResolution() primitives.SpatialResolution {
	return primitives.SpatialResolution{X: g.XPixelSize, Y: math.Abs(g.YPixelSize)}
}
