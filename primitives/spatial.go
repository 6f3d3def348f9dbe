package primitives

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidBoundingBox      = errors.New("invalid bounding box")
	ErrInvalidSpatialPartition = errors.New("invalid spatial partition")
	ErrInvalidResolution       = errors.New("spatial resolution must be positive")
)

type Coordinate2D struct {
	X float64
	Y float64
}

func NewCoordinate2D(x, y float64) Coordinate2D {
	return Coordinate2D{X: x, Y: y}
}

func (c Coordinate2D) XY() [2]float64 {
	return [2]float64{c.X, c.Y}
}

func (c Coordinate2D) IsFinite() bool {
	return !math.IsNaN(c.X) && !math.IsInf(c.X, 0) && !math.IsNaN(c.Y) && !math.IsInf(c.Y, 0)
}

func (c Coordinate2D) Distance(other Coordinate2D) float64 {
	return math.Hypot(other.X-c.X, other.Y-c.Y)
}

func (c Coordinate2D) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.X, c.Y})
}

func (c *Coordinate2D) UnmarshalJSON(data []byte) error {
	var xy [2]float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return err
	}
	c.X, c.Y = xy[0], xy[1]
	return nil
}

// BoundingBox2D is an axis-aligned bounding box. Both corners are inclusive.
type BoundingBox2D struct {
	LowerLeft  Coordinate2D `json:"lowerLeftCoordinate"`
	UpperRight Coordinate2D `json:"upperRightCoordinate"`
}

func NewBoundingBox2D(lowerLeft, upperRight Coordinate2D) (BoundingBox2D, error) {
	if lowerLeft.X > upperRight.X || lowerLeft.Y > upperRight.Y {
		return BoundingBox2D{}, fmt.Errorf("%w: lower left %v, upper right %v", ErrInvalidBoundingBox, lowerLeft, upperRight)
	}
	return BoundingBox2D{LowerLeft: lowerLeft, UpperRight: upperRight}, nil
}

func NewBoundingBox2DUnchecked(lowerLeft, upperRight Coordinate2D) BoundingBox2D {
	return BoundingBox2D{LowerLeft: lowerLeft, UpperRight: upperRight}
}

// BoundingBoxFromCoordinates returns the smallest box containing all coordinates.
func BoundingBoxFromCoordinates(coordinates []Coordinate2D) (BoundingBox2D, bool) {
	if len(coordinates) == 0 {
		return BoundingBox2D{}, false
	}
	bbox := BoundingBox2D{LowerLeft: coordinates[0], UpperRight: coordinates[0]}
	for _, c := range coordinates[1:] {
		bbox.LowerLeft.X = min(bbox.LowerLeft.X, c.X)
		bbox.LowerLeft.Y = min(bbox.LowerLeft.Y, c.Y)
		bbox.UpperRight.X = max(bbox.UpperRight.X, c.X)
		bbox.UpperRight.Y = max(bbox.UpperRight.Y, c.Y)
	}
	return bbox, true
}

func (b BoundingBox2D) UpperLeft() Coordinate2D {
	return Coordinate2D{X: b.LowerLeft.X, Y: b.UpperRight.Y}
}

func (b BoundingBox2D) LowerRight() Coordinate2D {
	return Coordinate2D{X: b.UpperRight.X, Y: b.LowerLeft.Y}
}

func (b BoundingBox2D) SizeX() float64 {
	return b.UpperRight.X - b.LowerLeft.X
}

func (b BoundingBox2D) SizeY() float64 {
	return b.UpperRight.Y - b.LowerLeft.Y
}

func (b BoundingBox2D) ContainsCoordinate(c Coordinate2D) bool {
	return b.LowerLeft.X <= c.X && c.X <= b.UpperRight.X && b.LowerLeft.Y <= c.Y && c.Y <= b.UpperRight.Y
}

func (b BoundingBox2D) Contains(other BoundingBox2D) bool {
	return b.ContainsCoordinate(other.LowerLeft) && b.ContainsCoordinate(other.UpperRight)
}

func (b BoundingBox2D) Intersects(other BoundingBox2D) bool {
	return b.LowerLeft.X <= other.UpperRight.X && other.LowerLeft.X <= b.UpperRight.X &&
		b.LowerLeft.Y <= other.UpperRight.Y && other.LowerLeft.Y <= b.UpperRight.Y
}

func (b BoundingBox2D) Intersection(other BoundingBox2D) (BoundingBox2D, bool) {
	if !b.Intersects(other) {
		return BoundingBox2D{}, false
	}
	return BoundingBox2D{
		LowerLeft:  Coordinate2D{X: max(b.LowerLeft.X, other.LowerLeft.X), Y: max(b.LowerLeft.Y, other.LowerLeft.Y)},
		UpperRight: Coordinate2D{X: min(b.UpperRight.X, other.UpperRight.X), Y: min(b.UpperRight.Y, other.UpperRight.Y)},
	}, true
}

func (b BoundingBox2D) String() string {
	return fmt.Sprintf("BBOX(%v %v, %v %v)", b.LowerLeft.X, b.LowerLeft.Y, b.UpperRight.X, b.UpperRight.Y)
}

// SpatialPartition2D is an area with upper left inclusive and lower right exclusive semantics.
type SpatialPartition2D struct {
	UpperLeft  Coordinate2D `json:"upperLeftCoordinate"`
	LowerRight Coordinate2D `json:"lowerRightCoordinate"`
}

func NewSpatialPartition2D(upperLeft, lowerRight Coordinate2D) (SpatialPartition2D, error) {
	if upperLeft.X >= lowerRight.X || upperLeft.Y <= lowerRight.Y {
		return SpatialPartition2D{}, fmt.Errorf("%w: upper left %v, lower right %v", ErrInvalidSpatialPartition, upperLeft, lowerRight)
	}
	return SpatialPartition2D{UpperLeft: upperLeft, LowerRight: lowerRight}, nil
}

func NewSpatialPartition2DUnchecked(upperLeft, lowerRight Coordinate2D) SpatialPartition2D {
	return SpatialPartition2D{UpperLeft: upperLeft, LowerRight: lowerRight}
}

// PartitionFromBoundingBox fails for boxes without area.
func PartitionFromBoundingBox(b BoundingBox2D) (SpatialPartition2D, error) {
	return NewSpatialPartition2D(b.UpperLeft(), b.LowerRight())
}

func (p SpatialPartition2D) LowerLeft() Coordinate2D {
	return Coordinate2D{X: p.UpperLeft.X, Y: p.LowerRight.Y}
}

func (p SpatialPartition2D) UpperRight() Coordinate2D {
	return Coordinate2D{X: p.LowerRight.X, Y: p.UpperLeft.Y}
}

func (p SpatialPartition2D) SizeX() float64 {
	return p.LowerRight.X - p.UpperLeft.X
}

func (p SpatialPartition2D) SizeY() float64 {
	return p.UpperLeft.Y - p.LowerRight.Y
}

func (p SpatialPartition2D) AsBoundingBox() BoundingBox2D {
	return BoundingBox2D{LowerLeft: p.LowerLeft(), UpperRight: p.UpperRight()}
}

// ContainsCoordinate treats the upper left edges as inside and the lower right edges as outside.
func (p SpatialPartition2D) ContainsCoordinate(c Coordinate2D) bool {
	return p.UpperLeft.X <= c.X && c.X < p.LowerRight.X && p.LowerRight.Y < c.Y && c.Y <= p.UpperLeft.Y
}

// Intersects is false for partitions that only share an edge.
func (p SpatialPartition2D) Intersects(other SpatialPartition2D) bool {
	return p.UpperLeft.X < other.LowerRight.X && other.UpperLeft.X < p.LowerRight.X &&
		p.LowerRight.Y < other.UpperLeft.Y && other.LowerRight.Y < p.UpperLeft.Y
}

func (p SpatialPartition2D) Intersection(other SpatialPartition2D) (SpatialPartition2D, bool) {
	if !p.Intersects(other) {
		return SpatialPartition2D{}, false
	}
	return SpatialPartition2D{
		UpperLeft:  Coordinate2D{X: max(p.UpperLeft.X, other.UpperLeft.X), Y: min(p.UpperLeft.Y, other.UpperLeft.Y)},
		LowerRight: Coordinate2D{X: min(p.LowerRight.X, other.LowerRight.X), Y: max(p.LowerRight.Y, other.LowerRight.Y)},
	}, true
}

func (p SpatialPartition2D) String() string {
	return fmt.Sprintf("PARTITION(%v %v, %v %v)", p.UpperLeft.X, p.UpperLeft.Y, p.LowerRight.X, p.LowerRight.Y)
}

// SpatialResolution is the size of one pixel in the units of the spatial reference.
type SpatialResolution struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func NewSpatialResolution(x, y float64) (SpatialResolution, error) {
	if !(x > 0) || !(y > 0) {
		return SpatialResolution{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidResolution, x, y)
	}
	return SpatialResolution{X: x, Y: y}, nil
}

func OneResolution() SpatialResolution {
	return SpatialResolution{X: 1, Y: 1}
}

func ZeroPointOneResolution() SpatialResolution {
	return SpatialResolution{X: 0.1, Y: 0.1}
}
