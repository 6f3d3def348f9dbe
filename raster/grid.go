package raster

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrGridIndexOutOfBounds  = errors.New("grid index out of bounds")
	ErrDimensionCapacityDiff = errors.New("data length does not match grid shape")
)

// GridShape2D is the size of a grid as [y, x].
type GridShape2D [2]int

func NewGridShape2D(y, x int) GridShape2D {
	return GridShape2D{y, x}
}

func (s GridShape2D) Y() int {
	return s[0]
}

func (s GridShape2D) X() int {
	return s[1]
}

func (s GridShape2D) NumberOfElements() int {
	return s[0] * s[1]
}

// GridIdx2D is a position in a grid as [y, x]. Global positions may be negative.
type GridIdx2D [2]int

func NewGridIdx2D(y, x int) GridIdx2D {
	return GridIdx2D{y, x}
}

func (i GridIdx2D) Y() int {
	return i[0]
}

func (i GridIdx2D) X() int {
	return i[1]
}

func (i GridIdx2D) Add(other GridIdx2D) GridIdx2D {
	return GridIdx2D{i[0] + other[0], i[1] + other[1]}
}

func (i GridIdx2D) Sub(other GridIdx2D) GridIdx2D {
	return GridIdx2D{i[0] - other[0], i[1] - other[1]}
}

// GridBoundingBox2D spans Min to Max, both inclusive.
type GridBoundingBox2D struct {
	Min GridIdx2D
	Max GridIdx2D
}

func (b GridBoundingBox2D) Shape() GridShape2D {
	return GridShape2D{b.Max[0] - b.Min[0] + 1, b.Max[1] - b.Min[1] + 1}
}

func (b GridBoundingBox2D) Contains(idx GridIdx2D) bool {
	return b.Min[0] <= idx[0] && idx[0] <= b.Max[0] && b.Min[1] <= idx[1] && idx[1] <= b.Max[1]
}

// Grid2D is a row-major grid. A nil Data slice is an empty grid where every cell is no-data.
type Grid2D[T Pixel] struct {
	Shape       GridShape2D
	Data        []T
	NoDataValue *T
}

func NewGrid2D[T Pixel](shape GridShape2D, data []T, noDataValue *T) (Grid2D[T], error) {
	if len(data) != shape.NumberOfElements() {
		return Grid2D[T]{}, fmt.Errorf("%w: shape %v needs %d values, got %d",
			ErrDimensionCapacityDiff, shape, shape.NumberOfElements(), len(data))
	}
	return Grid2D[T]{Shape: shape, Data: data, NoDataValue: noDataValue}, nil
}

// MustNewGrid2D is for literals in tests and fixtures.
func MustNewGrid2D[T Pixel](shape GridShape2D, data []T, noDataValue *T) Grid2D[T] {
	g, err := NewGrid2D(shape, data, noDataValue)
	if err != nil {
		panic(err)
	}
	return g
}

func NewEmptyGrid2D[T Pixel](shape GridShape2D, noDataValue *T) Grid2D[T] {
	return Grid2D[T]{Shape: shape, NoDataValue: noDataValue}
}

// NewFilledGrid2D creates a materialized grid with every cell set to v.
func NewFilledGrid2D[T Pixel](shape GridShape2D, v T, noDataValue *T) Grid2D[T] {
	data := make([]T, shape.NumberOfElements())
	for i := range data {
		data[i] = v
	}
	return Grid2D[T]{Shape: shape, Data: data, NoDataValue: noDataValue}
}

// NoData returns a pointer to v, for building no-data values inline.
func NoData[T Pixel](v T) *T {
	return &v
}

func (g Grid2D[T]) IsEmpty() bool {
	return g.Data == nil
}

func (g Grid2D[T]) linearIndex(idx GridIdx2D) (int, error) {
	if idx[0] < 0 || idx[1] < 0 || idx[0] >= g.Shape.Y() || idx[1] >= g.Shape.X() {
		return 0, fmt.Errorf("%w: %v not in shape %v", ErrGridIndexOutOfBounds, idx, g.Shape)
	}
	return idx[0]*g.Shape.X() + idx[1], nil
}

// At returns the value at idx. Empty grids return the no-data value, or zero without one.
func (g Grid2D[T]) At(idx GridIdx2D) (T, error) {
	i, err := g.linearIndex(idx)
	if err != nil {
		var zero T
		return zero, err
	}
	if g.IsEmpty() {
		return g.fillValue(), nil
	}
	return g.Data[i], nil
}

// MaskedAt is like At but reports whether the cell holds a valid (non no-data) value.
func (g Grid2D[T]) MaskedAt(idx GridIdx2D) (T, bool, error) {
	v, err := g.At(idx)
	if err != nil {
		return v, false, err
	}
	if g.IsEmpty() || g.IsNoData(v) {
		return v, false, nil
	}
	return v, true, nil
}

// Set materializes an empty grid before writing.
func (g *Grid2D[T]) Set(idx GridIdx2D, v T) error {
	i, err := g.linearIndex(idx)
	if err != nil {
		return err
	}
	g.Materialize()
	g.Data[i] = v
	return nil
}

func (g Grid2D[T]) IsNoData(v T) bool {
	return g.NoDataValue != nil && *g.NoDataValue == v
}

// Materialize turns an empty grid into one filled with the no-data value.
func (g *Grid2D[T]) Materialize() {
	if g.Data != nil {
		return
	}
	g.Data = make([]T, g.Shape.NumberOfElements())
	fill := g.fillValue()
	for i := range g.Data {
		g.Data[i] = fill
	}
}

func (g Grid2D[T]) fillValue() T {
	if g.NoDataValue != nil {
		return *g.NoDataValue
	}
	var zero T
	return zero
}

// Clone returns a deep copy.
func (g Grid2D[T]) Clone() Grid2D[T] {
	c := Grid2D[T]{Shape: g.Shape, Data: slices.Clone(g.Data)}
	if g.NoDataValue != nil {
		c.NoDataValue = NoData(*g.NoDataValue)
	}
	return c
}
