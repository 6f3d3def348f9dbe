package collections

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/mapslicehelp"
	"github.com/pdok/geoflow/primitives"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	collectionOverhead = 128
	columnOverhead     = 64
	stringHeaderSize   = 16
	coordinateSize     = 16
	timeIntervalSize   = 16
)

// FeatureCollection stores features column-wise. Columns are kept in name order.
type FeatureCollection[G Geometry] struct {
	Geometries []G
	Times      []primitives.TimeInterval

	columnNames []string
	columns     map[string]FeatureData
}

type (
	DataCollection            = FeatureCollection[NoGeometry]
	MultiPointCollection      = FeatureCollection[geom.MultiPoint]
	MultiLineStringCollection = FeatureCollection[geom.MultiLineString]
	MultiPolygonCollection    = FeatureCollection[geom.MultiPolygon]
)

// NewFeatureCollection checks that all parts have the same length. Nil times default to the full time range.
func NewFeatureCollection[G Geometry](geometries []G, times []primitives.TimeInterval, columns map[string]FeatureData) (*FeatureCollection[G], error) {
	n := len(geometries)
	if times == nil {
		times = make([]primitives.TimeInterval, n)
		for i := range times {
			times[i] = primitives.DefaultTimeInterval()
		}
	}
	if len(times) != n {
		return nil, fmt.Errorf("%w: %d geometries, %d time intervals", ErrLengthMismatch, n, len(times))
	}
	c := &FeatureCollection[G]{
		Geometries: geometries,
		Times:      times,
		columns:    make(map[string]FeatureData, len(columns)),
	}
	for name, data := range columns {
		if data.Len() != n {
			return nil, fmt.Errorf("%w: column %s has %d values, expected %d", ErrLengthMismatch, name, data.Len(), n)
		}
		c.columnNames = append(c.columnNames, name)
		c.columns[name] = data
	}
	sort.Strings(c.columnNames)
	return c, nil
}

// MustNewFeatureCollection is for literals in tests and fixtures.
func MustNewFeatureCollection[G Geometry](geometries []G, times []primitives.TimeInterval, columns map[string]FeatureData) *FeatureCollection[G] {
	c, err := NewFeatureCollection(geometries, times, columns)
	if err != nil {
		panic(err)
	}
	return c
}

// NewDataCollection creates a collection without geometries.
func NewDataCollection(n int, times []primitives.TimeInterval, columns map[string]FeatureData) (*DataCollection, error) {
	return NewFeatureCollection(make([]NoGeometry, n), times, columns)
}

// NewEmptyFeatureCollection creates a collection with a schema but no features.
func NewEmptyFeatureCollection[G Geometry](columnTypes *orderedmap.OrderedMap[string, FeatureDataType]) *FeatureCollection[G] {
	c := &FeatureCollection[G]{
		Geometries: []G{},
		Times:      []primitives.TimeInterval{},
		columns:    make(map[string]FeatureData),
	}
	if columnTypes == nil {
		return c
	}
	for p := columnTypes.Oldest(); p != nil; p = p.Next() {
		c.columnNames = append(c.columnNames, p.Key)
		c.columns[p.Key] = emptyFeatureData(p.Value)
	}
	sort.Strings(c.columnNames)
	return c
}

func emptyFeatureData(t FeatureDataType) FeatureData {
	switch t {
	case Int:
		return IntData([]int64{})
	case Float:
		return FloatData([]float64{})
	case Text:
		return TextData([]string{})
	}
	return CategoryData([]uint8{})
}

func (c *FeatureCollection[G]) Len() int {
	return len(c.Geometries)
}

func (c *FeatureCollection[G]) IsEmpty() bool {
	return c.Len() == 0
}

func (c *FeatureCollection[G]) ColumnNames() []string {
	return slices.Clone(c.columnNames)
}

func (c *FeatureCollection[G]) ColumnTypes() *orderedmap.OrderedMap[string, FeatureDataType] {
	types := orderedmap.New[string, FeatureDataType]()
	for _, name := range c.columnNames {
		types.Set(name, c.columns[name].Type)
	}
	return types
}

func (c *FeatureCollection[G]) Data(name string) (FeatureData, error) {
	data, ok := c.columns[name]
	if !ok {
		return FeatureData{}, fmt.Errorf("%w: %s", ErrColumnDoesNotExist, name)
	}
	return data, nil
}

// AddColumn returns a new collection with the extra column.
func (c *FeatureCollection[G]) AddColumn(name string, data FeatureData) (*FeatureCollection[G], error) {
	if _, exists := c.columns[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrColumnAlreadyExists, name)
	}
	columns := make(map[string]FeatureData, len(c.columns)+1)
	for k, v := range c.columns {
		columns[k] = v
	}
	columns[name] = data
	return NewFeatureCollection(c.Geometries, c.Times, columns)
}

func (c *FeatureCollection[G]) sameSchema(other *FeatureCollection[G]) bool {
	if !slices.Equal(c.columnNames, other.columnNames) {
		return false
	}
	for _, name := range c.columnNames {
		if c.columns[name].Type != other.columns[name].Type {
			return false
		}
	}
	return true
}

// Append concatenates two collections with equal column names and types.
func (c *FeatureCollection[G]) Append(other *FeatureCollection[G]) (*FeatureCollection[G], error) {
	if !c.sameSchema(other) {
		return nil, fmt.Errorf("%w: %v and %v", ErrSchemaMismatch,
			mapslicehelp.OrderedMapKeys(c.ColumnTypes()), mapslicehelp.OrderedMapKeys(other.ColumnTypes()))
	}
	columns := make(map[string]FeatureData, len(c.columns))
	for _, name := range c.columnNames {
		data, err := c.columns[name].Append(other.columns[name])
		if err != nil {
			return nil, err
		}
		columns[name] = data
	}
	return NewFeatureCollection(concat(c.Geometries, other.Geometries), concat(c.Times, other.Times), columns)
}

// Take returns the features at indices in the given order.
func (c *FeatureCollection[G]) Take(indices []int) (*FeatureCollection[G], error) {
	for _, i := range indices {
		if i < 0 || i >= c.Len() {
			return nil, fmt.Errorf("%w: %d of %d", ErrFeatureIndexOutRange, i, c.Len())
		}
	}
	columns := make(map[string]FeatureData, len(c.columns))
	for name, data := range c.columns {
		columns[name] = data.Take(indices)
	}
	return NewFeatureCollection(take(c.Geometries, indices), take(c.Times, indices), columns)
}

// Filter keeps the features where mask is true.
func (c *FeatureCollection[G]) Filter(mask []bool) (*FeatureCollection[G], error) {
	if len(mask) != c.Len() {
		return nil, fmt.Errorf("%w: mask has %d entries for %d features", ErrLengthMismatch, len(mask), c.Len())
	}
	indices := make([]int, 0, c.Len())
	for i, keep := range mask {
		if keep {
			indices = append(indices, i)
		}
	}
	return c.Take(indices)
}

// SortByTimeAsc sorts stably by start, then end. The permutation maps new positions to old ones.
func (c *FeatureCollection[G]) SortByTimeAsc() (*FeatureCollection[G], []int, error) {
	perm := make([]int, c.Len())
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		ta, tb := c.Times[perm[a]], c.Times[perm[b]]
		if ta.Start != tb.Start {
			return ta.Start < tb.Start
		}
		return ta.End < tb.End
	})
	sorted, err := c.Take(perm)
	return sorted, perm, err
}

// FilterByBoundingBox keeps features with a vertex inside bbox. Data collections are returned unchanged.
func (c *FeatureCollection[G]) FilterByBoundingBox(bbox primitives.BoundingBox2D) (*FeatureCollection[G], error) {
	if VectorDataTypeOf[G]() == Data {
		return c, nil
	}
	mask := make([]bool, c.Len())
	for i, g := range c.Geometries {
		for _, coord := range Coordinates(g) {
			if bbox.ContainsCoordinate(primitives.NewCoordinate2D(coord[0], coord[1])) {
				mask[i] = true
				break
			}
		}
	}
	return c.Filter(mask)
}

// FilterByTime keeps features whose interval intersects t.
func (c *FeatureCollection[G]) FilterByTime(t primitives.TimeInterval) (*FeatureCollection[G], error) {
	mask := make([]bool, c.Len())
	for i, ti := range c.Times {
		mask[i] = ti.Intersects(t)
	}
	return c.Filter(mask)
}

// Bounds of all geometries. Reports false for data collections and empty ones.
func (c *FeatureCollection[G]) Bounds() (primitives.BoundingBox2D, bool) {
	var all []primitives.Coordinate2D
	for _, g := range c.Geometries {
		for _, coord := range Coordinates(g) {
			all = append(all, primitives.NewCoordinate2D(coord[0], coord[1]))
		}
	}
	return primitives.BoundingBoxFromCoordinates(all)
}

// MapGeometries returns a collection with every geometry transformed by fn.
func (c *FeatureCollection[G]) MapGeometries(fn func(G) (G, error)) (*FeatureCollection[G], error) {
	geometries := make([]G, c.Len())
	for i, g := range c.Geometries {
		mapped, err := fn(g)
		if err != nil {
			return nil, err
		}
		geometries[i] = mapped
	}
	return NewFeatureCollection(geometries, c.Times, c.columns)
}

// PayloadByteSize is the size of the features alone. Sizes add up when collections are appended.
func (c *FeatureCollection[G]) PayloadByteSize() int {
	size := len(c.Times) * timeIntervalSize
	for _, g := range c.Geometries {
		size += len(Coordinates(g)) * coordinateSize
	}
	for _, data := range c.columns {
		size += data.ByteSize()
	}
	return size
}

// ByteSize is the payload plus the schema overhead.
func (c *FeatureCollection[G]) ByteSize() int {
	size := collectionOverhead + c.PayloadByteSize()
	for _, name := range c.columnNames {
		size += columnOverhead + len(name)
	}
	return size
}

type geoJSONFeature struct {
	Type       string                  `json:"type"`
	Geometry   any                     `json:"geometry"`
	Properties map[string]any          `json:"properties"`
	When       primitives.TimeInterval `json:"when"`
}

// MarshalJSON encodes the collection as a GeoJSON feature collection with a "when" member per feature.
func (c *FeatureCollection[G]) MarshalJSON() ([]byte, error) {
	features := make([]geoJSONFeature, c.Len())
	for i, g := range c.Geometries {
		properties := make(map[string]any, len(c.columnNames))
		for _, name := range c.columnNames {
			properties[name] = c.columns[name].ValueAt(i)
		}
		var geometry any
		if gj := toGeoJSON(g); gj != nil {
			geometry = gj
		}
		features[i] = geoJSONFeature{Type: "Feature", Geometry: geometry, Properties: properties, When: c.Times[i]}
	}
	return json.Marshal(struct {
		Type     string           `json:"type"`
		Features []geoJSONFeature `json:"features"`
	}{Type: "FeatureCollection", Features: features})
}
