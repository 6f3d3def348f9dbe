package collections

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func points(coords ...[2]float64) []geom.MultiPoint {
	mp := make([]geom.MultiPoint, len(coords))
	for i, c := range coords {
		mp[i] = geom.MultiPoint{c}
	}
	return mp
}

func intervals(pairs ...[2]primitives.TimeInstance) []primitives.TimeInterval {
	ti := make([]primitives.TimeInterval, len(pairs))
	for i, p := range pairs {
		ti[i] = primitives.NewTimeIntervalUnchecked(p[0], p[1])
	}
	return ti
}

func ptr[T any](v T) *T {
	return &v
}

func TestNewFeatureCollection(t *testing.T) {
	_, err := NewFeatureCollection(points([2]float64{0, 0}, [2]float64{1, 1}), nil,
		map[string]FeatureData{"a": IntData([]int64{1})})
	require.ErrorIs(t, err, ErrLengthMismatch)

	c, err := NewFeatureCollection(points([2]float64{0, 0}, [2]float64{1, 1}), nil,
		map[string]FeatureData{"b": IntData([]int64{1, 2}), "a": TextData([]string{"x", "y"})})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.ColumnNames())
	assert.Equal(t, primitives.DefaultTimeInterval(), c.Times[1])

	_, err = c.Data("c")
	assert.ErrorIs(t, err, ErrColumnDoesNotExist)

	_, err = c.AddColumn("a", IntData([]int64{1, 2}))
	assert.ErrorIs(t, err, ErrColumnAlreadyExists)

	added, err := c.AddColumn("c", FloatData([]float64{0.5, 1.5}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, added.ColumnNames())
	assert.Equal(t, []string{"a", "b"}, c.ColumnNames())
}

func TestFeatureCollection_Append(t *testing.T) {
	a := MustNewFeatureCollection(points([2]float64{0, 0}), nil,
		map[string]FeatureData{"v": IntData([]int64{1})})
	b := MustNewFeatureCollection(points([2]float64{1, 1}), nil,
		map[string]FeatureData{"v": NullableIntData([]*int64{nil})})

	got, err := a.Append(b)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	v, err := got.Data("v")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, v.Nulls)
	assert.Equal(t, a.PayloadByteSize()+b.PayloadByteSize(), got.PayloadByteSize())

	other := MustNewFeatureCollection(points([2]float64{1, 1}), nil,
		map[string]FeatureData{"v": FloatData([]float64{1})})
	_, err = a.Append(other)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestFeatureCollection_SortByTimeAsc(t *testing.T) {
	c := MustNewFeatureCollection(
		points([2]float64{0, 0}, [2]float64{1, 1}, [2]float64{2, 2}, [2]float64{3, 3}),
		intervals([2]primitives.TimeInstance{10, 20}, [2]primitives.TimeInstance{0, 10},
			[2]primitives.TimeInstance{10, 15}, [2]primitives.TimeInstance{0, 10}),
		map[string]FeatureData{"id": IntData([]int64{0, 1, 2, 3})},
	)
	sorted, perm, err := c.SortByTimeAsc()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2, 0}, perm)
	ids, err := sorted.Data("id")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2, 0}, ids.Ints)
}

func TestFeatureCollection_FilterByBoundingBox(t *testing.T) {
	c := MustNewFeatureCollection(points([2]float64{0, 0}, [2]float64{5, 5}, [2]float64{1, 1}), nil, nil)
	bbox := primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(0, 0), primitives.NewCoordinate2D(2, 2))
	got, err := c.FilterByBoundingBox(bbox)
	require.NoError(t, err)
	assert.Equal(t, points([2]float64{0, 0}, [2]float64{1, 1}), got.Geometries)

	bounds, ok := c.Bounds()
	require.True(t, ok)
	assert.Equal(t, primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(0, 0), primitives.NewCoordinate2D(5, 5)), bounds)

	data, err := NewDataCollection(2, nil, nil)
	require.NoError(t, err)
	_, ok = data.Bounds()
	assert.False(t, ok)
	filtered, err := data.FilterByBoundingBox(bbox)
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.Len())
}

func TestMapCoordinates(t *testing.T) {
	shift := func(c [2]float64) ([2]float64, error) {
		return [2]float64{c[0] + 1, c[1] - 1}, nil
	}
	tests := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"multipoint", func(t *testing.T) {
			got, err := MapCoordinates(geom.MultiPoint{{0, 0}, {1, 1}}, shift)
			require.NoError(t, err)
			assert.Equal(t, geom.MultiPoint{{1, -1}, {2, 0}}, got)
		}},
		{"multilinestring", func(t *testing.T) {
			got, err := MapCoordinates(geom.MultiLineString{{{0, 0}, {1, 1}}}, shift)
			require.NoError(t, err)
			assert.Equal(t, geom.MultiLineString{{{1, -1}, {2, 0}}}, got)
		}},
		{"multipolygon", func(t *testing.T) {
			got, err := MapCoordinates(geom.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}, shift)
			require.NoError(t, err)
			assert.Equal(t, geom.MultiPolygon{{{{1, -1}, {2, -1}, {2, 0}, {1, -1}}}}, got)
		}},
		{"error", func(t *testing.T) {
			_, err := MapCoordinates(geom.MultiPoint{{0, 0}}, func([2]float64) ([2]float64, error) {
				return [2]float64{}, fmt.Errorf("boom")
			})
			require.Error(t, err)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.run)
	}
}

func TestFeatureData(t *testing.T) {
	d := NullableFloatData([]*float64{ptr(1.0), nil, ptr(3.0)})
	v, ok := d.FloatAt(1)
	assert.False(t, ok)
	assert.Zero(t, v)
	v, ok = d.FloatAt(2)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.Nil(t, d.ValueAt(1))

	_, ok = TextData([]string{"a"}).FloatAt(0)
	assert.False(t, ok)

	texts := NullableTextData([]*string{nil, ptr("b")})
	assert.True(t, texts.IsNull(0))
	assert.Equal(t, "b", texts.ValueAt(1))

	_, err := IntData([]int64{1}).Append(FloatData([]float64{1}))
	assert.ErrorIs(t, err, ErrFeatureDataMismatch)
}

func TestFeatureCollection_MarshalJSON(t *testing.T) {
	c := MustNewFeatureCollection(points([2]float64{1, 2}),
		intervals([2]primitives.TimeInstance{0, 1}),
		map[string]FeatureData{"v": NullableIntData([]*int64{nil})})
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "MultiPoint", "coordinates": [[1, 2]]},
			"properties": {"v": null},
			"when": {"start": 0, "end": 1}
		}]
	}`, string(raw))
}
