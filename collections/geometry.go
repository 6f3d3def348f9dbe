package collections

import (
	"encoding/json"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/pdok/geoflow/primitives"
)

// NoGeometry is the geometry of data-only collections.
type NoGeometry struct{}

// Geometry is the set of geometry types a feature collection can hold.
type Geometry interface {
	NoGeometry | geom.MultiPoint | geom.MultiLineString | geom.MultiPolygon
}

type VectorDataType string

const (
	Data            VectorDataType = "Data"
	MultiPoint      VectorDataType = "MultiPoint"
	MultiLineString VectorDataType = "MultiLineString"
	MultiPolygon    VectorDataType = "MultiPolygon"
)

func ParseVectorDataType(s string) (VectorDataType, error) {
	switch t := VectorDataType(s); t {
	case Data, MultiPoint, MultiLineString, MultiPolygon:
		return t, nil
	}
	return "", fmt.Errorf(`unknown vector data type "%s"`, s)
}

func (t *VectorDataType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVectorDataType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func VectorDataTypeOf[G Geometry]() VectorDataType {
	var zero G
	switch any(zero).(type) {
	case geom.MultiPoint:
		return MultiPoint
	case geom.MultiLineString:
		return MultiLineString
	case geom.MultiPolygon:
		return MultiPolygon
	}
	return Data
}

// Coordinates flattens all vertices of g.
func Coordinates[G Geometry](g G) [][2]float64 {
	switch t := any(g).(type) {
	case geom.MultiPoint:
		return t
	case geom.MultiLineString:
		var coords [][2]float64
		for _, line := range t {
			coords = append(coords, line...)
		}
		return coords
	case geom.MultiPolygon:
		var coords [][2]float64
		for _, polygon := range t {
			for _, ring := range polygon {
				coords = append(coords, ring...)
			}
		}
		return coords
	}
	return nil
}

// GeometryBounds reports false for geometries without coordinates.
func GeometryBounds[G Geometry](g G) (primitives.BoundingBox2D, bool) {
	coords := Coordinates(g)
	if len(coords) == 0 {
		return primitives.BoundingBox2D{}, false
	}
	points := make([]primitives.Coordinate2D, len(coords))
	for i, c := range coords {
		points[i] = primitives.NewCoordinate2D(c[0], c[1])
	}
	return primitives.BoundingBoxFromCoordinates(points)
}

// MapCoordinates applies fn to every vertex, keeping the structure of g.
func MapCoordinates[G Geometry](g G, fn func([2]float64) ([2]float64, error)) (G, error) {
	var err error
	mapRing := func(ring [][2]float64) [][2]float64 {
		out := make([][2]float64, len(ring))
		for i, c := range ring {
			if err != nil {
				return out
			}
			out[i], err = fn(c)
		}
		return out
	}

	var mapped any
	switch t := any(g).(type) {
	case geom.MultiPoint:
		mapped = geom.MultiPoint(mapRing(t))
	case geom.MultiLineString:
		lines := make(geom.MultiLineString, len(t))
		for i, line := range t {
			lines[i] = mapRing(line)
		}
		mapped = lines
	case geom.MultiPolygon:
		polygons := make(geom.MultiPolygon, len(t))
		for i, polygon := range t {
			polygons[i] = make([][][2]float64, len(polygon))
			for j, ring := range polygon {
				polygons[i][j] = mapRing(ring)
			}
		}
		mapped = polygons
	default:
		return g, nil
	}
	if err != nil {
		var zero G
		return zero, err
	}
	return mapped.(G), nil
}

func toGeoJSON[G Geometry](g G) *geojson.Geometry {
	switch t := any(g).(type) {
	case geom.MultiPoint:
		return &geojson.Geometry{Geometry: t}
	case geom.MultiLineString:
		return &geojson.Geometry{Geometry: t}
	case geom.MultiPolygon:
		return &geojson.Geometry{Geometry: t}
	}
	return nil
}
