// Package geomhelp renders geometries for logs, error messages and line oriented output.
package geomhelp

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

// DefaultMaxLen is the length geometries are cut to in error messages.
const DefaultMaxLen = 120

// WKT encodes g as well-known text. Longer texts are cut to maxLen with a "..." tail; 0 keeps everything.
// Values that are not geometries are formatted with %v.
func WKT(g any, maxLen uint) string {
	var s string
	switch t := g.(type) {
	case geom.Point, geom.MultiPoint, geom.LineString, geom.MultiLineString, geom.Polygon, geom.MultiPolygon:
		s = wkt.MustEncode(t)
	default:
		s = fmt.Sprintf("%v", g)
	}
	if maxLen == 0 {
		return s
	}
	return truncate.StringWithTail(s, maxLen, "...")
}

// Vertices counts the coordinates of g.
func Vertices(g any) int {
	switch t := g.(type) {
	case geom.Point:
		return 1
	case geom.MultiPoint:
		return len(t)
	case geom.LineString:
		return len(t)
	case geom.MultiLineString:
		n := 0
		for _, line := range t {
			n += len(line)
		}
		return n
	case geom.Polygon:
		n := 0
		for _, ring := range t {
			n += len(ring)
		}
		return n
	case geom.MultiPolygon:
		n := 0
		for _, polygon := range t {
			n += Vertices(geom.Polygon(polygon))
		}
		return n
	}
	return 0
}
