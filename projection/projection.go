// Package projection converts coordinates, geometries and query bounds between spatial references.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-spatial/proj"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/geomhelp"
	"github.com/pdok/geoflow/primitives"
)

var (
	ErrUnsupportedSpatialReference = errors.New("unsupported spatial reference")
	ErrUnprojectable               = errors.New("coordinate cannot be projected")
)

// densification is the number of samples per bounding box edge when projecting bounds.
const densification = 20

var supported = map[uint32]proj.EPSGCode{
	4326:   proj.EPSG4326,
	3857:   proj.EPSG3857,
	900913: proj.EPSG3857,
	3395:   proj.EPSG3395,
	4087:   proj.EPSG4087,
}

// areasOfUse are the valid extents in EPSG:4326 longitude/latitude.
var areasOfUse = map[proj.EPSGCode]primitives.BoundingBox2D{
	proj.EPSG4326: primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(-180, -90), primitives.NewCoordinate2D(180, 90)),
	proj.EPSG3857: primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(-180, -85.06), primitives.NewCoordinate2D(180, 85.06)),
	proj.EPSG3395: primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(-180, -80), primitives.NewCoordinate2D(180, 84)),
	proj.EPSG4087: primitives.NewBoundingBox2DUnchecked(primitives.NewCoordinate2D(-180, -90), primitives.NewCoordinate2D(180, 90)),
}

func epsgCode(sref primitives.SpatialReference) (proj.EPSGCode, error) {
	if sref.Authority != "EPSG" {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSpatialReference, sref)
	}
	code, ok := supported[sref.Code]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSpatialReference, sref)
	}
	return code, nil
}

// IsSupported reports whether sref can be projected from and to.
func IsSupported(sref primitives.SpatialReference) bool {
	_, err := epsgCode(sref)
	return err == nil
}

// CoordinateProjector projects coordinates between two spatial references, via EPSG:4326.
type CoordinateProjector struct {
	From, To primitives.SpatialReference
	from, to proj.EPSGCode
}

func NewCoordinateProjector(from, to primitives.SpatialReference) (*CoordinateProjector, error) {
	fromCode, err := epsgCode(from)
	if err != nil {
		return nil, err
	}
	toCode, err := epsgCode(to)
	if err != nil {
		return nil, err
	}
	return &CoordinateProjector{From: from, To: to, from: fromCode, to: toCode}, nil
}

func (p *CoordinateProjector) IsIdentity() bool {
	return p.from == p.to
}

// ProjectFlat projects interleaved x,y pairs.
func (p *CoordinateProjector) ProjectFlat(xy []float64) ([]float64, error) {
	if p.IsIdentity() || len(xy) == 0 {
		return append([]float64(nil), xy...), nil
	}
	lonLat := xy
	var err error
	if p.from != proj.EPSG4326 {
		if lonLat, err = proj.Inverse(p.from, xy); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnprojectable, err)
		}
	}
	out := lonLat
	if p.to != proj.EPSG4326 {
		if out, err = proj.Convert(p.to, lonLat); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnprojectable, err)
		}
	} else if p.from == proj.EPSG4326 {
		out = append([]float64(nil), lonLat...)
	}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrUnprojectable
		}
	}
	return out, nil
}

func (p *CoordinateProjector) Project(c primitives.Coordinate2D) (primitives.Coordinate2D, error) {
	out, err := p.ProjectFlat([]float64{c.X, c.Y})
	if err != nil {
		return primitives.Coordinate2D{}, fmt.Errorf("%w: %v from %s to %s", err, c, p.From, p.To)
	}
	return primitives.NewCoordinate2D(out[0], out[1]), nil
}

// ProjectCoordinates projects all coordinates at once. One unprojectable coordinate fails the batch.
func (p *CoordinateProjector) ProjectCoordinates(coords []primitives.Coordinate2D) ([]primitives.Coordinate2D, error) {
	flat := make([]float64, 0, 2*len(coords))
	for _, c := range coords {
		flat = append(flat, c.X, c.Y)
	}
	out, err := p.ProjectFlat(flat)
	if err != nil {
		return nil, err
	}
	projected := make([]primitives.Coordinate2D, len(coords))
	for i := range projected {
		projected[i] = primitives.NewCoordinate2D(out[2*i], out[2*i+1])
	}
	return projected, nil
}

// ProjectGeometry projects every vertex of g.
func ProjectGeometry[G collections.Geometry](p *CoordinateProjector, g G) (G, error) {
	if p.IsIdentity() {
		return g, nil
	}
	projected, err := collections.MapCoordinates(g, func(c [2]float64) ([2]float64, error) {
		out, err := p.ProjectFlat(c[:])
		if err != nil {
			return c, err
		}
		return [2]float64{out[0], out[1]}, nil
	})
	if err != nil {
		return projected, fmt.Errorf("%w: geometry %s from %s to %s", err, geomhelp.WKT(g, geomhelp.DefaultMaxLen), p.From, p.To)
	}
	return projected, nil
}

// ProjectCollection projects all geometries of a collection.
func ProjectCollection[G collections.Geometry](p *CoordinateProjector, c *collections.FeatureCollection[G]) (*collections.FeatureCollection[G], error) {
	if p.IsIdentity() {
		return c, nil
	}
	return c.MapGeometries(func(g G) (G, error) {
		return ProjectGeometry(p, g)
	})
}

// densifiedOutline samples the edges of b, densification points per edge.
func densifiedOutline(b primitives.BoundingBox2D) []primitives.Coordinate2D {
	ll, ur := b.LowerLeft, b.UpperRight
	points := make([]primitives.Coordinate2D, 0, 4*densification)
	for i := 0; i < densification; i++ {
		f := float64(i) / float64(densification)
		x := ll.X + f*(ur.X-ll.X)
		y := ll.Y + f*(ur.Y-ll.Y)
		points = append(points,
			primitives.NewCoordinate2D(x, ll.Y),
			primitives.NewCoordinate2D(ur.X, y),
			primitives.NewCoordinate2D(ur.X-(x-ll.X), ur.Y),
			primitives.NewCoordinate2D(ll.X, ur.Y-(y-ll.Y)),
		)
	}
	return points
}

// ProjectBoundingBox projects the densified outline of b and returns its envelope.
// Outline points that cannot be projected are skipped.
func (p *CoordinateProjector) ProjectBoundingBox(b primitives.BoundingBox2D) (primitives.BoundingBox2D, error) {
	if p.IsIdentity() {
		return b, nil
	}
	var projected []primitives.Coordinate2D
	for _, c := range densifiedOutline(b) {
		pc, err := p.Project(c)
		if err != nil {
			continue
		}
		projected = append(projected, pc)
	}
	bbox, ok := primitives.BoundingBoxFromCoordinates(projected)
	if !ok {
		return primitives.BoundingBox2D{}, fmt.Errorf("%w: bounding box %v from %s to %s", ErrUnprojectable, b, p.From, p.To)
	}
	return bbox, nil
}

func (p *CoordinateProjector) ProjectPartition(s primitives.SpatialPartition2D) (primitives.SpatialPartition2D, error) {
	bbox, err := p.ProjectBoundingBox(s.AsBoundingBox())
	if err != nil {
		return primitives.SpatialPartition2D{}, err
	}
	return primitives.PartitionFromBoundingBox(bbox)
}

// SuggestResolution estimates the resolution in the target reference that matches resolution over b,
// by comparing the diagonals of b before and after projection.
func (p *CoordinateProjector) SuggestResolution(b primitives.BoundingBox2D, resolution primitives.SpatialResolution) (primitives.SpatialResolution, error) {
	if p.IsIdentity() {
		return resolution, nil
	}
	diagPixels := math.Sqrt(math.Pow(b.SizeX()/resolution.X, 2) + math.Pow(b.SizeY()/resolution.Y, 2))
	if diagPixels == 0 {
		return primitives.SpatialResolution{}, fmt.Errorf("%w: empty bounding box %v", primitives.ErrInvalidResolution, b)
	}
	corners, err := p.ProjectCoordinates([]primitives.Coordinate2D{
		b.UpperLeft(), b.LowerRight(), b.LowerLeft, b.UpperRight,
	})
	if err != nil {
		return primitives.SpatialResolution{}, err
	}
	diag := min(corners[0].Distance(corners[1]), corners[2].Distance(corners[3]))
	size := diag / diagPixels
	return primitives.NewSpatialResolution(size, size)
}

// AreaOfUse returns the valid extent of sref in its own coordinates.
func AreaOfUse(sref primitives.SpatialReference) (primitives.BoundingBox2D, error) {
	code, err := epsgCode(sref)
	if err != nil {
		return primitives.BoundingBox2D{}, err
	}
	p, err := NewCoordinateProjector(primitives.Epsg4326(), sref)
	if err != nil {
		return primitives.BoundingBox2D{}, err
	}
	return p.ProjectBoundingBox(areasOfUse[code])
}

// ValidBounds returns the part of the To reference that lies in the area of use of both references,
// in To coordinates. It reports false when the areas do not overlap.
func (p *CoordinateProjector) ValidBounds() (primitives.BoundingBox2D, bool, error) {
	common, ok := areasOfUse[p.from].Intersection(areasOfUse[p.to])
	if !ok {
		return primitives.BoundingBox2D{}, false, nil
	}
	toDegrees, err := NewCoordinateProjector(primitives.Epsg4326(), p.To)
	if err != nil {
		return primitives.BoundingBox2D{}, false, err
	}
	bounds, err := toDegrees.ProjectBoundingBox(common)
	if err != nil {
		return primitives.BoundingBox2D{}, false, err
	}
	return bounds, true, nil
}
