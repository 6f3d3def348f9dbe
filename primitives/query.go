package primitives

// SpatialBounds are the spatial parts of a query rectangle.
type SpatialBounds interface {
	BoundingBox2D | SpatialPartition2D
}

// QueryRectangle describes one pull against a query processor.
type QueryRectangle[B SpatialBounds] struct {
	SpatialBounds     B                 `json:"spatialBounds"`
	TimeInterval      TimeInterval      `json:"timeInterval"`
	SpatialResolution SpatialResolution `json:"spatialResolution"`
}

type (
	VectorQueryRectangle = QueryRectangle[BoundingBox2D]
	RasterQueryRectangle = QueryRectangle[SpatialPartition2D]
	PlotQueryRectangle   = QueryRectangle[BoundingBox2D]
)

// RasterQueryFromVector converts the bounding box to a partition. A bounding box without width or height
// is widened by one resolution step around its center in that dimension.
func RasterQueryFromVector(q VectorQueryRectangle) (RasterQueryRectangle, error) {
	upperLeft, lowerRight := q.SpatialBounds.UpperLeft(), q.SpatialBounds.LowerRight()
	if q.SpatialBounds.SizeX() == 0 {
		upperLeft.X -= q.SpatialResolution.X / 2
		lowerRight.X += q.SpatialResolution.X / 2
	}
	if q.SpatialBounds.SizeY() == 0 {
		upperLeft.Y += q.SpatialResolution.Y / 2
		lowerRight.Y -= q.SpatialResolution.Y / 2
	}
	partition, err := NewSpatialPartition2D(upperLeft, lowerRight)
	if err != nil {
		return RasterQueryRectangle{}, err
	}
	return RasterQueryRectangle{
		SpatialBounds:     partition,
		TimeInterval:      q.TimeInterval,
		SpatialResolution: q.SpatialResolution,
	}, nil
}

func VectorQueryFromRaster(q RasterQueryRectangle) VectorQueryRectangle {
	return VectorQueryRectangle{
		SpatialBounds:     q.SpatialBounds.AsBoundingBox(),
		TimeInterval:      q.TimeInterval,
		SpatialResolution: q.SpatialResolution,
	}
}

// WithTimeInterval returns a copy restricted to another time interval.
func (q QueryRectangle[B]) WithTimeInterval(t TimeInterval) QueryRectangle[B] {
	q.TimeInterval = t
	return q
}
