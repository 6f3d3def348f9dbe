package engine

import (
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/mapslicehelp"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// RasterResultDescriptor describes the output of a raster operator.
type RasterResultDescriptor struct {
	DataType         raster.DataType                `json:"dataType"`
	SpatialReference primitives.SpatialReference    `json:"spatialReference"`
	Measurement      primitives.Measurement         `json:"measurement"`
	NoDataValue      *float64                       `json:"noDataValue,omitempty"`
	Bbox             *primitives.SpatialPartition2D `json:"bbox,omitempty"`
	Resolution       *primitives.SpatialResolution  `json:"resolution,omitempty"`
}

// VectorResultDescriptor describes the output of a vector operator. Columns keep their order.
type VectorResultDescriptor struct {
	DataType         collections.VectorDataType                                  `json:"dataType"`
	SpatialReference primitives.SpatialReference                                 `json:"spatialReference"`
	Columns          *orderedmap.OrderedMap[string, collections.FeatureDataType] `json:"columns"`
}

func NewVectorResultDescriptor(dataType collections.VectorDataType, sref primitives.SpatialReference, columns map[string]collections.FeatureDataType) VectorResultDescriptor {
	return VectorResultDescriptor{
		DataType:         dataType,
		SpatialReference: sref,
		Columns:          mapslicehelp.SortedOrderedMap(columns),
	}
}

// ColumnType reports false if the column does not exist.
func (d VectorResultDescriptor) ColumnType(name string) (collections.FeatureDataType, bool) {
	if d.Columns == nil {
		return "", false
	}
	return d.Columns.Get(name)
}

// WithColumn returns a copy with an extra column.
func (d VectorResultDescriptor) WithColumn(name string, t collections.FeatureDataType) VectorResultDescriptor {
	columns := orderedmap.New[string, collections.FeatureDataType]()
	if d.Columns != nil {
		for p := d.Columns.Oldest(); p != nil; p = p.Next() {
			columns.Set(p.Key, p.Value)
		}
	}
	columns.Set(name, t)
	d.Columns = columns
	return d
}

type PlotResultDescriptor struct {
	SpatialReference primitives.SpatialReference `json:"spatialReference"`
}
