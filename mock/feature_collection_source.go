package mock

import (
	"context"
	"fmt"
	"io"

	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
)

type MockFeatureCollectionSourceParams[G collections.Geometry] struct {
	Collections      []*collections.FeatureCollection[G] `json:"collections"`
	SpatialReference primitives.SpatialReference         `json:"spatialReference"`
}

// MockFeatureCollectionSource serves fixed collections, each filtered to the query bounds and time.
// Collections without remaining features are skipped.
type MockFeatureCollectionSource[G collections.Geometry] struct {
	engine.Operator[MockFeatureCollectionSourceParams[G]]
}

func NewMockFeatureCollectionSource[G collections.Geometry](sref primitives.SpatialReference, cs ...*collections.FeatureCollection[G]) *MockFeatureCollectionSource[G] {
	s := &MockFeatureCollectionSource[G]{}
	s.Params = MockFeatureCollectionSourceParams[G]{Collections: cs, SpatialReference: sref}
	return s
}

func (s *MockFeatureCollectionSource[G]) TypeName() string {
	return "MockFeatureCollectionSource"
}

func (s *MockFeatureCollectionSource[G]) InitializeVector(context.Context, engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	cs := s.Params.Collections
	descriptor := engine.NewVectorResultDescriptor(collections.VectorDataTypeOf[G](), s.Params.SpatialReference, nil)
	if len(cs) > 0 {
		descriptor.Columns = cs[0].ColumnTypes()
		for _, c := range cs[1:] {
			if !sameColumns(cs[0], c) {
				return nil, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf("collections have different columns: %v and %v", cs[0].ColumnNames(), c.ColumnNames())}
			}
		}
	}
	return &engine.InitializedVector{
		Descriptor: descriptor,
		Processor:  engine.NewTypedVectorQueryProcessor[G](&MockFeatureCollectionSourceProcessor[G]{Collections: cs}),
	}, nil
}

func sameColumns[G collections.Geometry](a, b *collections.FeatureCollection[G]) bool {
	ta, tb := a.ColumnTypes(), b.ColumnTypes()
	if ta.Len() != tb.Len() {
		return false
	}
	for p := ta.Oldest(); p != nil; p = p.Next() {
		if t, ok := tb.Get(p.Key); !ok || t != p.Value {
			return false
		}
	}
	return true
}

type MockFeatureCollectionSourceProcessor[G collections.Geometry] struct {
	Collections []*collections.FeatureCollection[G]
}

func (p *MockFeatureCollectionSourceProcessor[G]) VectorQuery(_ context.Context, query primitives.VectorQueryRectangle, _ engine.QueryContext) (engine.Stream[*collections.FeatureCollection[G]], error) {
	i := 0
	return engine.Terminating(func(context.Context) (*collections.FeatureCollection[G], error) {
		for i < len(p.Collections) {
			c := p.Collections[i]
			i++
			filtered, err := c.FilterByBoundingBox(query.SpatialBounds)
			if err != nil {
				return nil, err
			}
			if filtered, err = filtered.FilterByTime(query.TimeInterval); err != nil {
				return nil, err
			}
			if !filtered.IsEmpty() {
				return filtered, nil
			}
		}
		return nil, io.EOF
	}), nil
}
