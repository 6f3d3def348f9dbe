package raster

import (
	"fmt"
	"strings"

	"github.com/pdok/geoflow/primitives"
)

// PropertiesKey identifies a metadata entry, rendered as "domain.key".
type PropertiesKey struct {
	Domain string
	Key    string
}

func (k PropertiesKey) String() string {
	if k.Domain == "" {
		return k.Key
	}
	return k.Domain + "." + k.Key
}

func (k PropertiesKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PropertiesKey) UnmarshalText(text []byte) error {
	s := string(text)
	if i := strings.LastIndex(s, "."); i >= 0 {
		*k = PropertiesKey{Domain: s[:i], Key: s[i+1:]}
		return nil
	}
	*k = PropertiesKey{Key: s}
	return nil
}

// Properties is metadata attached to a tile.
type Properties struct {
	Scale       *float64              `json:"scale,omitempty"`
	Offset      *float64              `json:"offset,omitempty"`
	Description string                `json:"description,omitempty"`
	Values      map[PropertiesKey]any `json:"properties,omitempty"`
}

func (p *Properties) Set(key PropertiesKey, value any) {
	if p.Values == nil {
		p.Values = make(map[PropertiesKey]any)
	}
	p.Values[key] = value
}

// NumberProperty looks up a numeric property. The keys "scale" and "offset" resolve to the dedicated fields.
func (p Properties) NumberProperty(key PropertiesKey) (float64, error) {
	if key.Domain == "" {
		switch key.Key {
		case "scale":
			if p.Scale == nil {
				return 0, fmt.Errorf("tile has no scale")
			}
			return *p.Scale, nil
		case "offset":
			if p.Offset == nil {
				return 0, fmt.Errorf("tile has no offset")
			}
			return *p.Offset, nil
		}
	}
	v, ok := p.Values[key]
	if !ok {
		return 0, fmt.Errorf(`tile has no property "%s"`, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	}
	return 0, fmt.Errorf(`property "%s" is not a number: %T`, key, v)
}

func (p Properties) Clone() Properties {
	c := Properties{Description: p.Description}
	if p.Scale != nil {
		s := *p.Scale
		c.Scale = &s
	}
	if p.Offset != nil {
		o := *p.Offset
		c.Offset = &o
	}
	for k, v := range p.Values {
		c.Set(k, v)
	}
	return c
}

// Tile2D is one tile of a raster stream.
type Tile2D[T Pixel] struct {
	Time       primitives.TimeInterval
	TileInfo   TileInformation
	Grid       Grid2D[T]
	Properties Properties
}

func NewTile2D[T Pixel](time primitives.TimeInterval, info TileInformation, grid Grid2D[T]) (*Tile2D[T], error) {
	if grid.Shape != info.TileSizeInPixels {
		return nil, fmt.Errorf("%w: grid shape %v differs from tile size %v",
			ErrDimensionCapacityDiff, grid.Shape, info.TileSizeInPixels)
	}
	return &Tile2D[T]{Time: time, TileInfo: info, Grid: grid}, nil
}

// NewEmptyTile2D creates a tile without data.
func NewEmptyTile2D[T Pixel](time primitives.TimeInterval, info TileInformation, noDataValue *T) *Tile2D[T] {
	return &Tile2D[T]{Time: time, TileInfo: info, Grid: NewEmptyGrid2D(info.TileSizeInPixels, noDataValue)}
}

func (t *Tile2D[T]) IsEmpty() bool {
	return t.Grid.IsEmpty()
}

func (t *Tile2D[T]) TilePosition() GridIdx2D {
	return t.TileInfo.GlobalTilePosition
}

func (t *Tile2D[T]) SpatialPartition() primitives.SpatialPartition2D {
	return t.TileInfo.SpatialPartition()
}

func (t *Tile2D[T]) TileGeoTransform() GeoTransform {
	return t.TileInfo.TileGeoTransform()
}

// Clone returns a deep copy.
func (t *Tile2D[T]) Clone() *Tile2D[T] {
	return &Tile2D[T]{
		Time:       t.Time,
		TileInfo:   t.TileInfo,
		Grid:       t.Grid.Clone(),
		Properties: t.Properties.Clone(),
	}
}

// ConvertTile converts every value of a tile to another pixel type. No-data stays no-data.
func ConvertTile[In, Out Pixel](t *Tile2D[In]) *Tile2D[Out] {
	var noData *Out
	if t.Grid.NoDataValue != nil {
		noData = NoData(FromFloat64[Out](float64(*t.Grid.NoDataValue)))
	}
	out := &Tile2D[Out]{
		Time:       t.Time,
		TileInfo:   t.TileInfo,
		Grid:       NewEmptyGrid2D(t.Grid.Shape, noData),
		Properties: t.Properties.Clone(),
	}
	if t.Grid.IsEmpty() {
		return out
	}
	out.Grid.Data = make([]Out, len(t.Grid.Data))
	for i, v := range t.Grid.Data {
		if t.Grid.IsNoData(v) {
			out.Grid.Data[i] = *noData
			continue
		}
		out.Grid.Data[i] = FromFloat64[Out](float64(v))
	}
	return out
}
