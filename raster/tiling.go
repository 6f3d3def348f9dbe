package raster

import (
	"github.com/pdok/geoflow/mathhelp"
	"github.com/pdok/geoflow/primitives"
)

// TilingSpecification fixes the global tile grid: where it starts and how large tiles are.
type TilingSpecification struct {
	OriginCoordinate primitives.Coordinate2D `json:"originCoordinate"`
	TileSizeInPixels GridShape2D             `json:"tileSizeInPixels"`
}

func NewTilingSpecification(origin primitives.Coordinate2D, tileSize GridShape2D) TilingSpecification {
	return TilingSpecification{OriginCoordinate: origin, TileSizeInPixels: tileSize}
}

// StrategyFor returns the tiling strategy for a query resolution.
func (s TilingSpecification) StrategyFor(resolution primitives.SpatialResolution) TilingStrategy {
	return TilingStrategy{
		TileSizeInPixels: s.TileSizeInPixels,
		GeoTransform: GeoTransform{
			OriginCoordinate: s.OriginCoordinate,
			XPixelSize:       resolution.X,
			YPixelSize:       -resolution.Y,
		},
	}
}

// TilingStrategy is a tiling specification bound to a resolution.
type TilingStrategy struct {
	TileSizeInPixels GridShape2D
	GeoTransform     GeoTransform
}

// TileGridBounds returns the global tile positions intersecting p.
func (s TilingStrategy) TileGridBounds(p primitives.SpatialPartition2D) GridBoundingBox2D {
	pixels := s.GeoTransform.SpatialToGridBounds(p)
	return GridBoundingBox2D{
		Min: s.pixelToTileIdx(pixels.Min),
		Max: s.pixelToTileIdx(pixels.Max),
	}
}

func (s TilingStrategy) pixelToTileIdx(idx GridIdx2D) GridIdx2D {
	return GridIdx2D{
		mathhelp.FloorDiv(idx.Y(), s.TileSizeInPixels.Y()),
		mathhelp.FloorDiv(idx.X(), s.TileSizeInPixels.X()),
	}
}

// TileInformations enumerates the tiles intersecting p in row-major order.
func (s TilingStrategy) TileInformations(p primitives.SpatialPartition2D) *TileInformationIterator {
	bounds := s.TileGridBounds(p)
	return &TileInformationIterator{
		strategy: s,
		bounds:   bounds,
		next:     bounds.Min,
	}
}

// TileInformationIterator is lazy: tiles are computed on demand.
type TileInformationIterator struct {
	strategy TilingStrategy
	bounds   GridBoundingBox2D
	next     GridIdx2D
	done     bool
}

// Next returns false when all tiles have been visited.
func (it *TileInformationIterator) Next() (TileInformation, bool) {
	if it.done {
		return TileInformation{}, false
	}
	current := it.next
	if current.X() < it.bounds.Max.X() {
		it.next = GridIdx2D{current.Y(), current.X() + 1}
	} else if current.Y() < it.bounds.Max.Y() {
		it.next = GridIdx2D{current.Y() + 1, it.bounds.Min.X()}
	} else {
		it.done = true
	}
	return TileInformation{
		GlobalSizeInTiles:  it.bounds.Shape(),
		GlobalTilePosition: current,
		TileSizeInPixels:   it.strategy.TileSizeInPixels,
		GlobalGeoTransform: it.strategy.GeoTransform,
	}, true
}

// Len is the total number of tiles, visited or not.
func (it *TileInformationIterator) Len() int {
	return it.bounds.Shape().NumberOfElements()
}

// All drains the iterator.
func (it *TileInformationIterator) All() []TileInformation {
	infos := make([]TileInformation, 0, it.Len())
	for info, ok := it.Next(); ok; info, ok = it.Next() {
		infos = append(infos, info)
	}
	return infos
}

// TileInformation locates a tile in the global pixel grid.
type TileInformation struct {
	GlobalSizeInTiles  GridShape2D  `json:"globalSizeInTiles"`
	GlobalTilePosition GridIdx2D    `json:"globalTilePosition"`
	TileSizeInPixels   GridShape2D  `json:"tileSizeInPixels"`
	GlobalGeoTransform GeoTransform `json:"globalGeoTransform"`
}

func (t TileInformation) GlobalPixelPosition() GridIdx2D {
	return GridIdx2D{
		t.GlobalTilePosition.Y() * t.TileSizeInPixels.Y(),
		t.GlobalTilePosition.X() * t.TileSizeInPixels.X(),
	}
}

// GlobalPixelBounds returns the tile's pixels in global pixel indices.
func (t TileInformation) GlobalPixelBounds() GridBoundingBox2D {
	ul := t.GlobalPixelPosition()
	return GridBoundingBox2D{
		Min: ul,
		Max: ul.Add(GridIdx2D{t.TileSizeInPixels.Y() - 1, t.TileSizeInPixels.X() - 1}),
	}
}

// TileGeoTransform has its origin at the tile's upper left corner.
func (t TileInformation) TileGeoTransform() GeoTransform {
	return GeoTransform{
		OriginCoordinate: t.GlobalGeoTransform.GridIdxToUpperLeftCoordinate(t.GlobalPixelPosition()),
		XPixelSize:       t.GlobalGeoTransform.XPixelSize,
		YPixelSize:       t.GlobalGeoTransform.YPixelSize,
	}
}

func (t TileInformation) SpatialPartition() primitives.SpatialPartition2D {
	return t.GlobalGeoTransform.GridToSpatialBounds(t.GlobalPixelBounds())
}

// LocalToGlobalIdx converts a pixel index inside the tile into a global pixel index.
func (t TileInformation) LocalToGlobalIdx(idx GridIdx2D) GridIdx2D {
	return t.GlobalPixelPosition().Add(idx)
}

func (t TileInformation) GlobalToLocalIdx(idx GridIdx2D) GridIdx2D {
	return idx.Sub(t.GlobalPixelPosition())
}
