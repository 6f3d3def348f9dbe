// Package tms20 reads OGC Tile Matrix Sets (v2.0) and maps their tile matrices onto raster tiling
// specifications and query rectangles.
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/perimeterx/marshmallow"
)

var (
	ErrUnknownTileMatrix         = errors.New("unknown tile matrix")
	ErrUnsupportedCRS            = errors.New("unsupported crs")
	ErrUnsupportedCornerOfOrigin = errors.New("only tile matrices with a top left corner of origin can be used as tiling")
	ErrVariableMatrixWidths      = errors.New("variable matrix widths are not supported")
	ErrTileOutOfMatrix           = errors.New("tile is outside of the tile matrix")
)

var (
	//go:embed tilematrixsets/*.json
	embeddedFS embed.FS

	embeddedMu    sync.Mutex
	embeddedCache = make(map[string]TileMatrixSet)

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// EmbeddedIDs lists the tile matrix sets that ship with the binary.
func EmbeddedIDs() []string {
	entries, err := embeddedFS.ReadDir("tilematrixsets")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids
}

func LoadEmbedded(id string) (TileMatrixSet, error) {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	if tms, ok := embeddedCache[id]; ok {
		return tms, nil
	}
	f, err := embeddedFS.Open("tilematrixsets/" + id + ".json")
	if err != nil {
		return TileMatrixSet{}, fmt.Errorf("no embedded tile matrix set %s: %w", id, err)
	}
	defer f.Close()
	tms, err := Load(f)
	if err != nil {
		return TileMatrixSet{}, err
	}
	embeddedCache[id] = tms
	return tms, nil
}

func LoadFile(path string) (TileMatrixSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return TileMatrixSet{}, err
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (TileMatrixSet, error) {
	var tms TileMatrixSet
	data, err := io.ReadAll(r)
	if err != nil {
		return tms, err
	}
	err = json.Unmarshal(data, &tms)
	return tms, err
}

// TileMatrixSet is a tile matrix set following the Tile Matrix Set standard.
type TileMatrixSet struct {
	// Tile matrix set identifier
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Reference to an official source for this tile matrix set
	URI string `validate:"omitempty,uri" json:"uri,omitempty"`
	// Informative axis names, e.g. ["Lat", "Lon"]. Points of origin follow this order.
	OrderedAxes       []string `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
	CRS               CRS      `validate:"required" json:"-"`
	WellKnownScaleSet string   `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`
	// Tile matrices by their integer id, usually the zoom level
	TileMatrices map[int]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	if err := defaults.Set(tms); err != nil {
		return err
	}
	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	if tms.CRS, err = unmarshalCRS(rawCrs); err != nil {
		return err
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	if tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices); err != nil {
		return err
	}
	return validate.Struct(tms)
}

func unmarshalTileMatrices(raw any) (map[int]TileMatrix, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[int]TileMatrix, len(list))
	for _, rawTileMatrix := range list {
		var tm TileMatrix
		if err := tm.UnmarshalJSONFromMap(rawTileMatrix); err != nil {
			return nil, err
		}
		id, err := strconv.Atoi(tm.ID)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[id] = tm
	}
	return tileMatrices, nil
}

// IDs returns the tile matrix ids in ascending order.
func (tms *TileMatrixSet) IDs() []int {
	ids := make([]int, 0, len(tms.TileMatrices))
	for id := range tms.TileMatrices {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (tms *TileMatrixSet) TileMatrix(zoom uint) (TileMatrix, error) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return tm, fmt.Errorf("%w %d in %s", ErrUnknownTileMatrix, zoom, tms.ID)
	}
	return tm, nil
}

// SpatialReference maps the crs onto a spatial reference. OGC CRS84 is EPSG:4326 in x/y order.
func (tms *TileMatrixSet) SpatialReference() (primitives.SpatialReference, error) {
	authority, code := tms.CRS.AuthorityName(), tms.CRS.AuthorityCode()
	switch {
	case strings.EqualFold(authority, "OGC") && code == "CRS84":
		return primitives.Epsg4326(), nil
	case strings.EqualFold(authority, primitives.AuthorityEpsg):
		parsed, err := strconv.ParseUint(code, 10, 32)
		if err != nil {
			return primitives.SpatialReference{}, fmt.Errorf(`%w: could not parse code "%s"`, ErrUnsupportedCRS, code)
		}
		return primitives.NewSpatialReference(primitives.AuthorityEpsg, uint32(parsed)), nil
	}
	return primitives.SpatialReference{}, fmt.Errorf("%w: %s:%s", ErrUnsupportedCRS, authority, code)
}

// origin returns the point of origin of tm as x/y.
func (tms *TileMatrixSet) origin(tm TileMatrix) primitives.Coordinate2D {
	a, b := tm.PointOfOrigin[0], tm.PointOfOrigin[1]
	if len(tms.OrderedAxes) == 2 && (strings.EqualFold(tms.OrderedAxes[0], "Lat") || strings.EqualFold(tms.OrderedAxes[0], "N")) {
		a, b = b, a
	}
	return primitives.NewCoordinate2D(a, b)
}

// Tiling returns the tiling specification and the resolution that reproduce the tiles of a tile matrix.
func (tms *TileMatrixSet) Tiling(zoom uint) (raster.TilingSpecification, primitives.SpatialResolution, error) {
	tm, err := tms.TileMatrix(zoom)
	if err != nil {
		return raster.TilingSpecification{}, primitives.SpatialResolution{}, err
	}
	if tm.CornerOfOrigin != TopLeft {
		return raster.TilingSpecification{}, primitives.SpatialResolution{}, fmt.Errorf("%w: tile matrix %s", ErrUnsupportedCornerOfOrigin, tm.ID)
	}
	if len(tm.VariableMatrixWidths) > 0 {
		return raster.TilingSpecification{}, primitives.SpatialResolution{}, fmt.Errorf("%w: tile matrix %s", ErrVariableMatrixWidths, tm.ID)
	}
	resolution, err := primitives.NewSpatialResolution(tm.CellSize, tm.CellSize)
	if err != nil {
		return raster.TilingSpecification{}, primitives.SpatialResolution{}, err
	}
	tiling := raster.NewTilingSpecification(tms.origin(tm), raster.NewGridShape2D(int(tm.TileHeight), int(tm.TileWidth)))
	return tiling, resolution, nil
}

func (tms *TileMatrixSet) tileInformation(tile *slippy.Tile) (raster.TileInformation, TileMatrix, error) {
	tiling, resolution, err := tms.Tiling(tile.Z)
	if err != nil {
		return raster.TileInformation{}, TileMatrix{}, err
	}
	tm := tms.TileMatrices[int(tile.Z)]
	if size, _ := tms.Size(tile.Z); tile.X >= size.X || tile.Y >= size.Y {
		return raster.TileInformation{}, tm, fmt.Errorf("%w: %d/%d/%d", ErrTileOutOfMatrix, tile.Z, tile.X, tile.Y)
	}
	strategy := tiling.StrategyFor(resolution)
	return raster.TileInformation{
		GlobalSizeInTiles:  raster.NewGridShape2D(int(tm.MatrixHeight), int(tm.MatrixWidth)),
		GlobalTilePosition: raster.NewGridIdx2D(int(tile.Y), int(tile.X)),
		TileSizeInPixels:   strategy.TileSizeInPixels,
		GlobalGeoTransform: strategy.GeoTransform,
	}, tm, nil
}

// TilePartition returns the area covered by a tile.
func (tms *TileMatrixSet) TilePartition(tile *slippy.Tile) (primitives.SpatialPartition2D, error) {
	if _, _, err := tms.tileInformation(tile); err != nil {
		return primitives.SpatialPartition2D{}, err
	}
	ext, ok := slippy.Extent(tms, tile)
	if !ok {
		return primitives.SpatialPartition2D{}, fmt.Errorf("%w: %d/%d/%d", ErrTileOutOfMatrix, tile.Z, tile.X, tile.Y)
	}
	return primitives.NewSpatialPartition2DUnchecked(
		primitives.NewCoordinate2D(ext.MinX(), ext.MaxY()),
		primitives.NewCoordinate2D(ext.MaxX(), ext.MinY()),
	), nil
}

// TileQuery returns the raster query that produces exactly one tile of the tile matrix.
func (tms *TileMatrixSet) TileQuery(tile *slippy.Tile, time primitives.TimeInterval) (primitives.RasterQueryRectangle, error) {
	info, tm, err := tms.tileInformation(tile)
	if err != nil {
		return primitives.RasterQueryRectangle{}, err
	}
	return primitives.RasterQueryRectangle{
		SpatialBounds:     info.SpatialPartition(),
		TimeInterval:      time,
		SpatialResolution: primitives.SpatialResolution{X: tm.CellSize, Y: tm.CellSize},
	}, nil
}

// Tiles returns the tiles of a tile matrix intersecting bbox in row-major order.
func (tms *TileMatrixSet) Tiles(zoom uint, bbox primitives.BoundingBox2D) ([]*slippy.Tile, error) {
	tiling, resolution, err := tms.Tiling(zoom)
	if err != nil {
		return nil, err
	}
	partition, err := primitives.PartitionFromBoundingBox(bbox)
	if err != nil {
		return nil, err
	}
	tm := tms.TileMatrices[int(zoom)]
	bounds := tiling.StrategyFor(resolution).TileGridBounds(partition)
	minY, maxY := max(bounds.Min.Y(), 0), min(bounds.Max.Y(), int(tm.MatrixHeight)-1)
	minX, maxX := max(bounds.Min.X(), 0), min(bounds.Max.X(), int(tm.MatrixWidth)-1)

	var tiles []*slippy.Tile
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, slippy.NewTile(zoom, uint(x), uint(y)))
		}
	}
	return tiles, nil
}

var _ slippy.Grid = (*TileMatrixSet)(nil)

// SRID returns the EPSG code of the crs, or 0 when it has none.
func (tms *TileMatrixSet) SRID() uint {
	sref, err := tms.SpatialReference()
	if err != nil || sref.Authority != primitives.AuthorityEpsg {
		return 0
	}
	return uint(sref.Code)
}

// Size returns the number of tiles of a tile matrix as a tile one past the last column and row.
func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

// FromNative returns the tile containing pt.
func (tms *TileMatrixSet) FromNative(zoom uint, pt geom.Point) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok || len(tm.VariableMatrixWidths) > 0 {
		return nil, false
	}
	origin := tms.origin(tm)
	tileSizeX := float64(tm.TileWidth) * tm.CellSize
	tileSizeY := float64(tm.TileHeight) * tm.CellSize

	x := (pt.X() - origin.X) / tileSizeX
	y := (origin.Y - pt.Y()) / tileSizeY
	if tm.CornerOfOrigin == BottomLeft {
		y = (pt.Y() - origin.Y) / tileSizeY
	}
	if x < 0 || y < 0 || uint(x) >= tm.MatrixWidth || uint(y) >= tm.MatrixHeight {
		return nil, false
	}
	return slippy.NewTile(zoom, uint(x), uint(y)), true
}

// ToNative returns the top left corner of a tile. Tiles one past the last column or row are accepted.
func (tms *TileMatrixSet) ToNative(tile *slippy.Tile) (geom.Point, bool) {
	tm, ok := tms.TileMatrices[int(tile.Z)]
	if !ok || tile.X > tm.MatrixWidth || tile.Y > tm.MatrixHeight {
		return geom.Point{}, false
	}
	origin := tms.origin(tm)
	tileSizeX := float64(tm.TileWidth) * tm.CellSize
	tileSizeY := float64(tm.TileHeight) * tm.CellSize

	pt := geom.Point{origin.X + float64(tile.X)*tileSizeX, origin.Y - float64(tile.Y)*tileSizeY}
	if tm.CornerOfOrigin == BottomLeft {
		pt[1] = origin.Y + float64(tile.Y+1)*tileSizeY
	}
	return pt, true
}

// A tile matrix, usually corresponding to a particular zoom level of a TileMatrixSet.
type TileMatrix struct {
	// Identifier selecting one of the scales defined in the TileMatrixSet
	ID          string   `validate:"required" json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Scale denominator of this tile matrix
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// Cell size of this tile matrix, the resolution of its tiles
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner used as the origin for numbering tile rows and columns
	CornerOfOrigin CornerOfOrigin `default:"topLeft" validate:"oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	// Position in crs coordinates of the corner of origin, in the order of the ordered axes
	PointOfOrigin [2]float64 `json:"pointOfOrigin"`
	TileWidth     uint       `validate:"required,min=1" json:"tileWidth"`
	TileHeight    uint       `validate:"required,min=1" json:"tileHeight"`
	// Number of tiles in width and height
	MatrixWidth          uint                  `validate:"required,min=1" json:"matrixWidth"`
	MatrixHeight         uint                  `validate:"required,min=1" json:"matrixHeight"`
	VariableMatrixWidths []VariableMatrixWidth `json:"variableMatrixWidths,omitempty"`
}

func (tm *TileMatrix) UnmarshalJSON(data []byte) error {
	return unmarshalJSONFromMap(tm, data)
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data any) error {
	if err := defaults.Set(tm); err != nil {
		return err
	}
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf(`tile matrix is not an object but a %T`, data)
	}
	if _, err := marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true)); err != nil {
		return err
	}
	return validate.Struct(tm)
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

func (c *CornerOfOrigin) UnmarshalJSONFromMap(data any) error {
	s, ok := data.(string)
	if !ok {
		return fmt.Errorf(`cornerOfOrigin is not a string but a %T`, data)
	}
	switch CornerOfOrigin(s) {
	case "", TopLeft:
		*c = TopLeft
	case BottomLeft:
		*c = BottomLeft
	default:
		return fmt.Errorf(`unknown cornerOfOrigin "%s"`, s)
	}
	return nil
}

type VariableMatrixWidth struct {
	// Number of tiles in width that coalesce in a single tile for these rows
	Coalesce   uint `validate:"required,min=2" json:"coalesce"`
	MinTileRow uint `json:"minTileRow"`
	MaxTileRow uint `json:"maxTileRow"`
}

func unmarshalJSONFromMap(target marshmallow.UnmarshalerFromJSONMap, data []byte) error {
	var dataMap map[string]any
	if err := json.Unmarshal(data, &dataMap); err != nil {
		return err
	}
	return target.UnmarshalJSONFromMap(dataMap)
}

// CRS is one of the crs encodings of the standard: a uri, a ProjJSON object or an ISO 19115 reference system.
type CRS interface {
	Description() string
	AuthorityName() string
	AuthorityCode() string
}

// unmarshalCRS tries the crs encodings in turn (oneOf).
func unmarshalCRS(raw any) (CRS, error) {
	if uri, ok := raw.(string); ok {
		raw = map[string]any{"uri": uri}
	}
	rawMap, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf(`wrong type key "crs": %T`, raw)
	}
	var errs []error
	for _, crs := range []interface {
		CRS
		marshmallow.UnmarshalerFromJSONMap
	}{&URICRS{}, &WKTCRS{}, &ReferenceSystemCRS{}} {
		err := crs.UnmarshalJSONFromMap(rawMap)
		if err == nil {
			return crs, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("could not unmarshal crs into any crs type: %w", errors.Join(errs...))
}

func description(m map[string]any) (string, error) {
	raw, ok := m["description"]
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf(`description property is not a string but a %T`, raw)
	}
	return s, nil
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$")
)

type URICRS struct {
	description   string
	uri           string
	authorityName string
	authorityCode string
}

func (crs *URICRS) UnmarshalJSONFromMap(data any) error {
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf(`crs is not an object but a %T`, data)
	}
	var err error
	if crs.description, err = description(dataMap); err != nil {
		return err
	}
	rawURI, ok := dataMap["uri"]
	if !ok {
		return fmt.Errorf(`uri property not found`)
	}
	if crs.uri, ok = rawURI.(string); !ok {
		return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
	}
	parts := crsURIRegexURL.FindStringSubmatch(crs.uri)
	if parts == nil {
		parts = crsURIRegexURN.FindStringSubmatch(crs.uri)
	}
	if parts == nil {
		return fmt.Errorf(`could not parse crs uri "%s"`, crs.uri)
	}
	crs.authorityName, crs.authorityCode = parts[1], parts[2]
	return nil
}

func (crs *URICRS) Description() string   { return crs.description }
func (crs *URICRS) AuthorityName() string { return crs.authorityName }
func (crs *URICRS) AuthorityCode() string { return crs.authorityCode }
func (crs *URICRS) URI() string           { return crs.uri }

// WKTCRS is a crs in the JSON encoding of WKT 2 (ProjJSON). Only its id is interpreted.
type WKTCRS struct {
	description string
	wkt         projJSON
}

type projJSON struct {
	Name string `json:"name"`
	ID   struct {
		Authority string `validate:"required" json:"authority"`
		Code      any    `validate:"required" json:"code"`
	} `json:"id"`
}

func (crs *WKTCRS) UnmarshalJSONFromMap(data any) error {
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf(`crs is not an object but a %T`, data)
	}
	var err error
	if crs.description, err = description(dataMap); err != nil {
		return err
	}
	rawWKT, ok := dataMap["wkt"].(map[string]any)
	if !ok {
		return fmt.Errorf(`wkt property is missing or not an object`)
	}
	if _, err = marshmallow.UnmarshalFromJSONMap(rawWKT, &crs.wkt); err != nil {
		return fmt.Errorf(`could not parse wkt as ProjJSON: %w`, err)
	}
	return validate.Struct(crs.wkt)
}

func (crs *WKTCRS) Description() string   { return crs.description }
func (crs *WKTCRS) AuthorityName() string { return crs.wkt.ID.Authority }

func (crs *WKTCRS) AuthorityCode() string {
	switch code := crs.wkt.ID.Code.(type) {
	case string:
		return code
	case float64:
		return strconv.FormatFloat(code, 'f', -1, 64)
	}
	return fmt.Sprint(crs.wkt.ID.Code)
}

// ReferenceSystemCRS is kept opaque; it has no authority.
type ReferenceSystemCRS struct {
	description     string
	referenceSystem map[string]any
}

func (crs *ReferenceSystemCRS) UnmarshalJSONFromMap(data any) error {
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf(`crs is not an object but a %T`, data)
	}
	var err error
	if crs.description, err = description(dataMap); err != nil {
		return err
	}
	if crs.referenceSystem, ok = dataMap["referenceSystem"].(map[string]any); !ok {
		return fmt.Errorf(`referenceSystem property is missing or not an object`)
	}
	return nil
}

func (crs *ReferenceSystemCRS) Description() string   { return crs.description }
func (crs *ReferenceSystemCRS) AuthorityName() string { return "" }
func (crs *ReferenceSystemCRS) AuthorityCode() string { return "" }
