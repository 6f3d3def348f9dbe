package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/pdok/geoflow/adapters"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/config"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/geomhelp"
	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/pdok/geoflow/tms20"
)

const (
	formatGeoJSON = "geojson"
	formatWKT     = "wkt"
)

var (
	ErrNoQueryBounds = errors.New("either a bbox or a tile is needed")
	ErrNoTileMatrix  = errors.New("querying a tile needs a tile matrix set")
	ErrUnknownFormat = errors.New("unknown output format")
	ErrNoTileBounds  = errors.New("either a bbox or a point is needed")
	ErrPointOutside  = errors.New("point is outside of the tile matrix")
)

func parseBBox(s string) (primitives.BoundingBox2D, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return primitives.BoundingBox2D{}, fmt.Errorf(`bbox "%s" is not of the form minx,miny,maxx,maxy`, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return primitives.BoundingBox2D{}, fmt.Errorf(`invalid bbox "%s": %w`, s, err)
		}
		v[i] = f
	}
	lowerLeft, upperRight := primitives.NewCoordinate2D(v[0], v[1]), primitives.NewCoordinate2D(v[2], v[3])
	if !lowerLeft.IsFinite() || !upperRight.IsFinite() {
		return primitives.BoundingBox2D{}, fmt.Errorf(`bbox "%s" is not finite`, s)
	}
	return primitives.NewBoundingBox2D(lowerLeft, upperRight)
}

func parsePoint(s string) (geom.Point, error) {
	x, y, ok := strings.Cut(s, ",")
	if !ok {
		return geom.Point{}, fmt.Errorf(`point "%s" is not of the form x,y`, s)
	}
	var pt geom.Point
	for i, p := range []string{x, y} {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Point{}, fmt.Errorf(`invalid point "%s": %w`, s, err)
		}
		pt[i] = f
	}
	return pt, nil
}

func parseTimeInstance(s string) (primitives.TimeInstance, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return primitives.TimeInstance(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf(`time "%s" is neither milliseconds nor RFC 3339`, s)
	}
	return primitives.TimeInstanceFromTime(t), nil
}

// parseTimeInterval reads "", "instant" or "start,end". Empty is the whole time line.
func parseTimeInterval(s string) (primitives.TimeInterval, error) {
	if strings.TrimSpace(s) == "" {
		return primitives.DefaultTimeInterval(), nil
	}
	start, end, isInterval := strings.Cut(s, ",")
	from, err := parseTimeInstance(start)
	if err != nil {
		return primitives.TimeInterval{}, err
	}
	if !isInterval {
		return primitives.NewTimeInstant(from), nil
	}
	to, err := parseTimeInstance(end)
	if err != nil {
		return primitives.TimeInterval{}, err
	}
	return primitives.NewTimeInterval(from, to)
}

func parseTile(s string) (*slippy.Tile, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf(`tile "%s" is not of the form z/x/y`, s)
	}
	var v [3]uint
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf(`invalid tile "%s": %w`, s, err)
		}
		v[i] = uint(n)
	}
	return slippy.NewTile(v[0], v[1], v[2]), nil
}

type queryOptions struct {
	bbox       primitives.BoundingBox2D
	time       primitives.TimeInterval
	resolution primitives.SpatialResolution
	tile       *slippy.Tile
	tms        *tms20.TileMatrixSet
}

func newQueryOptions(cfg config.Config, bbox, interval string, resolution float64, tile string) (queryOptions, error) {
	var (
		opts queryOptions
		err  error
	)
	if opts.time, err = parseTimeInterval(interval); err != nil {
		return opts, err
	}
	if tile != "" {
		if cfg.TileMatrixSet == "" {
			return opts, ErrNoTileMatrix
		}
		tms, err := tms20.LoadEmbedded(cfg.TileMatrixSet)
		if err != nil {
			return opts, err
		}
		opts.tms = &tms
		opts.tile, err = parseTile(tile)
		return opts, err
	}
	if bbox == "" {
		return opts, ErrNoQueryBounds
	}
	if opts.bbox, err = parseBBox(bbox); err != nil {
		return opts, err
	}
	opts.resolution, err = primitives.NewSpatialResolution(resolution, resolution)
	return opts, err
}

func (o queryOptions) rasterQuery() (primitives.RasterQueryRectangle, error) {
	if o.tile != nil {
		return o.tms.TileQuery(o.tile, o.time)
	}
	partition, err := primitives.PartitionFromBoundingBox(o.bbox)
	if err != nil {
		return primitives.RasterQueryRectangle{}, err
	}
	return primitives.RasterQueryRectangle{SpatialBounds: partition, TimeInterval: o.time, SpatialResolution: o.resolution}, nil
}

func (o queryOptions) vectorQuery() (primitives.VectorQueryRectangle, error) {
	if o.tile != nil {
		query, err := o.tms.TileQuery(o.tile, o.time)
		if err != nil {
			return primitives.VectorQueryRectangle{}, err
		}
		return primitives.VectorQueryFromRaster(query), nil
	}
	return primitives.VectorQueryRectangle{SpatialBounds: o.bbox, TimeInterval: o.time, SpatialResolution: o.resolution}, nil
}

// describe initializes the workflow and returns the result descriptor of its root.
func describe(ctx context.Context, ectx engine.ExecutionContext, workflow engine.TypedOperator) (any, error) {
	switch workflow.Kind {
	case engine.RasterKind:
		initialized, err := engine.InitializeRaster(ctx, ectx, workflow.Raster)
		if err != nil {
			return nil, err
		}
		return initialized.ResultDescriptor(), nil
	case engine.VectorKind:
		initialized, err := engine.InitializeVector(ctx, ectx, workflow.Vector)
		if err != nil {
			return nil, err
		}
		return initialized.ResultDescriptor(), nil
	case engine.PlotKind:
		initialized, err := engine.InitializePlot(ctx, ectx, workflow.Plot)
		if err != nil {
			return nil, err
		}
		return initialized.ResultDescriptor(), nil
	}
	return nil, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf(`unknown workflow type "%s"`, workflow.Kind)}
}

type summary struct {
	Chunks     int
	Features   int
	Vertices   int
	Tiles      int
	EmptyTiles int
}

// run initializes and queries the workflow and writes one JSON line (or one WKT line per feature) per result.
func run(ctx context.Context, ectx engine.ExecutionContext, qctx engine.QueryContext, workflow engine.TypedOperator, opts queryOptions, format string, w io.Writer) (summary, error) {
	if format != formatGeoJSON && format != formatWKT {
		return summary{}, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	switch workflow.Kind {
	case engine.RasterKind:
		query, err := opts.rasterQuery()
		if err != nil {
			return summary{}, err
		}
		initialized, err := engine.InitializeRaster(ctx, ectx, workflow.Raster)
		if err != nil {
			return summary{}, err
		}
		typed, err := initialized.QueryProcessor()
		if err != nil {
			return summary{}, err
		}
		logger.FromContext(ctx).Info().Stringer("dataType", typed.DataType()).Stringer("bounds", query.SpatialBounds).Msg("querying raster")
		write := rasterWriter{ctx: ctx, query: query, qctx: qctx, w: w}
		return engine.RasterDispatch[summary]{
			U8:  writeTiles[uint8](write),
			U16: writeTiles[uint16](write),
			U32: writeTiles[uint32](write),
			U64: writeTiles[uint64](write),
			I8:  writeTiles[int8](write),
			I16: writeTiles[int16](write),
			I32: writeTiles[int32](write),
			I64: writeTiles[int64](write),
			F32: writeTiles[float32](write),
			F64: writeTiles[float64](write),
		}.Call(typed)

	case engine.VectorKind:
		query, err := opts.vectorQuery()
		if err != nil {
			return summary{}, err
		}
		initialized, err := engine.InitializeVector(ctx, ectx, workflow.Vector)
		if err != nil {
			return summary{}, err
		}
		typed, err := initialized.QueryProcessor()
		if err != nil {
			return summary{}, err
		}
		logger.FromContext(ctx).Info().Stringer("bounds", query.SpatialBounds).Msg("querying vector")
		write := vectorWriter{ctx: ctx, query: query, qctx: qctx, w: w, format: format}
		return engine.VectorDispatch[summary]{
			Data:            writeCollections[collections.NoGeometry](write),
			MultiPoint:      writeCollections[geom.MultiPoint](write),
			MultiLineString: writeCollections[geom.MultiLineString](write),
			MultiPolygon:    writeCollections[geom.MultiPolygon](write),
		}.Call(typed)

	case engine.PlotKind:
		query, err := opts.vectorQuery()
		if err != nil {
			return summary{}, err
		}
		initialized, err := engine.InitializePlot(ctx, ectx, workflow.Plot)
		if err != nil {
			return summary{}, err
		}
		processor, err := initialized.QueryProcessor()
		if err != nil {
			return summary{}, err
		}
		result, err := processor.PlotQuery(ctx, query, qctx)
		if err != nil {
			return summary{}, err
		}
		return summary{Chunks: 1}, json.NewEncoder(w).Encode(result)
	}
	return summary{}, engine.InvalidOperatorSpecError{Reason: fmt.Sprintf(`unknown workflow type "%s"`, workflow.Kind)}
}

type rasterWriter struct {
	ctx   context.Context
	query primitives.RasterQueryRectangle
	qctx  engine.QueryContext
	w     io.Writer
}

// tileLine is the output form of a tile. Values are row-major; no-data pixels are null.
type tileLine struct {
	Time       primitives.TimeInterval       `json:"time"`
	Position   raster.GridIdx2D              `json:"position"`
	Partition  primitives.SpatialPartition2D `json:"partition"`
	Shape      raster.GridShape2D            `json:"shape"`
	Empty      bool                          `json:"empty,omitempty"`
	Values     []*float64                    `json:"values,omitempty"`
	Properties raster.Properties             `json:"properties"`
}

func newTileLine[T raster.Pixel](tile *raster.Tile2D[T]) tileLine {
	line := tileLine{
		Time:       tile.Time,
		Position:   tile.TilePosition(),
		Partition:  tile.SpatialPartition(),
		Shape:      tile.Grid.Shape,
		Empty:      tile.IsEmpty(),
		Properties: tile.Properties,
	}
	if line.Empty {
		return line
	}
	line.Values = make([]*float64, len(tile.Grid.Data))
	for i, v := range tile.Grid.Data {
		f := raster.AsFloat64(v)
		if tile.Grid.IsNoData(v) || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		line.Values[i] = &f
	}
	return line
}

func writeTiles[T raster.Pixel](rw rasterWriter) func(engine.RasterQueryProcessor[T]) (summary, error) {
	return func(p engine.RasterQueryProcessor[T]) (summary, error) {
		var s summary
		stream, err := p.RasterQuery(rw.ctx, rw.query, rw.qctx)
		if err != nil {
			return s, err
		}
		enc := json.NewEncoder(rw.w)
		err = engine.ForEach(rw.ctx, stream, func(tile *raster.Tile2D[T]) error {
			s.Tiles++
			if tile.IsEmpty() {
				s.EmptyTiles++
			}
			return enc.Encode(newTileLine(tile))
		})
		return s, err
	}
}

type vectorWriter struct {
	ctx    context.Context
	query  primitives.VectorQueryRectangle
	qctx   engine.QueryContext
	w      io.Writer
	format string
}

func writeCollections[G collections.Geometry](vw vectorWriter) func(engine.VectorQueryProcessor[G]) (summary, error) {
	return func(p engine.VectorQueryProcessor[G]) (summary, error) {
		var s summary
		stream, err := p.VectorQuery(vw.ctx, vw.query, vw.qctx)
		if err != nil {
			return s, err
		}
		stream = adapters.MergeChunks(stream, vw.qctx.ChunkByteSize())
		enc := json.NewEncoder(vw.w)
		err = engine.ForEach(vw.ctx, stream, func(c *collections.FeatureCollection[G]) error {
			s.Chunks++
			s.Features += c.Len()
			for _, g := range c.Geometries {
				s.Vertices += geomhelp.Vertices(g)
			}
			if vw.format == formatGeoJSON {
				return enc.Encode(c)
			}
			return writeWKT(vw.w, c)
		})
		return s, err
	}
}

// writeWKT writes one line per feature: the geometry, the time interval and the column values, tab separated.
func writeWKT[G collections.Geometry](w io.Writer, c *collections.FeatureCollection[G]) error {
	columns := make([]collections.FeatureData, 0, len(c.ColumnNames()))
	for _, name := range c.ColumnNames() {
		data, err := c.Data(name)
		if err != nil {
			return err
		}
		columns = append(columns, data)
	}
	for i := 0; i < c.Len(); i++ {
		fields := make([]string, 0, 2+len(columns))
		if len(c.Geometries) > i {
			fields = append(fields, featureWKT(c.Geometries[i]))
		} else {
			fields = append(fields, featureWKT(collections.NoGeometry{}))
		}
		fields = append(fields, c.Times[i].String())
		for _, data := range columns {
			if data.IsNull(i) {
				fields = append(fields, "NULL")
				continue
			}
			fields = append(fields, fmt.Sprint(data.ValueAt(i)))
		}
		if _, err := fmt.Fprintln(w, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func featureWKT[G collections.Geometry](g G) string {
	if _, ok := any(g).(collections.NoGeometry); ok {
		return "GEOMETRYCOLLECTION EMPTY"
	}
	return geomhelp.WKT(g, 0)
}

func writeTileMatrixSets(w io.Writer) error {
	type tileMatrixSetLine struct {
		ID               string                      `json:"id"`
		Title            string                      `json:"title,omitempty"`
		SpatialReference primitives.SpatialReference `json:"spatialReference"`
		TileMatrices     []int                       `json:"tileMatrices"`
	}
	lines := make([]tileMatrixSetLine, 0)
	for _, id := range tms20.EmbeddedIDs() {
		tms, err := tms20.LoadEmbedded(id)
		if err != nil {
			return err
		}
		sref, err := tms.SpatialReference()
		if err != nil {
			return err
		}
		lines = append(lines, tileMatrixSetLine{ID: tms.ID, Title: tms.Title, SpatialReference: sref, TileMatrices: tms.IDs()})
	}
	return writeJSON(w, lines)
}

// tileAddress is the output form of a tile of a tile matrix.
type tileAddress struct {
	Tile      string                        `json:"tile"`
	Partition primitives.SpatialPartition2D `json:"partition"`
}

// writeTileAddresses writes the tiles of a tile matrix that cover bbox, or the tile that contains point.
func writeTileAddresses(w io.Writer, tmsID string, zoom uint, bbox, point string) error {
	if tmsID == "" {
		return ErrNoTileMatrix
	}
	tms, err := tms20.LoadEmbedded(tmsID)
	if err != nil {
		return err
	}
	var tiles []*slippy.Tile
	switch {
	case point != "":
		pt, err := parsePoint(point)
		if err != nil {
			return err
		}
		tile, ok := tms.FromNative(zoom, pt)
		if !ok {
			return fmt.Errorf("%w: %s in %s/%d", ErrPointOutside, point, tms.ID, zoom)
		}
		tiles = append(tiles, tile)
	case bbox != "":
		b, err := parseBBox(bbox)
		if err != nil {
			return err
		}
		if tiles, err = tms.Tiles(zoom, b); err != nil {
			return err
		}
	default:
		return ErrNoTileBounds
	}

	enc := json.NewEncoder(w)
	for _, tile := range tiles {
		partition, err := tms.TilePartition(tile)
		if err != nil {
			return err
		}
		if err = enc.Encode(tileAddress{Tile: fmt.Sprintf("%d/%d/%d", tile.Z, tile.X, tile.Y), Partition: partition}); err != nil {
			return err
		}
	}
	return nil
}
