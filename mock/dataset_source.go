package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/go-spatial/geom"
	"github.com/pdok/geoflow/adapters"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/dataset"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
)

const coordinateByteSize = 16

func init() {
	engine.RegisterVectorOperator("MockDatasetDataSource", func() engine.VectorOperator { return &MockDatasetDataSource{} })
	engine.RegisterRasterOperator("MockRasterDatasetSource", func() engine.RasterOperator { return &MockRasterDatasetSource{} })
}

// MockDatasetDataSourceLoadingInfo lists the points of a point dataset.
type MockDatasetDataSourceLoadingInfo struct {
	Points []primitives.Coordinate2D `json:"points"`
}

type PointsMetaData = engine.MetaData[MockDatasetDataSourceLoadingInfo, engine.VectorResultDescriptor, primitives.VectorQueryRectangle]

type DatasetParams struct {
	Dataset dataset.DatasetID `json:"dataset"`
}

// MockDatasetDataSource loads the points of a dataset from the metadata provider.
type MockDatasetDataSource struct {
	engine.Operator[DatasetParams]
}

func (s *MockDatasetDataSource) TypeName() string {
	return "MockDatasetDataSource"
}

func (s *MockDatasetDataSource) InitializeVector(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	md, err := engine.MetaDataFor[MockDatasetDataSourceLoadingInfo, engine.VectorResultDescriptor, primitives.VectorQueryRectangle](ctx, ectx, s.Params.Dataset)
	if err != nil {
		return nil, err
	}
	descriptor, err := md.ResultDescriptor(ctx)
	if err != nil {
		return nil, err
	}
	if descriptor.DataType != collections.MultiPoint {
		return nil, engine.InvalidTypeError{Expected: string(collections.MultiPoint), Found: string(descriptor.DataType)}
	}
	return &engine.InitializedVector{
		Descriptor: descriptor,
		Processor:  engine.NewTypedVectorQueryProcessor[geom.MultiPoint](&MockDatasetDataSourceProcessor{MetaData: md}),
	}, nil
}

type MockDatasetDataSourceProcessor struct {
	MetaData PointsMetaData
}

// VectorQuery yields the points inside the query bounds in chunks of at most the chunk byte size.
func (p *MockDatasetDataSourceProcessor) VectorQuery(ctx context.Context, query primitives.VectorQueryRectangle, qctx engine.QueryContext) (engine.Stream[*collections.MultiPointCollection], error) {
	if err := engine.RunPreLoadHook(ctx, p.MetaData); err != nil {
		return nil, err
	}
	info, err := p.MetaData.LoadingInfo(ctx, query)
	if err != nil {
		return nil, err
	}
	var points []geom.MultiPoint
	for _, c := range info.Points {
		if query.SpatialBounds.ContainsCoordinate(c) {
			points = append(points, geom.MultiPoint{c.XY()})
		}
	}

	chunkLen := max(int(qctx.ChunkByteSize().Bytes())/coordinateByteSize, 1)
	var chunks []*collections.MultiPointCollection
	for from := 0; from < len(points); from += chunkLen {
		chunk, err := collections.NewFeatureCollection(points[from:min(from+chunkLen, len(points))], nil, nil)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return engine.FromSlice(chunks), nil
}

// MockRasterTile is a tile of a raster dataset. Values are converted to the dataset's data type.
type MockRasterTile struct {
	Time     primitives.TimeInterval `json:"time"`
	Position raster.GridIdx2D        `json:"position"`
	Values   []float64               `json:"values"`
}

// MockRasterDatasetLoadingInfo lists the tiles of a raster dataset.
type MockRasterDatasetLoadingInfo struct {
	GeoTransform raster.GeoTransform `json:"geoTransform"`
	TileSize     raster.GridShape2D  `json:"tileSize"`
	Tiles        []MockRasterTile    `json:"tiles"`
}

type RasterMetaData = engine.MetaData[MockRasterDatasetLoadingInfo, engine.RasterResultDescriptor, primitives.RasterQueryRectangle]

// MockRasterDatasetSource loads the tiles of a raster dataset from the metadata provider. Queries at the
// dataset's resolution yield a complete tile grid: missing tiles are empty.
type MockRasterDatasetSource struct {
	engine.Operator[DatasetParams]
}

func (s *MockRasterDatasetSource) TypeName() string {
	return "MockRasterDatasetSource"
}

func (s *MockRasterDatasetSource) InitializeRaster(ctx context.Context, ectx engine.ExecutionContext) (engine.InitializedRasterOperator, error) {
	md, err := engine.MetaDataFor[MockRasterDatasetLoadingInfo, engine.RasterResultDescriptor, primitives.RasterQueryRectangle](ctx, ectx, s.Params.Dataset)
	if err != nil {
		return nil, err
	}
	descriptor, err := md.ResultDescriptor(ctx)
	if err != nil {
		return nil, err
	}
	var processor engine.TypedRasterQueryProcessor
	switch descriptor.DataType {
	case raster.U8:
		processor = newRasterDatasetProcessor[uint8](md, descriptor.NoDataValue)
	case raster.U16:
		processor = newRasterDatasetProcessor[uint16](md, descriptor.NoDataValue)
	case raster.U32:
		processor = newRasterDatasetProcessor[uint32](md, descriptor.NoDataValue)
	case raster.U64:
		processor = newRasterDatasetProcessor[uint64](md, descriptor.NoDataValue)
	case raster.I8:
		processor = newRasterDatasetProcessor[int8](md, descriptor.NoDataValue)
	case raster.I16:
		processor = newRasterDatasetProcessor[int16](md, descriptor.NoDataValue)
	case raster.I32:
		processor = newRasterDatasetProcessor[int32](md, descriptor.NoDataValue)
	case raster.I64:
		processor = newRasterDatasetProcessor[int64](md, descriptor.NoDataValue)
	case raster.F32:
		processor = newRasterDatasetProcessor[float32](md, descriptor.NoDataValue)
	case raster.F64:
		processor = newRasterDatasetProcessor[float64](md, descriptor.NoDataValue)
	default:
		return nil, fmt.Errorf("%w: %s", engine.ErrQueryProcessorTypeMismatch, descriptor.DataType)
	}
	return &engine.InitializedRaster{Descriptor: descriptor, Processor: processor}, nil
}

func newRasterDatasetProcessor[T raster.Pixel](md RasterMetaData, noData *float64) engine.TypedRasterQueryProcessor {
	var noDataValue *T
	if noData != nil {
		noDataValue = raster.NoData(raster.FromFloat64[T](*noData))
	}
	return engine.NewTypedRasterQueryProcessor[T](&rasterDatasetProcessor[T]{metaData: md, noData: noDataValue})
}

type rasterDatasetProcessor[T raster.Pixel] struct {
	metaData RasterMetaData
	noData   *T
}

func (p *rasterDatasetProcessor[T]) RasterQuery(ctx context.Context, query primitives.RasterQueryRectangle, qctx engine.QueryContext) (engine.Stream[*raster.Tile2D[T]], error) {
	if err := engine.RunPreLoadHook(ctx, p.metaData); err != nil {
		return nil, err
	}
	info, err := p.metaData.LoadingInfo(ctx, query)
	if err != nil {
		return nil, err
	}
	tiles := make([]*raster.Tile2D[T], 0, len(info.Tiles))
	for _, t := range info.Tiles {
		values := make([]T, len(t.Values))
		for i, v := range t.Values {
			values[i] = raster.FromFloat64[T](v)
		}
		grid, err := raster.NewGrid2D(info.TileSize, values, p.noData)
		if err != nil {
			return nil, fmt.Errorf("tile %v: %w", t.Position, err)
		}
		tiles = append(tiles, &raster.Tile2D[T]{
			Time: t.Time,
			TileInfo: raster.TileInformation{
				GlobalTilePosition: t.Position,
				TileSizeInPixels:   info.TileSize,
				GlobalGeoTransform: info.GeoTransform,
			},
			Grid: grid,
		})
	}
	slices.SortStableFunc(tiles, func(a, b *raster.Tile2D[T]) int {
		if c := cmp.Compare(a.Time.Start, b.Time.Start); c != 0 {
			return c
		}
		if c := cmp.Compare(a.TilePosition().Y(), b.TilePosition().Y()); c != 0 {
			return c
		}
		return cmp.Compare(a.TilePosition().X(), b.TilePosition().X())
	})
	stream, err := (&MockRasterSourceProcessor[T]{Tiles: tiles}).RasterQuery(ctx, query, qctx)
	if err != nil {
		return nil, err
	}
	if query.SpatialResolution != info.GeoTransform.SpatialResolution() {
		// tiles of another resolution do not line up with the query grid
		return stream, nil
	}
	strategy := raster.TilingStrategy{TileSizeInPixels: info.TileSize, GeoTransform: info.GeoTransform}
	return adapters.SparseTilesFill(stream, query, strategy, p.noData), nil
}
