package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/carlmjohnson/versioninfo"
	"github.com/dustin/go-humanize"
	"github.com/iancoleman/strcase"
	"github.com/pdok/geoflow/catalog"
	"github.com/pdok/geoflow/config"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/metrics"
	"github.com/pdok/geoflow/raster"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	_ "github.com/pdok/geoflow/mock"
	_ "github.com/pdok/geoflow/plot"
	_ "github.com/pdok/geoflow/processing"
)

const LOGLEVEL string = `logLevel`
const LOGCONSOLE string = `logConsole`
const WORKERS string = `workers`
const CHUNKBYTESIZE string = `chunkByteSize`
const CACHESIZE string = `metaDataCacheSize`
const TILESIZE string = `tileSize`
const TILEMATRIXSET string = `tilematrixset`
const TILEMATRIX string = `tilematrix`
const METRICS string = `metrics`

const CATALOG string = `catalog`
const WORKFLOW string = `workflow`
const BBOX string = `bbox`
const TIME string = `time`
const RESOLUTION string = `resolution`
const TILE string = `tile`
const POINT string = `point`
const FORMAT string = `format`
const FILTER string = `filter`
const ORDER string = `order`
const OFFSET string = `offset`
const LIMIT string = `limit`

func envVars(name string) []string {
	return []string{strcase.ToScreamingSnake(name)}
}

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "geoflow"
	app.Usage = "Run declarative geospatial workflows over raster and vector data"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    LOGLEVEL,
			Usage:   "One of debug, info, warn or error",
			Value:   "info",
			EnvVars: envVars(LOGLEVEL),
		},
		&cli.BoolFlag{
			Name:    LOGCONSOLE,
			Usage:   "Log human readable lines instead of JSON",
			EnvVars: envVars(LOGCONSOLE),
		},
		&cli.IntFlag{
			Name:    WORKERS,
			Aliases: []string{"w"},
			Usage:   "Size of the worker pool, 0 uses one worker per cpu",
			EnvVars: envVars(WORKERS),
		},
		&cli.StringFlag{
			Name:    CHUNKBYTESIZE,
			Usage:   "Target size of merged feature collections. E.g.: 1MB",
			Value:   "1MB",
			EnvVars: envVars(CHUNKBYTESIZE),
		},
		&cli.IntFlag{
			Name:    CACHESIZE,
			Usage:   "Number of datasets whose metadata is cached",
			Value:   64,
			EnvVars: envVars(CACHESIZE),
		},
		&cli.IntFlag{
			Name:    TILESIZE,
			Usage:   "Tile size in pixels of the default tiling",
			Value:   512,
			EnvVars: envVars(TILESIZE),
		},
		&cli.StringFlag{
			Name:    TILEMATRIXSET,
			Aliases: []string{"tms"},
			Usage:   `ID of a (built-in) tile matrix set that defines the tiling. E.g.: WebMercatorQuad`,
			EnvVars: envVars(TILEMATRIXSET),
		},
		&cli.UintFlag{
			Name:    TILEMATRIX,
			Aliases: []string{"z"},
			Usage:   "ID of the tile matrix (zoom level) in the tile matrix set",
			EnvVars: envVars(TILEMATRIX),
		},
		&cli.BoolFlag{
			Name:    METRICS,
			Usage:   "Write the collected metrics to stderr when done",
			EnvVars: envVars(METRICS),
		},
	}

	catalogFlag := &cli.StringFlag{
		Name:     CATALOG,
		Aliases:  []string{"c"},
		Usage:    "Dataset catalog (JSON)",
		Required: true,
		EnvVars:  envVars(CATALOG),
	}
	workflowFlag := &cli.StringFlag{
		Name:     WORKFLOW,
		Aliases:  []string{"f"},
		Usage:    `Workflow (JSON). E.g.: {"type": "Raster", "operator": {...}}`,
		Required: true,
		EnvVars:  envVars(WORKFLOW),
	}

	app.Commands = []*cli.Command{
		{
			Name:  "operators",
			Usage: "List the registered operators",
			Action: func(c *cli.Context) error {
				return writeJSON(c.App.Writer, engine.RegisteredOperators())
			},
		},
		{
			Name:  "tilematrixsets",
			Usage: "List the built-in tile matrix sets",
			Action: func(c *cli.Context) error {
				return writeTileMatrixSets(c.App.Writer)
			},
		},
		{
			Name:  "tiles",
			Usage: "List the tiles of the tile matrix that cover a bbox or contain a point",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  BBOX,
					Usage: "Bounds: minx,miny,maxx,maxy",
				},
				&cli.StringFlag{
					Name:  POINT,
					Usage: "Point: x,y",
				},
			},
			Action: func(c *cli.Context) error {
				return writeTileAddresses(c.App.Writer, c.String(TILEMATRIXSET), c.Uint(TILEMATRIX), c.String(BBOX), c.String(POINT))
			},
		},
		{
			Name:  "datasets",
			Usage: "List the datasets of a catalog",
			Flags: []cli.Flag{
				catalogFlag,
				&cli.StringFlag{Name: FILTER, Usage: "Part of the dataset name"},
				&cli.StringFlag{Name: ORDER, Usage: "NameAsc or NameDesc", Value: string(catalog.NameAsc)},
				&cli.IntFlag{Name: OFFSET},
				&cli.IntFlag{Name: LIMIT, Value: 20},
			},
			Action: func(c *cli.Context) error {
				env, err := newEnvironment(c)
				if err != nil {
					return err
				}
				datasets, err := env.store.List(catalog.ListOptions{
					Filter: c.String(FILTER),
					Order:  catalog.Order(c.String(ORDER)),
					Offset: c.Int(OFFSET),
					Limit:  c.Int(LIMIT),
				})
				if err != nil {
					return err
				}
				return writeJSON(c.App.Writer, datasets)
			},
		},
		{
			Name:  "describe",
			Usage: "Initialize a workflow and print its result descriptor",
			Flags: []cli.Flag{catalogFlag, workflowFlag},
			Action: func(c *cli.Context) error {
				env, err := newEnvironment(c)
				if err != nil {
					return err
				}
				workflow, err := readWorkflow(c.String(WORKFLOW))
				if err != nil {
					return err
				}
				descriptor, err := describe(env.context(c.Context), env.executionContext(), workflow)
				if err != nil {
					return err
				}
				return writeJSON(c.App.Writer, descriptor)
			},
		},
		{
			Name:  "run",
			Usage: "Run a workflow and write its results as JSON lines",
			Flags: []cli.Flag{
				catalogFlag,
				workflowFlag,
				&cli.StringFlag{
					Name:  BBOX,
					Usage: "Query bounds: minx,miny,maxx,maxy",
				},
				&cli.StringFlag{
					Name:  TIME,
					Usage: "Query time: an instant or start,end as milliseconds since epoch or RFC 3339",
				},
				&cli.Float64Flag{
					Name:  RESOLUTION,
					Usage: "Query resolution in units of the spatial reference",
					Value: 1,
				},
				&cli.StringFlag{
					Name:  TILE,
					Usage: "Query a single tile z/x/y of the tile matrix set instead of bbox and resolution",
				},
				&cli.StringFlag{
					Name:  FORMAT,
					Usage: "Output of vector results: geojson or wkt",
					Value: formatGeoJSON,
				},
			},
			Action: func(c *cli.Context) error {
				env, err := newEnvironment(c)
				if err != nil {
					return err
				}
				workflow, err := readWorkflow(c.String(WORKFLOW))
				if err != nil {
					return err
				}
				opts, err := newQueryOptions(env.cfg, c.String(BBOX), c.String(TIME), c.Float64(RESOLUTION), c.String(TILE))
				if err != nil {
					return err
				}
				ctx := env.context(c.Context)
				result, err := run(ctx, env.executionContext(), env.queryContext(), workflow, opts, c.String(FORMAT), c.App.Writer)
				if err != nil {
					return err
				}
				env.log.Info().
					Str("chunks", humanize.Comma(int64(result.Chunks))).
					Str("features", humanize.Comma(int64(result.Features))).
					Str("vertices", humanize.Comma(int64(result.Vertices))).
					Str("tiles", humanize.Comma(int64(result.Tiles))).
					Str("emptyTiles", humanize.Comma(int64(result.EmptyTiles))).
					Msg("done")
				return nil
			},
		},
	}

	app.Before = func(c *cli.Context) error {
		if c.Bool(METRICS) {
			metrics.RegisterRuntime()
		}
		return nil
	}
	app.After = func(c *cli.Context) error {
		if !c.Bool(METRICS) {
			return nil
		}
		return metrics.WriteText(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

type environment struct {
	cfg      config.Config
	log      zerolog.Logger
	store    *catalog.Store
	provider *catalog.CachedProvider
	pool     *engine.WorkerPool
	tiling   raster.TilingSpecification
}

func newEnvironment(c *cli.Context) (*environment, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = c.String(LOGLEVEL)
	cfg.Log.Console = c.Bool(LOGCONSOLE)
	cfg.Workers = c.Int(WORKERS)
	cfg.MetaDataCacheSize = c.Int(CACHESIZE)
	cfg.TileSize = c.Int(TILESIZE)
	cfg.TileMatrixSet = c.String(TILEMATRIXSET)
	cfg.TileMatrix = c.Uint(TILEMATRIX)
	if err = cfg.SetChunkByteSize(c.String(CHUNKBYTESIZE)); err != nil {
		return nil, err
	}
	return loadEnvironment(cfg, c.App.ErrWriter, c.String(CATALOG))
}

// loadEnvironment validates cfg and loads the catalog. Invalid dataset definitions are logged and skipped.
func loadEnvironment(cfg config.Config, logOut io.Writer, catalogPath string) (*environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tiling, err := cfg.Tiling()
	if err != nil {
		return nil, err
	}
	env := &environment{
		cfg:    cfg,
		log:    logger.Build(cfg.Log, logOut),
		store:  catalog.NewStore(),
		pool:   engine.NewWorkerPool(cfg.PoolSize()),
		tiling: tiling,
	}
	if env.provider, err = catalog.NewCachedProvider(env.store, cfg.MetaDataCacheSize); err != nil {
		return nil, err
	}

	f, err := os.Open(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("could not open catalog: %w", err)
	}
	defer f.Close()
	ids, err := env.store.Load(f)
	for _, e := range multierr.Errors(err) {
		env.log.Warn().Err(e).Str("catalog", catalogPath).Msg("skipped dataset")
	}
	env.log.Info().
		Int("datasets", len(ids)).
		Int("workers", cfg.PoolSize()).
		Str("chunkByteSize", humanize.IBytes(uint64(cfg.ChunkByteSize))).
		Msg("loaded catalog")
	return env, nil
}

func (e *environment) context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return e.log.WithContext(parent)
}

func (e *environment) executionContext() engine.ExecutionContext {
	return &engine.DefaultExecutionContext{Provider: e.provider, Pool: e.pool, Tiling: e.tiling}
}

func (e *environment) queryContext() engine.QueryContext {
	return &engine.DefaultQueryContext{ChunkSize: e.cfg.ChunkByteSize, Pool: e.pool}
}

func readWorkflow(path string) (engine.TypedOperator, error) {
	var workflow engine.TypedOperator
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow, fmt.Errorf("could not read workflow: %w", err)
	}
	if err = json.Unmarshal(data, &workflow); err != nil {
		return workflow, fmt.Errorf("invalid workflow %s: %w", path, err)
	}
	return workflow, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
