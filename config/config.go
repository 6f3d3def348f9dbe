// Package config holds the runtime settings of the geoflow command.
package config

import (
	"fmt"
	"runtime"

	"github.com/c2h5oh/datasize"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/primitives"
	"github.com/pdok/geoflow/raster"
	"github.com/pdok/geoflow/tms20"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Log logger.Config

	// Workers bounds the worker pool. Zero means one worker per cpu.
	Workers int `validate:"gte=0"`
	// ChunkByteSize is the target size of merged feature collections.
	ChunkByteSize datasize.ByteSize `default:"1048576" validate:"gt=0"`
	// MetaDataCacheSize is the number of datasets whose metadata is cached.
	MetaDataCacheSize int `default:"64" validate:"min=1"`

	// TileSize is the size of tiles in pixels when no tile matrix set is used.
	TileSize int `default:"512" validate:"min=1"`
	// TileMatrixSet optionally names an embedded tile matrix set that defines the tiling.
	TileMatrixSet string `validate:"omitempty,oneof=WebMercatorQuad WorldCRS84Quad"`
	TileMatrix    uint
}

// New returns a config with all defaults applied.
func New() (Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) SetChunkByteSize(s string) error {
	size, err := datasize.ParseString(s)
	if err != nil {
		return fmt.Errorf("invalid chunk byte size %q: %w", s, err)
	}
	c.ChunkByteSize = size
	return nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) PoolSize() int {
	if c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

// Tiling returns the tiling specification of the configured tile matrix, or square tiles from the origin.
func (c Config) Tiling() (raster.TilingSpecification, error) {
	if c.TileMatrixSet == "" {
		return raster.NewTilingSpecification(primitives.NewCoordinate2D(0, 0), raster.NewGridShape2D(c.TileSize, c.TileSize)), nil
	}
	tms, err := tms20.LoadEmbedded(c.TileMatrixSet)
	if err != nil {
		return raster.TilingSpecification{}, err
	}
	tiling, _, err := tms.Tiling(c.TileMatrix)
	return tiling, err
}
