package catalog

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pdok/geoflow/dataset"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/logger"
	"github.com/pdok/geoflow/metrics"
)

// CachedProvider remembers the metadata of the most recently used datasets. Failed lookups are not cached.
type CachedProvider struct {
	provider engine.MetaDataProvider
	cache    *lru.Cache[dataset.DatasetID, any]
}

func NewCachedProvider(provider engine.MetaDataProvider, size int) (*CachedProvider, error) {
	cache, err := lru.New[dataset.DatasetID, any](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{provider: provider, cache: cache}, nil
}

func (p *CachedProvider) MetaData(ctx context.Context, id dataset.DatasetID) (any, error) {
	if md, ok := p.cache.Get(id); ok {
		metrics.IncCacheHit()
		return md, nil
	}
	metrics.IncCacheMiss()
	md, err := p.provider.MetaData(ctx, id)
	if err != nil {
		return nil, err
	}
	if evicted := p.cache.Add(id, md); evicted {
		logger.FromContext(ctx).Debug().Stringer("dataset", id).Msg("evicted dataset metadata from cache")
	}
	return md, nil
}

// Purge drops all cached metadata.
func (p *CachedProvider) Purge() {
	p.cache.Purge()
}

func (p *CachedProvider) Len() int {
	return p.cache.Len()
}
