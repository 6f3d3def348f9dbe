// Package catalog keeps dataset definitions in memory and serves their metadata to source operators.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pdok/geoflow/dataset"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/mock"
	"github.com/pdok/geoflow/primitives"
	"github.com/umpc/go-sortedmap"
	"go.uber.org/multierr"
)

var (
	ErrDuplicateDataset      = errors.New("dataset already exists")
	ErrUnknownSourceOperator = errors.New("no metadata decoder for source operator")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// metaDataDecoders turn the metadata of a definition into the type the source operator looks up.
var metaDataDecoders = map[string]func(json.RawMessage) (any, any, error){
	"MockDatasetDataSource":   decodeStatic[mock.MockDatasetDataSourceLoadingInfo, engine.VectorResultDescriptor, primitives.VectorQueryRectangle],
	"MockRasterDatasetSource": decodeStatic[mock.MockRasterDatasetLoadingInfo, engine.RasterResultDescriptor, primitives.RasterQueryRectangle],
}

// decodeStatic reads {"loadingInfo": .., "resultDescriptor": ..} and returns the metadata and its descriptor.
func decodeStatic[L, R, Q any](raw json.RawMessage) (any, any, error) {
	var static struct {
		LoadingInfo      L `json:"loadingInfo"`
		ResultDescriptor R `json:"resultDescriptor"`
	}
	if err := json.Unmarshal(raw, &static); err != nil {
		return nil, nil, err
	}
	if err := validate.Struct(static.ResultDescriptor); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return nil, nil, err
		}
	}
	return &engine.StaticMetaData[L, R, Q]{Info: static.LoadingInfo, Descriptor: static.ResultDescriptor}, static.ResultDescriptor, nil
}

// DatasetDefinition is the input form of a dataset. A missing id gets a new internal one.
type DatasetDefinition struct {
	ID             *dataset.DatasetID `json:"id,omitempty"`
	Name           string             `json:"name" validate:"required"`
	Description    string             `json:"description,omitempty"`
	SourceOperator string             `json:"sourceOperator" validate:"required"`
	MetaData       json.RawMessage    `json:"metaData" validate:"required"`
}

// Dataset is the listed form of a dataset.
type Dataset struct {
	ID               dataset.DatasetID `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	SourceOperator   string            `json:"sourceOperator"`
	ResultDescriptor any               `json:"resultDescriptor"`
}

type entry struct {
	listing  Dataset
	metaData any
}

// Store is an in-memory catalog. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	datasets map[dataset.DatasetID]entry
}

func NewStore() *Store {
	return &Store{datasets: make(map[dataset.DatasetID]entry)}
}

func (s *Store) AddDataset(def DatasetDefinition) (dataset.DatasetID, error) {
	if err := validate.Struct(def); err != nil {
		return dataset.DatasetID{}, fmt.Errorf("dataset %s: %w", def.Name, err)
	}
	decode, ok := metaDataDecoders[def.SourceOperator]
	if !ok {
		return dataset.DatasetID{}, fmt.Errorf("%w %s", ErrUnknownSourceOperator, def.SourceOperator)
	}
	metaData, descriptor, err := decode(def.MetaData)
	if err != nil {
		return dataset.DatasetID{}, fmt.Errorf("metadata of dataset %s: %w", def.Name, err)
	}
	id := dataset.NewInternalDatasetID()
	if def.ID != nil {
		id = *def.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.datasets[id]; exists {
		return dataset.DatasetID{}, fmt.Errorf("%w: %s", ErrDuplicateDataset, id)
	}
	s.datasets[id] = entry{
		listing: Dataset{
			ID:               id,
			Name:             def.Name,
			Description:      def.Description,
			SourceOperator:   def.SourceOperator,
			ResultDescriptor: descriptor,
		},
		metaData: metaData,
	}
	return id, nil
}

// Load adds all datasets of a catalog document: {"datasets": [definition, ...]}. Valid definitions are
// added even when others fail; the failures are combined in the returned error.
func (s *Store) Load(r io.Reader) ([]dataset.DatasetID, error) {
	var doc struct {
		Datasets []DatasetDefinition `json:"datasets"`
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("could not decode catalog: %w", err)
	}
	var (
		ids  []dataset.DatasetID
		errs error
	)
	for _, def := range doc.Datasets {
		id, err := s.AddDataset(def)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, errs
}

// MetaData implements engine.MetaDataProvider.
func (s *Store) MetaData(_ context.Context, id dataset.DatasetID) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownDatasetID, id)
	}
	return e.metaData, nil
}

type Order string

const (
	NameAsc  Order = "NameAsc"
	NameDesc Order = "NameDesc"
)

// ListOptions page through the datasets. Filter matches a case-insensitive part of the name.
type ListOptions struct {
	Filter string `json:"filter,omitempty"`
	Order  Order  `json:"order" default:"NameAsc" validate:"oneof=NameAsc NameDesc"`
	Offset int    `json:"offset" validate:"min=0"`
	Limit  int    `json:"limit" default:"20" validate:"min=1,max=20"`
}

func (s *Store) List(options ListOptions) ([]Dataset, error) {
	if err := defaults.Set(&options); err != nil {
		return nil, err
	}
	if err := validate.Struct(options); err != nil {
		return nil, fmt.Errorf("invalid list options: %w", err)
	}

	s.mu.RLock()
	sorted := sortedmap.New(len(s.datasets), func(x, y interface{}) bool {
		a, b := x.(Dataset), y.(Dataset)
		if options.Order == NameDesc {
			a, b = b, a
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})
	filter := strings.ToLower(options.Filter)
	for id, e := range s.datasets {
		if strings.Contains(strings.ToLower(e.listing.Name), filter) {
			sorted.Insert(id, e.listing)
		}
	}
	s.mu.RUnlock()

	keys := sorted.Keys()
	if options.Offset >= len(keys) {
		return []Dataset{}, nil
	}
	keys = keys[options.Offset:min(options.Offset+options.Limit, len(keys))]
	values := sorted.Map()
	listings := make([]Dataset, 0, len(keys))
	for _, key := range keys {
		listings = append(listings, values[key].(Dataset))
	}
	return listings, nil
}
