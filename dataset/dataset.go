// Package dataset identifies the datasets that source operators load.
package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type IDType string

const (
	Internal IDType = "internal"
	External IDType = "external"
)

// DatasetID is either an internal dataset (a uuid) or a dataset of an external provider.
type DatasetID struct {
	Type       IDType
	InternalID uuid.UUID
	ProviderID uuid.UUID
	ExternalID string
}

func NewInternalDatasetID() DatasetID {
	return DatasetID{Type: Internal, InternalID: uuid.New()}
}

func InternalDatasetID(id uuid.UUID) DatasetID {
	return DatasetID{Type: Internal, InternalID: id}
}

func ExternalDatasetID(provider uuid.UUID, id string) DatasetID {
	return DatasetID{Type: External, ProviderID: provider, ExternalID: id}
}

func (d DatasetID) IsInternal() bool {
	return d.Type == Internal
}

func (d DatasetID) String() string {
	if d.IsInternal() {
		return d.InternalID.String()
	}
	return d.ProviderID.String() + ":" + d.ExternalID
}

type datasetIDJSON struct {
	Type       IDType `json:"type"`
	DatasetID  string `json:"datasetId"`
	ProviderID string `json:"providerId,omitempty"`
}

func (d DatasetID) MarshalJSON() ([]byte, error) {
	if d.IsInternal() {
		return json.Marshal(datasetIDJSON{Type: Internal, DatasetID: d.InternalID.String()})
	}
	return json.Marshal(datasetIDJSON{Type: External, DatasetID: d.ExternalID, ProviderID: d.ProviderID.String()})
}

func (d *DatasetID) UnmarshalJSON(data []byte) error {
	var raw datasetIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case Internal:
		id, err := uuid.Parse(raw.DatasetID)
		if err != nil {
			return fmt.Errorf("invalid internal dataset id: %w", err)
		}
		*d = InternalDatasetID(id)
	case External:
		provider, err := uuid.Parse(raw.ProviderID)
		if err != nil {
			return fmt.Errorf("invalid provider id: %w", err)
		}
		if raw.DatasetID == "" {
			return fmt.Errorf("external dataset id is empty")
		}
		*d = ExternalDatasetID(provider, raw.DatasetID)
	default:
		return fmt.Errorf(`unknown dataset id type "%s"`, raw.Type)
	}
	return nil
}
