package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// ErrNotFound is returned when a requested blob does not exist.
var ErrNotFound = errors.New("not found")

// ArtifactStore reads and writes ground-truth artifacts through a Store,
// keyed by the normalized agent name.
type ArtifactStore struct {
	store  Store
	prefix string
}

func NewArtifactStore(store Store, prefix string) *ArtifactStore {
	return &ArtifactStore{store: store, prefix: prefix}
}

// Put serializes and persists an artifact.
func (a *ArtifactStore) Put(ctx context.Context, artifact model.GroundTruthArtifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("objectstore: marshal artifact: %w", err)
	}
	return a.store.Put(ctx, ArtifactKey(a.prefix, artifact.AgentName), data)
}

// Get loads and deserializes an artifact for agentName.
func (a *ArtifactStore) Get(ctx context.Context, agentName string) (model.GroundTruthArtifact, error) {
	data, err := a.store.Get(ctx, ArtifactKey(a.prefix, agentName))
	if err != nil {
		return model.GroundTruthArtifact{}, err
	}
	var artifact model.GroundTruthArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return model.GroundTruthArtifact{}, fmt.Errorf("objectstore: unmarshal artifact for %s: %w", agentName, err)
	}
	return artifact, nil
}

// Exists reports whether an artifact exists for agentName.
func (a *ArtifactStore) Exists(ctx context.Context, agentName string) (bool, error) {
	return a.store.Exists(ctx, ArtifactKey(a.prefix, agentName))
}
