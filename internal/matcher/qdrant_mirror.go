package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// QdrantConfig configures the durable mirror. Dims must match the active
// embedding provider's output size.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dims       uint64
}

// QdrantMirror durably stores ground-truth-query embeddings in Qdrant. It
// only writes: nothing in this package reads the points back to reconstruct
// an in-memory Index. Mirroring is best-effort — failures are logged, never surfaced to the caller that
// triggered a ground-truth regeneration.
type QdrantMirror struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger
}

func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("matcher: invalid qdrant URL: %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("matcher: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}
	return host, port, useTLS, nil
}

// NewQdrantMirror connects to Qdrant over gRPC.
func NewQdrantMirror(cfg QdrantConfig, logger *slog.Logger) (*QdrantMirror, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: cfg.APIKey, UseTLS: useTLS})
	if err != nil {
		return nil, fmt.Errorf("matcher: connect qdrant %s:%d: %w", host, port, err)
	}
	return &QdrantMirror{client: client, collection: cfg.Collection, dims: cfg.Dims, logger: logger}, nil
}

// EnsureCollection creates the collection used for ground-truth query
// vectors if it doesn't already exist.
func (m *QdrantMirror) EnsureCollection(ctx context.Context) error {
	exists, err := m.client.CollectionExists(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("matcher: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: m.dims, Distance: qdrant.Distance_Cosine}),
	})
	if err != nil {
		return fmt.Errorf("matcher: create collection %q: %w", m.collection, err)
	}
	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := m.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: m.collection,
		FieldName:      "agent_name",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("matcher: create index on agent_name: %w", err)
	}
	m.logger.Info("matcher: created qdrant collection", "collection", m.collection, "dims", m.dims)
	return nil
}

// Mirror upserts every query in artifact that has an embedding, keyed by a
// numeric point ID hashed from the agent name and local ID (pointIDFor), so
// re-mirroring the same artifact after an incremental run overwrites stale
// points rather than duplicating them.
func (m *QdrantMirror) Mirror(ctx context.Context, artifact model.GroundTruthArtifact, embeddings map[int][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(artifact.Queries))
	for _, q := range artifact.Queries {
		vec, ok := embeddings[q.LocalID]
		if !ok {
			continue
		}
		payload := map[string]any{
			"agent_name":       artifact.AgentName,
			"local_id":         float64(q.LocalID),
			"natural_language": q.NaturalLanguage,
			"sql":              q.SQL,
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(pointIDFor(artifact.AgentName, q.LocalID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("matcher: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// pointIDFor derives a stable numeric point ID from an agent name + local
// id pair using FNV-1a, avoiding a UUID roundtrip for a purely internal key.
func pointIDFor(agentName string, localID int) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, c := range agentName {
		h ^= uint64(c)
		h *= prime64
	}
	h ^= uint64(localID)
	h *= prime64
	return h
}

// Close shuts down the gRPC connection.
func (m *QdrantMirror) Close() error { return m.client.Close() }
