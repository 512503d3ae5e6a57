// Package matcher is the in-memory cosine-NN semantic matcher over a
// ground-truth artifact's query embeddings, with an optional Qdrant mirror
// that rebuilds upsert into. The mirror is write-only: the in-memory index is
// always rebuilt by re-embedding the artifact's queries.
package matcher

import (
	"context"
	"math"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/sqlsentry/internal/embedding"
	"github.com/ashita-ai/sqlsentry/internal/model"
)

// MinScoreThreshold is the minimum cosine similarity for a nearest-neighbor
// hit to count as a ground-truth match.
const MinScoreThreshold = 0.95

// Match is a nearest-neighbor hit.
type Match struct {
	Query model.GroundTruthQuery
	Score float64
}

// entry is one embedded ground-truth query kept in memory.
type entry struct {
	query     model.GroundTruthQuery
	embedding []float32
}

// Index is an in-memory nearest-neighbor index over one agent's (or the
// shared fallback) ground-truth artifact. Rebuilt wholesale on demand; reads
// take a read lock, and a rebuild swaps in the new entries under the write
// lock.
type Index struct {
	mu      sync.RWMutex
	entries []entry
	agentID string // normalized agent name this index was built for
}

// NewIndex returns an empty index. Call Rebuild to populate it.
func NewIndex() *Index {
	return &Index{}
}

// Rebuild embeds every query in the artifact and replaces the index's
// snapshot. All queries are embedded in one batch call; if it fails, the
// error is returned and the previous entries are kept.
func (idx *Index) Rebuild(ctx context.Context, embedder embedding.Provider, artifact model.GroundTruthArtifact) error {
	texts := make([]string, 0, len(artifact.Queries))
	queries := make([]model.GroundTruthQuery, 0, len(artifact.Queries))
	for _, q := range artifact.Queries {
		texts = append(texts, q.NaturalLanguage)
		queries = append(queries, q)
	}
	if len(texts) == 0 {
		idx.mu.Lock()
		idx.entries = nil
		idx.agentID = artifact.AgentName
		idx.mu.Unlock()
		return nil
	}

	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	entries := make([]entry, 0, len(vecs))
	for i, v := range vecs {
		entries = append(entries, entry{query: queries[i], embedding: v.Slice()})
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.agentID = artifact.AgentName
	idx.mu.Unlock()
	return nil
}

// Best returns the single nearest-neighbor match for queryEmbedding,
// regardless of threshold; callers apply MinScoreThreshold themselves.
// ok is false when the index is empty.
func (idx *Index) Best(queryEmbedding pgvector.Vector) (Match, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 {
		return Match{}, false
	}

	q := queryEmbedding.Slice()
	var best Match
	var bestScore = math.Inf(-1)
	for _, e := range idx.entries {
		if len(e.embedding) != len(q) {
			continue // dimension mismatch against this entry; skip rather than panic
		}
		s := cosineSimilarity(q, e.embedding)
		if s > bestScore {
			bestScore = s
			best = Match{Query: e.query, Score: s}
		}
	}
	if math.IsInf(bestScore, -1) {
		return Match{}, false
	}
	return best, true
}

// Len reports how many ground-truth queries are currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Snapshot returns the current embeddings keyed by each query's LocalID, for
// callers that durably mirror the index (e.g. QdrantMirror) rather than
// serve lookups from it.
func (idx *Index) Snapshot() map[int][]float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[int][]float32, len(idx.entries))
	for _, e := range idx.entries {
		out[e.query.LocalID] = e.embedding
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Registry owns one Index per agent, plus a shared fallback index used when
// an agent has no artifact of its own yet.
type Registry struct {
	mu       sync.RWMutex
	byAgent  map[string]*Index
	fallback *Index
}

// NewRegistry builds an empty registry with a shared fallback index.
func NewRegistry() *Registry {
	return &Registry{byAgent: make(map[string]*Index), fallback: NewIndex()}
}

// ForAgent returns (creating if needed) the per-agent index.
func (r *Registry) ForAgent(agentName string) *Index {
	r.mu.RLock()
	idx, ok := r.byAgent[agentName]
	r.mu.RUnlock()
	if ok {
		return idx
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok = r.byAgent[agentName]; ok {
		return idx
	}
	idx = NewIndex()
	r.byAgent[agentName] = idx
	return idx
}

// Fallback returns the shared fallback index.
func (r *Registry) Fallback() *Index {
	return r.fallback
}

// Lookup finds the best ground-truth match for queryText, searching the
// agent's own index first and falling back to the shared index.
// Returns ok=false if no match clears MinScoreThreshold.
func (r *Registry) Lookup(ctx context.Context, embedder embedding.Provider, agentName, queryText string) (Match, bool, error) {
	vec, err := embedder.Embed(ctx, queryText)
	if err != nil {
		return Match{}, false, err
	}

	if idx := r.ForAgent(agentName); idx.Len() > 0 {
		if m, found := idx.Best(vec); found && m.Score >= MinScoreThreshold {
			return m, true, nil
		}
	}

	if m, found := r.fallback.Best(vec); found && m.Score >= MinScoreThreshold {
		return m, true, nil
	}

	return Match{}, false, nil
}
