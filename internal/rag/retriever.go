// internal/rag/retriever.go
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"vaste-chatbot/internal/ai"
	"vaste-chatbot/internal/models"

	"github.com/pgvector/pgvector-go"
)

const (
	ModeRecent  = "recent"
	ModeSimilar = "similar"

	DefaultLimit = 20

	// MaxOutputLength caps the extracted text stored per knowledge entry.
	MaxOutputLength = 200_000

	// similarCandidates bounds how many recent entries are ranked in process
	// when the database cannot order by vector distance itself.
	similarCandidates = 200
)

// ErrInvalidInput is returned when a knowledge entry lacks its input or output.
var ErrInvalidInput = errors.New("knowledge input and output are required")

type Store interface {
	CreateKnowledge(ctx context.Context, entry *models.KnowledgeEntry) error
	RecentKnowledge(ctx context.Context, agentID string, limit int) ([]models.KnowledgeEntry, error)
	SimilarKnowledge(ctx context.Context, agentID string, embedding []float32, limit int) ([]models.KnowledgeEntry, error)
	SupportsVectorSearch() bool
}

type Embedder interface {
	Configured() bool
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type RAGRetriever struct {
	store    Store
	embedder Embedder
	mode     string
	limit    int
}

func NewRAGRetriever(store Store, embedder Embedder, mode string, limit int) *RAGRetriever {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if mode != ModeSimilar || embedder == nil || !embedder.Configured() {
		mode = ModeRecent
	}
	return &RAGRetriever{
		store:    store,
		embedder: embedder,
		mode:     mode,
		limit:    limit,
	}
}

func (r *RAGRetriever) Mode() string {
	return r.mode
}

// SearchRelevantContext renders the agent's knowledge as a block to append to
// the system prompt. It returns "" when the agent has no knowledge.
func (r *RAGRetriever) SearchRelevantContext(ctx context.Context, agentID, query string) (string, error) {
	entries, err := r.entries(ctx, agentID, query)
	if err != nil {
		return "", err
	}
	return FormatKnowledge(entries), nil
}

func (r *RAGRetriever) entries(ctx context.Context, agentID, query string) ([]models.KnowledgeEntry, error) {
	if r.mode == ModeSimilar && strings.TrimSpace(query) != "" {
		entries, err := r.similar(ctx, agentID, query)
		if err == nil {
			return r.fillRecent(ctx, agentID, entries)
		}
		slog.Warn("Similarity retrieval failed, using recent knowledge", "agent_id", agentID, "error", err)
	}

	entries, err := r.store.RecentKnowledge(ctx, agentID, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge: %w", err)
	}
	return entries, nil
}

// fillRecent tops a short similarity result up with the most recent entries,
// so entries stored without an embedding still reach the prompt.
func (r *RAGRetriever) fillRecent(ctx context.Context, agentID string, ranked []models.KnowledgeEntry) ([]models.KnowledgeEntry, error) {
	if len(ranked) >= r.limit {
		return ranked, nil
	}

	recent, err := r.store.RecentKnowledge(ctx, agentID, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge: %w", err)
	}

	seen := make(map[uint]bool, len(ranked))
	for _, e := range ranked {
		seen[e.ID] = true
	}
	for _, e := range recent {
		if len(ranked) == r.limit {
			break
		}
		if !seen[e.ID] {
			seen[e.ID] = true
			ranked = append(ranked, e)
		}
	}
	return ranked, nil
}

func (r *RAGRetriever) similar(ctx context.Context, agentID, query string) ([]models.KnowledgeEntry, error) {
	embedding, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	if r.store.SupportsVectorSearch() {
		return r.store.SimilarKnowledge(ctx, agentID, embedding, r.limit)
	}

	candidates, err := r.store.RecentKnowledge(ctx, agentID, similarCandidates)
	if err != nil {
		return nil, err
	}
	return rankBySimilarity(candidates, embedding, r.limit), nil
}

func rankBySimilarity(entries []models.KnowledgeEntry, query []float32, limit int) []models.KnowledgeEntry {
	type scored struct {
		entry models.KnowledgeEntry
		score float64
	}

	var ranked []scored
	for _, e := range entries {
		if e.Embedding == nil {
			continue
		}
		ranked = append(ranked, scored{entry: e, score: ai.CalculateCosineSimilarity(e.Embedding.Slice(), query)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]models.KnowledgeEntry, len(ranked))
	for i, s := range ranked {
		out[i] = s.entry
	}
	return out
}

func FormatKnowledge(entries []models.KnowledgeEntry) string {
	var lines []string
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s: %s", e.Input, e.Output))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\nKnowledge Base (most recent first):\n" + strings.Join(lines, "\n")
}

// StoreKnowledge saves an entry, truncating its output and, in similarity
// mode, attaching an embedding. Embedding failures do not block the save.
func (r *RAGRetriever) StoreKnowledge(ctx context.Context, entry *models.KnowledgeEntry) error {
	if strings.TrimSpace(entry.Input) == "" || strings.TrimSpace(entry.Output) == "" {
		return ErrInvalidInput
	}
	entry.Output = truncate(entry.Output, MaxOutputLength)
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}
	entry.Metadata["length"] = utf8.RuneCountInString(entry.Output)

	if r.mode == ModeSimilar {
		embedding, err := r.embedder.GenerateEmbedding(ctx, entry.Output)
		if err != nil {
			slog.Warn("Failed to embed knowledge entry", "agent_id", entry.AgentID, "error", err)
		} else {
			vector := pgvector.NewVector(embedding)
			entry.Embedding = &vector
		}
	}

	return r.store.CreateKnowledge(ctx, entry)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
