// Package qdrant implements vectorstore.Store on a Qdrant collection.
//
// The collection is created on first use with cosine distance; passage
// provenance is stored in the point payload under typed keys, with any
// extra metadata fields alongside them.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/docqa/docqa/internal/vectorstore"
)

// Payload keys for the typed passage fields. Everything else in a point's
// payload is treated as an extension field.
const (
	payloadText         = "text"
	payloadSourceID     = "source_id"
	payloadChunkIndex   = "chunk_index"
	payloadConversation = "conversation_id"
)

// scrollPageSize bounds one ListSources scroll page.
const scrollPageSize = 256

// Config holds Qdrant connection configuration.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Store implements vectorstore.Store for Qdrant.
type Store struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// New creates a Qdrant-backed store. The collection is not touched until
// EnsureCollection or the first write.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &Store{
		client:     client,
		collection: cfg.Collection,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet. dimension must match the embedder's output length.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %q: %w", s.collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", s.collection, err)
	}

	s.logger.Info("created qdrant collection", "collection", s.collection, "dimension", dimension)
	return nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, passages []vectorstore.Passage, vectors [][]float32) error {
	if len(passages) != len(vectors) {
		return fmt.Errorf("passages and vectors length mismatch: %d vs %d", len(passages), len(vectors))
	}
	if len(passages) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(passages))
	for i, p := range passages {
		payload := map[string]any{
			payloadText:       p.Text,
			payloadSourceID:   p.SourceID,
			payloadChunkIndex: int64(p.ChunkIndex),
		}
		if p.ConversationID != "" {
			payload[payloadConversation] = p.ConversationID
		}
		for k, v := range p.Extra {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(points))
	for _, point := range points {
		matches = append(matches, vectorstore.Match{
			Passage: passageFromPayload(pointID(point.Id), point.Payload),
			Score:   point.Score,
		})
	}
	return matches, nil
}

// Delete implements vectorstore.Store. The count is taken with an exact
// pre-count, matching what the filtered delete removes.
func (s *Store) Delete(ctx context.Context, filter vectorstore.Filter) (int, error) {
	qf := buildFilter(filter)

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         qf,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count failed: %w", err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(qf),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant delete failed: %w", err)
	}

	return int(count), nil
}

// ListSources implements vectorstore.Store. It scrolls the collection
// (filtered to the conversation) and aggregates chunk counts per source.
func (s *Store) ListSources(ctx context.Context, conversationID string) ([]vectorstore.SourceInfo, error) {
	filter := buildFilter(vectorstore.Filter{ConversationID: conversationID})

	counts := make(map[string]int)
	var order []string
	seen := make(map[string]struct{})

	var offset *qdrant.PointId
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant scroll failed: %w", err)
		}

		progressed := false
		for _, point := range points {
			id := pointID(point.Id)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			progressed = true

			name := payloadString(point.Payload, payloadSourceID)
			if name == "" {
				name = "unknown"
			}
			if _, known := counts[name]; !known {
				order = append(order, name)
			}
			counts[name]++
			offset = point.Id
		}

		if !progressed || len(points) < scrollPageSize {
			break
		}
	}

	sources := make([]vectorstore.SourceInfo, 0, len(order))
	for _, name := range order {
		sources = append(sources, vectorstore.SourceInfo{Name: name, Chunks: counts[name]})
	}
	return sources, nil
}

// Stats implements vectorstore.Store.
func (s *Store) Stats(ctx context.Context) (vectorstore.Stats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return vectorstore.Stats{}, fmt.Errorf("qdrant collection info failed: %w", err)
	}

	stats := vectorstore.Stats{
		PointCount:  info.GetPointsCount(),
		VectorCount: info.GetVectorsCount(),
	}
	if stats.VectorCount == 0 {
		stats.VectorCount = stats.PointCount
	}
	return stats, nil
}

// Close implements vectorstore.Store.
func (s *Store) Close() error {
	return s.client.Close()
}

// buildFilter converts a vectorstore.Filter into a Qdrant filter.
// Returns nil for the zero filter (match everything).
func buildFilter(filter vectorstore.Filter) *qdrant.Filter {
	var conditions []*qdrant.Condition

	if filter.ConversationID != "" {
		conditions = append(conditions, qdrant.NewMatchKeyword(payloadConversation, filter.ConversationID))
	}
	switch len(filter.SourceIDs) {
	case 0:
	case 1:
		conditions = append(conditions, qdrant.NewMatchKeyword(payloadSourceID, filter.SourceIDs[0]))
	default:
		conditions = append(conditions, qdrant.NewMatchKeywords(payloadSourceID, filter.SourceIDs...))
	}

	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// passageFromPayload rebuilds a Passage from a point payload. Unknown
// payload keys land in Extra.
func passageFromPayload(id string, payload map[string]*qdrant.Value) vectorstore.Passage {
	p := vectorstore.Passage{ID: id}
	for k, v := range payload {
		switch k {
		case payloadText:
			p.Text = v.GetStringValue()
		case payloadSourceID:
			p.SourceID = v.GetStringValue()
		case payloadChunkIndex:
			p.ChunkIndex = int(v.GetIntegerValue())
		case payloadConversation:
			p.ConversationID = v.GetStringValue()
		default:
			if str := v.GetStringValue(); str != "" {
				if p.Extra == nil {
					p.Extra = make(map[string]string)
				}
				p.Extra[k] = str
			}
		}
	}
	return p
}

// payloadString extracts a string payload field, or "".
func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// pointID renders a point identifier as a string.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// Compile-time check that Store implements vectorstore.Store.
var _ vectorstore.Store = (*Store)(nil)
