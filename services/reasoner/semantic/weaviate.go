// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding searchable climate records.
const DefaultClassName = "ClimateRecord"

// VectorDistance is the distance metric ClassSchema configures.
const VectorDistance = "cosine"

// recordNamespace seeds deterministic object UUIDs from record IDs.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://aleutian.ai/climate/records"))

// =============================================================================
// Types
// =============================================================================

// Filters narrows a vector search. Empty fields match everything; set
// fields are AND-combined, values within a field are OR-combined.
type Filters struct {
	Module string
	Kinds  []string
	Tags   []string
}

// Match is one vector search result.
type Match struct {
	ID         string
	Kind       string
	Title      string
	Content    string
	Module     string
	Tags       []string
	Similarity float64
}

// Record is an object to index for semantic search.
type Record struct {
	ID      string
	Kind    string
	Title   string
	Content string
	Module  string
	Tags    []string
}

// Text returns the string that is embedded for the record.
func (r Record) Text() string {
	parts := []string{r.Title}
	if r.Content != "" {
		parts = append(parts, r.Content)
	}
	if len(r.Tags) > 0 {
		parts = append(parts, strings.Join(r.Tags, " "))
	}
	return strings.Join(parts, "\n")
}

// VectorSearcher runs a similarity search for a query vector.
type VectorSearcher interface {
	SearchVector(ctx context.Context, vector []float32, f Filters, limit int) ([]Match, error)
}

// =============================================================================
// Client construction
// =============================================================================

// NewWeaviateClient creates a client for a Weaviate base URL such as
// "http://weaviate:8080".
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || parsed.Scheme == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create Weaviate client: %w", err)
	}
	return client, nil
}

// =============================================================================
// WeaviateSearcher
// =============================================================================

// WeaviateSearcher implements VectorSearcher with a NearVector GraphQL query.
//
// Similarity is derived from the cosine distance Weaviate reports:
// 1 - distance/2, clamped to [0, 1]. This equals Weaviate's certainty and
// assumes the class uses cosine distance, which ClassSchema pins. Certainty
// is used directly when present, since Weaviate only reports it for cosine.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateSearcher creates a searcher over className (DefaultClassName if empty).
func NewWeaviateSearcher(client *weaviate.Client, className string) *WeaviateSearcher {
	if className == "" {
		className = DefaultClassName
	}
	return &WeaviateSearcher{client: client, className: className}
}

// recordResult is one object in the GraphQL Get response.
type recordResult struct {
	RecordID   string   `json:"record_id"`
	Kind       string   `json:"kind"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Module     string   `json:"module"`
	Tags       []string `json:"tags"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
		Distance  *float32 `json:"distance"`
	} `json:"_additional"`
}

// similarity maps the reported certainty or cosine distance into [0, 1].
func (r recordResult) similarity() float64 {
	var sim float64
	switch {
	case r.Additional.Certainty != nil:
		sim = *r.Additional.Certainty
	case r.Additional.Distance != nil:
		sim = 1 - float64(*r.Additional.Distance)/2
	default:
		return 0
	}
	return math.Max(0, math.Min(1, sim))
}

// recordQueryResponse is keyed by class name under "Get".
type recordQueryResponse struct {
	Get map[string][]recordResult `json:"Get"`
}

// SearchVector runs the NearVector query.
func (s *WeaviateSearcher) SearchVector(ctx context.Context, vector []float32, f Filters, limit int) ([]Match, error) {
	if s == nil || s.client == nil {
		return nil, ErrSearcherNotConfigured
	}
	if limit <= 0 {
		return []Match{}, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "record_id"},
		{Name: "kind"},
		{Name: "title"},
		{Name: "content"},
		{Name: "module"},
		{Name: "tags"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
			{Name: "distance"},
		}},
	}

	query := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit)
	if where := buildWhere(f); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if result != nil && len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("weaviate search failed: %s", strings.Join(msgs, "; "))
	}

	parsed, err := ParseGraphQLResponse[recordQueryResponse](result)
	if err != nil {
		return nil, err
	}

	rows := parsed.Get[s.className]
	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		id := r.RecordID
		if id == "" {
			id = r.Additional.ID
		}
		matches = append(matches, Match{
			ID:         id,
			Kind:       r.Kind,
			Title:      r.Title,
			Content:    r.Content,
			Module:     r.Module,
			Tags:       r.Tags,
			Similarity: r.similarity(),
		})
	}
	return matches, nil
}

// buildWhere translates Filters into a Weaviate where clause, or nil when empty.
func buildWhere(f Filters) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder

	if f.Module != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"module"}).
			WithOperator(filters.Equal).
			WithValueString(f.Module))
	}
	if w := anyOf("kind", f.Kinds); w != nil {
		operands = append(operands, w)
	}
	if w := anyOf("tags", f.Tags); w != nil {
		operands = append(operands, w)
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().
			WithOperator(filters.And).
			WithOperands(operands)
	}
}

// anyOf ORs one Equal clause per value.
func anyOf(path string, values []string) *filters.WhereBuilder {
	if len(values) == 0 {
		return nil
	}
	clauses := make([]*filters.WhereBuilder, 0, len(values))
	for _, v := range values {
		clauses = append(clauses, filters.Where().
			WithPath([]string{path}).
			WithOperator(filters.Equal).
			WithValueString(v))
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands(clauses)
}

// ParseGraphQLResponse converts a GraphQL response's Data into T.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// =============================================================================
// Schema and indexing
// =============================================================================

// ClassSchema returns the Weaviate class definition for climate records.
// Vectors are supplied by the Indexer, so the class has no vectorizer.
func ClassSchema(className string) *models.Class {
	if className == "" {
		className = DefaultClassName
	}
	text := func(name, desc string) *models.Property {
		return &models.Property{Name: name, DataType: []string{"text"}, Description: desc}
	}
	return &models.Class{
		Class:       className,
		Description: "Searchable climate platform records (world model nodes and business records)",
		Vectorizer:  "none",

		// Similarity scoring assumes cosine distance.
		VectorIndexType:   "hnsw",
		VectorIndexConfig: map[string]any{"distance": VectorDistance},

		Properties: []*models.Property{
			text("record_id", "Stable record identity, e.g. table:missions"),
			text("kind", "Record kind, e.g. an entity type"),
			text("title", "Display title"),
			text("content", "Body text that was embedded"),
			text("module", "Owning module"),
			{Name: "tags", DataType: []string{"text[]"}, Description: "Record tags"},
		},
	}
}

// EnsureSchema creates the class when it does not exist yet.
func EnsureSchema(ctx context.Context, client *weaviate.Client, className string) error {
	class := ClassSchema(className)
	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Debug("Weaviate class already exists", "class", class.Class)
		return nil
	}
	slog.Info("Weaviate class not found, creating it", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create Weaviate class %s: %w", class.Class, err)
	}
	return nil
}

// Indexer embeds records and upserts them into Weaviate.
type Indexer struct {
	client    *weaviate.Client
	embedder  Embedder
	className string
}

// NewIndexer creates an indexer writing to className (DefaultClassName if empty).
func NewIndexer(client *weaviate.Client, embedder Embedder, className string) *Indexer {
	if className == "" {
		className = DefaultClassName
	}
	return &Indexer{client: client, embedder: embedder, className: className}
}

// ObjectID returns the deterministic Weaviate UUID for a record ID, so
// re-indexing the same record overwrites it.
func ObjectID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(recordNamespace, []byte(recordID)).String())
}

// Index embeds and batch-imports records.
//
// # Outputs
//
//   - int: Number of objects Weaviate reported as stored.
//   - error: Embedding or batch transport failure. Per-object failures are
//     logged and reduce the count instead.
func (ix *Indexer) Index(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		vec, err := ix.embedder.Embed(ctx, r.Text())
		if err != nil {
			return 0, fmt.Errorf("embed record %s: %w", r.ID, err)
		}
		objects = append(objects, &models.Object{
			Class:  ix.className,
			ID:     ObjectID(r.ID),
			Vector: vec,
			Properties: map[string]interface{}{
				"record_id": r.ID,
				"kind":      r.Kind,
				"title":     r.Title,
				"content":   r.Content,
				"module":    r.Module,
				"tags":      r.Tags,
			},
		})
	}

	resp, err := ix.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate batch import: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Weaviate batch item failed", "id", item.ID, "error", e.Message)
			}
		}
	}
	slog.Info("indexed climate records", "class", ix.className, "requested", len(records), "stored", stored)
	return stored, nil
}
