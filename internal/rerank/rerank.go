// Package rerank fuses nearest-neighbour results from several sources into
// one list ranked by a blend of semantic closeness and freshness.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs one vector search. storage.Store satisfies it.
type Searcher interface {
	VectorSearch(ctx context.Context, q storage.VectorQuery) ([]storage.VectorRow, error)
}

// Source is one independently indexed content set.
type Source struct {
	Name       string
	Table      string
	TextColumn string
	Filter     map[string]any
	Identifier string
}

// ChatSource searches chat histories, optionally only those by one author.
func ChatSource(identifier string) Source {
	return Source{Name: "chat", Table: models.TableChatHistory, TextColumn: "content", Identifier: identifier}
}

// DocumentSource searches document chunks whose metadata matches filter.
func DocumentSource(filter map[string]any) Source {
	return Source{Name: "document", Table: models.TableDocumentChunk, TextColumn: "text", Filter: filter}
}

// Candidate is one search hit tagged with its source.
type Candidate struct {
	Text      string
	UpdatedAt time.Time
	Distance  float64
	Source    string
}

// Result is a scored candidate.
type Result struct {
	Candidate
	Score float64
}

// Weight blends similarity and recency. The two conventionally sum to 1.
type Weight struct {
	Distance float64
	Recency  float64
}

// Options tunes a rerank call.
type Options struct {
	Weight         Weight
	ScoreThreshold float64
	TopK           int
	TopKPerSource  int
}

// DefaultOptions favors semantic closeness.
func DefaultOptions() Options {
	return Options{
		Weight:         Weight{Distance: 0.7, Recency: 0.3},
		ScoreThreshold: 0.5,
		TopK:           3,
		TopKPerSource:  5,
	}
}

// Rerank embeds query once, searches every source in parallel and fuses the
// hits. A failing source fails the whole call; a source with no rows does not.
func Rerank(ctx context.Context, embedder Embedder, searcher Searcher, query string, sources []Source, opts Options) ([]Result, error) {
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	perSource := make([][]Candidate, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			rows, err := searcher.VectorSearch(gctx, storage.VectorQuery{
				Table:      src.Table,
				TextColumn: src.TextColumn,
				Vector:     vec,
				K:          opts.TopKPerSource,
				Filter:     src.Filter,
				Identifier: src.Identifier,
			})
			if err != nil {
				return fmt.Errorf("search source %s: %w", src.Name, err)
			}
			candidates := make([]Candidate, len(rows))
			for j, r := range rows {
				candidates[j] = Candidate{Text: r.Text, UpdatedAt: r.UpdatedAt, Distance: r.Distance, Source: src.Name}
			}
			perSource[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Candidate
	for _, c := range perSource {
		merged = append(merged, c...)
	}
	return Fuse(merged, opts), nil
}

// Fuse scores candidates, sorts them by score descending, drops those below
// the threshold and keeps the top K. Ties keep merge order. A dimension whose
// range is zero contributes its full weight.
func Fuse(candidates []Candidate, opts Options) []Result {
	if len(candidates) == 0 {
		return []Result{}
	}

	minDist, maxDist := candidates[0].Distance, candidates[0].Distance
	minDate, maxDate := candidates[0].UpdatedAt, candidates[0].UpdatedAt
	for _, c := range candidates[1:] {
		minDist = min(minDist, c.Distance)
		maxDist = max(maxDist, c.Distance)
		if c.UpdatedAt.Before(minDate) {
			minDate = c.UpdatedAt
		}
		if c.UpdatedAt.After(maxDate) {
			maxDate = c.UpdatedAt
		}
	}
	rangeDist := maxDist - minDist
	rangeDate := maxDate.Sub(minDate)

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		similarity := 1.0
		if rangeDist > 0 {
			similarity = 1 - (c.Distance-minDist)/rangeDist
		}
		recency := 1.0
		if rangeDate > 0 {
			recency = float64(c.UpdatedAt.Sub(minDate)) / float64(rangeDate)
		}
		results[i] = Result{
			Candidate: c,
			Score:     opts.Weight.Distance*similarity + opts.Weight.Recency*recency,
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	kept := results[:0]
	for _, r := range results {
		if r.Score >= opts.ScoreThreshold {
			kept = append(kept, r)
		}
	}
	if opts.TopK > 0 && len(kept) > opts.TopK {
		kept = kept[:opts.TopK]
	}
	return kept
}

// LookupKnowledge ranks document chunks for query with the default weights.
func LookupKnowledge(ctx context.Context, embedder Embedder, searcher Searcher, query string, topK int) ([]Result, error) {
	opts := DefaultOptions()
	if topK > 0 {
		opts.TopK = topK
	}
	return Rerank(ctx, embedder, searcher, query, []Source{DocumentSource(nil)}, opts)
}

// Format joins result texts one per line for prompt building.
func Format(results []Result) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n")
}
