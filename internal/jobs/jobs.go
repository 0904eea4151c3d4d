// Package jobs implements the agent's scheduled work: posting, quoting,
// cheering, answering airdrop requests and backfilling embeddings.
//
// Every job collects per-item failures and reports them joined under the
// job's name, except social.ErrClosing which aborts the run immediately.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/raphaelgruber/socialagent/internal/chain"
	"github.com/raphaelgruber/socialagent/internal/knowledge"
	"github.com/raphaelgruber/socialagent/internal/llm"
	"github.com/raphaelgruber/socialagent/internal/memory"
	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/rerank"
	"github.com/raphaelgruber/socialagent/internal/social"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// Job names, also used as scheduler registration keys.
const (
	PostJobName      = "post"
	QuotePostJobName = "quote-post"
	CheerJobName     = "cheer"
	AirdropJobName   = "airdrop"
	EmbeddingJobName = "embedding"
)

// Deps are the services shared by every job.
type Deps struct {
	Store    storage.Store
	Social   social.Client
	Agent    *llm.Agent
	Embedder rerank.Embedder
	Chain    chain.Client
	Memory   *memory.Memory
	Logger   *slog.Logger

	// Web reads pages linked from cheered posts and Ingester keeps them as
	// knowledge. Both are optional.
	Web      ArticleFetcher
	Ingester *knowledge.Ingester

	// Intn picks a random index in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
}

// ArticleFetcher reads the article behind a link. *knowledge.WebFetcher
// implements it.
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) (*knowledge.Article, error)
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) intn(n int) int {
	if d.Intn == nil {
		return rand.IntN(n)
	}
	return d.Intn(n)
}

// knowledge returns document chunks relevant to query, one per line.
func (d Deps) knowledge(ctx context.Context, query string) (string, error) {
	results, err := rerank.LookupKnowledge(ctx, d.Embedder, d.Store, query, 0)
	if err != nil {
		return "", fmt.Errorf("lookup knowledge: %w", err)
	}
	return rerank.Format(results), nil
}

// joinErrors reports the failures of one run, or nil when there were none.
func joinErrors(tag string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d errors occurred: %w", tag, len(errs), errors.Join(errs...))
}

func isClosing(err error) bool {
	return errors.Is(err, social.ErrClosing)
}

func contents(histories []*models.ChatHistory) string {
	var b strings.Builder
	for _, h := range histories {
		b.WriteString(h.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
