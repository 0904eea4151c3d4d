package jobs

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
)

// EmbeddingState configures the embedding job.
type EmbeddingState struct {
	BatchSize int
}

func (EmbeddingState) JobName() string { return EmbeddingJobName }

// EmbeddingJob backfills embeddings of chat histories so they become
// searchable.
type EmbeddingJob struct {
	deps  Deps
	state EmbeddingState
}

func NewEmbeddingJob(deps Deps, state EmbeddingState) *EmbeddingJob {
	return &EmbeddingJob{deps: deps, state: state}
}

func (j *EmbeddingJob) State() scheduler.State { return j.state }

// Run embeds one batch. Histories that fail to embed stay unembedded and are
// retried next run; the rest are saved together.
func (j *EmbeddingJob) Run(ctx context.Context) error {
	histories, err := j.deps.Store.ListUnembedded(ctx, j.state.BatchSize)
	if err != nil {
		return fmt.Errorf("%s: list unembedded: %w", EmbeddingJobName, err)
	}
	if len(histories) == 0 {
		return nil
	}
	j.deps.logger().Info("embedding histories", "count", len(histories))

	var errs []error
	embedded := make([]models.Entity, 0, len(histories))
	for _, h := range histories {
		vec, err := j.deps.Embedder.Embed(ctx, h.Content)
		if err != nil {
			j.deps.logger().Warn("embedding failed", "id", h.ID, "error", err)
			errs = append(errs, fmt.Errorf("id %s: %w", h.ID, err))
			continue
		}
		h.Embedding = vec
		embedded = append(embedded, h)
	}

	if len(embedded) > 0 {
		if err := j.deps.Store.SaveEntities(ctx, embedded...); err != nil {
			errs = append(errs, fmt.Errorf("save embeddings: %w", err))
		}
	}
	return joinErrors(EmbeddingJobName, errs)
}
