package jobs

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/socialagent/internal/config"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
)

func TestRegister(t *testing.T) {
	e := newEnv(t)
	s := scheduler.New(scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	defs, err := config.ParseJobs([]byte(`
post:
  enabled: true
  interval: 1h
  instructions: ["say gm"]
cheer:
  enabled: false
  interval: 1h
embedding:
  enabled: true
  interval: 5m
`))
	require.NoError(t, err)

	names, err := Register(s, e.deps, defs, "https://explorer.example")
	require.NoError(t, err)
	assert.Equal(t, []string{PostJobName, EmbeddingJobName}, names)

	stats := s.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, (time.Hour).String(), stats[0].Interval)
}

func TestRegister_RejectsShortInterval(t *testing.T) {
	e := newEnv(t)
	s := scheduler.New(
		scheduler.WithTick(time.Second),
		scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	defs := config.Jobs{Embedding: config.EmbeddingJob{
		JobSpec:   config.JobSpec{Enabled: true, Interval: time.Second},
		BatchSize: 5,
	}}
	_, err := Register(s, e.deps, defs, "")
	assert.ErrorIs(t, err, scheduler.ErrInvalidInterval)
}
