package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// JobSpec holds the fields every job shares.
type JobSpec struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// PostJob publishes one post per instruction.
type PostJob struct {
	JobSpec      `yaml:",inline"`
	Instructions []string `yaml:"instructions"`
	RecentPosts  int      `yaml:"recent_posts"`
}

// QuotePostJob quotes posts of followed accounts.
type QuotePostJob struct {
	JobSpec      `yaml:",inline"`
	FollowingIDs []string `yaml:"following_ids"`
}

// CheerJob likes and replies to posts of followed accounts.
type CheerJob struct {
	JobSpec      `yaml:",inline"`
	FollowingIDs []string `yaml:"following_ids"`
	MinLength    int      `yaml:"min_length"`
}

// AirdropJob answers airdrop requests under the agent's recent posts.
type AirdropJob struct {
	JobSpec     `yaml:",inline"`
	Amount      string `yaml:"amount"`
	RecentPosts int    `yaml:"recent_posts"`
}

// EmbeddingJob backfills embeddings for stored chat histories.
type EmbeddingJob struct {
	JobSpec   `yaml:",inline"`
	BatchSize int `yaml:"batch_size"`
}

// Jobs is the parsed job file.
type Jobs struct {
	Post      PostJob      `yaml:"post"`
	QuotePost QuotePostJob `yaml:"quote_post"`
	Cheer     CheerJob     `yaml:"cheer"`
	Airdrop   AirdropJob   `yaml:"airdrop"`
	Embedding EmbeddingJob `yaml:"embedding"`
}

// LoadJobs reads and validates a YAML job file.
func LoadJobs(path string) (Jobs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Jobs{}, fmt.Errorf("read jobs file: %w", err)
	}
	return ParseJobs(data)
}

// ParseJobs decodes job definitions and fills defaults.
func ParseJobs(data []byte) (Jobs, error) {
	var jobs Jobs
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return Jobs{}, fmt.Errorf("parse jobs file: %w", err)
	}

	if jobs.Post.RecentPosts <= 0 {
		jobs.Post.RecentPosts = 10
	}
	if jobs.Cheer.MinLength <= 0 {
		jobs.Cheer.MinLength = 100
	}
	if jobs.Airdrop.RecentPosts <= 0 {
		jobs.Airdrop.RecentPosts = 5
	}
	if jobs.Airdrop.Amount == "" {
		jobs.Airdrop.Amount = "0"
	}
	if jobs.Embedding.BatchSize <= 0 {
		jobs.Embedding.BatchSize = 20
	}

	var errs []error
	for name, spec := range map[string]JobSpec{
		"post":       jobs.Post.JobSpec,
		"quote_post": jobs.QuotePost.JobSpec,
		"cheer":      jobs.Cheer.JobSpec,
		"airdrop":    jobs.Airdrop.JobSpec,
		"embedding":  jobs.Embedding.JobSpec,
	} {
		if spec.Enabled && spec.Interval <= 0 {
			errs = append(errs, fmt.Errorf("%s: interval must be positive", name))
		}
	}
	if jobs.Post.Enabled && len(jobs.Post.Instructions) == 0 {
		errs = append(errs, errors.New("post: at least one instruction required"))
	}
	if err := errors.Join(errs...); err != nil {
		return Jobs{}, fmt.Errorf("invalid jobs file: %w", err)
	}
	return jobs, nil
}
