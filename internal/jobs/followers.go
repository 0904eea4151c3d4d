package jobs

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/socialagent/internal/models"
)

const maxFollowerPages = 50

// SyncFollowers snapshots the accounts following userID so airdrop
// eligibility can be checked offline. It returns the number saved.
func SyncFollowers(ctx context.Context, deps Deps, userID string) (int, error) {
	var (
		token string
		saved int
	)
	for page := 0; page < maxFollowerPages; page++ {
		ids, next, err := deps.Social.Followers(ctx, userID, token)
		if err != nil {
			return saved, fmt.Errorf("sync followers: %w", err)
		}
		if len(ids) > 0 {
			entities := make([]models.Entity, len(ids))
			for i, id := range ids {
				entities[i] = models.NewSNSFollow(id, "")
			}
			if err := deps.Store.SaveEntities(ctx, entities...); err != nil {
				return saved, fmt.Errorf("sync followers: %w", err)
			}
			saved += len(ids)
		}
		if next == "" {
			break
		}
		token = next
	}
	deps.logger().Info("followers synced", "user", userID, "count", saved)
	return saved, nil
}
