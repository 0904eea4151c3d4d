package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/socialagent/internal/chain"
	"github.com/raphaelgruber/socialagent/internal/config"
	"github.com/raphaelgruber/socialagent/internal/social"
)

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg = config.Config{Store: "mongo"}
	t.Cleanup(func() { cfg = config.Config{} })

	_, err := openStore(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo")
}

func TestClients_DryRun(t *testing.T) {
	cfg = config.Config{OwnID: "me"}
	t.Cleanup(func() { cfg = config.Config{} })

	s := newSocialClient(context.Background(), true)
	assert.IsType(t, &social.MockClient{}, s)
	c, err := newChainClient(context.Background(), true)
	require.NoError(t, err)
	assert.IsType(t, &chain.Mock{}, c)
}

func TestChainClient_RequiresKey(t *testing.T) {
	cfg = config.Config{OwnID: "me", ChainRPCURL: "http://127.0.0.1:0"}
	t.Cleanup(func() { cfg = config.Config{} })

	_, err := newChainClient(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAIN_PRIVATE_KEY")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ääääääü...", truncate("ääääääüüüüüüüü", 10))
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"agent", "schema", "embed", "search", "sync-followers", "ingest"})
}
