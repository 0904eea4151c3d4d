package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/socialagent/internal/metrics"
)

const addr = "0x181492cC5d738c51B236603cE649229A17a7cb0e"

func TestExtractAddresses(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"alone", addr, []string{addr}},
		{"in sentence", "send to " + addr + " please", []string{addr}},
		{"followed by punctuation", "send to " + addr + ".", nil},
		{"two", addr + "\n" + addr, []string{addr, addr}},
		{"too short", "0x1234", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAddresses(tt.text))
		})
	}
}

func TestContainsAddress(t *testing.T) {
	assert.True(t, ContainsAddress("gm "+addr+"!"))
	assert.False(t, ContainsAddress("gm 0xabc"))
	assert.True(t, IsAddress(addr))
	assert.False(t, IsAddress(" "+addr))
}

func TestToWei(t *testing.T) {
	amount, err := ParseAmount("0.001")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", ToWei(amount).String())

	one, err := ParseAmount("1")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", ToWei(one).String())

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("lots")
	assert.Error(t, err)
}

func TestExplorerTxURL(t *testing.T) {
	assert.Equal(t, "https://scan.example/tx/0xabc", ExplorerTxURL("https://scan.example/", "0xabc"))
}

// fakeBackend is an in-memory node. Receipts appear on the second poll.
type fakeBackend struct {
	mu           sync.Mutex
	chainID      *big.Int
	baseFee      *big.Int
	head         uint64
	nonce        uint64
	revert       bool
	sendErr      error
	sent         []*types.Transaction
	receiptPolls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{chainID: big.NewInt(31337), baseFee: big.NewInt(1_000_000_000), head: 16, nonce: 7}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return b.chainID, nil }

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(b.head), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce + uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(3_000_000_000), nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptPolls++
	if b.receiptPolls == 1 {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if b.revert {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{TxHash: hash, Status: status, BlockNumber: new(big.Int).SetUint64(b.head)}, nil
}

func newTestRPC(t *testing.T, backend *fakeBackend) (*RPCClient, *metrics.Collector) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	collector := metrics.NewCollector()
	c := NewRPCClient(backend, key, 1, collector)
	c.poll = 5 * time.Millisecond
	return c, collector
}

func TestRPCClient_SendNativeSignsLocally(t *testing.T) {
	backend := newFakeBackend()
	c, collector := newTestRPC(t, backend)

	amount, err := ParseAmount("0.5")
	require.NoError(t, err)
	hash, err := c.SendNative(context.Background(), addr, amount)
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, common.HexToAddress(addr), *tx.To())
	assert.Equal(t, "500000000000000000", tx.Value().String())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, "4000000000", tx.GasFeeCap().String())

	sender, err := types.Sender(types.LatestSignerForChainID(backend.chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, c.From(), sender.Hex())

	assert.Equal(t, 2, backend.receiptPolls)
	assert.Equal(t, int64(1), collector.Snapshot().Operations[metrics.OpChain].Count)
}

func TestRPCClient_LegacyWithoutBaseFee(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = nil
	c, _ := newTestRPC(t, backend)

	_, err := c.SendNative(context.Background(), addr, big.NewFloat(1))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint8(types.LegacyTxType), backend.sent[0].Type())
	assert.Equal(t, "3000000000", backend.sent[0].GasPrice().String())
}

func TestRPCClient_Reverted(t *testing.T) {
	backend := newFakeBackend()
	backend.revert = true
	c, collector := newTestRPC(t, backend)

	_, err := c.SendNative(context.Background(), addr, big.NewFloat(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
	assert.Equal(t, int64(1), collector.Failures(metrics.OpChain))
}

func TestRPCClient_SendRejected(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("insufficient funds for gas * price + value")
	c, _ := newTestRPC(t, backend)

	_, err := c.SendNative(context.Background(), addr, big.NewFloat(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Zero(t, backend.receiptPolls)
}

func TestRPCClient_InvalidInput(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newTestRPC(t, backend)

	_, err := c.SendNative(context.Background(), "0x123", big.NewFloat(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = c.SendNative(context.Background(), addr, big.NewFloat(0))
	assert.Error(t, err)
	assert.Empty(t, backend.sent)
}

func TestRPCClient_BlockNumber(t *testing.T) {
	c, _ := newTestRPC(t, newFakeBackend())

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)
}

func TestDialRPC_BadKey(t *testing.T) {
	_, err := DialRPC(context.Background(), "http://127.0.0.1:0", "not-a-key", 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}

func TestMock(t *testing.T) {
	m := &Mock{}
	hash, err := m.SendNative(context.Background(), addr, big.NewFloat(0.25))
	require.NoError(t, err)
	assert.Len(t, hash, 66)
	require.Len(t, m.Transfers(), 1)
	assert.Equal(t, "0.25", m.Transfers()[0].Amount)
}
