package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/raphaelgruber/socialagent/internal/metrics"
)

const defaultPollInterval = 2 * time.Second

// Backend is the part of *ethclient.Client the sender needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// RPCClient signs transfers with a local private key and submits them through
// an Ethereum JSON-RPC node.
type RPCClient struct {
	backend       Backend
	key           *ecdsa.PrivateKey
	from          common.Address
	confirmations uint64
	poll          time.Duration
	metrics       *metrics.Collector
	logger        *slog.Logger

	// Sends are serialized so pending nonces do not collide.
	sendMu  sync.Mutex
	chainID *big.Int
}

var _ Client = (*RPCClient)(nil)

// DialRPC connects to the node at url and signs with privateKey (hex, with
// or without 0x). collector may be nil.
func DialRPC(ctx context.Context, url, privateKey string, confirmations int, collector *metrics.Collector) (*RPCClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse chain private key: %w", err)
	}
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc %s: %w", url, err)
	}
	return NewRPCClient(ec, key, confirmations, collector), nil
}

// NewRPCClient creates a client sending from the address of key.
func NewRPCClient(backend Backend, key *ecdsa.PrivateKey, confirmations int, collector *metrics.Collector) *RPCClient {
	return &RPCClient{
		backend:       backend,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		confirmations: uint64(max(confirmations, 1)),
		poll:          defaultPollInterval,
		metrics:       collector,
		logger:        slog.Default(),
	}
}

// From returns the sending address.
func (c *RPCClient) From() string { return c.from.Hex() }

// BlockNumber returns the latest block height. Used to check the node is reachable.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// SendNative sends amount to the address and waits for the configured
// number of confirmations.
func (c *RPCClient) SendNative(ctx context.Context, to string, amount *big.Float) (string, error) {
	start := time.Now()
	hash, err := c.sendNative(ctx, to, amount)
	if c.metrics != nil {
		c.metrics.Record(metrics.OpChain, time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return hash, nil
}

func (c *RPCClient) sendNative(ctx context.Context, to string, amount *big.Float) (string, error) {
	if !IsAddress(to) {
		return "", ErrInvalidAddress
	}
	wei := ToWei(amount)
	if wei.Sign() <= 0 {
		return "", fmt.Errorf("amount must be positive, got %s", amount.Text('f', -1))
	}
	recipient := common.HexToAddress(to)

	c.sendMu.Lock()
	tx, err := c.signTransfer(ctx, recipient, wei)
	if err == nil {
		err = c.backend.SendTransaction(ctx, tx)
	}
	c.sendMu.Unlock()
	if err != nil {
		return "", err
	}

	hash := tx.Hash()
	c.logger.Info("transaction submitted", "hash", hash.Hex(), "to", recipient.Hex(), "wei", wei.String())
	if err := c.waitConfirmed(ctx, hash); err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// signTransfer builds an EIP-1559 transfer, or a legacy one when the chain
// reports no base fee.
func (c *RPCClient) signTransfer(ctx context.Context, to common.Address, wei *big.Int) (*types.Transaction, error) {
	chainID, err := c.loadChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Value: wei})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	var data types.TxData
	if head.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		data = &types.LegacyTx{Nonce: nonce, GasPrice: price, Gas: gas, To: &to, Value: wei}
	} else {
		tip, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		data = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     wei,
		}
	}

	signed, err := types.SignTx(types.NewTx(data), types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

func (c *RPCClient) loadChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}

// waitConfirmed polls for the receipt until the block holding it has the
// configured number of confirmations.
func (c *RPCClient) waitConfirmed(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		done, err := c.confirmed(ctx, hash)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) confirmed(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return false, fmt.Errorf("transaction %s reverted", hash.Hex())
	}
	if receipt.BlockNumber == nil {
		return false, nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("block number: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	return head >= mined && head-mined+1 >= c.confirmations, nil
}
