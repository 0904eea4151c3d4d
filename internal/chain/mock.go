package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Transfer is a transfer recorded by Mock.
type Transfer struct {
	To     string
	Amount string
	Hash   string
}

// Mock records transfers instead of sending them.
type Mock struct {
	mu        sync.Mutex
	transfers []Transfer

	// Err, when set, is returned by SendNative.
	Err error
}

var _ Client = (*Mock)(nil)

func (m *Mock) SendNative(_ context.Context, to string, amount *big.Float) (string, error) {
	if !IsAddress(to) {
		return "", ErrInvalidAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	hash := fmt.Sprintf("0x%064x", len(m.transfers)+1)
	m.transfers = append(m.transfers, Transfer{To: to, Amount: amount.Text('f', -1), Hash: hash})
	return hash, nil
}

// Transfers returns the recorded transfers in order.
func (m *Mock) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.transfers...)
}
