// Package chain sends airdrop transfers and parses wallet addresses out of
// post text.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode"
)

// ErrInvalidAddress is returned for recipients that are not 0x-prefixed
// 20-byte hex addresses.
var ErrInvalidAddress = errors.New("invalid format of recipient address")

// Client transfers the chain's native token.
type Client interface {
	// SendNative sends amount (in whole tokens) to the address and returns the
	// transaction hash once it is confirmed.
	SendNative(ctx context.Context, to string, amount *big.Float) (string, error)
}

var (
	addressPattern     = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
	fullAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// IsAddress reports whether s is exactly one address.
func IsAddress(s string) bool {
	return fullAddressPattern.MatchString(s)
}

// ContainsAddress reports whether text mentions an address anywhere.
func ContainsAddress(text string) bool {
	return addressPattern.MatchString(text)
}

// ExtractAddresses returns the addresses in text that are followed by
// whitespace or the end of the text.
func ExtractAddresses(text string) []string {
	var out []string
	for _, loc := range addressPattern.FindAllStringIndex(text, -1) {
		end := loc[1]
		if end < len(text) && !unicode.IsSpace(rune(text[end])) {
			continue
		}
		out = append(out, text[loc[0]:end])
	}
	return out
}

// ExplorerTxURL links a transaction on a block explorer.
func ExplorerTxURL(explorer, hash string) string {
	return strings.TrimRight(explorer, "/") + "/tx/" + hash
}

// ParseAmount parses a decimal token amount such as "0.01".
func ParseAmount(s string) (*big.Float, error) {
	f, _, err := big.ParseFloat(strings.TrimSpace(s), 10, 256, big.ToNearestEven)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if f.Sign() < 0 {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	return f, nil
}

var weiPerToken = new(big.Float).SetPrec(256).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// ToWei converts whole tokens to wei, rounding to the nearest wei.
func ToWei(amount *big.Float) *big.Int {
	f := new(big.Float).SetPrec(256).Mul(amount, weiPerToken)
	f.Add(f, big.NewFloat(0.5))
	wei, _ := f.Int(nil)
	return wei
}
