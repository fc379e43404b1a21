// Package token implements the purchase token protocol spoken by the metering
// back-end: the two-stage AES purchase parameter and token list grouping.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rsclarke/numa/internal/failure"
)

// BlockSize is both the AES key size and the padded field width.
const BlockSize = 16

const (
	tokenGroupSize  = 4
	tokenListLength = 20
)

// ErrInvalidRootKey is returned when the root key is not 16 bytes of hex.
var ErrInvalidRootKey = errors.New("root key must be 32 hex characters")

// Codec derives purchase parameters from a process-wide root key. It is
// immutable and safe for concurrent use.
type Codec struct {
	root cipher.Block
}

// NewCodec parses a hex-encoded 16-byte root key.
func NewCodec(rootKeyHex string) (*Codec, error) {
	key, ok := DecodeHex(rootKeyHex)
	if !ok || len(key) != BlockSize {
		return nil, ErrInvalidRootKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init root cipher: %w", err)
	}
	return &Codec{root: block}, nil
}

// PurchaseParam computes the 32-character upper-case hex purchase parameter
// for a transaction. The transaction ID is encrypted under the root key, and
// the result keys a second encryption of the payment amount.
func (c *Codec) PurchaseParam(transactionID string, payment decimal.Decimal) (string, error) {
	txn, err := Pad(transactionID)
	if err != nil {
		return "", fmt.Errorf("transaction id: %w", err)
	}

	encTxn := make([]byte, BlockSize)
	c.root.Encrypt(encTxn, txn)

	amount, err := Pad(payment.StringFixed(2))
	if err != nil {
		return "", fmt.Errorf("payment: %w", err)
	}

	oneTime, err := aes.NewCipher(encTxn)
	if err != nil {
		return "", fmt.Errorf("init one-time cipher: %w", err)
	}
	purchase := make([]byte, BlockSize)
	oneTime.Encrypt(purchase, amount)

	return EncodeHex(purchase), nil
}

// Pad converts s into exactly BlockSize bytes, truncating on the right or
// filling with zero bytes. s must be non-empty ASCII.
func Pad(s string) ([]byte, error) {
	if s == "" {
		return nil, failure.Validation("value must not be empty")
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return nil, failure.Validation("value must be ASCII")
		}
	}
	if len(s) > BlockSize {
		s = s[:BlockSize]
	}
	out := make([]byte, BlockSize)
	copy(out, s)
	return out, nil
}

// Unpad reverses Pad, dropping trailing zero bytes.
func Unpad(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// EncodeHex returns the upper-case hex form of b.
func EncodeHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// DecodeHex decodes s, reporting ok=false for empty, odd-length or non-hex input.
func DecodeHex(s string) ([]byte, bool) {
	if s == "" || len(s)%2 != 0 {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// GroupTokens splits a 20-character token list into space separated groups of
// four. Input shorter than 20 characters yields only its complete groups.
func GroupTokens(list string) string {
	groups := make([]string, 0, tokenListLength/tokenGroupSize)
	for start := 0; start < tokenListLength; start += tokenGroupSize {
		end := start + tokenGroupSize
		if end > len(list) {
			break
		}
		groups = append(groups, list[start:end])
	}
	return strings.Join(groups, " ")
}
