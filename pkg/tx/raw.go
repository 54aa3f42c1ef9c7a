// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ledgerkey.
//
// go-ledgerkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package tx carries transactions whose canonical unsigned encoding was
// produced elsewhere, so they can be handed to keys that only sign
// transaction-shaped payloads.
package tx

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTransaction is returned when a transaction has no unsigned bytes.
var ErrEmptyTransaction = errors.New("tx: empty transaction")

// RawTransaction is a transaction known only by its canonical unsigned
// byte encoding.
type RawTransaction struct {
	unsigned []byte
}

// NewRawTransaction wraps unsigned transaction bytes.
func NewRawTransaction(unsigned []byte) (*RawTransaction, error) {
	if len(unsigned) == 0 {
		return nil, ErrEmptyTransaction
	}
	b := make([]byte, len(unsigned))
	copy(b, unsigned)
	return &RawTransaction{unsigned: b}, nil
}

// ParseHex wraps hex-encoded unsigned transaction bytes. A 0x prefix and
// surrounding whitespace are accepted.
func ParseHex(s string) (*RawTransaction, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("tx: invalid hex: %w", err)
	}
	return NewRawTransaction(b)
}

// SerializeUnsignedData returns the canonical unsigned encoding. A nil or
// zero RawTransaction yields ErrEmptyTransaction.
func (t *RawTransaction) SerializeUnsignedData() ([]byte, error) {
	if t == nil || len(t.unsigned) == 0 {
		return nil, ErrEmptyTransaction
	}
	b := make([]byte, len(t.unsigned))
	copy(b, t.unsigned)
	return b, nil
}

// GetSignContent returns the bytes a software key would hash and sign.
func (t *RawTransaction) GetSignContent() ([]byte, error) {
	return t.SerializeUnsignedData()
}

// Len returns the size of the unsigned encoding.
func (t *RawTransaction) Len() int {
	if t == nil {
		return 0
	}
	return len(t.unsigned)
}
