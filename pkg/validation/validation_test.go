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

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKeyName(t *testing.T) {
	tests := []struct {
		name    string
		keyName string
		wantErr bool
	}{
		// Valid names
		{"valid alphanumeric", "mykey123", false},
		{"valid with dash", "cold-wallet", false},
		{"valid with underscore", "cold_wallet", false},
		{"valid with dot", "treasury.neo", false},
		{"valid single char", "a", false},
		{"valid max length", strings.Repeat("a", MaxKeyNameLength), false},

		// Invalid names
		{"empty string", "", true},
		{"null byte", "key\x00name", true},
		{"leading dot", ".hidden", true},
		{"path traversal", "../key", true},
		{"traversal in middle", "a..b", true},
		{"slash", "keys/alice", true},
		{"backslash", "keys\\alice", true},
		{"absolute path", "/etc/passwd", true},
		{"control character", "key\nname", true},
		{"del character", "key\x7fname", true},
		{"space", "my key", true},
		{"colon", "ledger:alice", true},
		{"too long", strings.Repeat("a", MaxKeyNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyName(tt.keyName)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKeyName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	assert.Equal(t, "abc", SanitizeForLog("a\nb\x00c"))
	assert.Equal(t, "plain", SanitizeForLog("plain"))

	long := SanitizeForLog(strings.Repeat("x", 1000))
	assert.True(t, strings.HasSuffix(long, "...[truncated]"))
	assert.Len(t, long, 256+len("...[truncated]"))
}
