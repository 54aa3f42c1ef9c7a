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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutGetDelete(t *testing.T) {
	m := NewMemory()
	defer func() { _ = m.Close() }()

	value := []byte(`{"algorithm":"ECDSA"}`)
	require.NoError(t, m.Put("keys/alice.json", value, nil))

	got, err := m.Get("keys/alice.json")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// Stored values are copies.
	got[0] = 'X'
	again, err := m.Get("keys/alice.json")
	require.NoError(t, err)
	assert.Equal(t, value, again)

	ok, err := m.Exists("keys/alice.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Delete("keys/alice.json"))
	_, err = m.Get("keys/alice.json")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete("keys/alice.json"), ErrNotFound)
}

func TestMemory_ListSorted(t *testing.T) {
	m := NewMemory()
	for _, k := range []string{"keys/c", "keys/a", "other/x", "keys/b"} {
		require.NoError(t, m.Put(k, []byte("v"), nil))
	}
	keys, err := m.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/a", "keys/b", "keys/c"}, keys)

	all, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())

	_, err := m.Get("a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Put("a", nil, nil), ErrClosed)
	_, err = m.List("")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "keys/alice.json", "keys/sub/b"}
	for _, k := range valid {
		assert.NoError(t, ValidateKey(k), k)
	}
	invalid := []string{"", "/abs", "../up", "keys/../x", "keys//x", "keys/", "./a", "a\x00b", `a\b`}
	for _, k := range invalid {
		assert.ErrorIs(t, ValidateKey(k), ErrInvalidID, "%q", k)
	}
}
