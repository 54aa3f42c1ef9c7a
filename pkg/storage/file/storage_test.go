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

package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ledgerkey/pkg/storage"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	root := filepath.Join(t.TempDir(), "a", "b")
	s, err := New(root)
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestPutGetDelete(t *testing.T) {
	s := newStorage(t)

	require.NoError(t, s.Put("keys/alice.json", []byte("one"), nil))
	require.NoError(t, s.Put("keys/alice.json", []byte("two"), nil))

	got, err := s.Get("keys/alice.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	ok, err := s.Exists("keys/alice.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete("keys/alice.json"))
	_, err = s.Get("keys/alice.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete("keys/alice.json"), storage.ErrNotFound)

	ok, err = s.Exists("keys/alice.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermissions(t *testing.T) {
	s := newStorage(t)

	require.NoError(t, s.Put("keys/a", []byte("x"), nil))
	require.NoError(t, s.Put("keys/b", []byte("x"), &storage.Options{Permissions: 0640}))

	info, err := os.Stat(filepath.Join(s.Root(), "keys", "a"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(s.Root(), "keys", "b"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestList_SortedAndSkipsTemp(t *testing.T) {
	s := newStorage(t)
	for _, k := range []string{"keys/c.json", "keys/a.json", "misc/x"} {
		require.NoError(t, s.Put(k, []byte("v"), nil))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "keys", tempPrefix+"123"), []byte("partial"), 0600))

	keys, err := s.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/a.json", "keys/c.json"}, keys)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRejectsTraversal(t *testing.T) {
	s := newStorage(t)
	for _, k := range []string{"../escape", "/etc/passwd", "keys/../../x", ""} {
		assert.ErrorIs(t, s.Put(k, []byte("v"), nil), storage.ErrInvalidID, k)
		_, err := s.Get(k)
		assert.ErrorIs(t, err, storage.ErrInvalidID, k)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newStorage(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := filepath.ToSlash(filepath.Join("keys", string(rune('a'+i))))
			assert.NoError(t, s.Put(key, []byte{byte(i)}, nil))
			got, err := s.Get(key)
			assert.NoError(t, err)
			assert.Equal(t, []byte{byte(i)}, got)
		}(i)
	}
	wg.Wait()

	keys, err := s.List("keys/")
	require.NoError(t, err)
	assert.Len(t, keys, 16)
}
