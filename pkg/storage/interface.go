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

// Package storage is the key-value layer under the keyring. Backends are
// safe for concurrent use.
package storage

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// Backend stores opaque values under slash-separated keys.
type Backend interface {
	// Get returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put creates or overwrites key.
	Put(key string, value []byte, opts *Options) error

	// Delete returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// List returns the keys starting with prefix, sorted.
	List(prefix string) ([]string, error)

	Exists(key string) (bool, error)

	Close() error
}

// Options contains optional parameters for Put.
type Options struct {
	// Permissions applies to file-backed storage. Zero selects 0600.
	Permissions fs.FileMode
}

// ValidateKey rejects empty keys, absolute keys, NUL bytes and any
// ".." element.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidID)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: key contains NUL", ErrInvalidID)
	case strings.HasPrefix(key, "/") || strings.Contains(key, `\`):
		return fmt.Errorf("%w: %q is not a relative slash path", ErrInvalidID, key)
	}
	for _, elem := range strings.Split(key, "/") {
		if elem == ".." || elem == "." || elem == "" {
			return fmt.Errorf("%w: %q", ErrInvalidID, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidID, key)
	}
	return nil
}
