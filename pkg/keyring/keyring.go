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

// Package keyring persists named keys in their JSON representation and
// rebuilds them through a keys.Registry.
package keyring

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-ledgerkey/pkg/keys"
	"github.com/jeremyhahn/go-ledgerkey/pkg/storage"
	"github.com/jeremyhahn/go-ledgerkey/pkg/validation"
)

const (
	prefix = "keys/"
	suffix = ".json"
)

var (
	// ErrExists is returned by Save when the name is taken.
	ErrExists = errors.New("keyring: key already exists")

	// ErrNotFound is returned for unknown names.
	ErrNotFound = errors.New("keyring: key not found")

	// ErrInvalidName is returned for names rejected by
	// validation.ValidateKeyName.
	ErrInvalidName = errors.New("keyring: invalid key name")
)

// Entry summarises a stored key.
type Entry struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
	Type      string `json:"type,omitempty"`
}

// Keyring stores keys in a storage.Backend.
type Keyring struct {
	backend  storage.Backend
	registry *keys.Registry
}

// New returns a Keyring. A nil registry selects keys.DefaultRegistry.
func New(backend storage.Backend, registry *keys.Registry) *Keyring {
	if registry == nil {
		registry = keys.DefaultRegistry
	}
	return &Keyring{backend: backend, registry: registry}
}

func storageKey(name string) (string, error) {
	if err := validation.ValidateKeyName(name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return prefix + name + suffix, nil
}

// Save stores key under name. An existing key is replaced only when
// overwrite is set.
func (r *Keyring) Save(name string, key keys.PrivateKey, overwrite bool) error {
	sk, err := storageKey(name)
	if err != nil {
		return err
	}
	if !overwrite {
		exists, err := r.backend.Exists(sk)
		if err != nil {
			return fmt.Errorf("keyring: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
	}
	data, err := json.MarshalIndent(key.SerializeJSON(), "", "  ")
	if err != nil {
		return fmt.Errorf("keyring: encode %s: %w", name, err)
	}
	if err := r.backend.Put(sk, data, nil); err != nil {
		return fmt.Errorf("keyring: save %s: %w", name, err)
	}
	return nil
}

// Get returns the stored representation of name.
func (r *Keyring) Get(name string) (*keys.JSONKey, error) {
	sk, err := storageKey(name)
	if err != nil {
		return nil, err
	}
	data, err := r.backend.Get(sk)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("keyring: load %s: %w", name, err)
	}
	return keys.ParseJSONKey(data)
}

// Load rebuilds the key stored under name.
func (r *Keyring) Load(name string) (keys.PrivateKey, error) {
	j, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	key, err := r.registry.Deserialize(j)
	if err != nil {
		return nil, fmt.Errorf("keyring: %s: %w", name, err)
	}
	return key, nil
}

// Delete removes name.
func (r *Keyring) Delete(name string) error {
	sk, err := storageKey(name)
	if err != nil {
		return err
	}
	if err := r.backend.Delete(sk); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("keyring: delete %s: %w", name, err)
	}
	return nil
}

// List returns every stored key in name order. Entries that fail to parse
// are listed without a type.
func (r *Keyring) List() ([]Entry, error) {
	stored, err := r.backend.List(prefix)
	if err != nil {
		return nil, fmt.Errorf("keyring: list: %w", err)
	}
	entries := make([]Entry, 0, len(stored))
	for _, sk := range stored {
		name := strings.TrimSuffix(strings.TrimPrefix(sk, prefix), suffix)
		if strings.Contains(name, "/") || !strings.HasSuffix(sk, suffix) {
			continue
		}
		entry := Entry{Name: name}
		if j, err := r.Get(name); err == nil {
			entry.Algorithm = j.Algorithm
			entry.Type, _ = j.ExternalType()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
