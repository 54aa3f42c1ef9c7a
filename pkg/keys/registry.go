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

package keys

import (
	"fmt"
	"sort"
	"sync"
)

// Deserializer rebuilds one kind of external key from its JSON form.
type Deserializer interface {
	// Type returns the tag found in the "external.type" field.
	Type() string

	// Deserialize rebuilds the key.
	Deserialize(j *JSONKey) (PrivateKey, error)
}

// Registry dispatches serialized external keys to the deserializer
// registered for their type tag. A Registry is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	deserializers map[string]Deserializer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		deserializers: make(map[string]Deserializer),
	}
}

// DefaultRegistry is the process-wide registry.
var DefaultRegistry = NewRegistry()

// Register adds a deserializer. Registering the same tag twice fails.
func (r *Registry) Register(d Deserializer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := d.Type()
	if _, exists := r.deserializers[tag]; exists {
		return fmt.Errorf("%w: %s", ErrDeserializerExists, tag)
	}
	r.deserializers[tag] = d
	return nil
}

// Lookup returns the deserializer registered for tag.
func (r *Registry) Lookup(tag string) (Deserializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deserializers[tag]
	return d, ok
}

// Types returns the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.deserializers))
	for tag := range r.deserializers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Deserialize rebuilds an external key from j.
func (r *Registry) Deserialize(j *JSONKey) (PrivateKey, error) {
	tag, err := j.ExternalType()
	if err != nil {
		return nil, err
	}
	d, ok := r.Lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDeserializer, tag)
	}
	return d.Deserialize(j)
}

// DeserializeBytes parses and rebuilds a serialized external key.
func (r *Registry) DeserializeBytes(data []byte) (PrivateKey, error) {
	j, err := ParseJSONKey(data)
	if err != nil {
		return nil, err
	}
	return r.Deserialize(j)
}
