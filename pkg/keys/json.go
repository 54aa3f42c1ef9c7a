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
	"encoding/json"
	"fmt"
)

// JSONKey is the persisted representation of a private key.
//
// Software keys carry their (encrypted) material in Key. External keys,
// whose material lives elsewhere, leave Key null and describe themselves in
// External; the "type" field of External selects the Deserializer that can
// rebuild them.
type JSONKey struct {
	Algorithm  string          `json:"algorithm"`
	External   json.RawMessage `json:"external,omitempty"`
	Parameters KeyParameters   `json:"parameters"`
	Key        *string         `json:"key"`
}

// externalHeader is the part of every external section the registry reads.
type externalHeader struct {
	Type string `json:"type"`
}

// ExternalType returns the type tag of the external section.
func (j *JSONKey) ExternalType() (string, error) {
	if len(j.External) == 0 || string(j.External) == "null" {
		return "", ErrNotExternal
	}
	var h externalHeader
	if err := json.Unmarshal(j.External, &h); err != nil {
		return "", fmt.Errorf("keys: failed to decode external section: %w", err)
	}
	if h.Type == "" {
		return "", fmt.Errorf("%w: external section has no type", ErrNotExternal)
	}
	return h.Type, nil
}

// DecodeExternal unmarshals the external section into v.
func (j *JSONKey) DecodeExternal(v any) error {
	if len(j.External) == 0 || string(j.External) == "null" {
		return ErrNotExternal
	}
	return json.Unmarshal(j.External, v)
}

// Marshal encodes the key as JSON.
func (j *JSONKey) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// ParseJSONKey decodes a serialized key.
func ParseJSONKey(data []byte) (*JSONKey, error) {
	var j JSONKey
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("keys: failed to decode key: %w", err)
	}
	return &j, nil
}
