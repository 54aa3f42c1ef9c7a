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

package ledger

import (
	"fmt"

	"github.com/jeremyhahn/go-ledgerkey/pkg/keys"
	"github.com/jeremyhahn/go-ledgerkey/pkg/metrics"
)

// Deserializer rebuilds Ledger keys from their JSON form. Rebuilt keys
// sign through Proxy.
type Deserializer struct {
	Proxy *Proxy
}

var _ keys.Deserializer = (*Deserializer)(nil)

// NewDeserializer returns a deserializer bound to proxy.
func NewDeserializer(proxy *Proxy) *Deserializer {
	return &Deserializer{Proxy: proxy}
}

// Register adds a Ledger deserializer for proxy to reg.
func Register(reg *keys.Registry, proxy *Proxy) error {
	return reg.Register(NewDeserializer(proxy))
}

// Type returns "LEDGER".
func (d *Deserializer) Type() string {
	return KeyType
}

// externalFields keeps presence information the typed External drops.
type externalFields struct {
	Index *uint32 `json:"index"`
	Neo   *bool   `json:"neo"`
	PKey  *string `json:"pKey"`
	Type  string  `json:"type"`
}

// Deserialize rebuilds a Key without contacting the device. A missing
// "neo" defaults to false.
func (d *Deserializer) Deserialize(j *keys.JSONKey) (pk keys.PrivateKey, err error) {
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		metrics.RecordOperation(metrics.OpDeserialize, status, 0)
	}()

	if j == nil {
		return nil, fmt.Errorf("%w: nil key", ErrMalformedRepresentation)
	}
	var ext externalFields
	if err := j.DecodeExternal(&ext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRepresentation, err)
	}
	if ext.Type != KeyType {
		return nil, fmt.Errorf("%w: type %q is not %s", ErrMalformedRepresentation, ext.Type, KeyType)
	}
	if ext.Index == nil {
		return nil, fmt.Errorf("%w: missing index", ErrMalformedRepresentation)
	}
	if ext.PKey == nil {
		return nil, fmt.Errorf("%w: missing pKey", ErrMalformedRepresentation)
	}
	neo := ext.Neo != nil && *ext.Neo

	key, err := CreateExisting(d.Proxy, *ext.Index, neo, *ext.PKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRepresentation, err)
	}
	return key, nil
}
