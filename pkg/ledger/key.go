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
	"context"
	"crypto/elliptic"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-ledgerkey/pkg/keys"
	"github.com/jeremyhahn/go-ledgerkey/pkg/metrics"
)

// KeyType is the type tag of serialized Ledger keys.
const KeyType = "LEDGER"

// External is the "external" section of a serialized Ledger key.
type External struct {
	Index uint32 `json:"index"`
	Neo   bool   `json:"neo"`
	PKey  string `json:"pKey"`
	Type  string `json:"type"`
}

// Key is a private key held by a Ledger device. Only the index, coin
// context and public key live on the host.
type Key struct {
	index uint32
	neo   bool
	pub   *keys.PublicKey
	proxy *Proxy
}

var _ keys.PrivateKey = (*Key)(nil)

// Create queries the device for the public key at index and returns a Key
// caching it.
func Create(ctx context.Context, proxy *Proxy, index uint32, neo bool) (*Key, error) {
	if proxy == nil {
		return nil, errors.New("ledger: nil proxy")
	}
	pub, err := proxy.GetPublicKey(ctx, index, neo)
	if err != nil {
		return nil, err
	}
	return &Key{index: index, neo: neo, pub: pub, proxy: proxy}, nil
}

// CreateExisting rebuilds a Key from a known compressed public key in hex.
// It does not contact the device.
func CreateExisting(proxy *Proxy, index uint32, neo bool, pKey string) (*Key, error) {
	b, err := hex.DecodeString(pKey)
	if err != nil {
		return nil, fmt.Errorf("%w: pKey is not hex: %v", keys.ErrInvalidPublicKey, err)
	}
	if len(b) != compressedLen {
		return nil, fmt.Errorf("%w: pKey must be %d bytes, got %d", keys.ErrInvalidPublicKey, compressedLen, len(b))
	}
	if x, _ := elliptic.UnmarshalCompressed(elliptic.P256(), b); x == nil {
		return nil, fmt.Errorf("%w: pKey is not a compressed P-256 point", keys.ErrInvalidPublicKey)
	}
	return &Key{
		index: index,
		neo:   neo,
		pub: &keys.PublicKey{
			Key:        b,
			Algorithm:  keys.KeyTypeECDSA,
			Parameters: keys.KeyParameters{Curve: keys.CurveP256},
		},
		proxy: proxy,
	}, nil
}

// Index returns the device-side key index.
func (k *Key) Index() uint32 { return k.index }

// Neo reports whether the key uses the NEO derivation convention.
func (k *Key) Neo() bool { return k.neo }

// Type returns KeyType.
func (k *Key) Type() string { return KeyType }

// Address returns the account address of the key.
func (k *Key) Address() keys.Address { return k.pub.Address() }

func (k *Key) Algorithm() keys.KeyType { return keys.KeyTypeECDSA }

func (k *Key) Parameters() keys.KeyParameters {
	return keys.KeyParameters{Curve: keys.CurveP256}
}

// Sign always fails: the device can only be reached asynchronously.
func (k *Key) Sign(keys.Signable, keys.SignatureScheme, string) (*keys.Signature, error) {
	return nil, ErrUnsupportedOperation
}

// SignAsync signs a transaction on the device. SchemeUnspecified selects
// SHA256withECDSA, the only scheme supported. Scheme and payload are
// checked before any frame is sent.
func (k *Key) SignAsync(ctx context.Context, msg keys.Signable, scheme keys.SignatureScheme, publicKeyID string) (sig *keys.Signature, err error) {
	start := time.Now()
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
			metrics.RecordError(metrics.OpSignAsync, errorType(err))
		}
		metrics.RecordOperation(metrics.OpSignAsync, status, time.Since(start).Seconds())
	}()

	if scheme == keys.SchemeUnspecified {
		scheme = keys.SHA256withECDSA
	}
	if !k.IsSchemaSupported(scheme) {
		return nil, fmt.Errorf("%w: %s", ErrSchemeMismatch, scheme)
	}

	tx, ok := msg.(keys.Transaction)
	if !ok {
		return nil, ErrUnsupportedPayload
	}
	payload, err := tx.SerializeUnsignedData()
	if err != nil {
		return nil, fmt.Errorf("ledger: serialize transaction: %w", err)
	}
	if k.proxy == nil {
		return nil, errors.New("ledger: key has no device proxy")
	}

	value, err := k.proxy.ComputeSignature(ctx, k.index, k.neo, payload)
	if err != nil {
		return nil, err
	}
	return &keys.Signature{
		Algorithm:   scheme,
		Value:       value,
		PublicKeyID: publicKeyID,
	}, nil
}

// GetPublicKey returns the cached public key without device I/O.
func (k *Key) GetPublicKey() *keys.PublicKey {
	return k.pub
}

// IsSchemaSupported reports whether scheme is SHA256withECDSA.
func (k *Key) IsSchemaSupported(scheme keys.SignatureScheme) bool {
	return scheme == keys.SHA256withECDSA
}

// SerializeJSON returns the persisted form: no key material, the device
// coordinates under "external".
func (k *Key) SerializeJSON() *keys.JSONKey {
	// External holds only scalar fields, so Marshal cannot fail.
	ext, _ := json.Marshal(External{
		Index: k.index,
		Neo:   k.neo,
		PKey:  k.pub.Hex(),
		Type:  KeyType,
	})
	return &keys.JSONKey{
		Algorithm:  string(keys.KeyTypeECDSA),
		External:   ext,
		Parameters: k.Parameters(),
		Key:        nil,
	}
}

// Encrypt returns k unchanged; there is no host-side material to protect.
func (k *Key) Encrypt(string, keys.Address, []byte, *keys.ScryptParams) (keys.PrivateKey, error) {
	return k, nil
}

// Decrypt returns k unchanged.
func (k *Key) Decrypt(string, keys.Address, []byte, *keys.ScryptParams) (keys.PrivateKey, error) {
	return k, nil
}
