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

// Package keys defines the generic key capability set that wallets and SDK
// code program against: private keys that can sign, their public keys,
// signatures and the JSON schema keys are persisted in. Concrete key kinds
// (software keys, hardware-backed keys) plug in behind the PrivateKey
// interface and are reconstructed from JSON through a Registry keyed by a
// type tag.
package keys

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address format is fixed by the ledger
)

// Signable is anything whose signing content can be extracted.
type Signable interface {
	GetSignContent() ([]byte, error)
}

// Transaction is a Signable with a canonical unsigned-byte encoding.
// Hardware keys only sign payloads of this shape.
type Transaction interface {
	Signable
	SerializeUnsignedData() ([]byte, error)
}

// RawMessage is an arbitrary byte message. It is Signable but it is not a
// Transaction.
type RawMessage []byte

// GetSignContent returns the message bytes.
func (m RawMessage) GetSignContent() ([]byte, error) {
	return []byte(m), nil
}

// ScryptParams are the key-derivation parameters used when software keys
// are encrypted at rest.
type ScryptParams struct {
	N     int `json:"n"`
	R     int `json:"r"`
	P     int `json:"p"`
	DKLen int `json:"dkLen"`
}

// DefaultScryptParams returns the parameters used by the wallet file format.
func DefaultScryptParams() *ScryptParams {
	return &ScryptParams{N: 16384, R: 8, P: 8, DKLen: 64}
}

// PrivateKey is the capability set every key kind exposes.
type PrivateKey interface {
	// Algorithm returns the key type.
	Algorithm() KeyType

	// Parameters returns the curve parameters.
	Parameters() KeyParameters

	// Sign signs synchronously.
	Sign(msg Signable, scheme SignatureScheme, publicKeyID string) (*Signature, error)

	// SignAsync signs, possibly suspending on I/O. A SchemeUnspecified scheme
	// selects the key's default scheme.
	SignAsync(ctx context.Context, msg Signable, scheme SignatureScheme, publicKeyID string) (*Signature, error)

	// GetPublicKey returns the public key.
	GetPublicKey() *PublicKey

	// IsSchemaSupported reports whether the key can sign with scheme.
	IsSchemaSupported(scheme SignatureScheme) bool

	// SerializeJSON returns the persisted representation.
	SerializeJSON() *JSONKey

	// Encrypt protects the key material with keyphrase.
	Encrypt(keyphrase string, address Address, salt []byte, params *ScryptParams) (PrivateKey, error)

	// Decrypt recovers the key material with keyphrase.
	Decrypt(keyphrase string, address Address, salt []byte, params *ScryptParams) (PrivateKey, error)
}

// PublicKey is a serialized public key with its algorithm parameters.
// For ECDSA keys Key holds the compressed SEC1 point.
type PublicKey struct {
	Key        []byte
	Algorithm  KeyType
	Parameters KeyParameters
}

// Hex returns the hex encoding of the key bytes.
func (p *PublicKey) Hex() string {
	return hex.EncodeToString(p.Key)
}

// Equal reports whether two public keys are identical.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Algorithm == other.Algorithm &&
		p.Parameters == other.Parameters &&
		bytes.Equal(p.Key, other.Key)
}

// ECDSA decodes the key into a standard library public key.
func (p *PublicKey) ECDSA() (*ecdsa.PublicKey, error) {
	if p.Algorithm != KeyTypeECDSA {
		return nil, fmt.Errorf("%w: algorithm %s is not ECDSA", ErrInvalidPublicKey, p.Algorithm)
	}
	curve := p.Parameters.Curve.Elliptic()
	if curve == nil {
		return nil, fmt.Errorf("%w: unsupported curve %s", ErrInvalidPublicKey, p.Parameters.Curve)
	}
	x, y := elliptic.UnmarshalCompressed(curve, p.Key)
	if x == nil {
		return nil, fmt.Errorf("%w: not a compressed %s point", ErrInvalidPublicKey, p.Parameters.Curve)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// Verify checks an r||s ECDSA signature over msg.
func (p *PublicKey) Verify(msg []byte, sig *Signature) bool {
	if sig == nil {
		return false
	}
	pub, err := p.ECDSA()
	if err != nil {
		return false
	}
	var digest []byte
	switch sig.Algorithm {
	case SHA224withECDSA:
		sum := sha256.Sum224(msg)
		digest = sum[:]
	case SHA256withECDSA:
		sum := sha256.Sum256(msg)
		digest = sum[:]
	case SHA384withECDSA:
		sum := sha512.Sum384(msg)
		digest = sum[:]
	case SHA512withECDSA:
		sum := sha512.Sum512(msg)
		digest = sum[:]
	default:
		return false
	}
	if len(sig.Value)%2 != 0 || len(sig.Value) == 0 {
		return false
	}
	half := len(sig.Value) / 2
	r := new(big.Int).SetBytes(sig.Value[:half])
	s := new(big.Int).SetBytes(sig.Value[half:])
	return ecdsa.Verify(pub, digest, r, s)
}

// Address returns the single-signature account address controlled by the key.
func (p *PublicKey) Address() Address {
	program := make([]byte, 0, len(p.Key)+2)
	program = append(program, byte(len(p.Key)))
	program = append(program, p.Key...)
	program = append(program, opCheckSig)
	return AddressFromProgram(program)
}

// Signature is a signature value tagged with its scheme.
type Signature struct {
	Algorithm   SignatureScheme
	Value       []byte
	PublicKeyID string
}

// Serialize returns the scheme byte followed by the signature value.
func (s *Signature) Serialize() []byte {
	out := make([]byte, 0, len(s.Value)+1)
	out = append(out, byte(s.Algorithm-SHA224withECDSA))
	return append(out, s.Value...)
}

// Hex returns the hex encoding of Serialize.
func (s *Signature) Hex() string {
	return hex.EncodeToString(s.Serialize())
}

// Address is a 20-byte program hash.
type Address [20]byte

const (
	opCheckSig     = 0xAC
	addressVersion = 0x17
)

// AddressFromProgram hashes a verification program into an address.
func AddressFromProgram(program []byte) Address {
	sum := sha256.Sum256(program)
	h := ripemd160.New()
	h.Write(sum[:])
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// Base58 returns the checksummed base58 form of the address.
func (a Address) Base58() string {
	data := make([]byte, 0, 25)
	data = append(data, addressVersion)
	data = append(data, a[:]...)
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	data = append(data, second[:4]...)
	return base58.Encode(data)
}

// String returns the base58 form.
func (a Address) String() string {
	return a.Base58()
}
