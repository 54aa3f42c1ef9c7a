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
	"crypto/elliptic"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// Key Types
// =============================================================================

// KeyType identifies the public key algorithm family of a key.
type KeyType string

const (
	// KeyTypeECDSA is an ECDSA key on a NIST or SM2 curve.
	KeyTypeECDSA KeyType = "ECDSA"

	// KeyTypeSM2 is an SM2 key.
	KeyTypeSM2 KeyType = "SM2"

	// KeyTypeEdDSA is an Edwards-curve key.
	KeyTypeEdDSA KeyType = "EDDSA"
)

// String returns the string representation.
func (k KeyType) String() string {
	return string(k)
}

// Equals performs case-insensitive comparison for protocol compatibility.
func (k KeyType) Equals(s string) bool {
	return strings.EqualFold(string(k), s)
}

// ParseKeyType parses a key type label as found in serialized keys.
func ParseKeyType(s string) (KeyType, error) {
	for _, k := range []KeyType{KeyTypeECDSA, KeyTypeSM2, KeyTypeEdDSA} {
		if k.Equals(s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKeyType, s)
}

// =============================================================================
// Curves
// =============================================================================

// Curve names follow NIST naming conventions.
type Curve string

const (
	// CurveP224 is NIST P-224 (secp224r1).
	CurveP224 Curve = "P-224"

	// CurveP256 is NIST P-256 (secp256r1, prime256v1).
	// This is the only curve hardware keys are created on.
	CurveP256 Curve = "P-256"

	// CurveP384 is NIST P-384 (secp384r1).
	CurveP384 Curve = "P-384"

	// CurveP521 is NIST P-521 (secp521r1).
	CurveP521 Curve = "P-521"

	// CurveSM2P256V1 is the SM2 recommended curve.
	CurveSM2P256V1 Curve = "sm2p256v1"

	// CurveEd25519 is the Edwards curve used for Ed25519.
	CurveEd25519 Curve = "ed25519"
)

// String returns the string representation.
func (c Curve) String() string {
	return string(c)
}

// Elliptic returns the standard library curve, or nil for curves the
// standard library does not implement.
func (c Curve) Elliptic() elliptic.Curve {
	switch c {
	case CurveP224:
		return elliptic.P224()
	case CurveP256:
		return elliptic.P256()
	case CurveP384:
		return elliptic.P384()
	case CurveP521:
		return elliptic.P521()
	default:
		return nil
	}
}

// KeyParameters holds the algorithm parameters of a key.
type KeyParameters struct {
	Curve Curve `json:"curve"`
}

// =============================================================================
// Signature Schemes
// =============================================================================

// SignatureScheme enumerates the signature schemes understood by the key
// library. The zero value means "not specified" and lets a key pick its
// default scheme.
type SignatureScheme int

const (
	SchemeUnspecified SignatureScheme = iota
	SHA224withECDSA
	SHA256withECDSA
	SHA384withECDSA
	SHA512withECDSA
	SHA3_224withECDSA
	SHA3_256withECDSA
	SHA3_384withECDSA
	SHA3_512withECDSA
	RIPEMD160withECDSA
	SM3withSM2
	SHA512withEdDSA
)

var schemeLabels = map[SignatureScheme]string{
	SHA224withECDSA:    "SHA224withECDSA",
	SHA256withECDSA:    "SHA256withECDSA",
	SHA384withECDSA:    "SHA384withECDSA",
	SHA512withECDSA:    "SHA512withECDSA",
	SHA3_224withECDSA:  "SHA3-224withECDSA",
	SHA3_256withECDSA:  "SHA3-256withECDSA",
	SHA3_384withECDSA:  "SHA3-384withECDSA",
	SHA3_512withECDSA:  "SHA3-512withECDSA",
	RIPEMD160withECDSA: "RIPEMD160withECDSA",
	SM3withSM2:         "SM3withSM2",
	SHA512withEdDSA:    "SHA512withEdDSA",
}

// String returns the scheme label.
func (s SignatureScheme) String() string {
	if label, ok := schemeLabels[s]; ok {
		return label
	}
	if s == SchemeUnspecified {
		return "unspecified"
	}
	return fmt.Sprintf("SignatureScheme(%d)", int(s))
}

// ParseSignatureScheme parses a scheme label (case-insensitive).
func ParseSignatureScheme(label string) (SignatureScheme, error) {
	for scheme, l := range schemeLabels {
		if strings.EqualFold(l, label) {
			return scheme, nil
		}
	}
	return SchemeUnspecified, fmt.Errorf("%w: %q", ErrUnknownScheme, label)
}

// MarshalJSON encodes the scheme as its label.
func (s SignatureScheme) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a scheme label.
func (s *SignatureScheme) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	scheme, err := ParseSignatureScheme(label)
	if err != nil {
		return err
	}
	*s = scheme
	return nil
}
