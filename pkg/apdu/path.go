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

package apdu

import (
	"encoding/binary"
	"fmt"
)

// PathLength is the encoded size of a five-level BIP-44 path.
const PathLength = 5 * 4

// Coin types selected by the neo flag.
const (
	CoinOntology uint32 = 1024
	CoinNEO      uint32 = 888
)

const hardened uint32 = 0x80000000

// Path is a BIP-44 derivation path 44'/coin'/account'/change/index.
type Path [5]uint32

// NewPath returns 44'/coin'/0'/0/index with coin chosen by neo.
func NewPath(index uint32, neo bool) Path {
	coin := CoinOntology
	if neo {
		coin = CoinNEO
	}
	return Path{44 | hardened, coin | hardened, 0 | hardened, 0, index}
}

// Bytes encodes the path as five big-endian uint32 values.
func (p Path) Bytes() []byte {
	b := make([]byte, PathLength)
	for i, v := range p {
		binary.BigEndian.PutUint32(b[i*4:], v)
	}
	return b
}

// ParsePath decodes an encoded path.
func ParsePath(b []byte) (Path, error) {
	if len(b) != PathLength {
		return Path{}, fmt.Errorf("apdu: path must be %d bytes, got %d", PathLength, len(b))
	}
	var p Path
	for i := range p {
		p[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return p, nil
}

// Index returns the address index level.
func (p Path) Index() uint32 {
	return p[4]
}

// Neo reports whether the coin level selects the NEO convention.
func (p Path) Neo() bool {
	return p[1]&^hardened == CoinNEO
}

func (p Path) String() string {
	s := "m"
	for _, v := range p {
		if v&hardened != 0 {
			s += fmt.Sprintf("/%d'", v&^hardened)
		} else {
			s += fmt.Sprintf("/%d", v)
		}
	}
	return s
}
