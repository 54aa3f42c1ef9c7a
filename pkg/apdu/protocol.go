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
	"errors"
	"fmt"
)

// PathPlacement selects where the derivation path travels in a SIGN
// sequence.
type PathPlacement string

const (
	// PathFirst puts the path at the start of the first frame's data.
	PathFirst PathPlacement = "first"

	// PathLast appends the path to the payload before chunking, so it ends
	// up at the tail of the last frame.
	PathLast PathPlacement = "last"
)

// Continuation flags carried in P1 of SIGN frames.
const (
	P1More byte = 0x00
	P1Last byte = 0x80
)

// Ontology/NEO Ledger app constants.
const (
	DefaultCLA             byte = 0x80
	DefaultInsSign         byte = 0x02
	DefaultInsGetPublicKey byte = 0x04
	DefaultChunkSize            = MaxData - PathLength
)

var (
	ErrInvalidChunkSize = errors.New("apdu: invalid chunk size")
	ErrInvalidPlacement = errors.New("apdu: invalid path placement")
	ErrEmptyPayload     = errors.New("apdu: empty payload")
)

// Protocol holds the app-specific constants used to build frames.
type Protocol struct {
	CLA             byte          `yaml:"cla" json:"cla"`
	InsSign         byte          `yaml:"ins_sign" json:"ins_sign"`
	InsGetPublicKey byte          `yaml:"ins_get_public_key" json:"ins_get_public_key"`
	ChunkSize       int           `yaml:"chunk_size" json:"chunk_size"`
	PathPlacement   PathPlacement `yaml:"path_placement" json:"path_placement"`
}

// DefaultProtocol returns the Ontology/NEO Ledger app settings.
func DefaultProtocol() Protocol {
	return Protocol{
		CLA:             DefaultCLA,
		InsSign:         DefaultInsSign,
		InsGetPublicKey: DefaultInsGetPublicKey,
		ChunkSize:       DefaultChunkSize,
		PathPlacement:   PathFirst,
	}
}

// Validate checks that every frame the protocol can produce fits in a
// short APDU.
func (p Protocol) Validate() error {
	switch p.PathPlacement {
	case PathFirst:
		if p.ChunkSize < 1 || p.ChunkSize+PathLength > MaxData {
			return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidChunkSize, p.ChunkSize, MaxData-PathLength)
		}
	case PathLast:
		if p.ChunkSize < 1 || p.ChunkSize > MaxData {
			return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidChunkSize, p.ChunkSize, MaxData)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPlacement, p.PathPlacement)
	}
	return nil
}

// GetPublicKey builds the single GET_PUBLIC_KEY frame for path.
func (p Protocol) GetPublicKey(path Path) Command {
	return Command{
		CLA:  p.CLA,
		INS:  p.InsGetPublicKey,
		P1:   0x00,
		P2:   0x00,
		Data: path.Bytes(),
	}
}

// Sign splits payload into SIGN frames. Every frame but the last carries
// P1More; the last carries P1Last. The path is placed according to
// PathPlacement. No frame carries more than ChunkSize payload bytes.
func (p Protocol) Sign(path Path, payload []byte) ([]Command, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	body := payload
	if p.PathPlacement == PathLast {
		body = make([]byte, 0, len(payload)+PathLength)
		body = append(body, payload...)
		body = append(body, path.Bytes()...)
	}

	chunks := Chunk(body, p.ChunkSize)
	frames := make([]Command, len(chunks))
	for i, chunk := range chunks {
		data := chunk
		if i == 0 && p.PathPlacement == PathFirst {
			data = make([]byte, 0, PathLength+len(chunk))
			data = append(data, path.Bytes()...)
			data = append(data, chunk...)
		}
		p1 := P1More
		if i == len(chunks)-1 {
			p1 = P1Last
		}
		frames[i] = Command{CLA: p.CLA, INS: p.InsSign, P1: p1, P2: 0x00, Data: data}
	}
	return frames, nil
}

// Continues reports whether frame is a SIGN frame carrying P1More, that
// is, the device expects further frames of the same sequence. Frames that
// do not decode are never continuations.
func (p Protocol) Continues(frame []byte) bool {
	cmd, err := DecodeCommand(frame)
	if err != nil {
		return false
	}
	return cmd.CLA == p.CLA && cmd.INS == p.InsSign && cmd.P1 == P1More
}

// Chunk partitions b into consecutive slices of at most size bytes. The
// slices alias b.
func Chunk(b []byte, size int) [][]byte {
	if size <= 0 || len(b) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(b)+size-1)/size)
	for len(b) > size {
		chunks = append(chunks, b[:size])
		b = b[size:]
	}
	return append(chunks, b)
}
