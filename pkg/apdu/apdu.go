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

// Package apdu encodes the command and response frames exchanged with a
// Ledger-class device and splits signing payloads into frames.
package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxData is the largest data field a short APDU can carry. Lc is one byte.
const MaxData = 255

var (
	// ErrDataTooLong is returned when a command's data exceeds MaxData.
	ErrDataTooLong = errors.New("apdu: data exceeds 255 bytes")

	// ErrShortResponse is returned when a response has no status word.
	ErrShortResponse = errors.New("apdu: response shorter than status word")
)

// Command is a short APDU command frame: CLA INS P1 P2 Lc data.
type Command struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
}

// Encode serializes the command. Lc is always written, even for empty data.
func (c Command) Encode() ([]byte, error) {
	if len(c.Data) > MaxData {
		return nil, fmt.Errorf("%w: %d", ErrDataTooLong, len(c.Data))
	}
	buf := make([]byte, 0, 5+len(c.Data))
	buf = append(buf, c.CLA, c.INS, c.P1, c.P2, byte(len(c.Data)))
	buf = append(buf, c.Data...)
	return buf, nil
}

// DecodeCommand parses an encoded command frame.
func DecodeCommand(b []byte) (Command, error) {
	if len(b) < 5 {
		return Command{}, fmt.Errorf("apdu: command too short: %d bytes", len(b))
	}
	lc := int(b[4])
	if len(b) != 5+lc {
		return Command{}, fmt.Errorf("apdu: Lc %d does not match %d data bytes", lc, len(b)-5)
	}
	return Command{
		CLA:  b[0],
		INS:  b[1],
		P1:   b[2],
		P2:   b[3],
		Data: append([]byte(nil), b[5:]...),
	}, nil
}

// Response is a device reply: data followed by a two-byte status word.
type Response struct {
	Data []byte
	SW   StatusWord
}

// ParseResponse splits a raw reply into data and status word.
func ParseResponse(b []byte) (Response, error) {
	if len(b) < 2 {
		return Response{}, ErrShortResponse
	}
	n := len(b) - 2
	return Response{
		Data: b[:n],
		SW:   StatusWord(binary.BigEndian.Uint16(b[n:])),
	}, nil
}

// Encode serializes the response as data || SW1 SW2.
func (r Response) Encode() []byte {
	buf := make([]byte, len(r.Data)+2)
	copy(buf, r.Data)
	binary.BigEndian.PutUint16(buf[len(r.Data):], uint16(r.SW))
	return buf
}

// OK reports whether the status word is 0x9000.
func (r Response) OK() bool {
	return r.SW == SWOK
}
