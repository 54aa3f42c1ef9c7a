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

package u2f

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/hid"
)

// CTAPHID command codes
const (
	CmdMsg       byte = 0x83
	CmdInit      byte = 0x86
	CmdKeepalive byte = 0xBB
	CmdError     byte = 0xBF

	CIDBroadcast uint32 = 0xFFFFFFFF
	initNonceLen        = 8
	initHeader          = 7
	contHeader          = 5
)

// ErrCTAPHID is returned for malformed or error CTAPHID packets.
var ErrCTAPHID = errors.New("u2f: ctaphid error")

// Packets splits a CTAPHID message into HID reports.
func Packets(cid uint32, cmd byte, data []byte) [][]byte {
	first := make([]byte, hid.ReportSize)
	binary.BigEndian.PutUint32(first[0:4], cid)
	first[4] = cmd
	binary.BigEndian.PutUint16(first[5:7], uint16(len(data)))
	n := copy(first[initHeader:], data)
	packets := [][]byte{first}
	data = data[n:]

	seq := byte(0)
	for len(data) > 0 {
		p := make([]byte, hid.ReportSize)
		binary.BigEndian.PutUint32(p[0:4], cid)
		p[4] = seq
		n := copy(p[contHeader:], data)
		packets = append(packets, p)
		data = data[n:]
		seq++
	}
	return packets
}

// message is a reassembled CTAPHID message.
type message struct {
	cmd  byte
	data []byte
}

// reassembler collects the packets of one CTAPHID message.
type reassembler struct {
	cid     uint32
	started bool
	cmd     byte
	want    int
	seq     byte
	buf     []byte
}

// add consumes a packet. It returns the message once complete. Keepalive
// packets are skipped; packets for other channels are ignored.
func (r *reassembler) add(p []byte) (*message, error) {
	if len(p) < contHeader {
		return nil, fmt.Errorf("%w: short packet", ErrCTAPHID)
	}
	if binary.BigEndian.Uint32(p[0:4]) != r.cid {
		return nil, nil
	}

	if !r.started {
		if p[4]&0x80 == 0 {
			return nil, fmt.Errorf("%w: continuation packet before init", ErrCTAPHID)
		}
		if len(p) < initHeader {
			return nil, fmt.Errorf("%w: short init packet", ErrCTAPHID)
		}
		cmd := p[4]
		length := int(binary.BigEndian.Uint16(p[5:7]))
		if cmd == CmdKeepalive {
			return nil, nil
		}
		if cmd == CmdError {
			code := byte(0)
			if length > 0 && len(p) > initHeader {
				code = p[initHeader]
			}
			return nil, fmt.Errorf("%w: device error 0x%02x", ErrCTAPHID, code)
		}
		r.started = true
		r.cmd = cmd
		r.want = length
		r.buf = make([]byte, 0, length)
		r.appendPayload(p[initHeader:])
	} else {
		if p[4] != r.seq {
			return nil, fmt.Errorf("%w: sequence %d, want %d", ErrCTAPHID, p[4], r.seq)
		}
		r.seq++
		r.appendPayload(p[contHeader:])
	}

	if len(r.buf) == r.want {
		return &message{cmd: r.cmd, data: r.buf}, nil
	}
	return nil, nil
}

func (r *reassembler) appendPayload(b []byte) {
	need := r.want - len(r.buf)
	if len(b) > need {
		b = b[:need]
	}
	r.buf = append(r.buf, b...)
}
