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

// Package hid is the native USB binding: APDUs framed into 64-byte Ledger
// HID reports on the device's vendor-defined interface.
//
// Each report starts with the channel (0x0101), the APDU tag (0x05) and a
// big-endian sequence number. The first report of a message also carries
// the two-byte message length.
package hid

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

const (
	// DefaultChannel is the HID channel Ledger devices answer on.
	DefaultChannel uint16 = 0x0101

	tagAPDU    byte = 0x05
	headerSize      = 5
	lengthSize      = 2
	maxMessage      = 0xFFFF
)

// ErrFraming is returned when a report does not follow Ledger framing.
var ErrFraming = errors.New("hid: malformed report")

// Options configures a Transport.
type Options struct {
	// Channel defaults to DefaultChannel.
	Channel uint16

	Logger *logging.Logger
}

// Transport is a transport.Transport over a Ledger HID interface.
type Transport struct {
	dev     Device
	pump    *Pump
	channel uint16
	log     *logging.Logger
	mu      sync.Mutex
}

var _ transport.Transport = (*Transport)(nil)

// New wraps an open device and starts its reader.
func New(dev Device, opts Options) *Transport {
	channel := opts.Channel
	if channel == 0 {
		channel = DefaultChannel
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Transport{
		dev:     dev,
		pump:    NewPump(dev),
		channel: channel,
		log:     log.With("path", dev.Info().Path),
	}
}

// Open opens the first Ledger attached through e.
func Open(e Enumerator, opts Options) (*Transport, error) {
	dev, err := OpenFirst(e, LedgerFilter())
	if err != nil {
		return nil, transport.NewError(transport.KindHID, transport.ReasonConnectionUnavailable, err)
	}
	return New(dev, opts), nil
}

// Exchange writes apdu as HID reports and reassembles the reply.
func (t *Transport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(apdu) > maxMessage {
		return nil, fmt.Errorf("hid: apdu too long: %d bytes", len(apdu))
	}
	if n := t.pump.Drain(); n > 0 {
		t.log.Debug("discarded stale reports", "count", n)
	}

	for _, r := range Frame(t.channel, apdu) {
		if _, err := t.dev.Write(r); err != nil {
			return nil, transport.NewError(transport.KindHID, transport.ReasonConnectionUnavailable,
				fmt.Errorf("write report: %w", err))
		}
	}

	var (
		asm Assembler
		out []byte
	)
	asm.Channel = t.channel
	for out == nil {
		r, err := t.pump.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, transport.FromContext(ctx, transport.KindHID)
			}
			return nil, transport.NewError(transport.KindHID, transport.ReasonConnectionUnavailable,
				fmt.Errorf("read report: %w", err))
		}
		if out, err = asm.Add(r); err != nil {
			return nil, transport.NewError(transport.KindHID, transport.ReasonConnectionUnavailable, err)
		}
	}
	return out, nil
}

// Close stops the reader and closes the device.
func (t *Transport) Close() error {
	return t.pump.Close()
}

// Frame splits msg into Ledger HID reports.
func Frame(channel uint16, msg []byte) [][]byte {
	var reports [][]byte
	seq := uint16(0)
	rest := msg
	for {
		r := make([]byte, ReportSize)
		binary.BigEndian.PutUint16(r[0:2], channel)
		r[2] = tagAPDU
		binary.BigEndian.PutUint16(r[3:5], seq)

		var n int
		if seq == 0 {
			binary.BigEndian.PutUint16(r[5:7], uint16(len(msg)))
			n = copy(r[7:], rest)
		} else {
			n = copy(r[5:], rest)
		}
		reports = append(reports, r)
		rest = rest[n:]
		seq++
		if len(rest) == 0 {
			return reports
		}
	}
}

// Assembler rebuilds a message from Ledger HID reports.
type Assembler struct {
	Channel uint16
	seq     uint16
	want    int
	buf     []byte
}

// Add consumes one report. It returns the message once complete.
func (a *Assembler) Add(r []byte) ([]byte, error) {
	if len(r) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFraming, len(r))
	}
	if ch := binary.BigEndian.Uint16(r[0:2]); ch != a.Channel {
		return nil, fmt.Errorf("%w: channel 0x%04x", ErrFraming, ch)
	}
	if r[2] != tagAPDU {
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrFraming, r[2])
	}
	if seq := binary.BigEndian.Uint16(r[3:5]); seq != a.seq {
		return nil, fmt.Errorf("%w: sequence %d, want %d", ErrFraming, seq, a.seq)
	}

	payload := r[headerSize:]
	if a.seq == 0 {
		if len(r) < headerSize+lengthSize {
			return nil, fmt.Errorf("%w: first report without length", ErrFraming)
		}
		a.want = int(binary.BigEndian.Uint16(r[5:7]))
		a.buf = make([]byte, 0, a.want)
		payload = r[headerSize+lengthSize:]
	}
	a.seq++

	need := a.want - len(a.buf)
	if len(payload) > need {
		payload = payload[:need]
	}
	a.buf = append(a.buf, payload...)
	if len(a.buf) == a.want {
		return a.buf, nil
	}
	return nil, nil
}
