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

// Package u2f is the browser-compatible binding: each APDU is XOR
// scrambled into the key handle of a U2F AUTHENTICATE request, sent over
// CTAPHID MSG on the device's FIDO interface. The Ledger firmware
// recognises the scrambled handle and answers with the APDU response in
// place of the U2F signature.
package u2f

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport/hid"
)

const (
	// DefaultScrambleKey is the key Ledger apps expect by default.
	DefaultScrambleKey = "w0w"

	// DefaultAppID is hashed into the U2F application parameter.
	DefaultAppID = "https://ledgerkey.local"

	// MaxAPDU is the largest APDU a key handle can carry.
	MaxAPDU = 255

	// MaxChunkSize is the largest SIGN chunk that keeps a path-first frame
	// within MaxAPDU.
	MaxChunkSize = MaxAPDU - 5 - 20

	u2fAuthenticate   byte = 0x02
	u2fEnforcePresence     = 0x03
	presenceAndCounter     = 5
)

// ErrAPDUTooLong is returned for APDUs longer than MaxAPDU.
var ErrAPDUTooLong = errors.New("u2f: apdu does not fit in a key handle")

// Options configures a Transport.
type Options struct {
	// ScrambleKey defaults to DefaultScrambleKey.
	ScrambleKey string

	// AppID defaults to DefaultAppID.
	AppID string

	Logger *logging.Logger
}

// Transport is a transport.Transport over U2F.
type Transport struct {
	mu       sync.Mutex
	dev      hid.Device
	pump     *hid.Pump
	cid      uint32
	scramble []byte
	appParam [32]byte
	log      *logging.Logger
}

var _ transport.Transport = (*Transport)(nil)

// FIDOFilter matches the U2F interface of Ledger devices.
func FIDOFilter() hid.Filter {
	return hid.Filter{VendorID: hid.LedgerVendorID, UsagePage: hid.UsagePageFIDO}
}

// Open opens the first Ledger FIDO interface found through e.
func Open(ctx context.Context, e hid.Enumerator, opts Options) (*Transport, error) {
	dev, err := hid.OpenFirst(e, FIDOFilter())
	if err != nil {
		return nil, transport.NewError(transport.KindU2F, transport.ReasonConnectionUnavailable, err)
	}
	return New(ctx, dev, opts)
}

// New wraps an open FIDO HID device and allocates a CTAPHID channel.
func New(ctx context.Context, dev hid.Device, opts Options) (*Transport, error) {
	key := opts.ScrambleKey
	if key == "" {
		key = DefaultScrambleKey
	}
	appID := opts.AppID
	if appID == "" {
		appID = DefaultAppID
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	t := &Transport{
		dev:      dev,
		pump:     hid.NewPump(dev),
		scramble: []byte(key),
		appParam: sha256.Sum256([]byte(appID)),
		log:      log.With("path", dev.Info().Path),
	}
	if err := t.init(ctx); err != nil {
		t.log.MaybeError(t.pump.Close())
		return nil, err
	}
	return t, nil
}

// init performs CTAPHID_INIT on the broadcast channel.
func (t *Transport) init(ctx context.Context) error {
	nonce := make([]byte, initNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("u2f: init nonce: %w", err)
	}
	msg, err := t.roundTrip(ctx, CIDBroadcast, CmdInit, nonce)
	if err != nil {
		return err
	}
	if msg.cmd != CmdInit || len(msg.data) < 17 || !bytes.Equal(msg.data[:initNonceLen], nonce) {
		return transport.NewError(transport.KindU2F, transport.ReasonConnectionUnavailable,
			fmt.Errorf("%w: invalid INIT response", ErrCTAPHID))
	}
	t.cid = binary.BigEndian.Uint32(msg.data[8:12])
	t.log.Debugf("ctaphid channel 0x%08x allocated", t.cid)
	return nil
}

// Exchange wraps apdu in a U2F AUTHENTICATE request and returns the
// unwrapped APDU response.
func (t *Transport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	if len(apdu) > MaxAPDU {
		return nil, transport.NewError(transport.KindU2F, transport.ReasonDeviceRejected,
			fmt.Errorf("%w: %d bytes", ErrAPDUTooLong, len(apdu)))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := AuthenticateRequest(t.appParam, Scramble(apdu, t.scramble))
	msg, err := t.roundTrip(ctx, t.cid, CmdMsg, req)
	if err != nil {
		return nil, err
	}
	if msg.cmd != CmdMsg {
		return nil, transport.NewError(transport.KindU2F, transport.ReasonConnectionUnavailable,
			fmt.Errorf("%w: unexpected command 0x%02x", ErrCTAPHID, msg.cmd))
	}
	return UnwrapResponse(msg.data)
}

func (t *Transport) roundTrip(ctx context.Context, cid uint32, cmd byte, data []byte) (*message, error) {
	if n := t.pump.Drain(); n > 0 {
		t.log.Debug("discarded stale packets", "count", n)
	}
	for _, p := range Packets(cid, cmd, data) {
		if _, err := t.dev.Write(p); err != nil {
			return nil, transport.NewError(transport.KindU2F, transport.ReasonConnectionUnavailable,
				fmt.Errorf("write packet: %w", err))
		}
	}

	r := reassembler{cid: cid}
	for {
		p, err := t.pump.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, transport.FromContext(ctx, transport.KindU2F)
			}
			return nil, transport.NewError(transport.KindU2F, transport.ReasonConnectionUnavailable,
				fmt.Errorf("read packet: %w", err))
		}
		msg, err := r.add(p)
		if err != nil {
			return nil, transport.NewError(transport.KindU2F, transport.ReasonConnectionUnavailable, err)
		}
		if msg != nil {
			return msg, nil
		}
	}
}

// Close releases the channel and closes the device.
func (t *Transport) Close() error {
	return t.pump.Close()
}

// Scramble XORs apdu with the repeating key. It is its own inverse.
func Scramble(apdu, key []byte) []byte {
	out := make([]byte, len(apdu))
	for i, b := range apdu {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// AuthenticateRequest builds a raw U2F AUTHENTICATE message with a zero
// challenge, using extended length encoding.
func AuthenticateRequest(appParam [32]byte, keyHandle []byte) []byte {
	data := make([]byte, 0, 32+32+1+len(keyHandle))
	data = append(data, make([]byte, 32)...)
	data = append(data, appParam[:]...)
	data = append(data, byte(len(keyHandle)))
	data = append(data, keyHandle...)

	req := make([]byte, 0, 7+len(data)+2)
	req = append(req, 0x00, u2fAuthenticate, u2fEnforcePresence, 0x00)
	req = append(req, 0x00, byte(len(data)>>8), byte(len(data)))
	req = append(req, data...)
	return append(req, 0x00, 0x00)
}

// UnwrapResponse strips the U2F status word, presence byte and counter,
// leaving the device's APDU response.
func UnwrapResponse(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, transport.Errorf(transport.KindU2F, transport.ReasonConnectionUnavailable, "short U2F response")
	}
	sw := binary.BigEndian.Uint16(data[len(data)-2:])
	if sw != 0x9000 {
		return nil, transport.Errorf(transport.KindU2F, transport.ReasonDeviceRejected, "U2F status 0x%04x", sw)
	}
	body := data[:len(data)-2]
	if len(body) < presenceAndCounter {
		return nil, transport.Errorf(transport.KindU2F, transport.ReasonConnectionUnavailable, "short U2F response")
	}
	return body[presenceAndCounter:], nil
}
