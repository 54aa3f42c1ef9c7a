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

// Package ledger adapts a Ledger-class hardware signing device to the
// keys.PrivateKey capability set.
//
// A Proxy turns key operations into APDU frame sequences and drives them
// through a transport.Device. A Key is a hardware-backed keys.PrivateKey
// that remembers its device index, coin context and public key, and signs
// by way of its Proxy. The Deserializer rebuilds Keys from their JSON form
// without touching the device.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/correlation"
	"github.com/jeremyhahn/go-ledgerkey/pkg/keys"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/metrics"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

const (
	uncompressedLen = 65
	compressedLen   = 33
	signatureLen    = 64
)

// ProxyOptions configures a Proxy.
type ProxyOptions struct {
	// Protocol defaults to apdu.DefaultProtocol.
	Protocol *apdu.Protocol

	Logger *logging.Logger
}

// DeviceSource returns the device for one operation.
type DeviceSource func(ctx context.Context) (*transport.Device, error)

// Proxy issues GET_PUBLIC_KEY and SIGN sequences to a device. It refers to
// shared Devices and never closes them.
type Proxy struct {
	source DeviceSource
	proto  apdu.Protocol
	log    *logging.Logger
}

// NewProxy creates a proxy bound to device.
func NewProxy(device *transport.Device, opts ProxyOptions) (*Proxy, error) {
	if device == nil {
		return nil, errors.New("ledger: nil device")
	}
	return NewProxyFrom(func(context.Context) (*transport.Device, error) {
		return device, nil
	}, opts)
}

// NewProxyFrom creates a proxy that asks source for a device at the start
// of every operation. Keys built on it follow whatever device source
// currently yields, such as a pooled device reopened after a disconnect.
func NewProxyFrom(source DeviceSource, opts ProxyOptions) (*Proxy, error) {
	if source == nil {
		return nil, errors.New("ledger: nil device source")
	}
	proto := apdu.DefaultProtocol()
	if opts.Protocol != nil {
		proto = *opts.Protocol
	}
	if err := proto.Validate(); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Proxy{
		source: source,
		proto:  proto,
		log:    log,
	}, nil
}

// Protocol returns the frame constants in use.
func (p *Proxy) Protocol() apdu.Protocol {
	return p.proto
}

// GetPublicKey asks the device for the public key at index under the coin
// context selected by neo. The device returns an uncompressed point; the
// result carries the 33-byte compressed form.
func (p *Proxy) GetPublicKey(ctx context.Context, index uint32, neo bool) (pub *keys.PublicKey, err error) {
	ctx, opID := correlation.Ensure(ctx)
	start := time.Now()
	defer func() { p.record(metrics.OpGetPublicKey, start, err) }()

	path := apdu.NewPath(index, neo)
	p.log.Debug("get public key", correlation.LogKey, opID, "path", path.String())

	raw, err := p.proto.GetPublicKey(path).Encode()
	if err != nil {
		return nil, err
	}

	device, err := p.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: get public key: %w", err)
	}
	session, err := device.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: get public key: %w", err)
	}
	defer session.Release()

	out, err := session.Exchange(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("ledger: get public key: %w", err)
	}
	resp, err := apdu.ParseResponse(out)
	if err != nil {
		return nil, &ProtocolError{Frame: 1, Detail: err.Error()}
	}
	if err := p.checkStatus(device.Kind(), resp, 1); err != nil {
		return nil, err
	}

	compressed, err := compressPublicKey(resp.Data)
	if err != nil {
		return nil, &ProtocolError{Frame: 1, Detail: err.Error()}
	}
	return &keys.PublicKey{
		Key:        compressed,
		Algorithm:  keys.KeyTypeECDSA,
		Parameters: keys.KeyParameters{Curve: keys.CurveP256},
	}, nil
}

// ComputeSignature has the device sign payload with the key at index. The
// payload is split into SIGN frames sent in order within one session; the
// device's DER signature is returned as 64-byte r||s.
func (p *Proxy) ComputeSignature(ctx context.Context, index uint32, neo bool, payload []byte) (sig []byte, err error) {
	ctx, opID := correlation.Ensure(ctx)
	start := time.Now()
	defer func() { p.record(metrics.OpComputeSignature, start, err) }()

	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	path := apdu.NewPath(index, neo)
	frames, err := p.proto.Sign(path, payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: compute signature: %w", err)
	}
	encoded := make([][]byte, len(frames))
	for i, f := range frames {
		if encoded[i], err = f.Encode(); err != nil {
			return nil, fmt.Errorf("ledger: compute signature: %w", err)
		}
	}

	p.log.Debug("compute signature",
		correlation.LogKey, opID,
		"path", path.String(),
		"payload_len", len(payload),
		"frames", len(frames))

	device, err := p.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: compute signature: %w", err)
	}
	session, err := device.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: compute signature: %w", err)
	}
	defer session.Release()

	var last apdu.Response
	for i, raw := range encoded {
		frame := i + 1
		out, err := session.Exchange(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("ledger: compute signature: %w", err)
		}

		resp, err := apdu.ParseResponse(out)
		if err != nil {
			return nil, &ProtocolError{Frame: frame, Detail: err.Error()}
		}
		if err := p.checkStatus(device.Kind(), resp, frame); err != nil {
			return nil, err
		}
		if frame < len(encoded) && len(resp.Data) != 0 {
			return nil, &ProtocolError{SW: resp.SW, Frame: frame, Detail: "unexpected data in intermediate response"}
		}
		last = resp
	}

	rs, err := derToRS(last.Data)
	if err != nil {
		return nil, &ProtocolError{SW: last.SW, Frame: len(encoded), Detail: err.Error()}
	}
	return rs, nil
}

func (p *Proxy) checkStatus(kind string, resp apdu.Response, frame int) error {
	sw := resp.SW
	switch {
	case resp.OK():
		return nil
	case sw.UserRejected():
		return fmt.Errorf("%w: status %s", ErrUserRejected, sw)
	case sw.AppUnavailable():
		return transport.NewError(kind, transport.ReasonDeviceRejected,
			fmt.Errorf("frame %d: status %s", frame, sw))
	default:
		return &ProtocolError{SW: sw, Frame: frame}
	}
}

func (p *Proxy) record(op string, start time.Time, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		metrics.RecordError(op, errorType(err))
	}
	metrics.RecordOperation(op, status, time.Since(start).Seconds())
}

// errorType maps an error to a low-cardinality metrics label.
func errorType(err error) string {
	if reason, ok := transport.ReasonOf(err); ok {
		return string(reason)
	}
	switch {
	case errors.Is(err, ErrUserRejected):
		return "user_rejected"
	case errors.Is(err, ErrDeviceProtocol):
		return "protocol"
	case errors.Is(err, ErrEmptyPayload):
		return "empty_payload"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "other"
}

// compressPublicKey validates an uncompressed P-256 point and returns its
// SEC1 compressed form.
func compressPublicKey(b []byte) ([]byte, error) {
	if len(b) != uncompressedLen || b[0] != 0x04 {
		return nil, fmt.Errorf("expected %d-byte uncompressed point, got %d bytes", uncompressedLen, len(b))
	}
	if _, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), b); err != nil {
		return nil, fmt.Errorf("public key not on P-256: %w", err)
	}
	out := make([]byte, compressedLen)
	out[0] = 0x02 | b[uncompressedLen-1]&1
	copy(out[1:], b[1:33])
	return out, nil
}

// derToRS converts an ASN.1 DER ECDSA signature to fixed-width r||s.
func derToRS(der []byte) ([]byte, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, errors.New("invalid DER signature")
	}

	n := elliptic.P256().Params().N
	if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 {
		return nil, errors.New("signature values out of range")
	}

	out := make([]byte, signatureLen)
	r.FillBytes(out[:signatureLen/2])
	s.FillBytes(out[signatureLen/2:])
	return out, nil
}
