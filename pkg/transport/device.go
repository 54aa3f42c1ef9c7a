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

package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-ledgerkey/pkg/correlation"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/metrics"
)

// Concurrency selects what a Device does when a session is requested while
// another one is open.
type Concurrency string

const (
	// ConcurrencyQueue makes callers wait, served in FIFO order.
	ConcurrencyQueue Concurrency = "queue"

	// ConcurrencyFailFast rejects callers with ReasonBusy.
	ConcurrencyFailFast Concurrency = "fail_fast"
)

// DefaultExchangeTimeout bounds a single APDU round trip. It is long
// because signing waits for the user to confirm on the device.
const DefaultExchangeTimeout = 2 * time.Minute

// ErrSessionReleased is returned when a released session is used.
var ErrSessionReleased = errors.New("transport: session released")

// DeviceOptions configures a Device.
type DeviceOptions struct {
	// Kind labels logs and metrics; one of the Kind* constants.
	Kind string

	// ExchangeTimeout bounds each APDU round trip. Zero means
	// DefaultExchangeTimeout; negative disables the bound.
	ExchangeTimeout time.Duration

	// Concurrency defaults to ConcurrencyQueue.
	Concurrency Concurrency

	// Logger defaults to a discard logger.
	Logger *logging.Logger
}

// Device serializes access to one Transport.
type Device struct {
	transport Transport
	kind      string
	timeout   time.Duration
	mode      Concurrency
	token     chan struct{}
	log       *logging.Logger
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewDevice wraps a binding.
func NewDevice(t Transport, opts DeviceOptions) *Device {
	timeout := opts.ExchangeTimeout
	if timeout == 0 {
		timeout = DefaultExchangeTimeout
	}
	mode := opts.Concurrency
	if mode == "" {
		mode = ConcurrencyQueue
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	kind := opts.Kind
	if kind == "" {
		kind = "unknown"
	}

	token := make(chan struct{}, 1)
	token <- struct{}{}

	return &Device{
		transport: t,
		kind:      kind,
		timeout:   timeout,
		mode:      mode,
		token:     token,
		log:       log.With("transport", kind),
	}
}

// Kind returns the binding kind.
func (d *Device) Kind() string {
	return d.kind
}

// Mode returns the concurrency mode, fixed for the life of the Device.
func (d *Device) Mode() Concurrency {
	return d.mode
}

// ExchangeTimeout returns the per-exchange bound.
func (d *Device) ExchangeTimeout() time.Duration {
	return d.timeout
}

// Session acquires exclusive use of the device. The caller must Release
// the session when its logical operation is over.
func (d *Device) Session(ctx context.Context) (*Session, error) {
	if d.closed.Load() {
		return nil, Errorf(d.kind, ReasonConnectionUnavailable, "device closed")
	}

	switch d.mode {
	case ConcurrencyFailFast:
		select {
		case <-d.token:
		default:
			return nil, Errorf(d.kind, ReasonBusy, "another exchange is in flight")
		}
	default:
		select {
		case <-d.token:
		default:
			metrics.AddWaiters(d.kind, 1)
			d.log.Debug("waiting for device", correlation.LogKey, correlation.OperationID(ctx))
			select {
			case <-d.token:
				metrics.AddWaiters(d.kind, -1)
			case <-ctx.Done():
				metrics.AddWaiters(d.kind, -1)
				return nil, FromContext(ctx, d.kind)
			}
		}
	}

	if d.closed.Load() {
		d.token <- struct{}{}
		return nil, Errorf(d.kind, ReasonConnectionUnavailable, "device closed")
	}
	return &Session{device: d}, nil
}

// Exchange runs a single APDU in its own session.
func (d *Device) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	s, err := d.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Release()
	return s.Exchange(ctx, apdu)
}

// Closed reports whether Close has been called.
func (d *Device) Closed() bool {
	return d.closed.Load()
}

// Close closes the binding. Sessions requested afterwards fail with
// ReasonConnectionUnavailable.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeErr = d.transport.Close()
	})
	return d.closeErr
}

// Session is exclusive use of a Device for one logical operation.
type Session struct {
	device   *Device
	released atomic.Bool
	frames   int
}

// Exchange sends one APDU within the session, bounded by the device's
// exchange timeout.
func (s *Session) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	if s.released.Load() {
		return nil, ErrSessionReleased
	}
	d := s.device

	exCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		exCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	opID := correlation.OperationID(ctx)
	s.frames++
	if d.log.DebugEnabled() {
		d.log.Debug("apdu out",
			correlation.LogKey, opID,
			"frame", s.frames,
			"apdu", hex.EncodeToString(apdu))
	}

	metrics.RecordFrames(d.kind, metrics.DirectionOut, 1)
	start := time.Now()
	resp, err := d.transport.Exchange(exCtx, apdu)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			switch {
			case errors.Is(exCtx.Err(), context.DeadlineExceeded):
				err = NewError(d.kind, ReasonTimeout, err)
			case ctx.Err() == nil:
				err = NewError(d.kind, ReasonConnectionUnavailable, err)
			}
		}
		metrics.RecordExchange(d.kind, metrics.StatusError, elapsed)
		d.log.Warn("apdu exchange failed",
			correlation.LogKey, opID,
			"frame", s.frames,
			"error", err)
		return nil, fmt.Errorf("exchange frame %d: %w", s.frames, err)
	}

	metrics.RecordExchange(d.kind, metrics.StatusSuccess, elapsed)
	metrics.RecordFrames(d.kind, metrics.DirectionIn, 1)
	if d.log.DebugEnabled() {
		d.log.Debug("apdu in",
			correlation.LogKey, opID,
			"frame", s.frames,
			"response", hex.EncodeToString(resp))
	}
	return resp, nil
}

// Frames returns the number of exchanges attempted in the session.
func (s *Session) Frames() int {
	return s.frames
}

// Release returns the device to the next waiter. It is safe to call more
// than once.
func (s *Session) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.device.token <- struct{}{}
	}
}
