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

// Package ipc is the native-process binding: APDUs travel as CBOR
// messages over a byte stream, typically the stdin/stdout of a helper
// process that owns the device (`ledgerkey bridge stdio`).
//
// Requests and responses carry an ID. The client discards responses whose
// ID does not match the request in flight, so a late reply to a timed-out
// exchange is never taken for the next one.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

// Ops
const (
	OpExchange = "exchange"
	OpPing     = "ping"
)

// Request is a client-to-server message.
type Request struct {
	ID   uint64 `cbor:"1,keyasint"`
	Op   string `cbor:"2,keyasint"`
	APDU []byte `cbor:"3,keyasint,omitempty"`
}

// Response is a server-to-client message. Reason is set when Error is.
type Response struct {
	ID     uint64 `cbor:"1,keyasint"`
	Data   []byte `cbor:"2,keyasint,omitempty"`
	Error  string `cbor:"3,keyasint,omitempty"`
	Reason string `cbor:"4,keyasint,omitempty"`
}

// Options configures a Transport.
type Options struct {
	Logger *logging.Logger
}

type result struct {
	resp Response
	err  error
}

// Transport is a transport.Transport over a CBOR stream.
type Transport struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	closer  io.Closer
	results chan result
	done    chan struct{}
	once    sync.Once
	nextID  atomic.Uint64
	cmd     *exec.Cmd
	log     *logging.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New speaks the protocol over rwc.
func New(rwc io.ReadWriteCloser, opts Options) *Transport {
	return newTransport(rwc, rwc, rwc, opts)
}

func newTransport(r io.Reader, w io.Writer, c io.Closer, opts Options) *Transport {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	t := &Transport{
		enc:     cbor.NewEncoder(w),
		closer:  c,
		results: make(chan result, 8),
		done:    make(chan struct{}),
		log:     log,
	}
	go t.readLoop(cbor.NewDecoder(r))
	return t
}

// Spawn starts name with args and speaks the protocol over its stdio.
// The process is killed when the transport is closed.
func Spawn(ctx context.Context, opts Options, name string, args ...string) (*Transport, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, transport.NewError(transport.KindIPC, transport.ReasonConnectionUnavailable,
			fmt.Errorf("start %s: %w", name, err))
	}
	t := newTransport(stdout, stdin, stdin, opts)
	t.cmd = cmd
	t.log = t.log.With("helper", name, "pid", cmd.Process.Pid)
	return t, nil
}

func (t *Transport) readLoop(dec *cbor.Decoder) {
	for {
		var resp Response
		err := dec.Decode(&resp)
		select {
		case t.results <- result{resp: resp, err: err}:
		case <-t.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Exchange sends one APDU and waits for the matching response.
func (t *Transport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	resp, err := t.call(ctx, Request{Op: OpExchange, APDU: apdu})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Ping checks that the helper is alive and has a device.
func (t *Transport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, Request{Op: OpPing})
	return err
}

func (t *Transport) call(ctx context.Context, req Request) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req.ID = t.nextID.Add(1)
	if err := t.enc.Encode(req); err != nil {
		return Response{}, transport.NewError(transport.KindIPC, transport.ReasonConnectionUnavailable,
			fmt.Errorf("write request: %w", err))
	}

	for {
		select {
		case r := <-t.results:
			if r.err != nil {
				// Keep the stream error for later callers.
				t.results <- r
				return Response{}, transport.NewError(transport.KindIPC, transport.ReasonConnectionUnavailable,
					fmt.Errorf("read response: %w", r.err))
			}
			if r.resp.ID != req.ID {
				t.log.Debug("discarded stale response", "id", r.resp.ID, "want", req.ID)
				continue
			}
			if r.resp.Error != "" {
				return Response{}, remoteError(r.resp)
			}
			return r.resp, nil
		case <-t.done:
			return Response{}, transport.Errorf(transport.KindIPC, transport.ReasonConnectionUnavailable, "transport closed")
		case <-ctx.Done():
			return Response{}, transport.FromContext(ctx, transport.KindIPC)
		}
	}
}

func remoteError(resp Response) error {
	reason := transport.Reason(resp.Reason)
	switch reason {
	case transport.ReasonBusy, transport.ReasonTimeout, transport.ReasonDeviceRejected, transport.ReasonConnectionUnavailable:
	default:
		reason = transport.ReasonConnectionUnavailable
	}
	return transport.NewError(transport.KindIPC, reason, errors.New(resp.Error))
}

// Close closes the stream and stops the helper process, if any.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.closer.Close()
		if t.cmd != nil {
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			_ = t.cmd.Wait()
		}
	})
	return err
}
