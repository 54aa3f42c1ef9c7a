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

// Package bridge is the embedded-frame binding: APDUs travel as JSON
// messages over a WebSocket to a process that owns the device
// (`ledgerkey bridge ws`).
//
// A request is {"messageId", "action", "params"} and its answer is
// {"messageId", "success", "payload"}. Answers whose messageId does not
// match the request in flight are discarded.
package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jeremyhahn/go-ledgerkey/pkg/correlation"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

// Actions
const (
	ActionExchange = "exchange"
	ActionPing     = "ping"
)

// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Params carries the hex-encoded APDU of an exchange.
type Params struct {
	APDU string `json:"apdu,omitempty"`
}

// Request is a client-to-server message.
type Request struct {
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
	Params    Params `json:"params"`
}

// Response is a server-to-client message. On success Payload is the
// hex-encoded device response, otherwise it is the error text and Reason
// names the transport failure.
type Response struct {
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
	Payload   string `json:"payload"`
	Reason    string `json:"reason,omitempty"`
}

// Options configures a client Transport.
type Options struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *logging.Logger
}

type result struct {
	resp Response
	err  error
}

// Transport is a transport.Transport over a bridge WebSocket.
type Transport struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	results chan result
	done    chan struct{}
	once    sync.Once
	log     *logging.Logger
}

var _ transport.Transport = (*Transport)(nil)

// Dial connects to a bridge server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts Options) (*Transport, error) {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if id := correlation.OperationID(ctx); id != "" {
		header.Set(correlation.BridgeHeader, id)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer func() { log.MaybeError(resp.Body.Close()) }()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, transport.FromContext(ctx, transport.KindBridge)
		}
		return nil, transport.NewError(transport.KindBridge, transport.ReasonConnectionUnavailable,
			fmt.Errorf("dial %s: %w", url, err))
	}

	t := &Transport{
		conn:    conn,
		results: make(chan result, 8),
		done:    make(chan struct{}),
		log:     log.With("url", url),
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) readLoop() {
	for {
		var resp Response
		err := t.conn.ReadJSON(&resp)
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

// Exchange sends one APDU and waits for the matching answer.
func (t *Transport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	resp, err := t.call(ctx, ActionExchange, Params{APDU: hex.EncodeToString(apdu)})
	if err != nil {
		return nil, err
	}
	out, err := hex.DecodeString(resp.Payload)
	if err != nil {
		return nil, transport.NewError(transport.KindBridge, transport.ReasonConnectionUnavailable,
			fmt.Errorf("decode payload: %w", err))
	}
	return out, nil
}

// Ping checks that the server is alive.
func (t *Transport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, ActionPing, Params{})
	return err
}

func (t *Transport) call(ctx context.Context, action string, params Params) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req := Request{MessageID: uuid.NewString(), Action: action, Params: params}
	deadline, _ := ctx.Deadline()
	t.log.MaybeError(t.conn.SetWriteDeadline(deadline))
	if err := t.conn.WriteJSON(req); err != nil {
		return Response{}, transport.NewError(transport.KindBridge, transport.ReasonConnectionUnavailable,
			fmt.Errorf("write message: %w", err))
	}

	for {
		select {
		case r := <-t.results:
			if r.err != nil {
				t.results <- r
				return Response{}, transport.NewError(transport.KindBridge, transport.ReasonConnectionUnavailable,
					fmt.Errorf("read message: %w", r.err))
			}
			if r.resp.MessageID != req.MessageID {
				t.log.Debug("discarded stale message", "messageId", r.resp.MessageID)
				continue
			}
			if !r.resp.Success {
				return Response{}, remoteError(r.resp)
			}
			return r.resp, nil
		case <-t.done:
			return Response{}, transport.Errorf(transport.KindBridge, transport.ReasonConnectionUnavailable, "transport closed")
		case <-ctx.Done():
			return Response{}, transport.FromContext(ctx, transport.KindBridge)
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
	return transport.NewError(transport.KindBridge, reason, errors.New(resp.Payload))
}

// Close sends a close frame and closes the connection.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}
