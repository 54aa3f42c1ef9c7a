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

package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/correlation"
	"github.com/jeremyhahn/go-ledgerkey/pkg/health"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/metrics"
	"github.com/jeremyhahn/go-ledgerkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
	"github.com/jeremyhahn/go-ledgerkey/pkg/validation"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Limiter throttles upgrades and exchange messages per client address.
	Limiter *ratelimit.Limiter

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty allows any origin.
	AllowedOrigins []string

	// Protocol identifies SIGN continuation frames. Defaults to
	// apdu.DefaultProtocol.
	Protocol *apdu.Protocol

	Logger *logging.Logger
}

// Server exposes a Device to bridge clients.
type Server struct {
	device   *transport.Device
	limiter  *ratelimit.Limiter
	health   *health.Checker
	protocol apdu.Protocol
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// NewServer returns a Server for device.
func NewServer(device *transport.Device, opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(nil)
	}
	checker := health.NewChecker()
	checker.Register("device", health.DeviceCheck(device))

	protocol := apdu.DefaultProtocol()
	if opts.Protocol != nil {
		protocol = *opts.Protocol
	}

	s := &Server{
		device:   device,
		limiter:  limiter,
		health:   checker,
		protocol: protocol,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// Health returns the checker behind /healthz.
func (s *Server) Health() *health.Checker {
	return s.health
}

// Handler routes /ws, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.HTTPMiddleware)
	r.Use(ratelimit.Middleware(s.limiter))

	r.Get("/healthz", s.health.Handler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.serveWS)
	return r
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	s.log.Info("bridge listening", "addr", addr, "transport", s.device.Kind())

	select {
	case err := <-errs:
		return fmt.Errorf("bridge: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge: shutdown: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { s.log.MaybeError(conn.Close()) }()

	metrics.BridgeConnections.Inc()
	defer metrics.BridgeConnections.Dec()

	client := ratelimit.ClientIP(r)
	connID := validation.SanitizeForLog(r.Header.Get(correlation.BridgeHeader))
	log := s.log.With("remote", client)
	log.Debug("bridge client connected", correlation.LogKey, connID)

	held := &heldSession{}
	defer held.release()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("bridge connection closed", "error", err)
			}
			return
		}

		ctx := r.Context()
		if connID != "" {
			ctx = correlation.WithOperationID(ctx, connID)
		}
		resp := s.handle(ctx, client, req, held, log)
		if err := conn.WriteJSON(resp); err != nil {
			log.Warn("bridge write failed", "error", err)
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, client string, req Request, held *heldSession, log *logging.Logger) Response {
	ctx, opID := correlation.Ensure(ctx)
	resp := Response{MessageID: req.MessageID}

	switch req.Action {
	case ActionPing:
		resp.Success = true
		return resp
	case ActionExchange:
	default:
		log.Debug("unknown bridge action", "action", validation.SanitizeForLog(req.Action))
		resp.Payload = fmt.Sprintf("unknown action %q", req.Action)
		return resp
	}

	if !s.limiter.Allow(client) {
		resp.Payload = "rate limit exceeded"
		resp.Reason = string(transport.ReasonBusy)
		return resp
	}
	frame, err := hex.DecodeString(req.Params.APDU)
	if err != nil {
		resp.Payload = fmt.Sprintf("invalid apdu: %v", err)
		return resp
	}

	start := time.Now()
	data, err := s.exchange(ctx, held, frame)
	if err != nil {
		metrics.RecordOperation(metrics.OpBridgeExchange, metrics.StatusError, time.Since(start).Seconds())
		log.Warn("exchange failed", correlation.LogKey, opID, "messageId", validation.SanitizeForLog(req.MessageID), "error", err)
		resp.Payload = err.Error()
		if reason, ok := transport.ReasonOf(err); ok {
			resp.Reason = string(reason)
		}
		return resp
	}
	metrics.RecordOperation(metrics.OpBridgeExchange, metrics.StatusSuccess, time.Since(start).Seconds())
	resp.Success = true
	resp.Payload = hex.EncodeToString(data)
	return resp
}

// exchange runs frame in the connection's session. A SIGN frame carrying
// P1More that the device accepts leaves the session held for the next
// frame, so sequences from different connections never interleave. Any
// other frame, an error or a failing status word releases it.
func (s *Server) exchange(ctx context.Context, held *heldSession, frame []byte) ([]byte, error) {
	sess, err := held.take()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		if sess, err = s.device.Session(ctx); err != nil {
			return nil, err
		}
	}

	data, err := sess.Exchange(ctx, frame)
	if err != nil {
		sess.Release()
		return nil, err
	}
	if s.protocol.Continues(frame) {
		if r, perr := apdu.ParseResponse(data); perr == nil && r.OK() {
			held.hold(sess, s.device.ExchangeTimeout(), s.device.Kind())
			return data, nil
		}
	}
	sess.Release()
	return data, nil
}

// heldSession is a device session kept open by one connection between the
// frames of a SIGN sequence. The hold expires after the device's exchange
// timeout; the next exchange on the connection then fails with
// ReasonTimeout.
type heldSession struct {
	mu      sync.Mutex
	sess    *transport.Session
	timer   *time.Timer
	gen     uint64
	expired string
}

// take returns the held session, or nil when none is held.
func (h *heldSession) take() (*transport.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.expired != "" {
		kind := h.expired
		h.expired = ""
		return nil, transport.Errorf(kind, transport.ReasonTimeout, "sign sequence expired between frames")
	}
	sess := h.sess
	h.sess = nil
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	return sess, nil
}

func (h *heldSession) hold(sess *transport.Session, idle time.Duration, kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sess = sess
	h.gen++
	if idle > 0 {
		gen := h.gen
		h.timer = time.AfterFunc(idle, func() { h.expire(gen, kind) })
	}
}

func (h *heldSession) expire(gen uint64, kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen || h.sess == nil {
		return
	}
	h.sess.Release()
	h.sess = nil
	h.timer = nil
	h.expired = kind
}

// release frees a held session when the connection goes away.
func (h *heldSession) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.sess != nil {
		h.sess.Release()
		h.sess = nil
	}
}
