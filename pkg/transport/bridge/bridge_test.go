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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/emulator"
	"github.com/jeremyhahn/go-ledgerkey/pkg/keys"
	"github.com/jeremyhahn/go-ledgerkey/pkg/ledger"
	"github.com/jeremyhahn/go-ledgerkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
	"github.com/jeremyhahn/go-ledgerkey/pkg/tx"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func startServer(t *testing.T, emu *emulator.Emulator, opts ServerOptions) *httptest.Server {
	t.Helper()
	return startServerWith(t, emu, transport.DeviceOptions{Kind: transport.KindEmulator}, opts)
}

func startServerWith(t *testing.T, emu *emulator.Emulator, devOpts transport.DeviceOptions, opts ServerOptions) *httptest.Server {
	t.Helper()
	device := transport.NewDevice(emu, devOpts)
	ts := httptest.NewServer(NewServer(device, opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *Transport {
	t.Helper()
	client, err := Dial(context.Background(), wsURL(ts), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestExchange_GetPublicKey(t *testing.T) {
	emu := emulator.New(emulator.Options{})
	client := dial(t, startServer(t, emu, ServerOptions{}))

	require.NoError(t, client.Ping(context.Background()))

	cmd, err := apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(2, false)).Encode()
	require.NoError(t, err)
	out, err := client.Exchange(context.Background(), cmd)
	require.NoError(t, err)

	resp, err := apdu.ParseResponse(out)
	require.NoError(t, err)
	want, err := emu.PublicKey(2, false)
	require.NoError(t, err)
	assert.Equal(t, want, resp.Data)
}

func TestKeyOverBridge_SignAndVerify(t *testing.T) {
	emu := emulator.New(emulator.Options{})
	client := dial(t, startServer(t, emu, ServerOptions{}))

	device := transport.NewDevice(client, transport.DeviceOptions{Kind: transport.KindBridge})
	proxy, err := ledger.NewProxy(device, ledger.ProxyOptions{})
	require.NoError(t, err)

	key, err := ledger.Create(context.Background(), proxy, 5, false)
	require.NoError(t, err)

	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	rt, err := tx.NewRawTransaction(payload)
	require.NoError(t, err)

	sig, err := key.SignAsync(context.Background(), rt, keys.SchemeUnspecified, "")
	require.NoError(t, err)
	assert.True(t, key.GetPublicKey().Verify(payload, sig))
	// 600 bytes in 235-byte chunks
	assert.Equal(t, 1+3, emu.FrameCount())
}

func TestExchange_PropagatesReason(t *testing.T) {
	emu := emulator.New(emulator.Options{})
	emu.FailAt(1, transport.Errorf(transport.KindEmulator, transport.ReasonDeviceRejected, "locked"))
	client := dial(t, startServer(t, emu, ServerOptions{}))

	_, err := client.Exchange(context.Background(), []byte{0x80, 0x04, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, transport.ErrDeviceRejected)
	assert.ErrorIs(t, err, &transport.Error{Reason: transport.ReasonDeviceRejected, Kind: transport.KindBridge})
}

func TestExchange_RateLimited(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, PerMinute: 1, Burst: 2})
	defer limiter.Stop()
	client := dial(t, startServer(t, emulator.New(emulator.Options{}), ServerOptions{Limiter: limiter}))

	// The upgrade took the first token.
	_, err := client.Exchange(context.Background(), []byte{0x80, 0x04, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	_, err = client.Exchange(context.Background(), []byte{0x80, 0x04, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, transport.ErrBusy)
}

func TestExchange_UnknownActionAndBadHex(t *testing.T) {
	client := dial(t, startServer(t, emulator.New(emulator.Options{}), ServerOptions{}))

	_, err := client.call(context.Background(), "reboot", Params{})
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)
	assert.Contains(t, err.Error(), "unknown action")

	_, err = client.call(context.Background(), ActionExchange, Params{APDU: "zz"})
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)
	assert.Contains(t, err.Error(), "invalid apdu")
}

func TestTransport_DiscardsStaleMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(Response{MessageID: "stale", Success: true, Payload: "dead"})
		_ = conn.WriteJSON(Response{MessageID: req.MessageID, Success: true, Payload: "9000"})
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	client := dial(t, ts)
	out, err := client.Exchange(context.Background(), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, out)
}

func TestTransport_Timeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	client := dial(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Exchange(ctx, []byte{0x01})
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestTransport_ServerGone(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer ts.Close()

	client := dial(t, ts)
	_, err := client.Exchange(context.Background(), []byte{0x80, 0x04, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)
}

func TestDial_Failures(t *testing.T) {
	ts := startServer(t, emulator.New(emulator.Options{}), ServerOptions{AllowedOrigins: []string{"https://wallet.example"}})

	_, err := Dial(context.Background(), wsURL(ts), Options{Header: http.Header{"Origin": {"https://evil.example"}}})
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)

	client, err := Dial(context.Background(), wsURL(ts), Options{Header: http.Header{"Origin": {"https://wallet.example"}}})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = Dial(context.Background(), "ws://127.0.0.1:1/ws", Options{HandshakeTimeout: time.Second})
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)
}

func TestServer_Healthz(t *testing.T) {
	ts := startServer(t, emulator.New(emulator.Options{}), ServerOptions{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "healthy", report.Status)

	metricsResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func newBridgeProxy(t *testing.T, ts *httptest.Server) *ledger.Proxy {
	t.Helper()
	device := transport.NewDevice(dial(t, ts), transport.DeviceOptions{Kind: transport.KindBridge})
	proxy, err := ledger.NewProxy(device, ledger.ProxyOptions{})
	require.NoError(t, err)
	return proxy
}

func signFrames(t *testing.T, index uint32, payload []byte) [][]byte {
	t.Helper()
	frames, err := apdu.DefaultProtocol().Sign(apdu.NewPath(index, false), payload)
	require.NoError(t, err)
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i], err = f.Encode()
		require.NoError(t, err)
	}
	return out
}

func TestServer_ConcurrentSignSequencesDoNotInterleave(t *testing.T) {
	emu := emulator.New(emulator.Options{})
	ts := startServer(t, emu, ServerOptions{})

	const rounds = 5
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for c := 0; c < 2; c++ {
		proxy := newBridgeProxy(t, ts)
		index := uint32(c + 1)
		pub, err := proxy.GetPublicKey(context.Background(), index, false)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				payload := []byte(strings.Repeat(fmt.Sprintf("client %d round %d;", index, r), 40))
				rs, err := proxy.ComputeSignature(context.Background(), index, false, payload)
				if err != nil {
					errs <- err
					continue
				}
				sig := &keys.Signature{Algorithm: keys.SHA256withECDSA, Value: rs}
				if !pub.Verify(payload, sig) {
					errs <- fmt.Errorf("client %d round %d: signature does not verify", index, r)
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServer_HoldsDeviceBetweenSignFrames(t *testing.T) {
	emu := emulator.New(emulator.Options{})
	ts := startServerWith(t, emu, transport.DeviceOptions{
		Kind:        transport.KindEmulator,
		Concurrency: transport.ConcurrencyFailFast,
	}, ServerOptions{})
	a := dial(t, ts)
	b := dial(t, ts)

	payload := make([]byte, 300)
	frames := signFrames(t, 0, payload)
	require.Len(t, frames, 2)

	out, err := a.Exchange(context.Background(), frames[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, out)

	pubCmd, err := apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(1, false)).Encode()
	require.NoError(t, err)
	_, err = b.Exchange(context.Background(), pubCmd)
	assert.ErrorIs(t, err, transport.ErrBusy)

	out, err = a.Exchange(context.Background(), frames[1])
	require.NoError(t, err)
	resp, err := apdu.ParseResponse(out)
	require.NoError(t, err)
	assert.True(t, resp.OK())

	_, err = b.Exchange(context.Background(), pubCmd)
	assert.NoError(t, err)
}

func TestServer_ReleasesHeldSession(t *testing.T) {
	emu := emulator.New(emulator.Options{})
	ts := startServerWith(t, emu, transport.DeviceOptions{
		Kind:            transport.KindEmulator,
		Concurrency:     transport.ConcurrencyFailFast,
		ExchangeTimeout: 50 * time.Millisecond,
	}, ServerOptions{})
	pubCmd, err := apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(1, false)).Encode()
	require.NoError(t, err)
	frames := signFrames(t, 0, make([]byte, 300))

	t.Run("expired hold", func(t *testing.T) {
		a := dial(t, ts)
		b := dial(t, ts)
		_, err := a.Exchange(context.Background(), frames[0])
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, err := b.Exchange(context.Background(), pubCmd)
			return err == nil
		}, 2*time.Second, 20*time.Millisecond)

		_, err = a.Exchange(context.Background(), frames[1])
		assert.ErrorIs(t, err, transport.ErrTimeout)
	})

	t.Run("failing status word", func(t *testing.T) {
		a := dial(t, ts)
		b := dial(t, ts)
		emu.SetAppOpen(false)
		out, err := a.Exchange(context.Background(), frames[0])
		emu.SetAppOpen(true)
		require.NoError(t, err)
		resp, err := apdu.ParseResponse(out)
		require.NoError(t, err)
		assert.False(t, resp.OK())

		_, err = b.Exchange(context.Background(), pubCmd)
		assert.NoError(t, err)
	})

	t.Run("transport error", func(t *testing.T) {
		a := dial(t, ts)
		b := dial(t, ts)
		emu.FailAt(1, nil)
		_, err := a.Exchange(context.Background(), frames[0])
		assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)

		_, err = b.Exchange(context.Background(), pubCmd)
		assert.NoError(t, err)
	})
}

func TestServer_ReleasesHeldSessionOnDisconnect(t *testing.T) {
	ts := startServerWith(t, emulator.New(emulator.Options{}), transport.DeviceOptions{
		Kind:        transport.KindEmulator,
		Concurrency: transport.ConcurrencyFailFast,
	}, ServerOptions{})
	pubCmd, err := apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(1, false)).Encode()
	require.NoError(t, err)

	a, err := Dial(context.Background(), wsURL(ts), Options{})
	require.NoError(t, err)
	b := dial(t, ts)
	_, err = a.Exchange(context.Background(), signFrames(t, 0, make([]byte, 300))[0])
	require.NoError(t, err)
	_, err = b.Exchange(context.Background(), pubCmd)
	require.ErrorIs(t, err, transport.ErrBusy)

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool {
		_, err := b.Exchange(context.Background(), pubCmd)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
