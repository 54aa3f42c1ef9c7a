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

// Package speculos binds to the REST API of the Speculos device
// emulator, used to run the Ledger app in integration tests.
package speculos

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

// DefaultURL is where Speculos listens with its default --api-port.
const DefaultURL = "http://127.0.0.1:5000"

// Button names accepted by Press.
const (
	ButtonLeft  = "left"
	ButtonRight = "right"
	ButtonBoth  = "both"
)

// ErrInvalidButton is returned by Press for unknown button names.
var ErrInvalidButton = errors.New("speculos: invalid button")

type apduBody struct {
	Data string `json:"data"`
}

// Options configures a Transport.
type Options struct {
	// URL defaults to DefaultURL.
	URL string

	// Client defaults to a pooled client from go-cleanhttp.
	Client *http.Client

	Logger *logging.Logger
}

// Transport is a transport.Transport over the Speculos REST API.
type Transport struct {
	mu     sync.Mutex
	url    string
	client *http.Client
	log    *logging.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New returns a Transport. No request is made until the first exchange.
func New(opts Options) *Transport {
	url := strings.TrimRight(opts.URL, "/")
	if url == "" {
		url = DefaultURL
	}
	client := opts.Client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Transport{url: url, client: client, log: log.With("url", url)}
}

// Exchange posts apdu to /apdu and returns the response data with its
// status word.
func (t *Transport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out apduBody
	if err := t.post(ctx, "/apdu", apduBody{Data: hex.EncodeToString(apdu)}, &out); err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(out.Data)
	if err != nil {
		return nil, transport.NewError(transport.KindSpeculos, transport.ReasonConnectionUnavailable,
			fmt.Errorf("decode response: %w", err))
	}
	return data, nil
}

// Press presses and releases a button on the emulated device, for
// approving or rejecting a signature in tests.
func (t *Transport) Press(ctx context.Context, button string) error {
	switch button {
	case ButtonLeft, ButtonRight, ButtonBoth:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidButton, button)
	}
	return t.post(ctx, "/button/"+button, map[string]string{"action": "press-and-release"}, nil)
}

func (t *Transport) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("speculos: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("speculos: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return transport.FromContext(ctx, transport.KindSpeculos)
		}
		return transport.NewError(transport.KindSpeculos, transport.ReasonConnectionUnavailable, err)
	}
	defer func() { t.log.MaybeError(resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return transport.Errorf(transport.KindSpeculos, transport.ReasonConnectionUnavailable,
			"POST %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transport.NewError(transport.KindSpeculos, transport.ReasonConnectionUnavailable,
			fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

// Close releases idle connections.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
