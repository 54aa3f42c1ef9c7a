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

// Package emulator is an in-process software device speaking the Ledger
// app APDU protocol. Keys are derived deterministically from a seed and
// the BIP-44 path, so the same seed always yields the same keys.
//
// The emulator is a transport.Transport and is used by tests, by the
// "emulator" transport kind, and behind the bridge servers during
// development.
package emulator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/logging"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

// DefaultSeed is used when Options.Seed is empty.
var DefaultSeed = []byte("ledgerkey emulator default seed")

const hkdfSalt = "ledgerkey/emulator/v1"

// Options configures an Emulator.
type Options struct {
	// Seed is the root secret all keys derive from.
	Seed []byte

	// Protocol defaults to apdu.DefaultProtocol.
	Protocol *apdu.Protocol

	// Reject makes the emulated user decline every signature.
	Reject bool

	Logger *logging.Logger
}

// Emulator is a software Ledger device.
type Emulator struct {
	mu       sync.Mutex
	seed     []byte
	proto    apdu.Protocol
	log      *logging.Logger
	reject   bool
	appOpen  bool
	closed   bool
	buf      []byte
	frames   [][]byte
	failAt   int
	failErr  error
	keyCache map[apdu.Path]*ecdsa.PrivateKey
}

// New creates an emulator with its app open.
func New(opts Options) *Emulator {
	seed := opts.Seed
	if len(seed) == 0 {
		seed = DefaultSeed
	}
	proto := apdu.DefaultProtocol()
	if opts.Protocol != nil {
		proto = *opts.Protocol
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Emulator{
		seed:     append([]byte(nil), seed...),
		proto:    proto,
		log:      log.With("device", "emulator"),
		reject:   opts.Reject,
		appOpen:  true,
		keyCache: make(map[apdu.Path]*ecdsa.PrivateKey),
	}
}

// SetReject toggles emulated user rejection of signatures.
func (e *Emulator) SetReject(reject bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reject = reject
}

// SetAppOpen simulates the app being open or the device sitting on its
// dashboard.
func (e *Emulator) SetAppOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appOpen = open
}

// FailAt makes the n-th exchange from now (1-based) fail with err at the
// transport level. A nil err uses a connection-unavailable error.
func (e *Emulator) FailAt(n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		err = transport.Errorf(transport.KindEmulator, transport.ReasonConnectionUnavailable, "injected failure")
	}
	e.failAt = len(e.frames) + n
	e.failErr = err
}

// Frames returns a copy of every command frame received.
func (e *Emulator) Frames() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.frames))
	for i, f := range e.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// FrameCount returns the number of command frames received.
func (e *Emulator) FrameCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.frames)
}

// Reset clears recorded frames and any pending signature.
func (e *Emulator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = nil
	e.buf = nil
	e.failAt = 0
	e.failErr = nil
}

// Exchange processes one command frame.
func (e *Emulator) Exchange(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport.FromContext(ctx, transport.KindEmulator)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, transport.Errorf(transport.KindEmulator, transport.ReasonConnectionUnavailable, "emulator closed")
	}
	e.frames = append(e.frames, append([]byte(nil), cmd...))
	if e.failAt > 0 && len(e.frames) == e.failAt {
		e.failAt = 0
		e.buf = nil
		return nil, e.failErr
	}

	return e.handle(cmd).Encode(), nil
}

// Close shuts the emulator down. Later exchanges fail.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Emulator) handle(raw []byte) apdu.Response {
	cmd, err := apdu.DecodeCommand(raw)
	if err != nil {
		return apdu.Response{SW: apdu.SWWrongLength}
	}
	if !e.appOpen || cmd.CLA != e.proto.CLA {
		return apdu.Response{SW: apdu.SWClaNotSupported}
	}

	switch cmd.INS {
	case e.proto.InsGetPublicKey:
		return e.getPublicKey(cmd)
	case e.proto.InsSign:
		return e.sign(cmd)
	default:
		return apdu.Response{SW: apdu.SWInsNotSupported}
	}
}

func (e *Emulator) getPublicKey(cmd apdu.Command) apdu.Response {
	path, err := apdu.ParsePath(cmd.Data)
	if err != nil {
		return apdu.Response{SW: apdu.SWWrongData}
	}
	priv, err := e.key(path)
	if err != nil {
		e.log.Error(err)
		return apdu.Response{SW: apdu.SWUnknown}
	}
	pub, err := priv.PublicKey.Bytes()
	if err != nil {
		e.log.Error(err)
		return apdu.Response{SW: apdu.SWUnknown}
	}
	e.log.Debug("get public key", "path", path.String())
	return apdu.Response{Data: pub, SW: apdu.SWOK}
}

func (e *Emulator) sign(cmd apdu.Command) apdu.Response {
	if cmd.P1 != apdu.P1More && cmd.P1 != apdu.P1Last {
		e.buf = nil
		return apdu.Response{SW: apdu.SWWrongP1P2}
	}

	e.buf = append(e.buf, cmd.Data...)
	if cmd.P1 == apdu.P1More {
		return apdu.Response{SW: apdu.SWOK}
	}

	body := e.buf
	e.buf = nil

	if len(body) < apdu.PathLength {
		return apdu.Response{SW: apdu.SWWrongData}
	}
	var pathBytes, payload []byte
	if e.proto.PathPlacement == apdu.PathLast {
		pathBytes, payload = body[len(body)-apdu.PathLength:], body[:len(body)-apdu.PathLength]
	} else {
		pathBytes, payload = body[:apdu.PathLength], body[apdu.PathLength:]
	}
	path, err := apdu.ParsePath(pathBytes)
	if err != nil || len(payload) == 0 {
		return apdu.Response{SW: apdu.SWWrongData}
	}

	if e.reject {
		e.log.Debug("signature rejected by user", "path", path.String())
		return apdu.Response{SW: apdu.SWConditionsNotMet}
	}

	priv, err := e.key(path)
	if err != nil {
		e.log.Error(err)
		return apdu.Response{SW: apdu.SWUnknown}
	}
	digest := sha256.Sum256(payload)
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		e.log.Error(err)
		return apdu.Response{SW: apdu.SWUnknown}
	}
	e.log.Debug("signed", "path", path.String(), "payload_len", len(payload))
	return apdu.Response{Data: der, SW: apdu.SWOK}
}

// PrivateKey returns the key the emulator holds for path. Tests use it to
// check signatures independently.
func (e *Emulator) PrivateKey(path apdu.Path) (*ecdsa.PrivateKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key(path)
}

// PublicKey returns the uncompressed public key for index and coin.
func (e *Emulator) PublicKey(index uint32, neo bool) ([]byte, error) {
	priv, err := e.PrivateKey(apdu.NewPath(index, neo))
	if err != nil {
		return nil, err
	}
	return priv.PublicKey.Bytes()
}

func (e *Emulator) key(path apdu.Path) (*ecdsa.PrivateKey, error) {
	if k, ok := e.keyCache[path]; ok {
		return k, nil
	}
	k, err := DeriveKey(e.seed, path)
	if err != nil {
		return nil, err
	}
	e.keyCache[path] = k
	return k, nil
}

// DeriveKey derives the P-256 key for path from seed with HKDF-SHA256.
func DeriveKey(seed []byte, path apdu.Path) (*ecdsa.PrivateKey, error) {
	curve := elliptic.P256()
	n := curve.Params().N

	// 40 bytes keeps the modulo bias negligible.
	okm := make([]byte, 40)
	r := hkdf.New(sha256.New, seed, []byte(hkdfSalt), path.Bytes())
	if _, err := io.ReadFull(r, okm); err != nil {
		return nil, fmt.Errorf("emulator: derive key: %w", err)
	}

	d := new(big.Int).SetBytes(okm)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	scalar := make([]byte, 32)
	d.FillBytes(scalar)
	priv, err := ecdsa.ParseRawPrivateKey(curve, scalar)
	if err != nil {
		return nil, fmt.Errorf("emulator: derive key: %w", err)
	}
	return priv, nil
}
