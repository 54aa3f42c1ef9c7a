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

// Package transport moves APDU byte buffers between the host and a
// hardware signing device.
//
// # Bindings
//
// A Transport is one physical channel to one device. The bindings differ
// only in how the bytes reach the device:
//
//   - hid:      Ledger HID reports (channel 0x0101, tag 0x05, 64-byte packets)
//   - u2f:      APDU scrambled into a U2F AUTHENTICATE key handle over CTAPHID
//   - ipc:      CBOR messages over a helper process's stdin/stdout
//   - bridge:   JSON messages over a WebSocket to a host page or bridge daemon
//   - speculos: the Speculos emulator's REST API
//   - emulator: an in-process software device
//
// All bindings report failures as *Error with a Reason, and none of them
// retry.
//
// # Mutual exclusion
//
// A device is a single-threaded state machine, so every binding is wrapped
// in a Device that admits one Session at a time. A Session spans a whole
// logical operation (for example every frame of one signature) so frames
// of two operations never interleave. Waiting sessions are served in FIFO
// order (ConcurrencyQueue) or rejected with ReasonBusy
// (ConcurrencyFailFast); the mode is fixed when the Device is built.
package transport

import "context"

// Transport exchanges one APDU with a device and returns the raw response,
// status word included.
type Transport interface {
	// Exchange sends apdu and waits for the device's reply. It must return
	// when ctx is done.
	Exchange(ctx context.Context, apdu []byte) ([]byte, error)

	// Close releases the underlying channel.
	Close() error
}

// Binding kinds
const (
	KindHID      = "hid"
	KindU2F      = "u2f"
	KindIPC      = "ipc"
	KindBridge   = "bridge"
	KindSpeculos = "speculos"
	KindEmulator = "emulator"
)

// Kinds returns every binding kind.
func Kinds() []string {
	return []string{KindHID, KindU2F, KindIPC, KindBridge, KindSpeculos, KindEmulator}
}

// TransportFunc adapts a function to the Transport interface. Close is a
// no-op.
type TransportFunc func(ctx context.Context, apdu []byte) ([]byte, error)

// Exchange calls f.
func (f TransportFunc) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	return f(ctx, apdu)
}

// Close does nothing.
func (f TransportFunc) Close() error {
	return nil
}
