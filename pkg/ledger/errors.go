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

package ledger

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
)

var (
	// ErrUnsupportedOperation is returned by the synchronous Sign.
	ErrUnsupportedOperation = errors.New("ledger: synchronous signing is not supported")

	// ErrSchemeMismatch is returned for any scheme but SHA256withECDSA.
	ErrSchemeMismatch = errors.New("ledger: signature scheme does not match key type")

	// ErrUnsupportedPayload is returned when the message is not a transaction.
	ErrUnsupportedPayload = errors.New("ledger: only transaction signatures are supported")

	// ErrEmptyPayload is returned before any frame is sent for an empty payload.
	ErrEmptyPayload = errors.New("ledger: empty payload")

	// ErrDeviceProtocol is wrapped by every *ProtocolError.
	ErrDeviceProtocol = errors.New("ledger: device protocol error")

	// ErrUserRejected is returned when the user declines on the device.
	ErrUserRejected = errors.New("ledger: rejected by user")

	// ErrMalformedRepresentation is returned when a serialized key cannot
	// be rebuilt.
	ErrMalformedRepresentation = errors.New("ledger: malformed key representation")
)

// ProtocolError reports an unexpected device reply. Frame is 1-based.
type ProtocolError struct {
	SW     apdu.StatusWord
	Frame  int
	Detail string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: frame %d", ErrDeviceProtocol, e.Frame)
	if e.SW != 0 {
		msg += fmt.Sprintf(": status %s", e.SW)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap makes errors.Is(err, ErrDeviceProtocol) hold.
func (e *ProtocolError) Unwrap() error {
	return ErrDeviceProtocol
}
