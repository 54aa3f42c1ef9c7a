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
	"errors"
	"fmt"
)

// Reason distinguishes the ways an exchange can fail.
type Reason string

const (
	// ReasonConnectionUnavailable means the channel could not be opened or
	// was lost (device unplugged, helper process gone, socket closed).
	ReasonConnectionUnavailable Reason = "connection_unavailable"

	// ReasonBusy means another exchange holds the device and the Device is
	// configured to fail fast.
	ReasonBusy Reason = "busy"

	// ReasonTimeout means the device did not answer in time.
	ReasonTimeout Reason = "timeout"

	// ReasonDeviceRejected means the device refused the request at the
	// channel level: wrong or closed app, locked device.
	ReasonDeviceRejected Reason = "device_rejected"
)

// Error is the single error kind every binding reports.
type Error struct {
	Reason Reason
	Kind   string
	Err    error
}

// Sentinels for errors.Is matching by reason.
var (
	ErrConnectionUnavailable = &Error{Reason: ReasonConnectionUnavailable}
	ErrBusy                  = &Error{Reason: ReasonBusy}
	ErrTimeout               = &Error{Reason: ReasonTimeout}
	ErrDeviceRejected        = &Error{Reason: ReasonDeviceRejected}
)

// NewError builds a transport error for a binding kind.
func NewError(kind string, reason Reason, err error) *Error {
	return &Error{Reason: reason, Kind: kind, Err: err}
}

// Errorf builds a transport error with a formatted cause.
func Errorf(kind string, reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := "transport"
	if e.Kind != "" {
		msg += " " + e.Kind
	}
	msg += ": " + string(e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same reason, so errors.Is(err, ErrTimeout)
// works whatever binding produced err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason && (t.Kind == "" || t.Kind == e.Kind)
}

// ReasonOf extracts the reason of a transport error anywhere in err's chain.
func ReasonOf(err error) (Reason, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason, true
	}
	return "", false
}

// FromContext converts a finished context into a transport error: deadline
// expiry becomes ReasonTimeout, anything else is returned as is.
func FromContext(ctx context.Context, kind string) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(kind, ReasonTimeout, err)
	}
	return err
}
