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

//go:build !linux

package hid

import "errors"

// ErrNotSupported is returned on platforms without a HID backend.
var ErrNotSupported = errors.New("hid: device access is only supported on Linux")

type stubEnumerator struct{}

// DefaultEnumerator returns an enumerator whose operations fail with
// ErrNotSupported.
func DefaultEnumerator() Enumerator {
	return stubEnumerator{}
}

func (stubEnumerator) Enumerate(Filter) ([]Info, error) {
	return nil, ErrNotSupported
}

func (stubEnumerator) Open(string) (Device, error) {
	return nil, ErrNotSupported
}
