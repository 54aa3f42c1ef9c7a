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

package apdu

import "fmt"

// StatusWord is the SW1 SW2 pair ending every response.
type StatusWord uint16

const (
	SWOK                   StatusWord = 0x9000
	SWWrongLength          StatusWord = 0x6700
	SWSecurityNotSatisfied StatusWord = 0x6982
	SWConditionsNotMet     StatusWord = 0x6985
	SWUserDenied           StatusWord = 0x6986
	SWWrongData            StatusWord = 0x6A80
	SWWrongP1P2            StatusWord = 0x6B00
	SWInsNotSupported      StatusWord = 0x6D00
	SWClaNotSupported      StatusWord = 0x6E00
	SWAppNotOpen           StatusWord = 0x6511
	SWDeviceLocked         StatusWord = 0x6D02
	SWUnknown              StatusWord = 0x6F00
)

var statusText = map[StatusWord]string{
	SWOK:                   "ok",
	SWWrongLength:          "wrong length",
	SWSecurityNotSatisfied: "security status not satisfied",
	SWConditionsNotMet:     "conditions of use not satisfied",
	SWUserDenied:           "denied by user",
	SWWrongData:            "invalid data",
	SWWrongP1P2:            "incorrect P1 or P2",
	SWInsNotSupported:      "instruction not supported",
	SWClaNotSupported:      "class not supported",
	SWAppNotOpen:           "app not open",
	SWDeviceLocked:         "device locked",
	SWUnknown:              "unknown error",
}

func (s StatusWord) String() string {
	if text, ok := statusText[s]; ok {
		return fmt.Sprintf("0x%04X (%s)", uint16(s), text)
	}
	return fmt.Sprintf("0x%04X", uint16(s))
}

// UserRejected reports whether the user declined on the device.
func (s StatusWord) UserRejected() bool {
	return s == SWConditionsNotMet || s == SWUserDenied
}

// AppUnavailable reports whether the device answered from outside the
// expected app: wrong app, dashboard, or locked screen.
func (s StatusWord) AppUnavailable() bool {
	switch s {
	case SWClaNotSupported, SWInsNotSupported, SWAppNotOpen, SWDeviceLocked:
		return true
	}
	return false
}
