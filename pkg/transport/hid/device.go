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

package hid

import (
	"errors"
	"fmt"
)

// Device is a raw USB HID device exchanging fixed-size reports. Write
// takes one report without a report ID; Read returns one input report.
type Device interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
	Info() Info
}

// Enumerator lists and opens HID devices.
type Enumerator interface {
	Enumerate(filter Filter) ([]Info, error)
	Open(path string) (Device, error)
}

// Filter selects devices. Zero fields match anything.
type Filter struct {
	VendorID  uint16
	ProductID uint16
	UsagePage uint16
}

// Matches reports whether info passes the filter.
func (f Filter) Matches(info Info) bool {
	if f.VendorID != 0 && info.VendorID != f.VendorID {
		return false
	}
	if f.ProductID != 0 && info.ProductID != f.ProductID {
		return false
	}
	if f.UsagePage != 0 && info.UsagePage != f.UsagePage {
		return false
	}
	return true
}

// Info describes an attached HID interface.
type Info struct {
	Path         string `json:"path"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	UsagePage    uint16 `json:"usage_page"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

func (i Info) String() string {
	name := i.Product
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%s %04x:%04x %s", i.Path, i.VendorID, i.ProductID, name)
}

// Ledger USB identifiers.
const (
	LedgerVendorID = 0x2C97

	// UsagePageLedger is the vendor-defined page of the APDU interface.
	UsagePageLedger = 0xFFA0

	// UsagePageFIDO is the FIDO Alliance page of the U2F interface.
	UsagePageFIDO = 0xF1D0
)

// ReportSize is the HID report size of Ledger devices.
const ReportSize = 64

// LedgerFilter matches the APDU interface of Ledger devices.
func LedgerFilter() Filter {
	return Filter{VendorID: LedgerVendorID, UsagePage: UsagePageLedger}
}

var (
	// ErrNoDevice is returned when no device matches the filter.
	ErrNoDevice = errors.New("hid: no matching device")

	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("hid: device closed")
)

// OpenFirst opens the first device matching filter.
func OpenFirst(e Enumerator, filter Filter) (Device, error) {
	infos, err := e.Enumerate(filter)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNoDevice
	}
	return e.Open(infos[0].Path)
}

// UsagePage scans a report descriptor for its first 2-byte Usage Page
// item (tag 0x06) and returns it, or 0.
func UsagePage(rdesc []byte) uint16 {
	for i := 0; i+2 < len(rdesc); i++ {
		if rdesc[i] == 0x06 {
			return uint16(rdesc[i+1]) | uint16(rdesc[i+2])<<8
		}
	}
	return 0
}
