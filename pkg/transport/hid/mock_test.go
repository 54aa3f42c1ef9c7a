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
	"sync"
)

// mockLedger is a HID device that reassembles APDUs from written reports
// and answers them through handler.
type mockLedger struct {
	mu      sync.Mutex
	info    Info
	asm     *Assembler
	handler func(apdu []byte) []byte
	in      chan []byte
	closed  bool
	writes  int
	// stale reports queued before the next reply
	stale [][]byte
}

func newMockLedger(handler func([]byte) []byte) *mockLedger {
	return &mockLedger{
		info:    Info{Path: "/dev/hidraw-mock", VendorID: LedgerVendorID, ProductID: 0x4011, UsagePage: UsagePageLedger, Product: "Nano X"},
		handler: handler,
		in:      make(chan []byte, 64),
	}
}

func (m *mockLedger) Write(r []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.writes++
	if m.asm == nil {
		m.asm = &Assembler{Channel: DefaultChannel}
	}
	msg, err := m.asm.Add(r)
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return len(r), nil
	}
	m.asm = nil
	for _, s := range m.stale {
		m.in <- s
	}
	m.stale = nil
	if m.handler != nil {
		if reply := m.handler(msg); reply != nil {
			for _, report := range Frame(DefaultChannel, reply) {
				m.in <- report
			}
		}
	}
	return len(r), nil
}

func (m *mockLedger) Read(buf []byte) (int, error) {
	r, ok := <-m.in
	if !ok {
		return 0, errors.New("mock: device closed")
	}
	return copy(buf, r), nil
}

func (m *mockLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.in)
	}
	return nil
}

func (m *mockLedger) Info() Info {
	return m.info
}

// inject queues a report as if the device had sent it unprompted.
func (m *mockLedger) inject(r []byte) {
	m.in <- r
}

type mockEnumerator struct {
	devices map[string]*mockLedger
}

func (e *mockEnumerator) Enumerate(filter Filter) ([]Info, error) {
	var infos []Info
	for _, d := range e.devices {
		if filter.Matches(d.info) {
			infos = append(infos, d.info)
		}
	}
	return infos, nil
}

func (e *mockEnumerator) Open(path string) (Device, error) {
	d, ok := e.devices[path]
	if !ok {
		return nil, ErrNoDevice
	}
	return d, nil
}

// neverAnswer models a device waiting on the user forever.
func neverAnswer([]byte) []byte { return nil }
