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
	"context"
	"sync"
)

type report struct {
	data []byte
	err  error
}

// Pump owns the only reader goroutine of a Device. Reports arriving
// while nobody waits are buffered and can be discarded with Drain, so a
// late reply to an abandoned exchange never reaches the next one.
type Pump struct {
	dev     Device
	reports chan report
	done    chan struct{}
	once    sync.Once
}

// NewPump starts reading from dev.
func NewPump(dev Device) *Pump {
	p := &Pump{
		dev:     dev,
		reports: make(chan report, 32),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Pump) readLoop() {
	for {
		buf := make([]byte, ReportSize)
		n, err := p.dev.Read(buf)
		select {
		case p.reports <- report{data: buf[:n], err: err}:
		case <-p.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Next waits for the next report.
func (p *Pump) Next(ctx context.Context) ([]byte, error) {
	select {
	case r := <-p.reports:
		return r.data, r.err
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain discards buffered reports and returns how many were dropped. A
// buffered read error is kept.
func (p *Pump) Drain() int {
	n := 0
	for {
		select {
		case r := <-p.reports:
			if r.err != nil {
				p.reports <- r
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Close stops the reader and closes the device.
func (p *Pump) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.dev.Close()
	})
	return err
}
