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
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/emulator"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

func TestFrame_SingleReport(t *testing.T) {
	reports := Frame(DefaultChannel, []byte{0xE0, 0x01, 0x00, 0x00, 0x00})
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Len(t, r, ReportSize)
	assert.Equal(t, []byte{0x01, 0x01, 0x05, 0x00, 0x00, 0x00, 0x05}, r[:7])
	assert.Equal(t, []byte{0xE0, 0x01, 0x00, 0x00, 0x00}, r[7:12])
}

func TestFrame_MultiReportRoundTrip(t *testing.T) {
	msg := bytes.Repeat([]byte{0xAB, 0xCD}, 150)
	reports := Frame(DefaultChannel, msg)
	// 57 + 59*n >= 300 -> 1 + 5
	require.Len(t, reports, 6)
	for i, r := range reports {
		assert.Equal(t, uint16(i), binary.BigEndian.Uint16(r[3:5]))
	}

	asm := Assembler{Channel: DefaultChannel}
	var out []byte
	var err error
	for _, r := range reports {
		out, err = asm.Add(r)
		require.NoError(t, err)
	}
	assert.Equal(t, msg, out)
}

func TestAssembler_RejectsBadFraming(t *testing.T) {
	good := Frame(DefaultChannel, []byte{1, 2, 3})[0]

	wrongChannel := append([]byte(nil), good...)
	wrongChannel[1] = 0x02
	_, err := (&Assembler{Channel: DefaultChannel}).Add(wrongChannel)
	assert.ErrorIs(t, err, ErrFraming)

	wrongTag := append([]byte(nil), good...)
	wrongTag[2] = 0x02
	_, err = (&Assembler{Channel: DefaultChannel}).Add(wrongTag)
	assert.ErrorIs(t, err, ErrFraming)

	wrongSeq := append([]byte(nil), good...)
	wrongSeq[4] = 0x01
	_, err = (&Assembler{Channel: DefaultChannel}).Add(wrongSeq)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestTransport_ExchangeWithEmulator(t *testing.T) {
	emu := emulator.New(emulator.Options{})
	dev := newMockLedger(func(msg []byte) []byte {
		out, err := emu.Exchange(context.Background(), msg)
		if err != nil {
			return nil
		}
		return out
	})
	tr := New(dev, Options{})
	defer tr.Close()

	cmd, err := apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(0, false)).Encode()
	require.NoError(t, err)

	out, err := tr.Exchange(context.Background(), cmd)
	require.NoError(t, err)
	resp, err := apdu.ParseResponse(out)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Len(t, resp.Data, 65)
}

func TestTransport_DrainsStaleReports(t *testing.T) {
	dev := newMockLedger(func(msg []byte) []byte {
		return []byte{0x90, 0x00}
	})
	tr := New(dev, Options{})
	defer tr.Close()

	// A late reply from an abandoned exchange sits in the pump.
	dev.inject(Frame(DefaultChannel, []byte{0xDE, 0xAD, 0x69, 0x85})[0])
	require.Eventually(t, func() bool { return len(tr.pump.reports) == 1 }, time.Second, 5*time.Millisecond)

	out, err := tr.Exchange(context.Background(), []byte{0x80, 0x04, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, out)
}

func TestTransport_Timeout(t *testing.T) {
	dev := newMockLedger(neverAnswer)
	tr := New(dev, Options{})
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := tr.Exchange(ctx, []byte{0x80, 0x02, 0x80, 0x00, 0x00})
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestTransport_ClosedDevice(t *testing.T) {
	dev := newMockLedger(nil)
	tr := New(dev, Options{})
	require.NoError(t, tr.Close())

	_, err := tr.Exchange(context.Background(), []byte{0x80, 0x02, 0x80, 0x00, 0x00})
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)
}

func TestOpen_UsesLedgerFilter(t *testing.T) {
	ledger := newMockLedger(nil)
	fido := newMockLedger(nil)
	fido.info.Path = "/dev/hidraw-fido"
	fido.info.UsagePage = UsagePageFIDO

	e := &mockEnumerator{devices: map[string]*mockLedger{
		ledger.info.Path: ledger,
		fido.info.Path:   fido,
	}}
	tr, err := Open(e, Options{})
	require.NoError(t, err)
	assert.Equal(t, ledger.info.Path, tr.dev.Info().Path)
	require.NoError(t, tr.Close())

	_, err = Open(&mockEnumerator{}, Options{})
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestUsagePage(t *testing.T) {
	assert.Equal(t, uint16(0xFFA0), UsagePage([]byte{0x06, 0xA0, 0xFF, 0x09, 0x01}))
	assert.Equal(t, uint16(0xF1D0), UsagePage([]byte{0x06, 0xD0, 0xF1}))
	assert.Zero(t, UsagePage([]byte{0x05, 0x01}))
}

func TestFilter_Matches(t *testing.T) {
	info := Info{VendorID: LedgerVendorID, ProductID: 1, UsagePage: UsagePageLedger}
	assert.True(t, LedgerFilter().Matches(info))
	assert.True(t, Filter{}.Matches(info))
	assert.False(t, Filter{ProductID: 2}.Matches(info))
	info.UsagePage = UsagePageFIDO
	assert.False(t, LedgerFilter().Matches(info))
}
