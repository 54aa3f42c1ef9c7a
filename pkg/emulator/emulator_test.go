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

package emulator

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ledgerkey/pkg/apdu"
	"github.com/jeremyhahn/go-ledgerkey/pkg/transport"
)

func exchange(t *testing.T, e *Emulator, cmd apdu.Command) apdu.Response {
	t.Helper()
	raw, err := cmd.Encode()
	require.NoError(t, err)
	out, err := e.Exchange(context.Background(), raw)
	require.NoError(t, err)
	resp, err := apdu.ParseResponse(out)
	require.NoError(t, err)
	return resp
}

func TestEmulator_GetPublicKey(t *testing.T) {
	e := New(Options{})
	proto := apdu.DefaultProtocol()

	resp := exchange(t, e, proto.GetPublicKey(apdu.NewPath(0, false)))
	require.True(t, resp.OK())
	require.Len(t, resp.Data, 65)
	assert.Equal(t, byte(0x04), resp.Data[0])

	again := exchange(t, e, proto.GetPublicKey(apdu.NewPath(0, false)))
	assert.Equal(t, resp.Data, again.Data)

	other := exchange(t, e, proto.GetPublicKey(apdu.NewPath(1, false)))
	assert.NotEqual(t, resp.Data, other.Data)

	neo := exchange(t, e, proto.GetPublicKey(apdu.NewPath(0, true)))
	assert.NotEqual(t, resp.Data, neo.Data)
}

func TestEmulator_DeterministicAcrossInstances(t *testing.T) {
	a, err := New(Options{Seed: []byte("seed")}).PublicKey(5, false)
	require.NoError(t, err)
	b, err := New(Options{Seed: []byte("seed")}).PublicKey(5, false)
	require.NoError(t, err)
	c, err := New(Options{Seed: []byte("other")}).PublicKey(5, false)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEmulator_SignMultiFrame(t *testing.T) {
	e := New(Options{})
	proto := apdu.DefaultProtocol()
	path := apdu.NewPath(2, false)
	payload := bytes.Repeat([]byte{0x5A}, 600)

	frames, err := proto.Sign(path, payload)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	var last apdu.Response
	for i, f := range frames {
		last = exchange(t, e, f)
		require.True(t, last.OK())
		if i < len(frames)-1 {
			assert.Empty(t, last.Data)
		}
	}

	priv, err := e.PrivateKey(path)
	require.NoError(t, err)
	digest := sha256.Sum256(payload)
	assert.True(t, ecdsa.VerifyASN1(&priv.PublicKey, digest[:], last.Data))
	assert.Equal(t, 3, e.FrameCount())
}

func TestEmulator_SignPathLast(t *testing.T) {
	proto := apdu.DefaultProtocol()
	proto.PathPlacement = apdu.PathLast
	e := New(Options{Protocol: &proto})
	path := apdu.NewPath(0, true)
	payload := []byte("short payload")

	frames, err := proto.Sign(path, payload)
	require.NoError(t, err)
	resp := exchange(t, e, frames[0])
	require.True(t, resp.OK())

	priv, err := e.PrivateKey(path)
	require.NoError(t, err)
	digest := sha256.Sum256(payload)
	assert.True(t, ecdsa.VerifyASN1(&priv.PublicKey, digest[:], resp.Data))
}

func TestEmulator_Reject(t *testing.T) {
	e := New(Options{Reject: true})
	frames, err := apdu.DefaultProtocol().Sign(apdu.NewPath(0, false), []byte{1})
	require.NoError(t, err)

	resp := exchange(t, e, frames[0])
	assert.Equal(t, apdu.SWConditionsNotMet, resp.SW)

	e.SetReject(false)
	resp = exchange(t, e, frames[0])
	assert.True(t, resp.OK())
}

func TestEmulator_AppClosedAndUnknownINS(t *testing.T) {
	e := New(Options{})
	resp := exchange(t, e, apdu.Command{CLA: apdu.DefaultCLA, INS: 0x7F})
	assert.Equal(t, apdu.SWInsNotSupported, resp.SW)

	e.SetAppOpen(false)
	resp = exchange(t, e, apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(0, false)))
	assert.Equal(t, apdu.SWClaNotSupported, resp.SW)
}

func TestEmulator_FailAtAndClose(t *testing.T) {
	e := New(Options{})
	e.FailAt(1, nil)

	raw, err := apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(0, false)).Encode()
	require.NoError(t, err)
	_, err = e.Exchange(context.Background(), raw)
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)

	_, err = e.Exchange(context.Background(), raw)
	assert.NoError(t, err)

	require.NoError(t, e.Close())
	_, err = e.Exchange(context.Background(), raw)
	assert.ErrorIs(t, err, transport.ErrConnectionUnavailable)
}

func TestEmulator_Reset(t *testing.T) {
	e := New(Options{})
	exchange(t, e, apdu.DefaultProtocol().GetPublicKey(apdu.NewPath(0, false)))
	require.Equal(t, 1, e.FrameCount())
	e.Reset()
	assert.Zero(t, e.FrameCount())
}
