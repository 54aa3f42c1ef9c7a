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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingTransport holds each exchange until release is signalled.
type blockingTransport struct {
	mu       sync.Mutex
	calls    [][]byte
	inflight atomic.Int32
	maxSeen  atomic.Int32
	release  chan struct{}
	closed   bool
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{release: make(chan struct{})}
}

func (b *blockingTransport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		cur := b.maxSeen.Load()
		if n <= cur || b.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	b.mu.Lock()
	b.calls = append(b.calls, append([]byte(nil), apdu...))
	b.mu.Unlock()

	select {
	case <-b.release:
		return []byte{0x90, 0x00}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingTransport) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func echo() Transport {
	return TransportFunc(func(ctx context.Context, apdu []byte) ([]byte, error) {
		return append(append([]byte(nil), apdu...), 0x90, 0x00), nil
	})
}

func TestNewDevice_Defaults(t *testing.T) {
	d := NewDevice(echo(), DeviceOptions{Kind: KindEmulator})
	assert.Equal(t, KindEmulator, d.Kind())
	assert.Equal(t, ConcurrencyQueue, d.Mode())
	assert.Equal(t, DefaultExchangeTimeout, d.ExchangeTimeout())
}

func TestDevice_Exchange(t *testing.T) {
	d := NewDevice(echo(), DeviceOptions{Kind: KindEmulator})
	resp, err := d.Exchange(context.Background(), []byte{0x80, 0x04})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x04, 0x90, 0x00}, resp)
}

func TestDevice_FailFastReturnsBusy(t *testing.T) {
	d := NewDevice(echo(), DeviceOptions{Kind: KindHID, Concurrency: ConcurrencyFailFast})

	s, err := d.Session(context.Background())
	require.NoError(t, err)

	_, err = d.Session(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)
	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBusy, reason)

	s.Release()
	s2, err := d.Session(context.Background())
	require.NoError(t, err)
	s2.Release()
}

func TestDevice_QueueServesFIFO(t *testing.T) {
	d := NewDevice(echo(), DeviceOptions{Kind: KindHID})

	first, err := d.Session(context.Background())
	require.NoError(t, err)

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := d.Session(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			s.Release()
		}(i)
		// Give each goroutine time to block on the token in turn.
		time.Sleep(20 * time.Millisecond)
	}

	first.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDevice_QueueWaitHonoursContext(t *testing.T) {
	d := NewDevice(echo(), DeviceOptions{Kind: KindU2F})
	s, err := d.Session(context.Background())
	require.NoError(t, err)
	defer s.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Session(ctx)
	assert.ErrorIs(t, err, ErrTimeout)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = d.Session(ctx2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_ExchangeTimeout(t *testing.T) {
	bt := newBlockingTransport()
	d := NewDevice(bt, DeviceOptions{Kind: KindHID, ExchangeTimeout: 20 * time.Millisecond})

	_, err := d.Exchange(context.Background(), []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindHID, te.Kind)
}

func TestSession_WrapsUntypedBindingErrors(t *testing.T) {
	boom := errors.New("pipe broken")
	d := NewDevice(TransportFunc(func(ctx context.Context, apdu []byte) ([]byte, error) {
		return nil, boom
	}), DeviceOptions{Kind: KindIPC})

	_, err := d.Exchange(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestSession_KeepsTypedBindingErrors(t *testing.T) {
	d := NewDevice(TransportFunc(func(ctx context.Context, apdu []byte) ([]byte, error) {
		return nil, Errorf(KindBridge, ReasonDeviceRejected, "app closed")
	}), DeviceOptions{Kind: KindBridge})

	_, err := d.Exchange(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrDeviceRejected)
	assert.False(t, errors.Is(err, ErrConnectionUnavailable))
}

func TestSession_ReleasedSessionRejectsExchange(t *testing.T) {
	d := NewDevice(echo(), DeviceOptions{})
	s, err := d.Session(context.Background())
	require.NoError(t, err)

	_, err = s.Exchange(context.Background(), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Frames())

	s.Release()
	s.Release()
	_, err = s.Exchange(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrSessionReleased)
}

func TestDevice_SerializesConcurrentCallers(t *testing.T) {
	bt := newBlockingTransport()
	d := NewDevice(bt, DeviceOptions{Kind: KindHID})

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Exchange(context.Background(), []byte{0xAA})
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < callers; i++ {
		bt.release <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, int32(1), bt.maxSeen.Load())
	assert.Len(t, bt.calls, callers)
}

func TestDevice_Close(t *testing.T) {
	bt := newBlockingTransport()
	d := NewDevice(bt, DeviceOptions{Kind: KindSpeculos})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, bt.closed)

	_, err := d.Session(context.Background())
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
}

func TestPool_SharesDevicePerKind(t *testing.T) {
	p := NewPool(DeviceOptions{Concurrency: ConcurrencyFailFast})
	opened := 0
	factory := func(ctx context.Context) (Transport, error) {
		opened++
		return echo(), nil
	}

	d1, err := p.Get(context.Background(), KindEmulator, factory)
	require.NoError(t, err)
	d2, err := p.Get(context.Background(), KindEmulator, factory)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Equal(t, 1, opened)
	assert.Equal(t, ConcurrencyFailFast, d1.Mode())

	require.NoError(t, p.Close())
	d3, err := p.Get(context.Background(), KindEmulator, factory)
	require.NoError(t, err)
	assert.NotSame(t, d1, d3)
	assert.Equal(t, 2, opened)
}

func TestPool_FactoryFailure(t *testing.T) {
	p := NewPool(DeviceOptions{})
	_, err := p.Get(context.Background(), KindHID, func(ctx context.Context) (Transport, error) {
		return nil, errors.New("no device attached")
	})
	assert.ErrorIs(t, err, ErrConnectionUnavailable)

	_, err = p.Get(context.Background(), KindHID, nil)
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
}

func TestError_Is(t *testing.T) {
	err := NewError(KindHID, ReasonTimeout, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, &Error{Reason: ReasonTimeout, Kind: KindHID})
	assert.False(t, errors.Is(err, &Error{Reason: ReasonTimeout, Kind: KindU2F}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "transport hid: timeout: context deadline exceeded", err.Error())
}
