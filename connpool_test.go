package quill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestConnPoolPutGetRoundTrip(t *testing.T) {
	p := NewConnPool(4, time.Hour)
	c := &fakeConn{}
	p.Put("example.com:443", ProfileTurbo, c)

	got, ok := p.Get("example.com:443", ProfileTurbo)
	require.True(t, ok)
	require.Same(t, c, got)

	_, ok = p.Get("example.com:443", ProfileTurbo)
	require.False(t, ok, "pool must be empty after the single entry is popped")
}

func TestConnPoolGetMissOnWrongProfile(t *testing.T) {
	p := NewConnPool(4, time.Hour)
	p.Put("example.com:443", ProfileTurbo, &fakeConn{})

	_, ok := p.Get("example.com:443", ProfileClassic)
	require.False(t, ok)
}

func TestConnPoolEvictsExpiredEntries(t *testing.T) {
	p := NewConnPool(4, time.Millisecond)
	c := &fakeConn{}
	p.Put("example.com:443", ProfileHyper, c)

	time.Sleep(5 * time.Millisecond)
	_, ok := p.Get("example.com:443", ProfileHyper)
	require.False(t, ok)
	require.True(t, c.closed)
}

func TestConnPoolClosesOverflowBeyondMaxIdle(t *testing.T) {
	p := NewConnPool(1, time.Hour)
	first := &fakeConn{}
	second := &fakeConn{}

	p.Put("h", ProfileClassic, first)
	p.Put("h", ProfileClassic, second)

	require.True(t, second.closed, "connection beyond max idle per host must be closed, not pooled")
}

func TestConnPoolCloseIdleClosesEverything(t *testing.T) {
	p := NewConnPool(4, time.Hour)
	c1, c2 := &fakeConn{}, &fakeConn{}
	p.Put("h", ProfileClassic, c1)
	p.Put("h", ProfileTurbo, c2)

	p.CloseIdle()
	require.True(t, c1.closed)
	require.True(t, c2.closed)
}

func TestDialBackoffGrowsWithAttempt(t *testing.T) {
	small := DialBackoff(10*time.Millisecond, 0)
	large := DialBackoff(10*time.Millisecond, 4)
	require.Greater(t, large, small)
}

func TestWaitRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	err := WaitRetry(ctx, time.Hour, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
