package quill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStream() *Stream {
	return NewStream(1, ShapeBidi, NewMessageFlowController(0), NewMessageFlowController(0))
}

func TestStreamStartsIdle(t *testing.T) {
	s := newTestStream()
	require.Equal(t, SideIdle, s.SendState())
	require.Equal(t, SideIdle, s.RecvState())
}

func TestStreamObserveFrameOpensThenHalfCloses(t *testing.T) {
	s := newTestStream()
	require.NoError(t, s.ObserveSendFrame(false))
	require.Equal(t, SideOpen, s.SendState())

	require.NoError(t, s.ObserveSendFrame(true))
	require.Equal(t, SideHalfClosed, s.SendState())
}

func TestStreamClosesOnceBothSidesHalfClose(t *testing.T) {
	s := newTestStream()
	require.NoError(t, s.ObserveSendFrame(true))
	require.False(t, s.Closed())

	require.NoError(t, s.ObserveRecvFrame(true))
	require.True(t, s.Closed())
}

func TestStreamRejectsDuplicateEndStream(t *testing.T) {
	s := newTestStream()
	require.NoError(t, s.ObserveSendFrame(true))
	err := s.ObserveSendFrame(true)
	require.Error(t, err)
}

func TestStreamRejectsFrameAfterClosed(t *testing.T) {
	s := newTestStream()
	require.NoError(t, s.ObserveSendFrame(true))
	require.NoError(t, s.ObserveRecvFrame(true))
	require.True(t, s.Closed())

	err := s.ObserveSendFrame(false)
	require.Error(t, err)
}

func TestStreamCancelIsTerminalRegardlessOfState(t *testing.T) {
	s := newTestStream()
	require.NoError(t, s.ObserveSendFrame(true))
	s.Cancel()
	require.True(t, s.Cancelled())
	require.Equal(t, SideCancelled, s.RecvState())
}

func TestStreamOnCancelFiresImmediatelyIfAlreadyCancelled(t *testing.T) {
	s := newTestStream()
	s.Cancel()

	fired := false
	s.OnCancel(func() { fired = true })
	require.True(t, fired)
}

func TestStreamOnCancelFiresOnceOnCancel(t *testing.T) {
	s := newTestStream()
	count := 0
	s.OnCancel(func() { count++ })
	s.OnCancel(func() { count++ })
	s.Cancel()
	require.Equal(t, 2, count)

	s.Cancel()
	require.Equal(t, 2, count, "callbacks must not re-fire on a second Cancel")
}

func TestStreamsSortedTracker(t *testing.T) {
	var ss Streams
	s1 := NewStream(5, ShapeUnary, NewMessageFlowController(0), NewMessageFlowController(0))
	s2 := NewStream(1, ShapeUnary, NewMessageFlowController(0), NewMessageFlowController(0))
	s3 := NewStream(3, ShapeUnary, NewMessageFlowController(0), NewMessageFlowController(0))

	require.True(t, ss.Insert(s1))
	require.True(t, ss.Insert(s2))
	require.True(t, ss.Insert(s3))
	require.False(t, ss.Insert(s2), "duplicate id must not insert twice")
	require.Equal(t, 3, ss.Len())

	got := ss.Get(3)
	require.Same(t, s3, got)

	ss.Del(1)
	require.Equal(t, 2, ss.Len())
	require.Nil(t, ss.Get(1))
}
