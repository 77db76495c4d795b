package quill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeFrameWriter struct {
	frames []writtenFrame
}

type writtenFrame struct {
	flags   Flags
	payload []byte
}

func (w *fakeFrameWriter) WriteFrame(flags Flags, payload []byte) error {
	cp := append([]byte(nil), payload...)
	w.frames = append(w.frames, writtenFrame{flags: flags, payload: cp})
	return nil
}

func newTestStreamWithCredit(n int) *Stream {
	// Built directly rather than via NewMessageFlowController, which maps a
	// zero credit to DefaultInitialCredit.
	send := &FlowController{mode: CreditModeMessage, available: uint64(n)}
	recv := &FlowController{mode: CreditModeMessage, available: uint64(n)}
	return NewStream(1, ShapeServerStream, send, recv)
}

func TestStreamSenderSendWritesDataFrame(t *testing.T) {
	s := newTestStreamWithCredit(1)
	s.SendCredit.Grant(1)
	cctx := NewCallCtx(context.Background(), s, time.Time{})
	defer cctx.Release()

	w := &fakeFrameWriter{}
	sender := NewStreamSender(cctx, s, w)

	require.NoError(t, sender.Send(wrapperspb.String("hi")))
	require.Len(t, w.frames, 1)
	require.Equal(t, FlagData, w.frames[0].flags)

	var got wrapperspb.StringValue
	require.NoError(t, proto.Unmarshal(w.frames[0].payload, &got))
	require.Equal(t, "hi", got.GetValue())
}

func TestStreamSenderSendBlocksWithoutCredit(t *testing.T) {
	s := newTestStreamWithCredit(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	cctx := NewCallCtx(ctx, s, time.Time{})
	defer cctx.Release()

	w := &fakeFrameWriter{}
	sender := NewStreamSender(cctx, s, w)

	err := sender.Send(wrapperspb.String("hi"))
	require.Error(t, err)
	require.Empty(t, w.frames)
}

func TestSendUnaryWritesDataAndEndStream(t *testing.T) {
	s := newTestStreamWithCredit(1)
	w := &fakeFrameWriter{}

	require.NoError(t, sendUnary(nil, s, w, wrapperspb.String("done")))
	require.Len(t, w.frames, 1)
	require.Equal(t, FlagData|FlagEndStream, w.frames[0].flags)
	require.True(t, s.Closed() == false, "send-side half-close alone does not close the stream")
}

func TestSendEndStreamWritesBareEndStream(t *testing.T) {
	s := newTestStreamWithCredit(1)
	w := &fakeFrameWriter{}

	require.NoError(t, sendEndStream(s, w))
	require.Len(t, w.frames, 1)
	require.Equal(t, FlagEndStream, w.frames[0].flags)
	require.Nil(t, w.frames[0].payload)
}

func TestSendErrorPassesThroughCanonical(t *testing.T) {
	err := sendError(NewError(ErrorDeadlineExceeded, "timed out"))
	require.Equal(t, ErrorDeadlineExceeded, err.Kind)
}

func TestSendErrorFallsBackToInternalForUnknownErrors(t *testing.T) {
	err := sendError(context.DeadlineExceeded)
	require.Equal(t, ErrorInternal, err.Kind)
}
