package quill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeClientAdapter struct {
	profile Profile
	writer  FrameWriter
	msgs    chan []byte
	done    chan struct{}
	errs    chan error
	closed  bool
}

func newFakeClientAdapter(p Profile) *fakeClientAdapter {
	return &fakeClientAdapter{
		profile: p,
		writer:  &fakeFrameWriter{},
		msgs:    make(chan []byte, 4),
		done:    make(chan struct{}),
		errs:    make(chan error, 1),
	}
}

func (a *fakeClientAdapter) OpenStream(ctx context.Context, cctx *CallCtx) (FrameWriter, <-chan []byte, <-chan struct{}, <-chan error, error) {
	return a.writer, a.msgs, a.done, a.errs, nil
}

func (a *fakeClientAdapter) Close() error   { a.closed = true; return nil }
func (a *fakeClientAdapter) Profile() Profile { return a.profile }

func newTestCallCtx() (*CallCtx, *Stream) {
	s := newTestStreamWithCredit(4)
	cctx := NewCallCtx(context.Background(), s, time.Time{})
	return cctx, s
}

func TestDialerDialPrefersFirstRegisteredProfile(t *testing.T) {
	d := NewDialer(&DialOptions{Prefer: []Profile{ProfileHyper, ProfileClassic}})
	var dialedWith Profile
	d.RegisterTransport(ProfileClassic, func(ctx context.Context, addr string, opts *DialOptions) (ClientAdapter, error) {
		dialedWith = ProfileClassic
		return newFakeClientAdapter(ProfileClassic), nil
	})

	adapter, err := d.Dial(context.Background(), "example.com:443")
	require.NoError(t, err)
	require.Equal(t, ProfileClassic, adapter.Profile())
	require.Equal(t, ProfileClassic, dialedWith, "Hyper has no registered dial fn, must fall through to Classic")
}

func TestDialerDialFailsWhenNoTransportRegistered(t *testing.T) {
	d := NewDialer(&DialOptions{Prefer: []Profile{ProfileClassic}})
	_, err := d.Dial(context.Background(), "example.com:443")
	require.Error(t, err)
}

func TestDialerReleasePutsPooledConnBack(t *testing.T) {
	d := NewDialer(&DialOptions{})
	a := newFakeClientAdapter(ProfileClassic)
	d.Release("example.com:443", a)

	got, ok := d.Opts.Pool.Get("example.com:443", ProfileClassic)
	require.True(t, ok)
	require.Same(t, a, got)
	require.False(t, a.closed)
}

func TestCallUnaryRoundTrip(t *testing.T) {
	cctx, _ := newTestCallCtx()
	defer cctx.Release()
	a := newFakeClientAdapter(ProfileClassic)

	respPayload, err := marshalFrom(wrapperspb.String("server said hi"))
	require.Nil(t, err)
	a.msgs <- respPayload

	var resp wrapperspb.StringValue
	callErr := CallUnary(context.Background(), a, cctx, wrapperspb.String("client request"), &resp)
	require.NoError(t, callErr)
	require.Equal(t, "server said hi", resp.GetValue())
}

func TestCallUnaryPropagatesTransportError(t *testing.T) {
	cctx, _ := newTestCallCtx()
	defer cctx.Release()
	a := newFakeClientAdapter(ProfileClassic)
	a.errs <- NewError(ErrorUnavailable, "connection reset")

	var resp wrapperspb.StringValue
	err := CallUnary(context.Background(), a, cctx, wrapperspb.String("req"), &resp)
	require.Error(t, err)
}

func TestCallServerStreamReturnsReceiverOverResponses(t *testing.T) {
	cctx, _ := newTestCallCtx()
	defer cctx.Release()
	a := newFakeClientAdapter(ProfileClassic)

	one, _ := marshalFrom(wrapperspb.String("one"))
	two, _ := marshalFrom(wrapperspb.String("two"))
	a.msgs <- one
	a.msgs <- two
	close(a.msgs)

	recv, err := CallServerStream(context.Background(), a, cctx, wrapperspb.String("req"))
	require.NoError(t, err)

	var got wrapperspb.StringValue
	ok, err := recv.Recv(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", got.GetValue())

	ok, err = recv.Recv(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", got.GetValue())

	ok, err = recv.Recv(&got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCallClientStreamSendsAndAwaitsResponse(t *testing.T) {
	cctx, strm := newTestCallCtx()
	defer cctx.Release()
	strm.SendCredit.Grant(1)
	a := newFakeClientAdapter(ProfileClassic)

	sender, await, err := CallClientStream(context.Background(), a, cctx)
	require.NoError(t, err)
	require.NoError(t, sender.Send(wrapperspb.String("chunk")))

	respPayload, _ := marshalFrom(wrapperspb.String("final"))
	a.msgs <- respPayload

	var resp wrapperspb.StringValue
	require.NoError(t, await(&resp))
	require.Equal(t, "final", resp.GetValue())
}

func TestCallBidiReturnsIndependentSenderReceiver(t *testing.T) {
	cctx, strm := newTestCallCtx()
	defer cctx.Release()
	strm.SendCredit.Grant(1)
	a := newFakeClientAdapter(ProfileClassic)

	sender, receiver, err := CallBidi(context.Background(), a, cctx)
	require.NoError(t, err)
	require.NoError(t, sender.Send(wrapperspb.String("ping")))

	payload, _ := marshalFrom(wrapperspb.String("pong"))
	a.msgs <- payload
	var got wrapperspb.StringValue
	ok, err := receiver.Recv(&got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pong", got.GetValue())
}
