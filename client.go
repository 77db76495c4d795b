package quill

import (
	"context"
	"time"

	"google.golang.org/protobuf/proto"
)

// Dialer is the client-side counterpart to Server: it holds dial options
// and a ConnPool, and constructs ClientAdapters on demand, grounded on the
// teacher's `Dialer{Addr, TLSConfig, PingInterval}` in conn.go.
type Dialer struct {
	Opts *DialOptions

	// dialFns is supplied by transport/classic|turbo|hyper registration;
	// kept as a function value here (rather than importing those packages,
	// which would create an import cycle) so the root package stays
	// transport-agnostic, per §4.6.
	dialFns map[Profile]func(ctx context.Context, addr string, opts *DialOptions) (ClientAdapter, error)
}

// NewDialer constructs a Dialer with the given options.
func NewDialer(opts *DialOptions) *Dialer {
	return &Dialer{
		Opts:    opts.withDefaults(),
		dialFns: make(map[Profile]func(context.Context, string, *DialOptions) (ClientAdapter, error)),
	}
}

// RegisterTransport wires a profile to its dial function. Each transport
// package's init-time registration (or explicit call from main) invokes
// this so Dialer.Dial can reach transport/classic|turbo|hyper without the
// root package importing any of them.
func (d *Dialer) RegisterTransport(p Profile, dial func(ctx context.Context, addr string, opts *DialOptions) (ClientAdapter, error)) {
	d.dialFns[p] = dial
}

// Dial establishes (or reuses pooled) connections and negotiates a profile
// by attempting the caller's preference list in order against the
// profiles this Dialer has registered transports for — mirroring what the
// server side of Negotiator does, from the client's vantage point.
func (d *Dialer) Dial(ctx context.Context, addr string) (ClientAdapter, error) {
	prefs := d.Opts.Prefer
	var lastErr error
	for _, p := range prefs {
		dial, ok := d.dialFns[p]
		if !ok {
			continue
		}
		if pooled, ok := d.Opts.Pool.Get(addr, p); ok {
			if ca, ok := pooled.(ClientAdapter); ok {
				return ca, nil
			}
		}
		adapter, err := dial(ctx, addr, d.Opts)
		if err != nil {
			lastErr = err
			continue
		}
		return adapter, nil
	}
	if lastErr != nil {
		return nil, Wrap(ErrorUnavailable, "failed to dial any preferred profile", lastErr)
	}
	return nil, NewError(ErrorUnavailable, "no transport registered for any preferred profile")
}

// Release returns adapter to the pool for reuse rather than closing it.
func (d *Dialer) Release(addr string, adapter ClientAdapter) {
	if pc, ok := adapter.(PooledConn); ok {
		d.Opts.Pool.Put(addr, adapter.Profile(), pc)
		return
	}
	_ = adapter.Close()
}

// CallUnary issues a UNARY call: marshal req, open a stream, write the
// DATA|END_STREAM frame, wait for the single response frame or an error.
func CallUnary(ctx context.Context, adapter ClientAdapter, cctx *CallCtx, req, resp proto.Message) error {
	writer, msgs, done, errs, err := adapter.OpenStream(ctx, cctx)
	if err != nil {
		return err
	}

	payload, merr := marshalFrom(req)
	if merr != nil {
		return merr
	}
	if err := cctx.Stream.ObserveSendFrame(true); err != nil {
		return err
	}
	if err := writer.WriteFrame(FlagData|FlagEndStream, payload); err != nil {
		return Wrap(ErrorUnavailable, "failed to write request frame", err)
	}

	select {
	case <-ctx.Done():
		if ce := cctx.CanonicalErr(); ce != nil {
			return ce
		}
		return NewError(ErrorCancelled, "")
	case err := <-errs:
		return err
	case <-done:
		return NewError(ErrorInternal, "stream ended before a response frame arrived")
	case payload, ok := <-msgs:
		if !ok {
			return NewError(ErrorInternal, "stream closed before a response frame arrived")
		}
		if err := proto.Unmarshal(payload, resp); err != nil {
			return Wrap(ErrorInternal, "malformed response message", err)
		}
		return nil
	}
}

// CallServerStream issues a SERVER_STREAM call and returns a Receiver over
// the server's response sequence.
func CallServerStream(ctx context.Context, adapter ClientAdapter, cctx *CallCtx, req proto.Message) (Receiver, error) {
	writer, msgs, done, errs, err := adapter.OpenStream(ctx, cctx)
	if err != nil {
		return nil, err
	}
	payload, merr := marshalFrom(req)
	if merr != nil {
		return nil, merr
	}
	if err := cctx.Stream.ObserveSendFrame(true); err != nil {
		return nil, err
	}
	if err := writer.WriteFrame(FlagData|FlagEndStream, payload); err != nil {
		return nil, Wrap(ErrorUnavailable, "failed to write request frame", err)
	}
	return NewChanReceiver(cctx, msgs, done, errs), nil
}

// CallClientStream issues a CLIENT_STREAM call, returning a Sender for the
// client's request sequence and a function to await the single response.
func CallClientStream(ctx context.Context, adapter ClientAdapter, cctx *CallCtx) (Sender, func(resp proto.Message) error, error) {
	writer, msgs, done, errs, err := adapter.OpenStream(ctx, cctx)
	if err != nil {
		return nil, nil, err
	}
	sender := NewStreamSender(cctx, cctx.Stream, writer)
	await := func(resp proto.Message) error {
		select {
		case <-ctx.Done():
			if ce := cctx.CanonicalErr(); ce != nil {
				return ce
			}
			return NewError(ErrorCancelled, "")
		case err := <-errs:
			return err
		case payload, ok := <-msgs:
			if !ok {
				return NewError(ErrorInternal, "stream closed before a response frame arrived")
			}
			if err := proto.Unmarshal(payload, resp); err != nil {
				return Wrap(ErrorInternal, "malformed response message", err)
			}
			return nil
		case <-done:
			return NewError(ErrorInternal, "stream ended before a response frame arrived")
		}
	}
	return sender, await, nil
}

// CallBidi issues a BIDI call, returning independent Sender/Receiver pairs.
func CallBidi(ctx context.Context, adapter ClientAdapter, cctx *CallCtx) (Sender, Receiver, error) {
	writer, msgs, done, errs, err := adapter.OpenStream(ctx, cctx)
	if err != nil {
		return nil, nil, err
	}
	sender := NewStreamSender(cctx, cctx.Stream, writer)
	receiver := NewChanReceiver(cctx, msgs, done, errs)
	return sender, receiver, nil
}

// DefaultCallDeadline is used when a caller's context has no deadline of
// its own, matching §6's default request timeout.
func DefaultCallDeadline() time.Time {
	return time.Now().Add(DefaultRequestTimeout)
}
