package quill

import (
	"context"
	"time"
)

// CallCtx is bound to exactly one stream for its lifetime: method path,
// negotiated profile, identity, trace context, deadline, content codings,
// and user metadata (§3 Call Context). Grounded on the teacher's minimal
// ctx.go Ctx{c, streamID, hp, Request, Response} — Quill replaces the HPACK
// table reference with Metadata and adds the RPC-level fields the Router
// populates after method lookup.
type CallCtx struct {
	ctx context.Context

	Stream  *Stream
	Package string
	Service string
	Method  string

	Profile  Profile
	Identity string // opaque authenticated identity, if any

	TraceParent string
	TraceState  string

	RequestCoding  string // negotiated request Content-Encoding, "" if none
	ResponseCoding string

	Metadata *Metadata

	cancel context.CancelFunc
}

// NewCallCtx constructs a CallCtx bound to strm, with deadline applied to
// the returned context (zero deadline means no timeout beyond parent ctx).
func NewCallCtx(parent context.Context, strm *Stream, deadline time.Time) *CallCtx {
	cctx := &CallCtx{Stream: strm, Metadata: NewMetadata()}
	if !deadline.IsZero() {
		cctx.ctx, cctx.cancel = context.WithDeadline(parent, deadline)
	} else {
		cctx.ctx, cctx.cancel = context.WithCancel(parent)
	}
	strm.OnCancel(cctx.cancel)
	return cctx
}

// Context returns the context.Context tied to this call's deadline and
// cancellation. Cancelled when the stream is cancelled, the deadline
// expires, or Release is called.
func (c *CallCtx) Context() context.Context { return c.ctx }

// Done is a convenience wrapper around Context().Done(), the suspension
// point every handler operation should select on (§5).
func (c *CallCtx) Done() <-chan struct{} { return c.ctx.Done() }

// Err reports why the call context ended: context.Canceled,
// context.DeadlineExceeded, or nil if still active.
func (c *CallCtx) Err() error { return c.ctx.Err() }

// MethodPath renders the `/{package}.{service}/{method}` path this call
// was dispatched to.
func (c *CallCtx) MethodPath() string {
	return "/" + c.Package + "." + c.Service + "/" + c.Method
}

// CanonicalErr maps ctx.Err() to the lifecycle errors §5/§7 require:
// DeadlineExceeded and Cancelled are not ordinary errors but lifecycle
// events.
func (c *CallCtx) CanonicalErr() *Error {
	switch c.ctx.Err() {
	case context.DeadlineExceeded:
		return NewError(ErrorDeadlineExceeded, "")
	case context.Canceled:
		return NewError(ErrorCancelled, "")
	default:
		return nil
	}
}

// Release destroys the call context, releasing its deadline timer. Called
// by the stream/Router machinery when the stream is destroyed — never by
// handlers directly.
func (c *CallCtx) Release() {
	c.cancel()
}
