package quill

import (
	"google.golang.org/protobuf/proto"
)

// Receiver is a lazy, finite sequence of request messages delivered to a
// handler in arrival order (§4.8). Restartable only by re-issuing the
// call — there is no seek/replay.
type Receiver interface {
	// Recv blocks until the next message is available, the stream ends
	// (returns nil, io.EOF-equivalent via ok=false), or the call context is
	// cancelled (returns the cancellation's canonical *Error).
	Recv(msg proto.Message) (ok bool, err error)
}

// Sender is a lazy sequence of response messages a handler produces.
type Sender interface {
	// Send emits one message. It blocks on Flow Controller credit
	// (§4.2/§5) and returns the canonical cancellation error if the call
	// context ends first.
	Send(msg proto.Message) error
}

// UnaryHandler handles exactly one request, producing exactly one response
// or an error (§4.5's UNARY row).
type UnaryHandler func(cctx *CallCtx, req proto.Message) (proto.Message, error)

// ServerStreamHandler handles one request, producing N responses via sender
// then an implicit END_STREAM.
type ServerStreamHandler func(cctx *CallCtx, req proto.Message, send Sender) error

// ClientStreamHandler consumes N requests via recv, producing one response
// or an error.
type ClientStreamHandler func(cctx *CallCtx, recv Receiver) (proto.Message, error)

// BidiHandler consumes and produces independent, unordered-relative-to-
// each-other streams of messages.
type BidiHandler func(cctx *CallCtx, recv Receiver, send Sender) error

// HandlerShape tags which of the four handler union members a Method
// holds, per DESIGN NOTES' "tagged variant over a uniform trait/interface
// rather than per-call downcasts" (§9).
type HandlerShape uint8

const (
	HandlerUnary HandlerShape = iota
	HandlerServerStream
	HandlerClientStream
	HandlerBidi
)

// NewRequest returns a zero-value instance of the request message type a
// Method expects, so the Router can decode into a concrete proto.Message
// without reflection at dispatch time.
type NewRequest func() proto.Message

// Method is one registered RPC endpoint: its shape-tagged handler, the
// factory for decoding request messages, and the route metadata the
// Router and Negotiator need (idempotency, cache TTL, minimum profile).
type Method struct {
	Package string
	Service string
	Name    string

	Shape      HandlerShape
	NewRequest NewRequest

	Unary        UnaryHandler
	ServerStream ServerStreamHandler
	ClientStream ClientStreamHandler
	Bidi         BidiHandler

	// Idempotent gates GET exposure (§4.7) and 0-RTT eligibility (§4.4).
	Idempotent bool
	// CacheTTLMillis is the GET cache_ttl_ms hint; ignored unless Idempotent.
	CacheTTLMillis int64
	// MinProfile is the route-pinned minimum profile (§4.4); ProfileClassic
	// if the route has none.
	MinProfile Profile
}

// Path renders the method's dispatch path.
func (m *Method) Path() string {
	return "/" + m.Package + "." + m.Service + "/" + m.Name
}
