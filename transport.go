package quill

import (
	"context"
	"log"
	"os"
	"time"
)

// Logger is the teacher's `fasthttp.Logger`-shaped logging seam
// (`Printf(format string, args ...interface{})`) — deliberately not a
// structured logging framework, matching `serverConn.go`'s
// `sc.logger.Printf(...)` / `log.New(os.Stdout, "[HTTP/2] ", log.LstdFlags)`.
type Logger interface {
	Printf(format string, args ...interface{})
}

// DefaultLogger mirrors the teacher's package-level default logger, rebound
// to Quill's prefix.
var DefaultLogger Logger = log.New(os.Stdout, "[quill] ", log.LstdFlags)

// ServerConfig bundles the options every transport's server constructor
// accepts — the plain exported-struct, zero-value-means-default
// configuration idiom described in SPEC_FULL.md's AMBIENT STACK section.
type ServerConfig struct {
	Router     *Router
	Negotiator *Negotiator
	Compressor *Compressor

	MaxFrameBytes     int
	MaxStreamsPerConn int
	IdleTimeout       time.Duration
	RequestTimeout    time.Duration

	Debug  bool
	Logger Logger
}

func (c *ServerConfig) withDefaults() *ServerConfig {
	out := *c
	if out.MaxFrameBytes == 0 {
		out.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if out.MaxStreamsPerConn == 0 {
		out.MaxStreamsPerConn = DefaultMaxStreamsPerConn
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = DefaultIdleTimeout
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.Compressor == nil {
		out.Compressor = NewCompressor(0)
	}
	if out.Logger == nil {
		out.Logger = DefaultLogger
	}
	return &out
}

// ServerAdapter is the uniform interface each transport (Classic/Turbo/
// Hyper) implements toward the Stream State Machine, per §4.6: accept
// inbound frames from a bytestream, emit outbound frames to a bytestream,
// report connection-level events. Router dispatch, flow control, and the
// stream state machine are transport-independent and live in the root
// package; each adapter's job is purely to get bytes on and off its
// concrete transport and translate connection-level events (new stream,
// close, error) into calls against that shared machinery.
type ServerAdapter interface {
	// Serve accepts connections and dispatches calls through router until
	// ctx is cancelled or a fatal listener error occurs.
	Serve(ctx context.Context) error
	// Drain stops accepting new streams and waits for in-flight ones to
	// finish, or ctx to expire.
	Drain(ctx context.Context) error
	// Addr reports the adapter's bound listen address.
	Addr() string
}

// DialOptions bundles client-side transport configuration, mirroring the
// teacher's ClientOpts.
type DialOptions struct {
	Prefer     []Profile
	Pool       *ConnPool
	Compressor *Compressor
	Keepalive  *Keepalive
	TLSServerName string
}

func (o *DialOptions) withDefaults() *DialOptions {
	out := *o
	if len(out.Prefer) == 0 {
		out.Prefer = []Profile{ProfileHyper, ProfileTurbo, ProfileClassic}
	}
	if out.Pool == nil {
		out.Pool = NewConnPool(0, 0)
	}
	if out.Compressor == nil {
		out.Compressor = NewCompressor(0)
	}
	return &out
}

// ClientAdapter is the client-side mirror of ServerAdapter: issue a call
// of any of the four shapes against a dialed connection.
type ClientAdapter interface {
	// OpenStream starts a new Quill stream for a call, returning the
	// FrameWriter to emit frames on and a channel of inbound decoded
	// message payloads (the Receiver machinery in request.go wraps this).
	OpenStream(ctx context.Context, cctx *CallCtx) (FrameWriter, <-chan []byte, <-chan struct{}, <-chan error, error)
	Close() error
	Profile() Profile
}
