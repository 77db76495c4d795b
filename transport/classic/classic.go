// Package classic implements Quill's Classic transport profile: one HTTP/1.1
// request/response per stream, streaming bodies carried over chunked
// transfer-encoding, built directly on valyala/fasthttp — the teacher's
// core dependency. Concurrency across streams is achieved purely through
// connection pooling (§4.6), since H1 allows only one in-flight
// request/response per TCP connection.
//
// Grounded on the teacher's server_fasthttp.go (RequestHandler
// func(*fasthttp.RequestCtx), ConfigureServer/ListenAndServeTLS) and
// request.go/response.go's streaming Write/ReadFrom body-writer idiom,
// generalized from raw HTTP bytes to framed, marshaled proto.Message
// payloads.
package classic

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"google.golang.org/protobuf/proto"

	"github.com/jeffhajewski/quill"
)

// Server is the Classic ServerAdapter.
type Server struct {
	cfg *quill.ServerConfig
	srv *fasthttp.Server

	addr    string
	drainer *quill.Drainer

	mu        sync.Mutex
	nextID    uint32
}

// NewServer constructs a Classic server bound to addr, dispatching through
// cfg.Router.
func NewServer(addr string, cfg *quill.ServerConfig) *Server {
	s := &Server{cfg: cfg, addr: addr, drainer: quill.NewDrainer()}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Addr() string { return s.addr }

// Serve blocks serving HTTP/1.1 connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe(s.addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = s.srv.Shutdown()
		return nil
	}
}

// Drain stops accepting new streams (fasthttp.Server.Shutdown refuses new
// connections and waits for in-flight ones) — the H1 analogue of the
// teacher's GOAWAY draining, where "new stream" and "new connection" are
// the same event because Classic allows only one stream per connection.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.srv.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) nextStreamID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// handle implements fasthttp.RequestHandler: it reads the full request
// body with PostBody before dispatch, for every call shape (so a
// client-stream or BIDI request is held in memory in full before its
// handler runs), dispatches through the shared Router, and writes the
// response: one frame for UNARY/CLIENT_STREAM, or a body streamed via
// SetBodyStreamWriter for SERVER_STREAM/BIDI, as the teacher's
// streamWrite.Write chunks H2 DATA frames.
func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if !s.drainer.Acquire() {
		ctx.Error("server draining", fasthttp.StatusServiceUnavailable)
		return
	}
	defer s.drainer.Release()

	path := string(ctx.Path())
	method := string(ctx.Method())

	m, qerr := s.lookup(path, method)
	if qerr != nil {
		writeProblem(ctx, qerr)
		return
	}

	strm := quill.NewStream(s.nextStreamID(), shapeOf(m), quill.NewMessageFlowController(0), quill.NewMessageFlowController(0))
	deadline := time.Now().Add(s.cfg.RequestTimeout)
	cctx := quill.NewCallCtx(context.Background(), strm, deadline)
	defer cctx.Release()

	body := ctx.PostBody()
	parser := quill.NewParser(s.cfg.MaxFrameBytes)
	parser.Feed(body)

	switch m.Shape {
	case quill.HandlerUnary:
		s.serveUnary(ctx, cctx, strm, m, parser)
	case quill.HandlerServerStream:
		s.serveServerStream(ctx, cctx, strm, m, parser)
	case quill.HandlerClientStream:
		s.serveClientStream(ctx, cctx, strm, m, parser)
	case quill.HandlerBidi:
		s.serveBidi(ctx, cctx, strm, m, parser)
	}
}

func (s *Server) lookup(path, method string) (*quill.Method, *quill.Error) {
	m, err := s.cfg.Router.Lookup(path)
	if err != nil {
		return nil, err
	}
	if err := quill.CheckMethodAllowed(m, method); err != nil {
		return nil, err
	}
	return m, nil
}

func shapeOf(m *quill.Method) quill.ShapeKind {
	switch m.Shape {
	case quill.HandlerUnary:
		return quill.ShapeUnary
	case quill.HandlerServerStream:
		return quill.ShapeServerStream
	case quill.HandlerClientStream:
		return quill.ShapeClientStream
	default:
		return quill.ShapeBidi
	}
}

func firstFrame(parser *quill.Parser) (quill.Flags, []byte, *quill.Error) {
	outcome, flags, payload, err := parser.Poll()
	switch outcome {
	case quill.FrameReady:
		return flags, payload, nil
	case quill.ParseFailed:
		return 0, nil, quill.Wrap(quill.ErrorInternal, "malformed request frame", err)
	default:
		return 0, nil, quill.NewError(quill.ErrorInvalidArgument, "request body did not contain a complete frame")
	}
}

func (s *Server) serveUnary(ctx *fasthttp.RequestCtx, cctx *quill.CallCtx, strm *quill.Stream, m *quill.Method, parser *quill.Parser) {
	flags, payload, qerr := firstFrame(parser)
	if qerr != nil {
		writeProblem(ctx, qerr)
		return
	}
	if err := strm.ObserveRecvFrame(flags.Has(quill.FlagEndStream)); err != nil {
		writeProblem(ctx, quill.AsQuillError(err))
		return
	}

	req := m.NewRequest()
	if err := proto.Unmarshal(payload, req); err != nil {
		writeProblem(ctx, quill.Wrap(quill.ErrorInvalidArgument, "malformed request message", err))
		return
	}
	resp, err := m.Unary(cctx, req)
	if err != nil {
		writeProblem(ctx, quill.AsQuillError(err))
		return
	}
	respPayload, err := proto.Marshal(resp)
	if err != nil {
		writeProblem(ctx, quill.Wrap(quill.ErrorInternal, "failed to marshal response", err))
		return
	}
	writeSingleFrame(ctx, respPayload)
}

func (s *Server) serveServerStream(ctx *fasthttp.RequestCtx, cctx *quill.CallCtx, strm *quill.Stream, m *quill.Method, parser *quill.Parser) {
	flags, payload, qerr := firstFrame(parser)
	if qerr != nil {
		writeProblem(ctx, qerr)
		return
	}
	if err := strm.ObserveRecvFrame(flags.Has(quill.FlagEndStream)); err != nil {
		writeProblem(ctx, quill.AsQuillError(err))
		return
	}
	req := m.NewRequest()
	if err := proto.Unmarshal(payload, req); err != nil {
		writeProblem(ctx, quill.Wrap(quill.ErrorInvalidArgument, "malformed request message", err))
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/proto")
	ctx.Response.Header.Set("Transfer-Encoding", "chunked")

	ctx.SetBodyStreamWriter(func(w *bufWriter) {
		fw := &chunkFrameWriter{w: w}
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.ServerStream(cctx, req, sender); err != nil {
			// An error mid-stream has nowhere to go on H1 once headers are
			// flushed; best-effort CANCEL so the peer stops waiting.
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)
	})
}

func (s *Server) serveClientStream(ctx *fasthttp.RequestCtx, cctx *quill.CallCtx, strm *quill.Stream, m *quill.Method, parser *quill.Parser) {
	msgs := make(chan []byte, 16)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			outcome, flags, payload, err := parser.Poll()
			switch outcome {
			case quill.FrameReady:
				if flags.Has(quill.FlagData) {
					msgs <- payload
				}
				if flags.Has(quill.FlagEndStream) {
					close(msgs)
					return
				}
			case quill.ParseFailed:
				errs <- quill.Wrap(quill.ErrorInternal, "malformed request frame", err)
				close(msgs)
				return
			default:
				close(msgs)
				return
			}
		}
	}()

	recv := quill.NewChanReceiver(cctx, msgs, done, errs)
	resp, err := m.ClientStream(cctx, recv)
	if err != nil {
		writeProblem(ctx, quill.AsQuillError(err))
		return
	}
	respPayload, err := proto.Marshal(resp)
	if err != nil {
		writeProblem(ctx, quill.Wrap(quill.ErrorInternal, "failed to marshal response", err))
		return
	}
	writeSingleFrame(ctx, respPayload)
}

func (s *Server) serveBidi(ctx *fasthttp.RequestCtx, cctx *quill.CallCtx, strm *quill.Stream, m *quill.Method, parser *quill.Parser) {
	// H1 has no concurrent bidirectional body; Classic serves BIDI methods
	// by draining the full (already-buffered) request frame sequence
	// before producing any response frame. Turbo/Hyper give BIDI true
	// concurrency; Classic's is the degraded-but-conformant mode the spec
	// allows transports to differ on for multiplexing primitives (§4.6).
	msgs := make(chan []byte, 64)
	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(msgs)
		for {
			outcome, flags, payload, err := parser.Poll()
			if outcome == quill.FrameReady {
				if flags.Has(quill.FlagData) {
					msgs <- payload
				}
				if flags.Has(quill.FlagEndStream) {
					return
				}
				continue
			}
			if outcome == quill.ParseFailed {
				errs <- quill.Wrap(quill.ErrorInternal, "malformed request frame", err)
			}
			return
		}
	}()
	recv := quill.NewChanReceiver(cctx, msgs, done, errs)

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/proto")
	ctx.SetBodyStreamWriter(func(w *bufWriter) {
		fw := &chunkFrameWriter{w: w}
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.Bidi(cctx, recv, sender); err != nil {
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)
	})
}

type bufWriter = io.Writer

// chunkFrameWriter adapts an io.Writer (fasthttp's streamed body writer)
// into a quill.FrameWriter, appending each frame's wire encoding directly
// — the same "write into provided buffer, then flush" path the teacher's
// streamWrite.Write uses for chunked DATA framing.
type chunkFrameWriter struct {
	w   io.Writer
	buf []byte
}

func (c *chunkFrameWriter) WriteFrame(flags quill.Flags, payload []byte) error {
	var err error
	c.buf, err = quill.AppendFrame(c.buf[:0], flags, payload, 0)
	if err != nil {
		return err
	}
	_, err = c.w.Write(c.buf)
	return err
}

func writeSingleFrame(ctx *fasthttp.RequestCtx, payload []byte) {
	buf, err := quill.AppendFrame(nil, quill.FlagData|quill.FlagEndStream, payload, 0)
	if err != nil {
		writeProblem(ctx, quill.AsQuillError(err))
		return
	}
	ctx.SetContentType("application/proto")
	ctx.SetBody(buf)
}

func writeProblem(ctx *fasthttp.RequestCtx, err *quill.Error) {
	problem := err.ToProblem(string(ctx.Path()), "")
	ctx.SetStatusCode(err.Status())
	ctx.SetContentType(quill.ContentTypeProblem)
	b, _ := problem.MarshalJSON()
	ctx.SetBody(b)
}
