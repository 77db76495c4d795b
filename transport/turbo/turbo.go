// Package turbo implements Quill's Turbo transport profile: multiple Quill
// streams multiplexed 1:1 onto HTTP/2 streams over one connection, built on
// golang.org/x/net/http2 — a teacher dependency the teacher itself uses for
// benchmark comparison (benchmark/nethttp2). Quill does not reimplement RFC
// 7540 framing a second time: the state machine, Flow Controller, and
// Router here are exactly the ones Classic uses, riding inside ordinary H2
// request/response bodies, while x/net/http2 carries the real H2 bytes and
// WINDOW_UPDATE-based byte flow control. Turbo emits no CREDIT frames and
// does not act on CREDIT frames it receives.
package turbo

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"google.golang.org/protobuf/proto"

	"github.com/jeffhajewski/quill"
)

// Server is the Turbo ServerAdapter: a plain net/http.Server with HTTP/2
// configured via http2.ConfigureServer, dispatching through the shared
// Router exactly as transport/classic does, but with true concurrent
// streams per connection since H2 multiplexes natively.
type Server struct {
	cfg       *quill.ServerConfig
	addr      string
	tlsConfig *tls.Config

	httpSrv *http.Server
	drainer *quill.Drainer
	nextID  uint32
}

// NewServer constructs a Turbo server. tlsConfig must be non-nil and carry
// a certificate — TLS is mandatory for negotiated H2 ALPN ("h2").
func NewServer(addr string, tlsConfig *tls.Config, cfg *quill.ServerConfig) (*Server, error) {
	s := &Server{cfg: cfg, addr: addr, tlsConfig: tlsConfig.Clone(), drainer: quill.NewDrainer()}
	if s.tlsConfig.NextProtos == nil {
		s.tlsConfig.NextProtos = []string{"h2"}
	} else {
		s.tlsConfig.NextProtos = append(s.tlsConfig.NextProtos, "h2")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		TLSConfig:    s.tlsConfig,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: 0, // streaming responses may outlive RequestTimeout
		IdleTimeout:  cfg.IdleTimeout,
	}
	if err := http2.ConfigureServer(s.httpSrv, &http2.Server{
		MaxConcurrentStreams: uint32(cfg.MaxStreamsPerConn),
		IdleTimeout:          cfg.IdleTimeout,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Addr() string { return s.addr }

func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	tlsLn := tls.NewListener(ln, s.tlsConfig)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(tlsLn) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = s.httpSrv.Shutdown(context.Background())
		return nil
	}
}

func (s *Server) Drain(ctx context.Context) error {
	if err := s.drainer.Drain(ctx); err != nil {
		return err
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) nextStreamID() uint32 { return atomic.AddUint32(&s.nextID, 1) }

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !s.drainer.Acquire() {
		http.Error(w, "server draining", http.StatusServiceUnavailable)
		return
	}
	defer s.drainer.Release()

	m, qerr := s.cfg.Router.Lookup(r.URL.Path)
	if qerr == nil {
		qerr = quill.CheckMethodAllowed(m, r.Method)
	}
	if qerr != nil {
		writeProblem(w, r.URL.Path, qerr)
		return
	}

	shape := quill.ShapeBidi
	switch m.Shape {
	case quill.HandlerUnary:
		shape = quill.ShapeUnary
	case quill.HandlerServerStream:
		shape = quill.ShapeServerStream
	case quill.HandlerClientStream:
		shape = quill.ShapeClientStream
	}

	strm := quill.NewStream(s.nextStreamID(), shape, quill.NewMessageFlowController(0), quill.NewMessageFlowController(0))
	deadline := time.Now().Add(s.cfg.RequestTimeout)
	cctx := quill.NewCallCtx(r.Context(), strm, deadline)
	defer cctx.Release()

	flusher, _ := w.(http.Flusher)
	fw := &h2FrameWriter{w: w, flusher: flusher}

	msgs := make(chan []byte, 16)
	done := make(chan struct{})
	errs := make(chan error, 1)
	go feedFromBody(r.Body, strm, s.cfg.MaxFrameBytes, msgs, done, errs)

	switch m.Shape {
	case quill.HandlerUnary:
		payload, ok := awaitOne(cctx, msgs, done, errs)
		if !ok {
			writeAwaitError(w, r.URL.Path, cctx, errs)
			return
		}
		req := m.NewRequest()
		if err := proto.Unmarshal(payload, req); err != nil {
			writeProblem(w, r.URL.Path, quill.Wrap(quill.ErrorInvalidArgument, "malformed request", err))
			return
		}
		resp, err := m.Unary(cctx, req)
		if err != nil {
			writeProblem(w, r.URL.Path, quill.AsQuillError(err))
			return
		}
		writeUnaryResponse(w, resp)

	case quill.HandlerServerStream:
		payload, ok := awaitOne(cctx, msgs, done, errs)
		if !ok {
			writeAwaitError(w, r.URL.Path, cctx, errs)
			return
		}
		req := m.NewRequest()
		if err := proto.Unmarshal(payload, req); err != nil {
			writeProblem(w, r.URL.Path, quill.Wrap(quill.ErrorInvalidArgument, "malformed request", err))
			return
		}
		w.Header().Set("Content-Type", "application/proto")
		w.WriteHeader(http.StatusOK)
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.ServerStream(cctx, req, sender); err != nil {
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)

	case quill.HandlerClientStream:
		recv := quill.NewChanReceiver(cctx, msgs, done, errs)
		resp, err := m.ClientStream(cctx, recv)
		if err != nil {
			writeProblem(w, r.URL.Path, quill.AsQuillError(err))
			return
		}
		writeUnaryResponse(w, resp)

	case quill.HandlerBidi:
		w.Header().Set("Content-Type", "application/proto")
		w.WriteHeader(http.StatusOK)
		recv := quill.NewChanReceiver(cctx, msgs, done, errs)
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.Bidi(cctx, recv, sender); err != nil {
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)
	}
}

func awaitOne(cctx *quill.CallCtx, msgs <-chan []byte, done <-chan struct{}, errs <-chan error) ([]byte, bool) {
	select {
	case <-cctx.Done():
		return nil, false
	case err := <-errs:
		_ = err
		return nil, false
	case payload, ok := <-msgs:
		return payload, ok
	case <-done:
		return nil, false
	}
}

func writeAwaitError(w http.ResponseWriter, path string, cctx *quill.CallCtx, errs <-chan error) {
	select {
	case err := <-errs:
		writeProblem(w, path, quill.AsQuillError(err))
	default:
		if ce := cctx.CanonicalErr(); ce != nil {
			writeProblem(w, path, ce)
			return
		}
		writeProblem(w, path, quill.NewError(quill.ErrorInvalidArgument, "request ended before a complete frame arrived"))
	}
}

func writeUnaryResponse(w http.ResponseWriter, resp proto.Message) {
	payload, err := proto.Marshal(resp)
	if err != nil {
		writeProblem(w, "", quill.Wrap(quill.ErrorInternal, "failed to marshal response", err))
		return
	}
	buf, _ := quill.AppendFrame(nil, quill.FlagData|quill.FlagEndStream, payload, 0)
	w.Header().Set("Content-Type", "application/proto")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf)
}

func writeProblem(w http.ResponseWriter, instance string, err *quill.Error) {
	p := err.ToProblem(instance, "")
	b, _ := p.MarshalJSON()
	w.Header().Set("Content-Type", quill.ContentTypeProblem)
	w.WriteHeader(err.Status())
	_, _ = w.Write(b)
}

// feedFromBody reads r.Body incrementally and feeds it to a Parser, pushing
// decoded message payloads to msgs in arrival order and observing the
// stream's recv-side state machine as END_STREAM/CANCEL frames arrive.
func feedFromBody(body interface{ Read([]byte) (int, error) }, strm *quill.Stream, maxFrameBytes int, msgs chan<- []byte, done chan<- struct{}, errs chan<- error) {
	defer close(done)
	defer close(msgs)

	parser := quill.NewParser(maxFrameBytes)
	buf := make([]byte, 16*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			for {
				outcome, flags, payload, perr := parser.Poll()
				if outcome == quill.FrameReady {
					if flags.Has(quill.FlagCancel) {
						strm.Cancel()
						return
					}
					if flags.Has(quill.FlagData) {
						msgs <- payload
					}
					if flags.Has(quill.FlagEndStream) {
						_ = strm.ObserveRecvFrame(true)
						return
					}
					continue
				}
				if outcome == quill.ParseFailed {
					errs <- quill.Wrap(quill.ErrorInternal, "malformed request frame", perr)
					return
				}
				break
			}
		}
		if rerr != nil {
			return
		}
	}
}

// h2FrameWriter writes frames directly to an http.ResponseWriter, flushing
// after each one so H2 WINDOW_UPDATE-driven byte flow control sees them
// promptly — the Turbo analogue of Classic's chunkFrameWriter.
type h2FrameWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	buf     []byte
}

func (h *h2FrameWriter) WriteFrame(flags quill.Flags, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	h.buf, err = quill.AppendFrame(h.buf[:0], flags, payload, 0)
	if err != nil {
		return err
	}
	if _, err := h.w.Write(h.buf); err != nil {
		return err
	}
	if h.flusher != nil {
		h.flusher.Flush()
	}
	return nil
}
