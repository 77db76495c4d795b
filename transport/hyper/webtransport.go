package hyper

import (
	"context"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"google.golang.org/protobuf/proto"

	"github.com/jeffhajewski/quill"
)

// WebTransportServer exposes the same Router over WebTransport sessions for
// browser clients that cannot open a raw QUIC connection (§4.4's Hyper
// definition names WebTransport explicitly as an alternate Hyper carrier).
// Each accepted session's streams are served identically to raw-QUIC Hyper
// streams — same handshake, same frame codec — since webtransport.Stream
// satisfies the same io.Reader/Writer/Close shape quicFrameWriter and
// feedFromReader need.
type WebTransportServer struct {
	cfg     *quill.ServerConfig
	addr    string
	wtSrv   *webtransport.Server
	drainer *quill.Drainer
	nextID  uint32
}

// NewWebTransportServer constructs a WebTransport-carrying Hyper server.
// httpSrv must already have its TLSConfig and Addr populated; the caller
// owns its lifecycle beyond Serve/Drain (mirrors http3.Server's embedding
// idiom).
func NewWebTransportServer(addr string, httpSrv *http3.Server, cfg *quill.ServerConfig) *WebTransportServer {
	s := &WebTransportServer{cfg: cfg, addr: addr, drainer: quill.NewDrainer()}
	s.wtSrv = &webtransport.Server{H3: *httpSrv}
	mux := http.NewServeMux()
	mux.HandleFunc("/quill.hyper/connect", s.handleUpgrade)
	s.wtSrv.H3.Handler = mux
	return s
}

func (s *WebTransportServer) Addr() string { return s.addr }

func (s *WebTransportServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.wtSrv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = s.wtSrv.Close()
		return nil
	}
}

func (s *WebTransportServer) Drain(ctx context.Context) error {
	if err := s.drainer.Drain(ctx); err != nil {
		return err
	}
	return s.wtSrv.Close()
}

func (s *WebTransportServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	session, err := s.wtSrv.Upgrade(w, r)
	if err != nil {
		http.Error(w, "webtransport upgrade failed", http.StatusInternalServerError)
		return
	}
	go s.serveSession(r.Context(), session)
}

func (s *WebTransportServer) serveSession(ctx context.Context, session *webtransport.Session) {
	defer session.CloseWithError(0, "")
	for {
		wtStream, err := session.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveWTStream(ctx, wtStream)
	}
}

// serveWTStream mirrors Server.serveStream's body, adapted to
// webtransport.Stream instead of quic.Stream. 0-RTT is not meaningful over
// an already-upgraded WebTransport session (the HTTP/3 CONNECT exchange
// that established it has no early-data concept Quill can observe here),
// so idempotentAttempt is read from the handshake but never used to gate
// replay — sessions of this kind always pay the full round trip.
func (s *WebTransportServer) serveWTStream(ctx context.Context, ws webtransport.Stream) {
	if !s.drainer.Acquire() {
		_ = ws.Close()
		return
	}
	defer s.drainer.Release()

	path, _, _, err := readHandshake(ws)
	if err != nil {
		_ = ws.Close()
		return
	}

	m, qerr := s.cfg.Router.Lookup(path)
	if qerr != nil {
		writeProblemWT(ws, path, qerr)
		return
	}

	strm := quill.NewStream(s.nextStreamIDWT(), shapeOf(m), quill.NewMessageFlowController(0), quill.NewMessageFlowController(0))
	deadline := time.Now().Add(s.cfg.RequestTimeout)
	cctx := quill.NewCallCtx(ctx, strm, deadline)
	defer cctx.Release()

	fw := &quicFrameWriter{w: ws}
	msgs := make(chan []byte, 32)
	done := make(chan struct{})
	errs := make(chan error, 1)
	go feedFromReader(ws, strm, s.cfg.MaxFrameBytes, msgs, done, errs)

	switch m.Shape {
	case quill.HandlerUnary:
		payload, ok := awaitOne(cctx, msgs, done, errs)
		if !ok {
			writeAwaitErrorWT(ws, path, cctx, errs)
			return
		}
		req := m.NewRequest()
		if err := proto.Unmarshal(payload, req); err != nil {
			writeProblemWT(ws, path, quill.Wrap(quill.ErrorInvalidArgument, "malformed request", err))
			return
		}
		resp, err := m.Unary(cctx, req)
		if err != nil {
			writeProblemWT(ws, path, quill.AsQuillError(err))
			return
		}
		writeUnaryResponseWT(ws, resp)

	case quill.HandlerServerStream:
		payload, ok := awaitOne(cctx, msgs, done, errs)
		if !ok {
			writeAwaitErrorWT(ws, path, cctx, errs)
			return
		}
		req := m.NewRequest()
		if err := proto.Unmarshal(payload, req); err != nil {
			writeProblemWT(ws, path, quill.Wrap(quill.ErrorInvalidArgument, "malformed request", err))
			return
		}
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.ServerStream(cctx, req, sender); err != nil {
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			_ = ws.Close()
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)
		_ = ws.Close()

	case quill.HandlerClientStream:
		recv := quill.NewChanReceiver(cctx, msgs, done, errs)
		resp, err := m.ClientStream(cctx, recv)
		if err != nil {
			writeProblemWT(ws, path, quill.AsQuillError(err))
			return
		}
		writeUnaryResponseWT(ws, resp)

	case quill.HandlerBidi:
		recv := quill.NewChanReceiver(cctx, msgs, done, errs)
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.Bidi(cctx, recv, sender); err != nil {
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			_ = ws.Close()
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)
		_ = ws.Close()
	}
}

func (s *WebTransportServer) nextStreamIDWT() uint32 {
	s.nextID++
	return s.nextID
}

func writeAwaitErrorWT(ws webtransport.Stream, path string, cctx *quill.CallCtx, errs <-chan error) {
	select {
	case err := <-errs:
		writeProblemWT(ws, path, quill.AsQuillError(err))
	default:
		if ce := cctx.CanonicalErr(); ce != nil {
			writeProblemWT(ws, path, ce)
			return
		}
		writeProblemWT(ws, path, quill.NewError(quill.ErrorInvalidArgument, "stream ended before a complete frame arrived"))
	}
}

func writeUnaryResponseWT(ws webtransport.Stream, resp proto.Message) {
	payload, err := proto.Marshal(resp)
	if err != nil {
		writeProblemWT(ws, "", quill.Wrap(quill.ErrorInternal, "failed to marshal response", err))
		return
	}
	buf, _ := quill.AppendFrame(nil, quill.FlagData|quill.FlagEndStream, payload, 0)
	_, _ = ws.Write(buf)
	_ = ws.Close()
}

func writeProblemWT(ws webtransport.Stream, instance string, err *quill.Error) {
	p := err.ToProblem(instance, "")
	b, _ := p.MarshalJSON()
	buf, _ := quill.AppendFrame(nil, quill.FlagData|quill.FlagEndStream|quill.FlagCancel, b, 0)
	_, _ = ws.Write(buf)
	_ = ws.Close()
}
