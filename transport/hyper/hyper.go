// Package hyper implements Quill's Hyper transport profile: one Quill
// stream per QUIC stream, native half-duplex-per-direction semantics (a QUIC
// stream's independent read/write sides map directly onto Stream's
// independent send/recv SideState machine — truer than Classic's
// buffer-then-reply degradation or even Turbo's H2-body-as-carrier
// approach), built on github.com/quic-go/quic-go. WebTransport sessions
// (github.com/quic-go/webtransport-go) are supported as an alternate
// connection establishment path for browser clients that cannot open raw
// QUIC connections, per §4.6/§4.4's Hyper definition.
//
// The teacher has no QUIC transport of its own (http2.go's ConnOpts/server
// loop only covers H1/H2); this package is grounded on the teacher's
// conn.go/serverConn.go connection-acceptance-loop shape and stream.go's
// Stream bookkeeping, generalized from h2c frames to raw QUIC streams.
package hyper

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/jeffhajewski/quill"
)

// handshakeFlagIdempotent marks a stream's opening handshake as an
// idempotent call attempting 0-RTT, mirroring Classic/Turbo's GET-vs-POST
// distinction without an HTTP method to carry it.
const handshakeFlagIdempotent byte = 0x01

// Server is the Hyper ServerAdapter, accepting raw QUIC connections only.
// WebTransport sessions are served by WebTransportServer, which runs its
// own HTTP/3 listener.
type Server struct {
	cfg       *quill.ServerConfig
	addr      string
	tlsConfig *tls.Config
	quicConf  *quic.Config

	ln      *quic.EarlyListener
	drainer *quill.Drainer
	nextID  uint32
}

// NewServer constructs a Hyper server. tlsConfig must enable 0-RTT
// (MaxEarlyData via quic.Config.Allow0RTT) for AllowZeroRTT gating to have
// any effect.
func NewServer(addr string, tlsConfig *tls.Config, cfg *quill.ServerConfig) *Server {
	return &Server{
		cfg:       cfg,
		addr:      addr,
		tlsConfig: tlsConfig,
		quicConf:  &quic.Config{Allow0RTT: true, MaxIdleTimeout: cfg.IdleTimeout},
		drainer:   quill.NewDrainer(),
	}
}

func (s *Server) Addr() string { return s.addr }

// Serve accepts QUIC connections until ctx is cancelled, spawning one
// goroutine per connection to accept that connection's streams.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := quic.ListenAddrEarly(s.addr, s.tlsConfig, s.quicConf)
	if err != nil {
		return err
	}
	s.ln = ln
	defer ln.Close()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) Drain(ctx context.Context) error {
	if err := s.drainer.Drain(ctx); err != nil {
		return err
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) nextStreamID() uint32 { return atomic.AddUint32(&s.nextID, 1) }

func (s *Server) serveConn(ctx context.Context, conn quic.Connection) {
	used0RTT := conn.ConnectionState().Used0RTT
	for {
		qs, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(ctx, qs, used0RTT)
	}
}

func (s *Server) serveStream(ctx context.Context, qs quic.Stream, used0RTT bool) {
	if !s.drainer.Acquire() {
		_ = qs.Close()
		return
	}
	defer s.drainer.Release()

	path, idempotentAttempt, ticketID, err := readHandshake(qs)
	if err != nil {
		_ = qs.Close()
		return
	}

	m, qerr := s.cfg.Router.Lookup(path)
	if qerr == nil && idempotentAttempt {
		qerr = quill.CheckMethodAllowed(m, "GET")
	}
	if qerr != nil {
		writeProblem(qs, path, qerr)
		return
	}
	if idempotentAttempt && used0RTT {
		if !s.cfg.Negotiator.AllowZeroRTT(m.Idempotent, ticketID) {
			writeProblem(qs, path, quill.NewError(quill.ErrorFailedPrecondition, "0-RTT replay rejected"))
			return
		}
	}

	strm := quill.NewStream(s.nextStreamID(), shapeOf(m), quill.NewMessageFlowController(0), quill.NewMessageFlowController(0))
	deadline := time.Now().Add(s.cfg.RequestTimeout)
	cctx := quill.NewCallCtx(ctx, strm, deadline)
	defer cctx.Release()

	fw := &quicFrameWriter{w: qs}
	msgs := make(chan []byte, 32)
	done := make(chan struct{})
	errs := make(chan error, 1)
	go feedFromReader(qs, strm, s.cfg.MaxFrameBytes, msgs, done, errs)

	switch m.Shape {
	case quill.HandlerUnary:
		payload, ok := awaitOne(cctx, msgs, done, errs)
		if !ok {
			writeAwaitError(qs, path, cctx, errs)
			return
		}
		req := m.NewRequest()
		if err := proto.Unmarshal(payload, req); err != nil {
			writeProblem(qs, path, quill.Wrap(quill.ErrorInvalidArgument, "malformed request", err))
			return
		}
		resp, err := m.Unary(cctx, req)
		if err != nil {
			writeProblem(qs, path, quill.AsQuillError(err))
			return
		}
		writeUnaryResponse(qs, resp)

	case quill.HandlerServerStream:
		payload, ok := awaitOne(cctx, msgs, done, errs)
		if !ok {
			writeAwaitError(qs, path, cctx, errs)
			return
		}
		req := m.NewRequest()
		if err := proto.Unmarshal(payload, req); err != nil {
			writeProblem(qs, path, quill.Wrap(quill.ErrorInvalidArgument, "malformed request", err))
			return
		}
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.ServerStream(cctx, req, sender); err != nil {
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			_ = qs.Close()
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)
		_ = qs.Close()

	case quill.HandlerClientStream:
		recv := quill.NewChanReceiver(cctx, msgs, done, errs)
		resp, err := m.ClientStream(cctx, recv)
		if err != nil {
			writeProblem(qs, path, quill.AsQuillError(err))
			return
		}
		writeUnaryResponse(qs, resp)

	case quill.HandlerBidi:
		recv := quill.NewChanReceiver(cctx, msgs, done, errs)
		sender := quill.NewStreamSender(cctx, strm, fw)
		if err := m.Bidi(cctx, recv, sender); err != nil {
			_ = fw.WriteFrame(quill.FlagCancel|quill.FlagEndStream, nil)
			_ = qs.Close()
			return
		}
		_ = fw.WriteFrame(quill.FlagEndStream, nil)
		_ = qs.Close()
	}
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

func writeAwaitError(qs quic.Stream, path string, cctx *quill.CallCtx, errs <-chan error) {
	select {
	case err := <-errs:
		writeProblem(qs, path, quill.AsQuillError(err))
	default:
		if ce := cctx.CanonicalErr(); ce != nil {
			writeProblem(qs, path, ce)
			return
		}
		writeProblem(qs, path, quill.NewError(quill.ErrorInvalidArgument, "stream ended before a complete frame arrived"))
	}
}

func writeUnaryResponse(qs quic.Stream, resp proto.Message) {
	payload, err := proto.Marshal(resp)
	if err != nil {
		writeProblem(qs, "", quill.Wrap(quill.ErrorInternal, "failed to marshal response", err))
		return
	}
	buf, _ := quill.AppendFrame(nil, quill.FlagData|quill.FlagEndStream, payload, 0)
	_, _ = qs.Write(buf)
	_ = qs.Close()
}

// writeProblem encodes a Problem Details document as a single DATA frame
// carrying JSON bytes; QUIC streams have no status-code concept of their
// own, so Hyper's error signaling rides inside the frame stream itself
// rather than a transport-level header as Classic/Turbo use.
func writeProblem(qs quic.Stream, instance string, err *quill.Error) {
	p := err.ToProblem(instance, "")
	b, _ := p.MarshalJSON()
	buf, _ := quill.AppendFrame(nil, quill.FlagData|quill.FlagEndStream|quill.FlagCancel, b, 0)
	_, _ = qs.Write(buf)
	_ = qs.Close()
}

// readHandshake reads the fixed opening handshake every Hyper stream
// begins with: varint(len(path)) path-bytes flags-byte varint(len(ticket))
// ticket-bytes.
func readHandshake(qs io.Reader) (path string, idempotentAttempt bool, ticketID string, err error) {
	var hdr [10]byte
	n, err := io.ReadFull(qs, hdr[:1])
	if err != nil || n < 1 {
		return "", false, "", fmt.Errorf("quill/hyper: failed to read handshake length prefix: %w", err)
	}
	// Re-read length as a varint, one byte at a time per LEB128 continuation.
	varintBuf := []byte{hdr[0]}
	for varintBuf[len(varintBuf)-1]&0x80 != 0 {
		var b [1]byte
		if _, err := io.ReadFull(qs, b[:]); err != nil {
			return "", false, "", err
		}
		varintBuf = append(varintBuf, b[0])
	}
	pathLen, nRead := protowire.ConsumeVarint(varintBuf)
	if nRead < 0 {
		return "", false, "", fmt.Errorf("quill/hyper: malformed handshake path length")
	}
	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(qs, pathBytes); err != nil {
		return "", false, "", err
	}
	var flagByte [1]byte
	if _, err := io.ReadFull(qs, flagByte[:]); err != nil {
		return "", false, "", err
	}
	ticketLenBuf := []byte{}
	for {
		var b [1]byte
		if _, err := io.ReadFull(qs, b[:]); err != nil {
			return "", false, "", err
		}
		ticketLenBuf = append(ticketLenBuf, b[0])
		if b[0]&0x80 == 0 {
			break
		}
	}
	ticketLen, nRead2 := protowire.ConsumeVarint(ticketLenBuf)
	if nRead2 < 0 {
		return "", false, "", fmt.Errorf("quill/hyper: malformed handshake ticket length")
	}
	ticketBytes := make([]byte, ticketLen)
	if ticketLen > 0 {
		if _, err := io.ReadFull(qs, ticketBytes); err != nil {
			return "", false, "", err
		}
	}
	return string(pathBytes), flagByte[0]&handshakeFlagIdempotent != 0, string(ticketBytes), nil
}

// appendHandshake is the client-side encoder matching readHandshake.
func appendHandshake(dst []byte, path string, idempotentAttempt bool, ticketID string) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(path)))
	dst = append(dst, path...)
	var flags byte
	if idempotentAttempt {
		flags = handshakeFlagIdempotent
	}
	dst = append(dst, flags)
	dst = protowire.AppendVarint(dst, uint64(len(ticketID)))
	dst = append(dst, ticketID...)
	return dst
}

func feedFromReader(r io.Reader, strm *quill.Stream, maxFrameBytes int, msgs chan<- []byte, done chan<- struct{}, errs chan<- error) {
	defer close(done)
	defer close(msgs)

	parser := quill.NewParser(maxFrameBytes)
	buf := make([]byte, 16*1024)
	for {
		n, rerr := r.Read(buf)
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
					errs <- quill.Wrap(quill.ErrorInternal, "malformed frame", perr)
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

// quicFrameWriter writes frames directly to a QUIC stream's send side.
type quicFrameWriter struct {
	w   io.Writer
	buf []byte
}

func (q *quicFrameWriter) WriteFrame(flags quill.Flags, payload []byte) error {
	var err error
	q.buf, err = quill.AppendFrame(q.buf[:0], flags, payload, 0)
	if err != nil {
		return err
	}
	_, err = q.w.Write(q.buf)
	return err
}
