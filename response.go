package quill

import (
	"google.golang.org/protobuf/proto"
)

// streamSender is the Sender implementation handed to handlers: each Send
// marshals msg, blocks on send-side flow-control credit, then writes a
// DATA frame via the transport adapter's FrameWriter. Grounded on the
// teacher's streamWrite.Write chunked DATA-frame body writer
// (serverConn.go), generalized from raw bytes to one proto.Message per
// frame and from a hard window to the Flow Controller abstraction.
type streamSender struct {
	cctx   *CallCtx
	strm   *Stream
	writer FrameWriter

	endStreamOnFinalSend bool
}

func NewStreamSender(cctx *CallCtx, strm *Stream, writer FrameWriter) Sender {
	return &streamSender{cctx: cctx, strm: strm, writer: writer}
}

func (s *streamSender) Send(msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return Wrap(ErrorInternal, "failed to marshal response message", err)
	}

	if err := s.strm.SendCredit.Wait(s.cctx.Context()); err != nil {
		if ce := s.cctx.CanonicalErr(); ce != nil {
			return ce
		}
		return NewError(ErrorCancelled, "")
	}
	if !s.strm.SendCredit.TryConsume(1) {
		// Credit was granted to someone else between Wait and TryConsume;
		// the caller should retry. Surfaced as Unavailable rather than
		// silently dropping the message.
		return NewError(ErrorUnavailable, "send credit contention")
	}

	if err := s.strm.ObserveSendFrame(false); err != nil {
		return err
	}
	return s.writer.WriteFrame(FlagData, payload)
}

// sendUnary writes a single DATA|END_STREAM frame — the UNARY and the
// final SERVER_STREAM/CLIENT_STREAM response shape (§4.5).
func sendUnary(cctx *CallCtx, strm *Stream, writer FrameWriter, msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return Wrap(ErrorInternal, "failed to marshal response message", err)
	}
	if err := strm.ObserveSendFrame(true); err != nil {
		return err
	}
	return writer.WriteFrame(FlagData|FlagEndStream, payload)
}

// sendEndStream writes the bare END_STREAM frame that terminates a
// SERVER_STREAM/BIDI response sequence (scenario (b): `00 02`).
func sendEndStream(strm *Stream, writer FrameWriter) error {
	if err := strm.ObserveSendFrame(true); err != nil {
		return err
	}
	return writer.WriteFrame(FlagEndStream, nil)
}

// sendError converts err into a canonical Error and returns it to the
// caller for Problem Details rendering at the transport boundary; it does
// not itself write a frame, since unary/streaming error responses ride as
// ordinary HTTP error responses (§4.3), not as Quill frames.
func sendError(err error) *Error {
	return AsQuillError(err)
}
