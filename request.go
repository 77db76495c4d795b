package quill

import (
	"google.golang.org/protobuf/proto"
)

// FrameWriter is the narrow interface streamSender needs from a transport
// adapter: write one base-framed DATA/CREDIT/CANCEL frame to the wire.
// Each transport (classic/turbo/hyper) supplies its own implementation —
// this is the seam DESIGN.md calls out as replacing the teacher's single
// `RequestHandler func(*fasthttp.RequestCtx)` contract with something
// transport-independent.
type FrameWriter interface {
	WriteFrame(flags Flags, payload []byte) error
}

// chanReceiver is the Receiver implementation handed to handlers: messages
// arrive off a channel fed by the transport adapter's read loop in arrival
// order, exactly as the teacher's request.go decodes DATA frames into a
// body buffer one at a time.
type chanReceiver struct {
	cctx *CallCtx
	msgs <-chan []byte
	done <-chan struct{} // closed once END_STREAM observed, no more sends on msgs
	errs <-chan error
}

// NewChanReceiver constructs a Receiver reading decoded message payloads
// from msgs. The transport adapter owns closing msgs/feeding errs.
func NewChanReceiver(cctx *CallCtx, msgs <-chan []byte, done <-chan struct{}, errs <-chan error) Receiver {
	return &chanReceiver{cctx: cctx, msgs: msgs, done: done, errs: errs}
}

func (r *chanReceiver) Recv(msg proto.Message) (bool, error) {
	select {
	case <-r.cctx.Done():
		if ce := r.cctx.CanonicalErr(); ce != nil {
			return false, ce
		}
		return false, NewError(ErrorCancelled, "")
	case err := <-r.errs:
		return false, err
	case payload, ok := <-r.msgs:
		if !ok {
			return false, nil
		}
		if err := proto.Unmarshal(payload, msg); err != nil {
			return false, Wrap(ErrorInvalidArgument, "malformed request message", err)
		}
		return true, nil
	}
}
