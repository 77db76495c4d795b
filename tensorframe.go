package quill

import (
	"errors"

	"github.com/jeffhajewski/quill/wire"
)

// TensorFrameType is the extended framing's type byte, carrying a richer
// type space than the base framing's 4 flag bits (§3, §6).
type TensorFrameType uint8

const (
	TensorProtoMsg     TensorFrameType = 0x01
	TensorEndStream    TensorFrameType = 0x02
	TensorCancel       TensorFrameType = 0x04
	TensorCredit       TensorFrameType = 0x08
	TensorMeta         TensorFrameType = 0x10
	TensorPayload      TensorFrameType = 0x11
	TensorTokenBatch   TensorFrameType = 0x20
)

const tensorHeaderLen = 9 // 1 (type) + 4 (reserved) + 4 (length)

var ErrTensorTruncatedHeader = errors.New("quill: truncated tensor frame header")

// TensorFrame is the extended variant's decoded unit: `<type u8> <reserved
// u32 BE> <length u32 BE> <payload>`. It exists alongside the base Frame
// encoding rather than replacing it. Nothing in this module negotiates or
// auto-detects it: the transport adapters decode only base frames, and
// callers use AppendTensorFrame/TensorParser directly.
type TensorFrame struct {
	Type     TensorFrameType
	Reserved uint32
	Payload  []byte
}

func (tf *TensorFrame) Reset() {
	tf.Type = 0
	tf.Reserved = 0
	tf.Payload = tf.Payload[:0]
}

// AppendTensorFrame appends the wire encoding of tf to dst.
func AppendTensorFrame(dst []byte, typ TensorFrameType, reserved uint32, payload []byte, maxFrameBytes int) ([]byte, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	if len(payload) > maxFrameBytes {
		return dst, newResourceExhausted("tensor frame payload exceeds max_frame_bytes")
	}
	header := make([]byte, tensorHeaderLen)
	header[0] = byte(typ)
	wire.Uint32ToBytes(header[1:5], reserved)
	wire.Uint32ToBytes(header[5:9], uint32(len(payload)))
	dst = append(dst, header...)
	dst = append(dst, payload...)
	return dst, nil
}

// TensorParser incrementally decodes extended tensor frames, mirroring
// Parser's chunk-tolerant design but keyed on the fixed 9-byte header
// instead of a variable-length varint prefix.
type TensorParser struct {
	maxFrameBytes int

	buf       []byte
	haveHead  bool
	typ       TensorFrameType
	reserved  uint32
	length    uint32
	payload   []byte

	failed bool
	err    error
}

func NewTensorParser(maxFrameBytes int) *TensorParser {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &TensorParser{maxFrameBytes: maxFrameBytes}
}

func (p *TensorParser) Feed(b []byte) {
	if p.failed || len(b) == 0 {
		return
	}
	p.buf = append(p.buf, b...)
}

func (p *TensorParser) InProgress() bool {
	return p.haveHead || len(p.buf) > 0
}

func (p *TensorParser) Poll() (ParseOutcome, TensorFrameType, uint32, []byte, error) {
	if p.failed {
		return ParseFailed, 0, 0, nil, p.err
	}

	if !p.haveHead {
		if len(p.buf) < tensorHeaderLen {
			return NeedMoreData, 0, 0, nil, nil
		}
		head := p.buf[:tensorHeaderLen]
		p.buf = p.buf[tensorHeaderLen:]
		p.typ = TensorFrameType(head[0])
		p.reserved = wire.BytesToUint32(head[1:5])
		p.length = wire.BytesToUint32(head[5:9])
		if int(p.length) > p.maxFrameBytes {
			p.failed = true
			p.err = ErrOversizedFrame
			return ParseFailed, 0, 0, nil, p.err
		}
		p.haveHead = true
	}

	remaining := int(p.length) - len(p.payload)
	if remaining > 0 {
		if len(p.buf) == 0 {
			return NeedMoreData, 0, 0, nil, nil
		}
		take := remaining
		if take > len(p.buf) {
			take = len(p.buf)
		}
		p.payload = append(p.payload, p.buf[:take]...)
		p.buf = p.buf[take:]
		remaining -= take
	}
	if remaining > 0 {
		return NeedMoreData, 0, 0, nil, nil
	}

	out := p.payload
	if out == nil {
		out = []byte{}
	}
	typ, reserved := p.typ, p.reserved
	p.payload = nil
	p.haveHead = false
	p.typ, p.reserved, p.length = 0, 0, 0
	return FrameReady, typ, reserved, out, nil
}

func (p *TensorParser) Err() error { return p.err }
