package quill

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformedVarint is surfaced when a length prefix is not a valid
	// unsigned LEB128 varint (all 5 buffered bytes carry the continuation
	// bit, or protobuf's own decoder rejects it).
	ErrMalformedVarint = errors.New("quill: malformed frame length varint")
	// ErrOversizedFrame is surfaced when a decoded length exceeds the
	// connection's max_frame_bytes.
	ErrOversizedFrame = errors.New("quill: frame exceeds max_frame_bytes")
	// ErrTruncatedFrame is surfaced by callers (not Parser itself) when the
	// underlying byte stream ends while a frame is still in progress.
	ErrTruncatedFrame = errors.New("quill: truncated frame payload")
)

// ParseOutcome is the result of one Parser.Poll call.
type ParseOutcome uint8

const (
	// NeedMoreData means Poll made no progress; call Feed before polling
	// again.
	NeedMoreData ParseOutcome = iota
	// FrameReady means Poll produced exactly one complete frame.
	FrameReady
	// ParseFailed means the parser hit malformed input and will return
	// ParseFailed on every subsequent Poll call without consuming further
	// bytes, per §4.1's "MUST surface errors without consuming further
	// bytes after an error".
	ParseFailed
)

type parseStage uint8

const (
	stageLength parseStage = iota
	stageFlags
	stagePayload
)

// Parser incrementally decodes base-framed Quill frames from a byte stream
// delivered in arbitrary chunks via Feed. It never panics on malformed
// input (§4.1) and satisfies §8 invariant 2: whatever chunk boundaries
// Feed is called with, Poll yields the same frame sequence the bytes
// encode.
//
// Parser is not safe for concurrent use; each connection/stream direction
// owns one.
type Parser struct {
	maxFrameBytes int

	buf   []byte
	stage parseStage

	varintBuf [5]byte // partial-varint buffer, per §4.1
	varintLen int

	length  uint64
	flags   Flags
	payload []byte

	failed bool
	err    error
}

// NewParser constructs a Parser bounding frame payloads to maxFrameBytes.
// Pass 0 to use DefaultMaxFrameBytes.
func NewParser(maxFrameBytes int) *Parser {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Parser{maxFrameBytes: maxFrameBytes}
}

// Feed appends newly arrived bytes to the parser's internal buffer. Safe to
// call with any chunk size, including a single byte. A Feed after the
// parser has failed is a no-op.
func (p *Parser) Feed(b []byte) {
	if p.failed || len(b) == 0 {
		return
	}
	p.buf = append(p.buf, b...)
}

// InProgress reports whether a frame is partially parsed — used by
// transport adapters to map an unexpected EOF to ErrTruncatedFrame instead
// of a clean connection close.
func (p *Parser) InProgress() bool {
	return p.stage != stageLength || p.varintLen != 0
}

// Poll attempts to make progress on the frame currently in flight. Call it
// in a loop until it returns NeedMoreData; each FrameReady result yields
// one complete, independently owned payload slice.
func (p *Parser) Poll() (ParseOutcome, Flags, []byte, error) {
	if p.failed {
		return ParseFailed, 0, nil, p.err
	}

	for {
		switch p.stage {
		case stageLength:
			for {
				if len(p.buf) == 0 {
					return NeedMoreData, 0, nil, nil
				}
				if p.varintLen == len(p.varintBuf) {
					return p.fail(ErrMalformedVarint)
				}
				b := p.buf[0]
				p.buf = p.buf[1:]
				p.varintBuf[p.varintLen] = b
				p.varintLen++
				if b&0x80 == 0 {
					break
				}
			}
			n, sz := protowire.ConsumeVarint(p.varintBuf[:p.varintLen])
			p.varintLen = 0
			if sz < 0 {
				return p.fail(ErrMalformedVarint)
			}
			if n > uint64(p.maxFrameBytes) {
				return p.fail(ErrOversizedFrame)
			}
			p.length = n
			p.stage = stageFlags

		case stageFlags:
			if len(p.buf) == 0 {
				return NeedMoreData, 0, nil, nil
			}
			p.flags = Flags(p.buf[0])
			p.buf = p.buf[1:]
			p.stage = stagePayload

		case stagePayload:
			remaining := int(p.length) - len(p.payload)
			if remaining > 0 {
				if len(p.buf) == 0 {
					return NeedMoreData, 0, nil, nil
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
				return NeedMoreData, 0, nil, nil
			}
			out := p.payload
			if out == nil {
				out = []byte{}
			}
			p.payload = nil
			p.length = 0
			p.stage = stageLength
			return FrameReady, p.flags, out, nil
		}
	}
}

func (p *Parser) fail(err error) (ParseOutcome, Flags, []byte, error) {
	p.failed = true
	p.err = err
	return ParseFailed, 0, nil, err
}

// Err returns the terminal error once the parser has failed, or nil.
func (p *Parser) Err() error { return p.err }
