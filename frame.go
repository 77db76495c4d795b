package quill

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// Flags is the bitmask carried by every base-framed Quill frame.
type Flags uint8

const (
	FlagData      Flags = 0x01
	FlagEndStream Flags = 0x02
	FlagCancel    Flags = 0x04
	FlagCredit    Flags = 0x08
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	add := func(bit Flags, name string) {
		if f.Has(bit) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(FlagData, "DATA")
	add(FlagEndStream, "END_STREAM")
	add(FlagCancel, "CANCEL")
	add(FlagCredit, "CREDIT")
	return s
}

// Frame is a pooled, reusable base-framed wire unit: a decoded (flags,
// payload) pair belonging to whichever stream the transport adapter says it
// belongs to. Frames carry no identity of their own, per the data model.
type Frame struct {
	Flags   Flags
	Payload []byte
}

var framePool = sync.Pool{
	New: func() interface{} { return new(Frame) },
}

// AcquireFrame returns a zeroed Frame from the pool.
func AcquireFrame() *Frame {
	return framePool.Get().(*Frame)
}

// ReleaseFrame returns fr to the pool. The caller must not use fr afterwards.
func ReleaseFrame(fr *Frame) {
	fr.Reset()
	framePool.Put(fr)
}

func (fr *Frame) Reset() {
	fr.Flags = 0
	fr.Payload = fr.Payload[:0]
}

// CopyTo deep-copies fr into dst, growing dst.Payload's backing array if
// there is spare capacity rather than always allocating.
func (fr *Frame) CopyTo(dst *Frame) {
	dst.Flags = fr.Flags
	dst.Payload = append(dst.Payload[:0], fr.Payload...)
}

// EncodedLen reports the number of bytes AppendFrame will write for payload.
func EncodedLen(payload []byte) int {
	return protowire.SizeVarint(uint64(len(payload))) + 1 + len(payload)
}

// AppendFrame appends the wire encoding of (flags, payload) to dst and
// returns the grown slice. This is the zero-copy-friendly path: callers
// that already own a scratch buffer avoid an extra allocation by reusing
// dst across calls (the "write into provided buffer" path §4.1 asks for).
//
// Returns a ResourceExhausted *Error if len(payload) exceeds maxFrameBytes; pass
// maxFrameBytes <= 0 to use DefaultMaxFrameBytes.
func AppendFrame(dst []byte, flags Flags, payload []byte, maxFrameBytes int) ([]byte, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	if len(payload) > maxFrameBytes {
		return dst, newResourceExhausted(fmt.Sprintf("frame payload %d bytes exceeds max_frame_bytes %d", len(payload), maxFrameBytes))
	}
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	dst = append(dst, byte(flags))
	dst = append(dst, payload...)
	return dst, nil
}

// DecodeFrame decodes a single complete base frame from b, which must hold
// exactly one encoded frame (no trailing bytes). Most callers should use
// Parser instead, which tolerates arbitrary chunk boundaries; DecodeFrame
// exists for the round-trip law in §8 invariant 1 and for tests.
func DecodeFrame(b []byte) (Flags, []byte, error) {
	length, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, ErrMalformedVarint
	}
	b = b[n:]
	if len(b) < 1 {
		return 0, nil, ErrTruncatedFrame
	}
	flags := Flags(b[0])
	b = b[1:]
	if uint64(len(b)) < length {
		return 0, nil, ErrTruncatedFrame
	}
	if uint64(len(b)) != length {
		return 0, nil, fmt.Errorf("quill: %d trailing bytes after frame", len(b)-int(length))
	}
	payload := make([]byte, length)
	copy(payload, b[:length])
	return flags, payload, nil
}
