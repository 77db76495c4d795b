// Package wire holds the small byte-twiddling helpers shared by the frame
// codec and the tensor-extended framing. It has no knowledge of streams,
// credit, or transports — only bytes.
package wire

import "unsafe"

// Uint32ToBytes writes n into b[:4] big-endian. Used for the tensor frame's
// `reserved` and `length` header fields.
func Uint32ToBytes(b []byte, n uint32) {
	_ = b[3] // bound check hint
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
}

// BytesToUint32 reads a big-endian uint32 from b[:4].
func BytesToUint32(b []byte) uint32 {
	_ = b[3] // bound check hint
	return uint32(b[0])<<24 |
		uint32(b[1])<<16 |
		uint32(b[2])<<8 |
		uint32(b[3])
}

// Resize grows b (reusing its backing array when there's capacity) so that
// len(b) == neededLen.
func Resize(b []byte, neededLen int) []byte {
	b = b[:cap(b)]
	if n := neededLen - len(b); n > 0 {
		b = append(b, make([]byte, n)...)
	}
	return b[:neededLen]
}

// BytesToString converts b to a string without copying. The caller must not
// mutate b afterwards.
func BytesToString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringToBytes converts s to a []byte without copying. The returned slice
// must not be mutated.
func StringToBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
