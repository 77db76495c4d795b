package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint32BytesRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 255, 256, 65535, 1 << 24, 0xFFFFFFFF}
	for _, n := range cases {
		buf := make([]byte, 4)
		Uint32ToBytes(buf, n)
		require.Equal(t, n, BytesToUint32(buf))
	}
}

func TestUint32ToBytesIsBigEndian(t *testing.T) {
	buf := make([]byte, 4)
	Uint32ToBytes(buf, 0x01020304)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf)
}

func TestResizeGrowsAndReusesCapacity(t *testing.T) {
	b := make([]byte, 2, 16)
	b[0], b[1] = 'a', 'b'

	grown := Resize(b, 4)
	require.Len(t, grown, 4)
	require.Equal(t, byte('a'), grown[0])
	require.Equal(t, byte('b'), grown[1])
}

func TestResizeShrinks(t *testing.T) {
	b := make([]byte, 8)
	shrunk := Resize(b, 3)
	require.Len(t, shrunk, 3)
}

func TestBytesStringRoundTrip(t *testing.T) {
	s := "hello quill"
	b := StringToBytes(s)
	require.Equal(t, s, BytesToString(b))
}
