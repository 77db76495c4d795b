package quill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendFrameDecodeFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		flags   Flags
		payload []byte
	}{
		{"empty payload", FlagData | FlagEndStream, nil},
		{"data only", FlagData, []byte("hello")},
		{"cancel", FlagCancel, []byte{0x01, 0x02, 0x03}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := AppendFrame(nil, tc.flags, tc.payload, 0)
			require.NoError(t, err)

			flags, payload, err := DecodeFrame(buf)
			require.NoError(t, err)
			require.Equal(t, tc.flags, flags)
			require.Equal(t, len(tc.payload), len(payload))
		})
	}
}

func TestAppendFrameOversized(t *testing.T) {
	_, err := AppendFrame(nil, FlagData, make([]byte, 100), 10)
	require.Error(t, err)
	qerr := AsQuillError(err)
	require.Equal(t, ErrorResourceExhausted, qerr.Kind)
}

func TestParserFeedsInArbitraryChunks(t *testing.T) {
	wire, err := AppendFrame(nil, FlagData|FlagEndStream, []byte("chunked payload"), 0)
	require.NoError(t, err)

	p := NewParser(0)
	for _, b := range wire {
		p.Feed([]byte{b})
		outcome, flags, payload, perr := p.Poll()
		if outcome == FrameReady {
			require.NoError(t, perr)
			require.Equal(t, FlagData|FlagEndStream, flags)
			require.Equal(t, "chunked payload", string(payload))
			return
		}
		require.Equal(t, NeedMoreData, outcome)
	}
	t.Fatal("parser never produced a frame")
}

func TestParserMultipleFramesInOneFeed(t *testing.T) {
	var wire []byte
	wire, _ = AppendFrame(wire, FlagData, []byte("one"), 0)
	wire, _ = AppendFrame(wire, FlagData|FlagEndStream, []byte("two"), 0)

	p := NewParser(0)
	p.Feed(wire)

	var got []string
	for {
		outcome, _, payload, err := p.Poll()
		require.NoError(t, err)
		if outcome != FrameReady {
			break
		}
		got = append(got, string(payload))
	}
	require.Equal(t, []string{"one", "two"}, got)
}

func TestParserMalformedVarintFails(t *testing.T) {
	p := NewParser(0)
	p.Feed([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80})
	outcome, _, _, err := p.Poll()
	require.Equal(t, ParseFailed, outcome)
	require.Error(t, err)
}
