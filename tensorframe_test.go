package quill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTensorFrameAppendPollRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		typ      TensorFrameType
		reserved uint32
		payload  []byte
	}{
		{"proto msg", TensorProtoMsg, 0, []byte("hello")},
		{"empty payload", TensorEndStream, 0, nil},
		{"token batch with reserved bits", TensorTokenBatch, 0xdeadbeef, []byte{1, 2, 3, 4, 5}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf, err := AppendTensorFrame(nil, c.typ, c.reserved, c.payload, 0)
			require.NoError(t, err)

			p := NewTensorParser(0)
			p.Feed(buf)
			outcome, typ, reserved, payload, err := p.Poll()
			require.NoError(t, err)
			require.Equal(t, FrameReady, outcome)
			require.Equal(t, c.typ, typ)
			require.Equal(t, c.reserved, reserved)
			require.Equal(t, len(c.payload), len(payload))
		})
	}
}

func TestTensorFrameOversizedRejected(t *testing.T) {
	_, err := AppendTensorFrame(nil, TensorProtoMsg, 0, make([]byte, 100), 10)
	require.Error(t, err)
}

func TestTensorParserFeedsByteAtATime(t *testing.T) {
	buf, err := AppendTensorFrame(nil, TensorMeta, 7, []byte("payload-data"), 0)
	require.NoError(t, err)

	p := NewTensorParser(0)
	var outcome ParseOutcome
	var typ TensorFrameType
	var reserved uint32
	var payload []byte
	for _, b := range buf {
		p.Feed([]byte{b})
		outcome, typ, reserved, payload, err = p.Poll()
		require.NoError(t, err)
		if outcome == FrameReady {
			break
		}
		require.Equal(t, NeedMoreData, outcome)
	}
	require.Equal(t, FrameReady, outcome)
	require.Equal(t, TensorMeta, typ)
	require.Equal(t, uint32(7), reserved)
	require.Equal(t, []byte("payload-data"), payload)
}

func TestTensorParserMultipleFramesInOneFeed(t *testing.T) {
	first, err := AppendTensorFrame(nil, TensorProtoMsg, 1, []byte("a"), 0)
	require.NoError(t, err)
	second, err := AppendTensorFrame(nil, TensorCredit, 2, []byte("bb"), 0)
	require.NoError(t, err)

	p := NewTensorParser(0)
	p.Feed(append(first, second...))

	outcome, typ, _, payload, err := p.Poll()
	require.NoError(t, err)
	require.Equal(t, FrameReady, outcome)
	require.Equal(t, TensorProtoMsg, typ)
	require.Equal(t, []byte("a"), payload)

	outcome, typ, _, payload, err = p.Poll()
	require.NoError(t, err)
	require.Equal(t, FrameReady, outcome)
	require.Equal(t, TensorCredit, typ)
	require.Equal(t, []byte("bb"), payload)
}

func TestTensorParserOversizedHeaderFails(t *testing.T) {
	p := NewTensorParser(4)
	buf, err := AppendTensorFrame(nil, TensorProtoMsg, 0, []byte("toolong"), 0)
	require.NoError(t, err)

	p.Feed(buf)
	outcome, _, _, _, err := p.Poll()
	require.Equal(t, ParseFailed, outcome)
	require.ErrorIs(t, err, ErrOversizedFrame)
}

func TestTensorFrameReset(t *testing.T) {
	tf := &TensorFrame{Type: TensorMeta, Reserved: 9, Payload: []byte("x")}
	tf.Reset()
	require.Equal(t, TensorFrameType(0), tf.Type)
	require.Equal(t, uint32(0), tf.Reserved)
	require.Len(t, tf.Payload, 0)
}
