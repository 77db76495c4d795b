package quill

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	payload, err := marshalFrom(wrapperspb.String("round trip"))
	require.Nil(t, err)

	var got wrapperspb.StringValue
	require.Nil(t, unmarshalInto(&got, payload))
	require.Equal(t, "round trip", got.GetValue())
}

func TestUnmarshalIntoRejectsMalformedPayload(t *testing.T) {
	var got wrapperspb.StringValue
	err := unmarshalInto(&got, []byte{0xff, 0xff, 0xff, 0xff, 0xff})
	require.NotNil(t, err)
	require.Equal(t, ErrorInvalidArgument, err.Kind)
}
