package quill

import "google.golang.org/protobuf/proto"

func unmarshalInto(msg proto.Message, payload []byte) *Error {
	if err := proto.Unmarshal(payload, msg); err != nil {
		return Wrap(ErrorInvalidArgument, "malformed request message", err)
	}
	return nil
}

func marshalFrom(msg proto.Message) ([]byte, *Error) {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, Wrap(ErrorInternal, "failed to marshal response message", err)
	}
	return payload, nil
}
