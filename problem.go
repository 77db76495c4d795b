package quill

import (
	"encoding/base64"
	"encoding/json"
)

// Problem is the RFC 7807 Problem Details envelope Quill returns for every
// error response — never a 200 with an error payload (§7).
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`

	// ProtoType/ProtoDetailB64 are the well-known typed-detail extensions
	// (§3): the fully-qualified protobuf type name, and the base64 of a
	// protobuf message of that type, carried together so bridges can
	// forward a detail without knowing its schema.
	ProtoType       string `json:"quill_proto_type,omitempty"`
	ProtoDetailB64  string `json:"quill_proto_detail_base64,omitempty"`
}

// ContentTypeProblem is the Content-Type every Problem response carries.
const ContentTypeProblem = "application/problem+json"

// ToProblem converts a canonical Error into its wire Problem Details form.
// instance and traceID are attached by the caller (the router has the
// request path and trace context; Error itself has neither).
func (e *Error) ToProblem(instance, traceID string) *Problem {
	p := &Problem{
		Type:     e.Kind.TypeURI(),
		Title:    e.Kind.Title(),
		Status:   e.Status(),
		Detail:   e.Detail,
		Instance: instance,
		TraceID:  traceID,
	}
	if e.ProtoType != "" {
		p.ProtoType = e.ProtoType
		p.ProtoDetailB64 = base64.StdEncoding.EncodeToString(e.ProtoDetail)
	}
	return p
}

// MarshalJSON serializes p. Defined explicitly (rather than relying on the
// struct tags alone) so the wire shape stays stable even if fields are
// reordered later.
func (p *Problem) MarshalJSON() ([]byte, error) {
	type alias Problem
	return json.Marshal((*alias)(p))
}

// DecodeProblem parses a Problem Details JSON body, e.g. one received by a
// client from a Quill server or bridged REST gateway.
func DecodeProblem(b []byte) (*Problem, error) {
	p := new(Problem)
	if err := json.Unmarshal(b, p); err != nil {
		return nil, Wrap(ErrorInvalidArgument, "malformed problem+json body", err)
	}
	return p, nil
}

// ProtoDetail decodes the base64 typed-detail bytes, if present.
func (p *Problem) ProtoDetail() ([]byte, error) {
	if p.ProtoDetailB64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(p.ProtoDetailB64)
}
