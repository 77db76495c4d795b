package quill

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/stretchr/testify/require"
)

func newTestMethod(idempotent bool) *Method {
	return &Method{
		Package:    "quill.test",
		Service:    "Widgets",
		Name:       "Get",
		Shape:      HandlerUnary,
		NewRequest: func() proto.Message { return new(wrapperspb.StringValue) },
		Idempotent: idempotent,
		Unary: func(cctx *CallCtx, req proto.Message) (proto.Message, error) {
			return req, nil
		},
	}
}

func TestParsePathSplitsOnLastDot(t *testing.T) {
	parsed, ok := ParsePath("/com.example.v1.Foo/Bar")
	require.True(t, ok)
	require.Equal(t, "com.example.v1", parsed.Package)
	require.Equal(t, "Foo", parsed.Service)
	require.Equal(t, "Bar", parsed.Method)
}

func TestParsePathRejectsMalformed(t *testing.T) {
	cases := []string{"", "/", "/noslash", "/pkg.Service/", "/.Service/Method"}
	for _, p := range cases {
		_, ok := ParsePath(p)
		require.False(t, ok, p)
	}
}

func TestRouterRegisterAndLookup(t *testing.T) {
	r := NewRouter()
	m := newTestMethod(true)
	require.NoError(t, r.Register(m))
	r.Seal()

	got, err := r.Lookup("/quill.test.Widgets/Get")
	require.Nil(t, err)
	require.Same(t, m, got)
}

func TestRouterLookupMiss(t *testing.T) {
	r := NewRouter()
	r.Seal()
	_, err := r.Lookup("/quill.test.Widgets/Get")
	require.NotNil(t, err)
	require.Equal(t, ErrorNotFound, err.Kind)
}

func TestRouterRejectsDuplicateRegistration(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Register(newTestMethod(true)))
	require.Error(t, r.Register(newTestMethod(true)))
}

func TestRouterRejectsRegistrationAfterSeal(t *testing.T) {
	r := NewRouter()
	r.Seal()
	require.Error(t, r.Register(newTestMethod(true)))
}

func TestCheckMethodAllowed(t *testing.T) {
	idempotentMethod := newTestMethod(true)
	nonIdempotentMethod := newTestMethod(false)

	require.Nil(t, CheckMethodAllowed(idempotentMethod, "POST"))
	require.Nil(t, CheckMethodAllowed(idempotentMethod, "GET"))

	require.Nil(t, CheckMethodAllowed(nonIdempotentMethod, "POST"))
	err := CheckMethodAllowed(nonIdempotentMethod, "GET")
	require.NotNil(t, err)
	require.Equal(t, 405, err.Status())

	err = CheckMethodAllowed(idempotentMethod, "DELETE")
	require.NotNil(t, err)
	require.Equal(t, 405, err.Status())
}
