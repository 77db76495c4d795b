package quill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMethodPathRendersFullyQualifiedRoute(t *testing.T) {
	m := &Method{Package: "quill.test", Service: "Widgets", Name: "Get"}
	require.Equal(t, "/quill.test.Widgets/Get", m.Path())
}
