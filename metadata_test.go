package quill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataCanonicalizesKeys(t *testing.T) {
	m := NewMetadata()
	m.Add("X-Trace-Id", "abc")
	require.Equal(t, "abc", m.Get("x-trace-id"))
	require.Equal(t, "abc", m.Get("X-TRACE-ID"))
}

func TestMetadataAddAppends(t *testing.T) {
	m := NewMetadata()
	m.Add("tag", "one")
	m.Add("tag", "two")
	require.Equal(t, []string{"one", "two"}, m.Values("tag"))
	require.Equal(t, "one", m.Get("tag"))
}

func TestMetadataSetReplaces(t *testing.T) {
	m := NewMetadata()
	m.Add("tag", "one")
	m.Set("tag", "replaced")
	require.Equal(t, []string{"replaced"}, m.Values("tag"))
}

func TestMetadataDel(t *testing.T) {
	m := NewMetadata()
	m.Add("tag", "one")
	m.Del("tag")
	require.Equal(t, "", m.Get("tag"))
	require.Nil(t, m.Values("tag"))
}

func TestMetadataVisitAllPreservesInsertionOrder(t *testing.T) {
	m := NewMetadata()
	m.Add("b", "1")
	m.Add("a", "1")
	m.Add("b", "2")

	var keys []string
	m.VisitAll(func(key string, values []string) {
		keys = append(keys, key)
	})
	require.Equal(t, []string{"b", "a"}, keys)
}

func TestMetadataClone(t *testing.T) {
	m := NewMetadata()
	m.Add("tag", "one")
	clone := m.Clone()
	clone.Add("tag", "two")

	require.Equal(t, []string{"one"}, m.Values("tag"))
	require.Equal(t, []string{"one", "two"}, clone.Values("tag"))
}
