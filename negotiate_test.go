package quill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePreferList(t *testing.T) {
	prefs := ParsePreferList("Prefer: prism=hyper,turbo,classic")
	require.Equal(t, []Profile{ProfileHyper, ProfileTurbo, ProfileClassic}, prefs)
}

func TestParsePreferListDropsUnknownTokens(t *testing.T) {
	prefs := ParsePreferList("prism=turbo,quantum,classic")
	require.Equal(t, []Profile{ProfileTurbo, ProfileClassic}, prefs)
}

func TestPreferHeaderRoundTrip(t *testing.T) {
	header := PreferHeader([]Profile{ProfileHyper, ProfileClassic})
	require.Equal(t, "prism=hyper,classic", header)
}

func TestNegotiatePicksFirstSupportedAtOrAboveMin(t *testing.T) {
	n := NewNegotiator([]Profile{ProfileClassic, ProfileTurbo})
	chosen, err := n.Negotiate([]Profile{ProfileHyper, ProfileTurbo, ProfileClassic}, ProfileClassic)
	require.NoError(t, err)
	require.Equal(t, ProfileTurbo, chosen)
}

func TestNegotiateRespectsRouteMinimum(t *testing.T) {
	n := NewNegotiator([]Profile{ProfileClassic, ProfileTurbo})
	_, err := n.Negotiate([]Profile{ProfileClassic}, ProfileTurbo)
	require.Error(t, err)
	var noIntersection *NoIntersectionError
	require.ErrorAs(t, err, &noIntersection)
}

func TestAllowZeroRTTGatesOnIdempotency(t *testing.T) {
	n := NewNegotiator([]Profile{ProfileHyper})
	require.False(t, n.AllowZeroRTT(false, "ticket-1"))
	require.True(t, n.AllowZeroRTT(true, "ticket-1"))
}

func TestAllowZeroRTTRejectsReplay(t *testing.T) {
	n := NewNegotiator([]Profile{ProfileHyper})
	require.True(t, n.AllowZeroRTT(true, "ticket-dup"))
	require.False(t, n.AllowZeroRTT(true, "ticket-dup"))
}

func TestAllowZeroRTTRequiresTicket(t *testing.T) {
	n := NewNegotiator([]Profile{ProfileHyper})
	require.False(t, n.AllowZeroRTT(true, ""))
}

func TestProfileOrdering(t *testing.T) {
	require.True(t, ProfileClassic < ProfileTurbo)
	require.True(t, ProfileTurbo < ProfileHyper)
}
