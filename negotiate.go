package quill

import (
	"strings"
	"sync"
	"time"
)

// Profile is the negotiated transport shape for a connection (Glossary:
// "Prism profile"). Profiles are totally ordered by capability for
// route-minimum purposes: Classic < Turbo < Hyper — the ordering is about
// capability, not client preference (§4.4).
type Profile uint8

const (
	ProfileClassic Profile = iota
	ProfileTurbo
	ProfileHyper
)

func (p Profile) String() string {
	switch p {
	case ProfileClassic:
		return "classic"
	case ProfileTurbo:
		return "turbo"
	case ProfileHyper:
		return "hyper"
	default:
		return "unknown"
	}
}

// ParseProfile parses one token of a `Prefer: prism=...` list.
func ParseProfile(s string) (Profile, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "classic":
		return ProfileClassic, true
	case "turbo":
		return ProfileTurbo, true
	case "hyper":
		return ProfileHyper, true
	default:
		return 0, false
	}
}

// ParsePreferList parses the comma-separated value of a `Prefer: prism=...`
// header into an ordered preference list, dropping unrecognized tokens.
func ParsePreferList(header string) []Profile {
	const prefix = "prism="
	header = strings.TrimSpace(header)
	idx := strings.Index(strings.ToLower(header), prefix)
	if idx < 0 {
		return nil
	}
	rest := header[idx+len(prefix):]
	parts := strings.Split(rest, ",")
	out := make([]Profile, 0, len(parts))
	for _, part := range parts {
		if p, ok := ParseProfile(part); ok {
			out = append(out, p)
		}
	}
	return out
}

// PreferHeader renders an ordered preference list back into a `Prefer:
// prism=...` header value, for clients.
func PreferHeader(prefs []Profile) string {
	parts := make([]string, len(prefs))
	for i, p := range prefs {
		parts[i] = p.String()
	}
	return "prism=" + strings.Join(parts, ",")
}

// NoIntersectionError is returned by Negotiate when the client's preference
// list and the server's support set share nothing at or above the route
// minimum — the server responds 505/501 naming the supported set (§4.4).
type NoIntersectionError struct {
	Supported []Profile
}

func (e *NoIntersectionError) Error() string {
	names := make([]string, len(e.Supported))
	for i, p := range e.Supported {
		names[i] = p.String()
	}
	return "quill: no negotiable profile; server supports " + strings.Join(names, ",")
}

// Negotiator computes `chosen = first p in client_list where p in
// server_supported and p >= route_min_profile` (§4.4) and enforces the
// 0-RTT gate.
type Negotiator struct {
	Supported []Profile

	replayMu    sync.Mutex
	replayCache map[string]time.Time
	replayTTL   time.Duration
	replayMax   int
}

// NewNegotiator constructs a Negotiator supporting the given profile set.
func NewNegotiator(supported []Profile) *Negotiator {
	return &Negotiator{
		Supported:   supported,
		replayCache: make(map[string]time.Time),
		replayTTL:   5 * time.Minute,
		replayMax:   4096,
	}
}

func (n *Negotiator) supports(p Profile) bool {
	for _, s := range n.Supported {
		if s == p {
			return true
		}
	}
	return false
}

// Negotiate picks the connection profile. routeMin is the route-pinned
// minimum (ProfileClassic if the route has none).
func (n *Negotiator) Negotiate(clientPrefs []Profile, routeMin Profile) (Profile, error) {
	for _, p := range clientPrefs {
		if p >= routeMin && n.supports(p) {
			return p, nil
		}
	}
	return 0, &NoIntersectionError{Supported: n.Supported}
}

// AllowZeroRTT reports whether a 0-RTT request may proceed for a method,
// enforcing both the idempotency gate and the bounded replay cache (§4.4).
// Non-idempotent methods are always refused. A ticketID seen before within
// replayTTL is refused as a replay.
func (n *Negotiator) AllowZeroRTT(idempotent bool, ticketID string) bool {
	if !idempotent {
		return false
	}
	if ticketID == "" {
		return false
	}

	n.replayMu.Lock()
	defer n.replayMu.Unlock()

	now := time.Now()
	if seenAt, ok := n.replayCache[ticketID]; ok && now.Sub(seenAt) < n.replayTTL {
		return false
	}

	if len(n.replayCache) >= n.replayMax {
		n.evictOldestLocked()
	}
	n.replayCache[ticketID] = now
	return true
}

func (n *Negotiator) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, at := range n.replayCache {
		if first || at.Before(oldestAt) {
			oldestKey, oldestAt = k, at
			first = false
		}
	}
	if oldestKey != "" {
		delete(n.replayCache, oldestKey)
	}
}
