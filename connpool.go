package quill

import (
	"context"
	"sync"
	"time"

	"github.com/valyala/fastrand"
)

// PooledConn is the narrow interface ConnPool manages: anything a
// transport adapter hands back that can report idleness and be closed.
// transport/classic, transport/turbo, and transport/hyper each wrap their
// native connection type (fasthttp.HostClient stream slot, http2.ClientConn,
// quic.Connection) to satisfy this.
type PooledConn interface {
	Close() error
}

type pooledEntry struct {
	conn     PooledConn
	lastUsed time.Time
}

// ConnPool is the client-side connection pool §4.6 calls for: a bounded
// pool of reusable connections per (host, profile), with idle-timeout
// eviction and a max-idle-per-host cap. Grounded on the teacher's
// configure.go `cl.conns.Init()` reference and client.go's clientPool
// sync.Pool idiom, generalized from one fixed pool to one keyed by
// (host, profile) since Quill dials three different transport kinds.
type ConnPool struct {
	MaxIdlePerHost int
	IdleTimeout    time.Duration

	mu    sync.Mutex
	byKey map[string][]*pooledEntry
}

// NewConnPool returns a ConnPool using DefaultMaxIdlePerHost/
// DefaultIdleTimeout when the corresponding field is 0.
func NewConnPool(maxIdlePerHost int, idleTimeout time.Duration) *ConnPool {
	if maxIdlePerHost == 0 {
		maxIdlePerHost = DefaultMaxIdlePerHost
	}
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &ConnPool{
		MaxIdlePerHost: maxIdlePerHost,
		IdleTimeout:    idleTimeout,
		byKey:          make(map[string][]*pooledEntry),
	}
}

func poolKey(host string, profile Profile) string {
	return profile.String() + "|" + host
}

// Get pops an idle, not-yet-expired connection for (host, profile), or
// returns (nil, false) if the pool is empty.
func (p *ConnPool) Get(host string, profile Profile) (PooledConn, bool) {
	key := poolKey(host, profile)

	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.byKey[key]
	now := time.Now()
	for len(entries) > 0 {
		last := entries[len(entries)-1]
		entries = entries[:len(entries)-1]
		p.byKey[key] = entries
		if now.Sub(last.lastUsed) > p.IdleTimeout {
			_ = last.conn.Close()
			continue
		}
		return last.conn, true
	}
	return nil, false
}

// Put returns a connection to the pool for reuse. If the per-host idle cap
// is already full, the connection is closed instead of pooled.
func (p *ConnPool) Put(host string, profile Profile, conn PooledConn) {
	key := poolKey(host, profile)

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.byKey[key]) >= p.MaxIdlePerHost {
		_ = conn.Close()
		return
	}
	p.byKey[key] = append(p.byKey[key], &pooledEntry{conn: conn, lastUsed: time.Now()})
}

// CloseIdle closes and evicts every pooled connection, e.g. on Server/
// Dialer shutdown.
func (p *ConnPool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entries := range p.byKey {
		for _, e := range entries {
			_ = e.conn.Close()
		}
		delete(p.byKey, key)
	}
}

// DialBackoff returns a jittered backoff duration for retry attempt n
// (0-indexed), using valyala/fastrand exactly as the teacher's
// http2utils.AddPadding jitters padding length — here applied to dial
// retry timing instead of frame bytes.
func DialBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := time.Duration(1) << uint(minInt(attempt, 6))
	jitterPct := fastrand.Uint32n(25) // 0-24% jitter
	d := base * mult
	return d + d*time.Duration(jitterPct)/100
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// WaitRetry sleeps for DialBackoff(base, attempt) or until ctx is done.
func WaitRetry(ctx context.Context, base time.Duration, attempt int) error {
	t := time.NewTimer(DialBackoff(base, attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
