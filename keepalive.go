package quill

import (
	"sync"
	"time"

	"github.com/valyala/fastrand"
)

// Keepalive drives periodic ping/pong RTT measurement and idle-connection
// enforcement, grounded on the teacher's ping.go (`Ping{ack bool, data
// [8]byte}`, Deserialize/Serialize) and serverConn.go's
// pingTimer/maxIdleTimer pair. Quill's pings are connection-level, not a
// Quill frame type, since the wire substrate's own frame has no room for a
// Settings/Ping frame type of its own (§3's frame only carries
// DATA/END_STREAM/CANCEL/CREDIT) — each transport adapter maps Keepalive's
// Ping/Pong onto its own native mechanism (H2 PING frames via x/net/http2,
// QUIC PATH_CHALLENGE/RTT stats via quic-go) and reports measured RTT back
// here.
type Keepalive struct {
	Interval   time.Duration
	IdleLimit  time.Duration
	OnRTT      func(time.Duration)
	OnIdleOut  func()

	mu          sync.Mutex
	lastActive  time.Time
	inFlight    map[uint64]time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewKeepalive constructs a Keepalive using DefaultPingInterval/
// DefaultIdleTimeout when the corresponding field is 0.
func NewKeepalive(interval, idleLimit time.Duration) *Keepalive {
	if interval == 0 {
		interval = DefaultPingInterval
	}
	if idleLimit == 0 {
		idleLimit = DefaultIdleTimeout
	}
	return &Keepalive{
		Interval:   interval,
		IdleLimit:  idleLimit,
		lastActive: time.Now(),
		inFlight:   make(map[uint64]time.Time),
		stopCh:     make(chan struct{}),
	}
}

// Touch records connection activity, resetting the idle-timeout clock.
func (k *Keepalive) Touch() {
	k.mu.Lock()
	k.lastActive = time.Now()
	k.mu.Unlock()
}

// NewPingID mints an opaque ping identifier (8 bytes of wire payload in
// the teacher's Ping frame, collapsed here to a uint64 since the transport
// adapter owns the actual wire encoding) and records its send time for RTT
// measurement on the matching Pong.
func (k *Keepalive) NewPingID() uint64 {
	id := uint64(fastrand.Uint32())<<32 | uint64(fastrand.Uint32())
	k.mu.Lock()
	k.inFlight[id] = time.Now()
	k.mu.Unlock()
	return id
}

// ObservePong reports a pong matching id; it measures RTT and invokes
// OnRTT. Unknown ids (stale or forged) are ignored.
func (k *Keepalive) ObservePong(id uint64) {
	k.mu.Lock()
	sentAt, ok := k.inFlight[id]
	if ok {
		delete(k.inFlight, id)
	}
	k.mu.Unlock()
	if ok && k.OnRTT != nil {
		k.OnRTT(time.Since(sentAt))
	}
}

// Run drives the keepalive loop: a ping tick every Interval (the caller
// supplies sendPing, since only the transport adapter knows how to encode
// one) and idle-timeout detection. Blocks until Stop is called or ctxDone
// fires.
func (k *Keepalive) Run(ctxDone <-chan struct{}, sendPing func(id uint64)) {
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.mu.Lock()
			idle := time.Since(k.lastActive)
			k.mu.Unlock()
			if idle >= k.IdleLimit {
				if k.OnIdleOut != nil {
					k.OnIdleOut()
				}
				return
			}
			sendPing(k.NewPingID())
		case <-ctxDone:
			return
		case <-k.stopCh:
			return
		}
	}
}

// Stop ends a running Run loop.
func (k *Keepalive) Stop() {
	k.stopOnce.Do(func() { close(k.stopCh) })
}
