package quill

import (
	"context"
	"sync"
	"time"
)

// Drainer generalizes the teacher's GOAWAY-draining idiom
// (`serverConn.closeRef`/`closeIdleConn` in serverConn.go) into a
// transport-agnostic graceful shutdown: stop accepting new streams on a
// connection, let in-flight streams finish, then signal close. Each
// transport adapter maps the "stop accepting new streams" signal onto its
// own mechanism (H2 GOAWAY via x/net/http2, H3 equivalent, or simply
// refusing new H1 requests on the listener).
type Drainer struct {
	mu       sync.Mutex
	draining bool
	refs     int
	allDone  chan struct{}
}

// NewDrainer returns a Drainer with zero in-flight streams.
func NewDrainer() *Drainer {
	return &Drainer{allDone: make(chan struct{})}
}

// Acquire registers one in-flight stream. Returns false if the connection
// is already draining — the caller should refuse the new stream with
// ResourceExhausted/GOAWAY rather than start it.
func (d *Drainer) Acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return false
	}
	d.refs++
	return true
}

// Release marks one in-flight stream finished.
func (d *Drainer) Release() {
	d.mu.Lock()
	d.refs--
	done := d.draining && d.refs == 0
	d.mu.Unlock()
	if done {
		close(d.allDone)
	}
}

// Draining reports whether the connection has begun draining.
func (d *Drainer) Draining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

// Drain marks the connection as draining (no further Acquire calls
// succeed) and blocks until every already-acquired stream has Released, or
// ctx is done, whichever comes first.
func (d *Drainer) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return d.wait(ctx)
	}
	d.draining = true
	empty := d.refs == 0
	d.mu.Unlock()

	if empty {
		d.mu.Lock()
		select {
		case <-d.allDone:
		default:
			close(d.allDone)
		}
		d.mu.Unlock()
	}
	return d.wait(ctx)
}

func (d *Drainer) wait(ctx context.Context) error {
	select {
	case <-d.allDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainWithTimeout is a convenience wrapper for the common "drain for at
// most N seconds, then force-close" pattern.
func (d *Drainer) DrainWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Drain(ctx)
}
