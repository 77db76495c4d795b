package quill

import (
	"context"
	"sync"
)

// CreditMode selects which variant of flow control a stream direction uses
// (§3 Credit Window).
type CreditMode uint8

const (
	CreditModeMessage CreditMode = iota
	CreditModeByte
)

// FlowController tracks available send credit for one direction of one
// stream. It is grounded on the teacher's atomic window bookkeeping
// (`conn.go`'s `atomic.AddInt32(&c.serverWindow, ...)`, `serverConn.go`'s
// `atomic.AddInt64(&sc.clientWindow, win)`), generalized to the two credit
// flavors §4.2 requires and to byte-mode hysteresis, which the teacher has
// no equivalent for (it only has a hard ceiling).
//
// FlowController is safe for concurrent use: try_consume/grant/available
// all take the same mutex, and waiters parked in Wait are woken under it.
type FlowController struct {
	mode CreditMode

	mu        sync.Mutex
	available uint64
	waiters   []chan struct{}

	// byte-mode hysteresis state
	outstanding uint64
	highWater   uint64
	lowWater    uint64
	paused      bool
}

// NewMessageFlowController returns a message-count FlowController seeded
// with initialCredit (DefaultInitialCredit if 0).
func NewMessageFlowController(initialCredit uint64) *FlowController {
	if initialCredit == 0 {
		initialCredit = DefaultInitialCredit
	}
	return &FlowController{mode: CreditModeMessage, available: initialCredit}
}

// NewByteFlowController returns a byte-count FlowController with the given
// hysteresis thresholds. lowWater must be <= highWater.
func NewByteFlowController(initialCredit, highWater, lowWater uint64) *FlowController {
	return &FlowController{
		mode:      CreditModeByte,
		available: initialCredit,
		highWater: highWater,
		lowWater:  lowWater,
	}
}

// TryConsume is the non-blocking, atomic check used before encoding a DATA
// frame. It returns false (consuming nothing) if n exceeds the credit
// available at the moment of the call — §8 invariant 4.
func (fc *FlowController) TryConsume(n uint64) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if n > fc.available {
		return false
	}
	fc.available -= n
	return true
}

// Available reports current credit.
func (fc *FlowController) Available() uint64 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.available
}

// Grant adds n credit, bounded to math.MaxUint32 per §4.2, and wakes any
// goroutine parked in Wait if credit transitioned from 0.
func (fc *FlowController) Grant(n uint64) {
	fc.mu.Lock()
	wasZero := fc.available == 0
	fc.available += n
	if fc.available > boundedCreditMax {
		fc.available = boundedCreditMax
	}
	var toWake []chan struct{}
	if wasZero && fc.available > 0 {
		toWake, fc.waiters = fc.waiters, nil
	}
	fc.mu.Unlock()
	for _, ch := range toWake {
		close(ch)
	}
}

const boundedCreditMax = 1<<32 - 1

// ObserveEmitted records n bytes sent but not yet acked, for byte-mode
// hysteresis. No-op in message mode.
func (fc *FlowController) ObserveEmitted(n uint64) {
	if fc.mode != CreditModeByte {
		return
	}
	fc.mu.Lock()
	fc.outstanding += n
	if fc.outstanding >= fc.highWater {
		fc.paused = true
	}
	fc.mu.Unlock()
}

// ObserveAcked records n bytes the peer has consumed, releasing the latch
// once outstanding falls below lowWater — §8 invariant 5: once ShouldPause
// latches true it stays true until outstanding < lowWater.
func (fc *FlowController) ObserveAcked(n uint64) {
	if fc.mode != CreditModeByte {
		return
	}
	fc.mu.Lock()
	if n > fc.outstanding {
		fc.outstanding = 0
	} else {
		fc.outstanding -= n
	}
	if fc.paused && fc.outstanding < fc.lowWater {
		fc.paused = false
	}
	fc.mu.Unlock()
}

// ShouldPause reports whether the byte-mode hysteresis latch is engaged.
// Always false in message mode.
func (fc *FlowController) ShouldPause() bool {
	if fc.mode != CreditModeByte {
		return false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.paused
}

// Wait blocks until credit transitions from 0 to >0, or ctx is done. Used to
// cooperatively block senders without holding a lock across the suspension
// point, per §5's "tasks MUST NOT hold locks across suspension".
func (fc *FlowController) Wait(ctx context.Context) error {
	fc.mu.Lock()
	if fc.available > 0 {
		fc.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	fc.waiters = append(fc.waiters, ch)
	fc.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
