// Package backoff implements the exponential-capped busy-wait used by the
// lock-free list to reduce CAS contention, in the spirit of the
// ticket lock's adaptive spin in ahrav-go-locks/ticket.
package backoff

import "runtime"

const (
	minSpin uint32 = 4
	maxSpin uint32 = 1 << 12
)

// Backoff tracks an exponentially growing, capped spin count. Reset at the
// start of a retry loop, Inc doubles the spin amount (capped), and Wait
// spins that many iterations, yielding the P periodically so genuinely
// stuck goroutines don't starve the scheduler.
type Backoff struct {
	spin uint32
}

// Reset starts a fresh retry loop at the minimum spin count.
func (b *Backoff) Reset() { b.spin = minSpin }

// Inc grows the spin count, capped at maxSpin.
func (b *Backoff) Inc() {
	if b.spin == 0 {
		b.spin = minSpin
		return
	}
	if next := b.spin * 2; next <= maxSpin {
		b.spin = next
	} else {
		b.spin = maxSpin
	}
}

// Wait busy-spins for the current spin count, yielding the processor
// occasionally so a long-contended CAS doesn't monopolize a core.
func (b *Backoff) Wait() {
	for i := uint32(0); i < b.spin; i++ {
		if i&63 == 63 {
			runtime.Gosched()
		}
	}
}
