// Pacer adapts the teacher's lib/pacer (see pacer_test.go): an
// exponential decay/attack sleep-time calculator governing retry
// backoff, plus a connection-token semaphore capping concurrency. Here
// it drives a host's retry_interval escalation and allowed_transfers
// cap instead of a single backend's HTTP retry loop.
package accounting

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the pacer's mutable backoff state (adapted from
// lib/pacer.State).
type State struct {
	SleepTime          time.Duration
	ConsecutiveRetries uint
}

// Calculator computes the next sleep time from the current state.
type Calculator interface {
	Calculate(state State) time.Duration
}

// Default is the teacher's exponential decay/attack calculator.
type Default struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
}

// NewDefault builds a Default calculator with the teacher's defaults
// (10ms min, 2s max, decay 2, attack 1), overridable via options.
func NewDefault(opts ...func(*Default)) *Default {
	d := &Default{
		minSleep:       10 * time.Millisecond,
		maxSleep:       2 * time.Second,
		decayConstant:  2,
		attackConstant: 1,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// MinSleep overrides the minimum sleep time.
func MinSleep(d time.Duration) func(*Default) { return func(c *Default) { c.minSleep = d } }

// MaxSleep overrides the maximum sleep time.
func MaxSleep(d time.Duration) func(*Default) { return func(c *Default) { c.maxSleep = d } }

// DecayConstant overrides the decay constant.
func DecayConstant(n uint) func(*Default) { return func(c *Default) { c.decayConstant = n } }

// Calculate implements Calculator: decays the sleep time on success,
// attacks (grows) it on consecutive retries, clamped to [min, max].
func (c *Default) Calculate(state State) time.Duration {
	if state.ConsecutiveRetries == 0 {
		// decay: halve (scaled by decayConstant) towards minSleep
		sleep := state.SleepTime
		if c.decayConstant > 0 {
			sleep = sleep - sleep/time.Duration(c.decayConstant)
		} else {
			sleep = c.minSleep
		}
		if sleep < c.minSleep {
			sleep = c.minSleep
		}
		return sleep
	}
	// attack: grow towards maxSleep
	sleep := state.SleepTime
	if c.attackConstant > 0 {
		sleep = sleep + sleep/time.Duration(c.attackConstant)
	} else {
		sleep = c.maxSleep
	}
	if sleep > c.maxSleep {
		sleep = c.maxSleep
	}
	if sleep < c.minSleep {
		sleep = c.minSleep
	}
	return sleep
}

// Pacer paces retries for one host: a calculator plus a
// concurrency-limiting token bucket governing allowed_transfers.
type Pacer struct {
	mu         sync.Mutex
	calc       Calculator
	state      State
	connTokens chan struct{}
}

// New builds a Pacer with the given calculator and max concurrent
// connections (0 means unlimited).
func New(calc Calculator, maxConnections int) *Pacer {
	p := &Pacer{calc: calc, state: State{}}
	p.SetMaxConnections(maxConnections)
	return p
}

// SetMaxConnections resizes the connection token semaphore.
func (p *Pacer) SetMaxConnections(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 {
		p.connTokens = nil
		return
	}
	p.connTokens = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		p.connTokens <- struct{}{}
	}
}

// Acquire blocks until a connection token is available (no-op if
// unlimited).
func (p *Pacer) Acquire() {
	p.mu.Lock()
	tokens := p.connTokens
	p.mu.Unlock()
	if tokens != nil {
		<-tokens
	}
}

// Release returns a connection token.
func (p *Pacer) Release() {
	p.mu.Lock()
	tokens := p.connTokens
	p.mu.Unlock()
	if tokens != nil {
		tokens <- struct{}{}
	}
}

// NextSleep records one outcome (retry or success) and returns the
// resulting backoff duration, advancing the pacer's internal state —
// this is what feeds a host's next_retry computation in errtoggle.
func (p *Pacer) NextSleep(retry bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if retry {
		p.state.ConsecutiveRetries++
	} else {
		p.state.ConsecutiveRetries = 0
	}
	p.state.SleepTime = p.calc.Calculate(p.state)
	return p.state.SleepTime
}

// ByteLimiter wraps golang.org/x/time/rate to enforce a host's
// transfer_rate_limit in bytes/sec — the byte-rate counterpart to the
// Pacer's retry backoff (the teacher solves this per-backend with an
// io.Reader wrapper; x/time/rate is the idiomatic shared primitive).
type ByteLimiter struct {
	limiter *rate.Limiter
}

// NewByteLimiter builds a limiter capped at bytesPerSec, with a burst
// equal to one block_size.
func NewByteLimiter(bytesPerSec int64, blockSize int32) *ByteLimiter {
	if bytesPerSec <= 0 {
		return &ByteLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := int(blockSize)
	if burst <= 0 {
		burst = 1
	}
	return &ByteLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WaitN blocks until n bytes' worth of budget is available. n may
// exceed the limiter's burst (one block_size) — a caller pacing a
// whole file in one call rather than block-by-block — in which case
// WaitN splits it into burst-sized waits itself, since
// rate.Limiter.WaitN errors outright when asked for more than its
// burst in a single call.
func (b *ByteLimiter) WaitN(ctx context.Context, n int) error {
	burst := b.limiter.Burst()
	if burst <= 0 || n <= burst {
		return b.limiter.WaitN(ctx, n)
	}
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := b.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
