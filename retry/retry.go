// Package retry runs fallible operations with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Policy configures Do. The zero value retries nothing; start from DefaultPolicy.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps every individual wait.
	MaxDelay time.Duration
	// Multiplier grows the delay between consecutive retries. Must be > 1.
	Multiplier float64
	// ShouldRetry decides whether an error is transient. Nil means DefaultShouldRetry.
	ShouldRetry func(error) bool
	// Wait sleeps for d or until ctx is done. Nil means a timer-based wait.
	Wait func(ctx context.Context, d time.Duration) error
	// OnRetry is invoked before each wait with the zero-indexed failed attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
	Logger  *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the wait that follows the failed attempt i (zero-indexed):
// min(InitialDelay * Multiplier^i, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// TotalBackoff sums the waits spent across n completed retries.
func (p Policy) TotalBackoff(n int) time.Duration {
	var total time.Duration
	for i := 0; i < n; i++ {
		total += p.Delay(i)
	}
	return total
}

// Failure is the terminal outcome of Do.
type Failure struct {
	Err error
	// Attempt is the zero-indexed attempt at which Do gave up.
	Attempt    int
	MaxRetries int
	// Exhausted reports that the last error was still retryable when the ceiling was hit.
	Exhausted bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", f.Attempt+1, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Attempts is the number of times the operation ran.
func (f *Failure) Attempts() int { return f.Attempt + 1 }

// Do runs op until it succeeds, fails permanently or runs out of retries.
// Every returned error is a *Failure.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	wait := p.Wait
	if wait == nil {
		wait = sleep
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				log.Debug("retry succeeded", zap.Int("attempt", attempt+1))
			}
			return v, nil
		}

		retryable := shouldRetry(err)
		if !retryable || attempt >= p.MaxRetries {
			return zero, &Failure{Err: err, Attempt: attempt, MaxRetries: p.MaxRetries, Exhausted: retryable}
		}

		delay := p.Delay(attempt)
		log.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("attempts", p.MaxRetries+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if werr := wait(ctx, delay); werr != nil {
			return zero, &Failure{Err: werr, Attempt: attempt, MaxRetries: p.MaxRetries}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormatElapsed renders d as milliseconds below one second, seconds below
// one minute and whole minutes otherwise.
func FormatElapsed(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	// The unit is picked after rounding to tenths, so 59.96s reads as 1m.
	if tenths := math.Round(float64(ms) / 100); tenths < 600 {
		return fmt.Sprintf("%ss", trimFloat(tenths/10))
	}
	return fmt.Sprintf("%dm", max(1, int(math.Round(float64(ms)/60000))))
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.1f", f)
	if len(s) > 2 && s[len(s)-2:] == ".0" {
		return s[:len(s)-2]
	}
	return s
}
