// Package retry decides when a failed outbox item may be attempted again.
package retry

import (
	"math"
	"time"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
)

// Policy returns the delay before the next attempt after retryCount
// consecutive failures.
type Policy interface {
	Delay(retryCount int) time.Duration
	Name() string
}

// Fixed waits the same delay after every failure. The zero value retries
// on the next drain pass.
type Fixed struct {
	Wait time.Duration
}

// Delay implements Policy.
func (f Fixed) Delay(int) time.Duration { return f.Wait }

// Name implements Policy.
func (Fixed) Name() string { return "fixed" }

// Exponential waits 2^retryCount * Base, capped at Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Policy.
func (e Exponential) Delay(retryCount int) time.Duration {
	backoff := e.Base
	for i := 0; i < retryCount; i++ {
		if e.Max > 0 && backoff >= e.Max {
			break
		}
		if backoff > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		backoff *= 2
	}
	if e.Max > 0 && backoff > e.Max {
		backoff = e.Max
	}
	return backoff
}

// Name implements Policy.
func (Exponential) Name() string { return "exponential" }

// Parse builds a policy from its configured name.
func Parse(name string, base, max time.Duration) (Policy, error) {
	switch name {
	case "", "fixed":
		return Fixed{}, nil
	case "exponential":
		if base <= 0 {
			return nil, apperrors.New(apperrors.ErrInvalid, "exponential backoff needs a positive base")
		}
		return Exponential{Base: base, Max: max}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown backoff %q", name)
}
