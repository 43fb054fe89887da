// Package backoff computes retry delays between attempts of a task firing.
package backoff

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain/model"
)

const (
	// exponentialBase is the fixed base of the exponential_jitter strategy.
	exponentialBase = 2 * time.Second

	// exponentialCap bounds exponential_jitter delays.
	exponentialCap = 300 * time.Second

	// DefaultBase is the interval used by fixed and linear when none is configured.
	DefaultBase = 2 * time.Second

	// attempts past this point always hit the cap even at minimum jitter
	maxExponentShift = 9
)

// Policy computes the delay before re-running a failed attempt. Base applies
// to the fixed and linear strategies; exponential_jitter pins its own base.
type Policy struct {
	Strategy model.BackoffStrategy
	Base     time.Duration
}

// ForTask builds the delay policy for a task with the process-configured base.
func ForTask(t *model.Task, base time.Duration) Policy {
	return Policy{Strategy: t.BackoffStrategy, Base: base}
}

// Delay returns the wait before attempt+1 may run. Attempt counts from 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	switch p.Strategy {
	case model.BackoffFixed:
		return base
	case model.BackoffLinear:
		return time.Duration(attempt) * base
	default:
		return exponentialJitter(attempt)
	}
}

// exponentialJitter doubles a 2s base per attempt and spreads the result
// uniformly over [0.5, 1.5] of its value, capped at 300s.
func exponentialJitter(attempt int) time.Duration {
	shift := attempt - 1
	if shift > maxExponentShift {
		shift = maxExponentShift
	}
	raw := exponentialBase << shift
	jittered := raw/2 + time.Duration(randInt64(int64(raw)))
	if jittered > exponentialCap {
		return exponentialCap
	}
	return jittered
}

// randInt64 draws uniformly from [0, max). A rand failure degrades to the
// midpoint rather than failing the retry path.
func randInt64(max int64) int64 {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return max / 2
	}
	return n.Int64()
}
