package retry

import (
	"time"

	"github.com/LeventeLantos/message-scheduler/internal/channel"
)

// Decision is the outcome of classifying a failed attempt: retry after a
// delay, or give up.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy maps (attempt count, error classification) to a decision. Pure;
// safe for concurrent use.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Decide is called with the attempt count after the failed attempt has
// been counted. Permanent errors are terminal regardless of the count;
// transient and not-ready errors retry with exponential backoff until
// MaxAttempts is reached.
func (p Policy) Decide(attempts int, kind channel.ErrorKind) Decision {
	if kind == channel.KindPermanent {
		return Decision{}
	}
	if attempts >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.backoff(attempts)}
}

func (p Policy) backoff(attempts int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
