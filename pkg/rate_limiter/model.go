package rate_limiter

import (
	"math"
	"time"
)

// Policy is a named token bucket limit: MaxRequests permits refilled
// continuously over Window.
type Policy struct {
	ID          string
	Window      time.Duration
	MaxRequests int
}

// RetryAfterSeconds is the Retry-After value sent on rejection.
func (p Policy) RetryAfterSeconds() int {
	return int(math.Ceil(p.Window.Seconds()))
}

// IdleExpiration is how long a bucket may go untouched before it is dropped.
func (p Policy) IdleExpiration() time.Duration {
	return 2 * p.Window
}

type Decision struct {
	Allowed    bool
	PolicyID   string
	RetryAfter time.Duration
}
