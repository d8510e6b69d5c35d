package fetch

import (
	"fmt"
	"time"
)

// RateLimitedError is returned when a resource's window is exhausted and no
// cached value exists to fall back on. NextAllowedAt tells the caller when
// the oldest grant falls out of the window.
type RateLimitedError struct {
	Resource      string
	NextAllowedAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("resource %q is rate limited until %s", e.Resource, e.NextAllowedAt.Format(time.RFC3339))
}
