package projlock

import "time"

const (
	// DefaultTTL backstops a crashed holder that never releases.
	DefaultTTL = 30 * time.Second
	// MinTTL is the enforced floor; shorter requests are clamped up so a
	// slow store round-trip cannot expire a lease mid-call.
	MinTTL = 5 * time.Second
)

// ResolveTTL applies the lease TTL policy: zero or negative selects the
// default, sub-millisecond precision is truncated, and the floor is enforced.
// Both implementations share this single enforcement point.
func ResolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	ttl = ttl.Truncate(time.Millisecond)
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}
