package security

import "time"

// DefaultClockSkewGracePeriod absorbs NTP drift between the server and the
// persistence layer when checking stored expiries. Records remain usable
// for at most this long past their recorded expiry.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether a stored expiry has passed, with the default
// clock skew grace period. A zero time means no expiry.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGrace(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGrace reports whether a stored expiry has passed, tolerating
// the given grace period.
func IsExpiredWithGrace(expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(grace))
}
