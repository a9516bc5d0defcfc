package signal

import "golang.org/x/time/rate"

// newRateLimiter caps inbound messages per connection.
func newRateLimiter(perSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
