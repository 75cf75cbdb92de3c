// Package ratelimit shapes outbound traffic to the index service's three
// simultaneously enforced quotas (requests/minute, tokens/minute,
// requests/day) and trips a circuit breaker when the rolling error rate
// says the remote is unhealthy.
//
// The limiter is adaptive: a rate-limit response cuts the allowed rate by a
// configurable factor and honors the advertised retry-after; sustained
// success recovers the rate linearly back to the configured ceiling.
package ratelimit
