package rate

import "time"

// Declaration describes how a provider's upstream must be paced.
//
// The upstream enforces one account-wide quota, so the declaration carries a
// single inter-call interval pair rather than per-endpoint budgets.
type Declaration struct {
	provider       string
	shortInterval  time.Duration
	longInterval   time.Duration
	attempts       int
	requestTimeout time.Duration
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, attempts: 1}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// WaitAfterSuccess sets the minimum gap after a call that did not fail upstream.
func (d Declaration) WaitAfterSuccess(interval time.Duration) Declaration {
	d.shortInterval = interval
	return d
}

// WaitAfterError sets the minimum gap after a 429 or 5xx response.
func (d Declaration) WaitAfterError(interval time.Duration) Declaration {
	d.longInterval = interval
	return d
}

func (d Declaration) MaxAttempts(attempts int) Declaration {
	if attempts < 1 {
		attempts = 1
	}
	d.attempts = attempts
	return d
}

func (d Declaration) AttemptTimeout(timeout time.Duration) Declaration {
	d.requestTimeout = timeout
	return d
}

func (d Declaration) ShortInterval() time.Duration {
	return d.shortInterval
}

func (d Declaration) LongInterval() time.Duration {
	return d.longInterval
}

func (d Declaration) Attempts() int {
	return d.attempts
}

func (d Declaration) RequestTimeout() time.Duration {
	return d.requestTimeout
}

// StatusNoResponse is recorded for an attempt that never produced a response.
const StatusNoResponse = 0

// Interval returns the minimum gap that must follow a call ending in status.
// A connection failure or timeout is paced like a 5xx.
func (d Declaration) Interval(status int) time.Duration {
	if status == StatusNoResponse || status == 429 || status >= 500 {
		return d.longInterval
	}
	return d.shortInterval
}

// RateLimited is the compile-time contract for plugins that declare pacing.
type RateLimited interface {
	RateLimits() Declaration
}
