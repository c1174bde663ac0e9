package taskqueue

import "time"

// RepositoryOption is a functional option for configuring a Repository
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	strategy      Strategy
	leaseDuration time.Duration
	backoff       BackoffFunc
	now           func() time.Time
}

// WithStrategy sets the default claiming strategy
func WithStrategy(s Strategy) RepositoryOption {
	return func(o *repositoryOptions) {
		if s != nil {
			o.strategy = s
		}
	}
}

// WithLeaseDuration sets how long a claim remains exclusive before it is
// considered abandoned
func WithLeaseDuration(d time.Duration) RepositoryOption {
	return func(o *repositoryOptions) {
		if d > 0 {
			o.leaseDuration = d
		}
	}
}

// WithBackoffFunc sets the retry backoff schedule
func WithBackoffFunc(fn BackoffFunc) RepositoryOption {
	return func(o *repositoryOptions) {
		if fn != nil {
			o.backoff = fn
		}
	}
}

// WithClock overrides the time source, primarily for tests
func WithClock(now func() time.Time) RepositoryOption {
	return func(o *repositoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}
