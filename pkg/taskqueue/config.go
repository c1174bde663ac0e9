package taskqueue

import "time"

// Config holds the configuration for the task queue
type Config struct {
	Strategy      string        `env:"QUEUE_STRATEGY" envDefault:"priority"`
	PollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LeaseDuration time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"5m"`
	SweepInterval time.Duration `env:"QUEUE_SWEEP_INTERVAL" envDefault:"30s"`
	StaleWorker   time.Duration `env:"QUEUE_STALE_WORKER_AFTER" envDefault:"1m"`
	Retention     time.Duration `env:"QUEUE_RETENTION" envDefault:"0"`
	MaxConcurrent int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
}
