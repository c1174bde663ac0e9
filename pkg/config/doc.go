// Package config loads typed configuration structs from environment
// variables, with an optional .env file loaded once per process.
//
// Configuration structs declare their variables through `env` field tags:
//
//	type QueueConfig struct {
//	    Path        string        `env:"QUEUE_DB_PATH"`
//	    PollEvery   time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
//	}
//
//	var cfg QueueConfig
//	if err := config.Load(&cfg); err != nil {
//	    // handle error
//	}
//
// MustLoad panics on failure and suits configuration the process cannot start
// without.
package config
