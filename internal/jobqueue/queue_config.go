/*
Package jobqueue configuration - tunable parameters for the River job queue.

# River Job Queue Configuration Guide

The queue carries co-author subscription registrations out of the event path,
so a slow or failing Neynar webhook call never delays a story reply.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for more concurrent registrations
- Registrations are small; a handful of workers is plenty

### Reliability Tuning:
- MaxAttempts bounds how often River retries a failed registration
- JobTimeout bounds a single Neynar call including its in-call retries

## Database Requirements:
- PostgreSQL reachable through DatabaseURL
- River schema migrations are applied on start when AutoMigrate is set
*/
package jobqueue

import (
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

// QueueName is the River queue subscription jobs run on.
const QueueName = "subscriptions"

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	DatabaseURL string `koanf:"database_url"`

	// Worker Configuration
	MaxWorkers int `koanf:"max_workers"` // concurrent workers (default: 4)

	// Retry Configuration
	MaxAttempts int           `koanf:"max_attempts"` // attempts per job before it is discarded (default: 10)
	JobTimeout  time.Duration `koanf:"job_timeout"`  // maximum time a single job can run (default: 1 minute)

	AutoMigrate bool `koanf:"auto_migrate"` // apply River migrations on start (default: true)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxWorkers:  4,
		MaxAttempts: 10,
		JobTimeout:  1 * time.Minute,
		AutoMigrate: true,
	}
}

// Enabled reports whether a database is configured.
func (c QueueConfig) Enabled() bool {
	return c.DatabaseURL != ""
}

// Validate checks the tunables. An unset database is valid: the queue is
// simply not used.
func (c QueueConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("queue.max_workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("queue.job_timeout must be positive, got %s", c.JobTimeout)
	}
	return nil
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueName: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

func (c QueueConfig) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		MaxAttempts: c.MaxAttempts,
		Queue:       QueueName,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}
