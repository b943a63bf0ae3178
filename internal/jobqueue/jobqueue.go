/*
Package jobqueue provides a River-based job queue for registering co-author
subscriptions with the social network.

For configuration options and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/providers/interact"
)

// SubscriptionJobArgs represents the arguments for a subscription registration job
type SubscriptionJobArgs struct {
	OwnerID     string   `json:"owner_id"`
	AnchorID    string   `json:"anchor_id"`
	AdmittedIDs []string `json:"admitted_ids"`
}

// Kind returns the job kind for River
func (SubscriptionJobArgs) Kind() string {
	return "mention_subscription"
}

// SubscriptionWorker handles subscription registration jobs
type SubscriptionWorker struct {
	river.WorkerDefaults[SubscriptionJobArgs]
	registrar interact.SubscriptionRegistrar
	timeout   time.Duration
}

// NewSubscriptionWorker returns a worker delegating to registrar.
func NewSubscriptionWorker(registrar interact.SubscriptionRegistrar, timeout time.Duration) *SubscriptionWorker {
	return &SubscriptionWorker{registrar: registrar, timeout: timeout}
}

// Timeout bounds a single job run.
func (w *SubscriptionWorker) Timeout(*river.Job[SubscriptionJobArgs]) time.Duration {
	return w.timeout
}

// temporary is implemented by errors that know whether a retry may help.
type temporary interface {
	Temporary() bool
}

func permanent(err error) bool {
	var tmp temporary
	return errors.As(err, &tmp) && !tmp.Temporary()
}

// Work performs the registration. Errors that will not go away on retry
// cancel the job.
func (w *SubscriptionWorker) Work(ctx context.Context, job *river.Job[SubscriptionJobArgs]) error {
	args := job.Args
	logger := log.With().
		Int64("job_id", job.ID).
		Int("attempt", job.Attempt).
		Str("owner_id", args.OwnerID).
		Str("anchor", args.AnchorID).
		Logger()

	if len(args.AdmittedIDs) == 0 {
		logger.Warn().Msg("Subscription job has no co-authors, skipping")
		return nil
	}

	err := w.registrar.RegisterMentionSubscription(ctx, args.OwnerID, args.AnchorID, args.AdmittedIDs)
	if err == nil {
		logger.Info().Strs("coauthors", args.AdmittedIDs).Msg("Subscription registered")
		return nil
	}

	if permanent(err) {
		logger.Error().Err(err).Msg("Subscription rejected, cancelling job")
		return river.JobCancel(err)
	}
	logger.Warn().Err(err).Msg("Subscription registration failed, will retry")
	return fmt.Errorf("register subscription: %w", err)
}

// JobQueue manages the River job queue. It implements
// interact.SubscriptionRegistrar by inserting jobs.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config QueueConfig
}

var _ interact.SubscriptionRegistrar = (*JobQueue)(nil)

// NewJobQueue creates a new job queue instance whose workers call registrar.
func NewJobQueue(ctx context.Context, config QueueConfig, registrar interact.SubscriptionRegistrar) (*JobQueue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewSubscriptionWorker(registrar, config.JobTimeout))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start applies migrations when configured and starts the workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	if jq.config.AutoMigrate {
		migrator, err := rivermigrate.New(riverpgxv5.New(jq.pool), nil)
		if err != nil {
			return fmt.Errorf("failed to create River migrator: %w", err)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return fmt.Errorf("failed to migrate River schema: %w", err)
		}
	}
	log.Info().Int("max_workers", jq.config.MaxWorkers).Str("queue", QueueName).Msg("Starting job queue")
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and closes the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	defer jq.pool.Close()
	return jq.client.Stop(ctx)
}

// RegisterMentionSubscription queues a registration job. Identical pending
// jobs are collapsed by River.
func (jq *JobQueue) RegisterMentionSubscription(ctx context.Context, ownerID, anchorID string, admittedIDs []string) error {
	args := SubscriptionJobArgs{
		OwnerID:     ownerID,
		AnchorID:    anchorID,
		AdmittedIDs: admittedIDs,
	}

	res, err := jq.client.Insert(ctx, args, jq.config.insertOpts())
	if err != nil {
		return fmt.Errorf("failed to queue subscription job: %w", err)
	}
	log.Debug().
		Int64("job_id", res.Job.ID).
		Bool("duplicate", res.UniqueSkippedAsDuplicate).
		Str("owner_id", ownerID).
		Msg("Subscription job queued")
	return nil
}
