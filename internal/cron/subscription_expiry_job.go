package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

const (
	defaultSweepLimit  = 500
	failedReportWindow = 24 * time.Hour
	maxSweepIterations = 20
)

type lapsedExpirer interface {
	ExpireLapsed(ctx context.Context, limit int) (int, error)
}

type failedEventCounter interface {
	CountFailedSince(ctx context.Context, since time.Time) (int64, error)
}

// SubscriptionExpiryJobParams configure the period-expiry sweep.
type SubscriptionExpiryJobParams struct {
	Logger     *logger.Logger
	Ledger     lapsedExpirer
	Webhooks   failedEventCounter
	SweepLimit int
	Now        func() time.Time
}

// NewSubscriptionExpiryJob builds the job that flips lapsed subscriptions to
// expired and reports webhook events stuck in the failed state.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	limit := params.SweepLimit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &subscriptionExpiryJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		webhooks: params.Webhooks,
		limit:    limit,
		now:      now,
	}, nil
}

type subscriptionExpiryJob struct {
	logg     *logger.Logger
	ledger   lapsedExpirer
	webhooks failedEventCounter
	limit    int
	now      func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.sweepLapsed(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.reportFailedEvents(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *subscriptionExpiryJob) sweepLapsed(ctx context.Context) error {
	total := 0
	// Batches are bounded so a backlog never holds one transaction open for
	// the whole sweep; the iteration cap keeps a pathological backlog from
	// pinning the worker.
	for i := 0; i < maxSweepIterations; i++ {
		expired, err := j.ledger.ExpireLapsed(ctx, j.limit)
		total += expired
		if err != nil {
			return fmt.Errorf("expire lapsed subscriptions: %w", err)
		}
		if expired < j.limit {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": total})
	j.logg.Info(logCtx, "subscription expiry sweep complete")
	return nil
}

func (j *subscriptionExpiryJob) reportFailedEvents(ctx context.Context) error {
	if j.webhooks == nil {
		return nil
	}
	since := j.now().UTC().Add(-failedReportWindow)
	count, err := j.webhooks.CountFailedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("count failed webhook events: %w", err)
	}
	if count > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
		j.logg.Warn(logCtx, "webhook events stuck in failed state; consider replay")
	}
	return nil
}
