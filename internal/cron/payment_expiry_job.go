package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const (
	defaultBatchSize  = 100
	maxBatchesPerRun  = 20
	defaultStaleAfter = 30 * time.Minute
)

type staleIntentExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// PaymentExpiryJobParams configure the stale payment intent sweep.
type PaymentExpiryJobParams struct {
	Logger     *logger.Logger
	Payments   staleIntentExpirer
	StaleAfter time.Duration
	BatchSize  int
}

// NewPaymentExpiryJob builds the job that fails Created and Requires3DS
// intents the buyer abandoned.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentExpiryJob{
		logg:       params.Logger,
		payments:   params.Payments,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type paymentExpiryJob struct {
	logg       *logger.Logger
	payments   staleIntentExpirer
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "payment-intent-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	total, err := drainBatches(ctx, j.batch, func(ctx context.Context, limit int) (int, error) {
		return j.payments.ExpireStale(ctx, cutoff, limit)
	})
	if err != nil {
		return fmt.Errorf("expire stale payment intents: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":          cutoff,
		"intents_expired": total,
	})
	j.logg.Info(logCtx, "stale payment intents expired")
	return nil
}

// drainBatches calls sweep until it returns a short batch. The cap keeps one
// cycle from starving the other jobs.
func drainBatches(ctx context.Context, batch int, sweep func(context.Context, int) (int, error)) (int, error) {
	total := 0
	for i := 0; i < maxBatchesPerRun; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := sweep(ctx, batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < batch {
			return total, nil
		}
	}
	return total, nil
}
