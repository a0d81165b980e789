package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const defaultOrderTTL = 24 * time.Hour

type pendingOrderExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// OrderExpiryJobParams configure the pending order sweep.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    pendingOrderExpirer
	OrderTTL  time.Duration
	BatchSize int
}

// NewOrderExpiryJob builds the job that cancels orders left pending past
// their TTL. Cancelling restores stock and voids any open authorization.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.OrderTTL
	if ttl <= 0 {
		ttl = defaultOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders pendingOrderExpirer
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "pending-order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	total, err := drainBatches(ctx, j.batch, func(ctx context.Context, limit int) (int, error) {
		return j.orders.ExpirePending(ctx, cutoff, limit)
	})
	if err != nil {
		return fmt.Errorf("expire pending orders: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"ttl_hours":      j.ttl.Hours(),
		"orders_expired": total,
	})
	j.logg.Info(logCtx, "pending orders expired")
	return nil
}
