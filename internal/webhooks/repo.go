package webhooks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

// Repository is the durable webhook ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.WebhookEvent) error
	Exists(ctx context.Context, provider enums.PaymentProvider, eventID string) (bool, error)
	ListByOutcome(ctx context.Context, outcome enums.WebhookOutcome, params pagination.Params) ([]models.WebhookEvent, string, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// NewRepositoryWithClock is NewRepository with a fixed clock.
func NewRepositoryWithClock(db *gorm.DB, now func() time.Time) Repository {
	return &repository{Base: repo.NewBase(db).WithClock(now)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, event *models.WebhookEvent) error {
	event.CreatedAt = r.Now()
	if event.Payload == "" {
		event.Payload = "{}"
	}
	return r.DB(ctx).Create(event).Error
}

func (r *repository) Exists(ctx context.Context, provider enums.PaymentProvider, eventID string) (bool, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByOutcome pages ledger rows newest first.
func (r *repository) ListByOutcome(ctx context.Context, outcome enums.WebhookOutcome, params pagination.Params) ([]models.WebhookEvent, string, error) {
	query := r.DB(ctx).
		Model(&models.WebhookEvent{}).
		Where("outcome = ?", outcome)
	return pagination.Page(query, params, func(e models.WebhookEvent) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
}
