package payments

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Repository persists payment intents and their append-only event trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Now() time.Time
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, id uint) (*models.PaymentIntent, error)
	FindByOrderID(ctx context.Context, orderID uint) (*models.PaymentIntent, error)
	FindByExternalReference(ctx context.Context, reference string) ([]models.PaymentIntent, error)
	FindOrder(ctx context.Context, orderID uint) (*models.Order, error)
	ListEvents(ctx context.Context, intentID uint) ([]models.PaymentEvent, error)
	CreateEvent(ctx context.Context, event *models.PaymentEvent) error
	RefundRecorded(ctx context.Context, intentID uint, refundID string) (bool, error)
	Transition(ctx context.Context, id uint, guard Guard, to enums.PaymentStatus, updates map[string]any) (bool, error)
	FindStale(ctx context.Context, cutoff time.Time, statuses []enums.PaymentStatus, limit int) ([]models.PaymentIntent, error)
}

// Guard is the optimistic check a transition update must satisfy.
// RefundedCents, when set, also pins refunded_amount_cents.
type Guard struct {
	Status        enums.PaymentStatus
	RefundedCents *int64
}

type repository struct {
	repo.Base
}

// NewRepository builds a payments repository bound to the provided DB.
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

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	now := r.Now()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	return r.DB(ctx).Create(intent).Error
}

func (r *repository) FindByID(ctx context.Context, id uint) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.DB(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uint) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.DB(ctx).Where("order_id = ?", orderID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

// FindByExternalReference returns every intent carrying the gateway reference.
// Callers decide what zero or several matches mean.
func (r *repository) FindByExternalReference(ctx context.Context, reference string) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := r.DB(ctx).
		Where("external_reference = ?", reference).
		Order("id ASC").
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOrder reads the order an intent is opened for. On Postgres the row is
// locked so a seller cancel cannot reprice it while the intent is created.
func (r *repository) FindOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	q := r.DB(ctx)
	if q.Dialector != nil && q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListEvents(ctx context.Context, intentID uint) ([]models.PaymentEvent, error) {
	var rows []models.PaymentEvent
	err := r.DB(ctx).
		Where("payment_intent_id = ?", intentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateEvent(ctx context.Context, event *models.PaymentEvent) error {
	event.CreatedAt = r.Now()
	if event.Payload == "" {
		event.Payload = "{}"
	}
	return r.DB(ctx).Create(event).Error
}

// RefundRecorded reports whether a provider refund id was already applied to the intent.
func (r *repository) RefundRecorded(ctx context.Context, intentID uint, refundID string) (bool, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.PaymentEvent{}).
		Where("payment_intent_id = ? AND gateway_refund_id = ?", intentID, refundID).
		Count(&count).Error
	return count > 0, err
}

// Transition applies the status change only when the row still matches guard.
// It reports false when another writer got there first.
func (r *repository) Transition(ctx context.Context, id uint, guard Guard, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": r.Now(),
	}
	for k, v := range updates {
		values[k] = v
	}
	q := r.DB(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, guard.Status)
	if guard.RefundedCents != nil {
		q = q.Where("refunded_amount_cents = ?", *guard.RefundedCents)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindStale(ctx context.Context, cutoff time.Time, statuses []enums.PaymentStatus, limit int) ([]models.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.PaymentIntent
	err := r.DB(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff).
		Order("updated_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
