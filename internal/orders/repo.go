package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

type repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// NewRepositoryWithClock is NewRepository with a fixed clock for tests and jobs.
func NewRepositoryWithClock(db *gorm.DB, now func() time.Time) Repository {
	return &repository{Base: repo.NewBase(db).WithClock(now)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) stamp(created *time.Time, updated *time.Time) {
	now := r.Now()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	r.stamp(&order.CreatedAt, &order.UpdatedAt)
	return r.DB(ctx).Create(order).Error
}

// LatestOrderNumber returns the highest order number with the given prefix,
// including soft-deleted rows since the unique index still covers them.
func (r *repository) LatestOrderNumber(ctx context.Context, prefix string) (string, error) {
	var numbers []string
	err := r.DB(ctx).
		Unscoped().
		Model(&models.Order{}).
		Where("order_number LIKE ?", prefix+"%").
		Order("order_number DESC").
		Limit(1).
		Pluck("order_number", &numbers).Error
	if err != nil {
		return "", err
	}
	if len(numbers) == 0 {
		return "", nil
	}
	return numbers[0], nil
}

func (r *repository) CreateSellerOrder(ctx context.Context, order *models.SellerOrder) error {
	r.stamp(&order.CreatedAt, &order.UpdatedAt)
	return r.DB(ctx).Create(order).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.SellerOrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		r.stamp(&items[i].CreatedAt, &items[i].UpdatedAt)
	}
	return r.DB(ctx).Create(&items).Error
}

func (r *repository) CreateEvent(ctx context.Context, event *models.OrderEvent) error {
	r.stamp(&event.CreatedAt, nil)
	return r.DB(ctx).Create(event).Error
}

func (r *repository) FindOrder(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.DB(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindSellerOrders(ctx context.Context, orderID uint) ([]models.SellerOrder, error) {
	var rows []models.SellerOrder
	err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Order("seller_id ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindItems(ctx context.Context, sellerOrderIDs []uint) ([]models.SellerOrderItem, error) {
	if len(sellerOrderIDs) == 0 {
		return nil, nil
	}
	var rows []models.SellerOrderItem
	err := r.DB(ctx).
		Where("seller_order_id IN ?", sellerOrderIDs).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindEvents(ctx context.Context, orderID uint) ([]models.OrderEvent, error) {
	var rows []models.OrderEvent
	err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListOrders pages orders newest first. A nil buyerID lists every buyer.
func (r *repository) ListOrders(ctx context.Context, buyerID *uint, params pagination.Params) ([]models.Order, string, error) {
	query := r.DB(ctx).Model(&models.Order{})
	if buyerID != nil {
		query = query.Where("buyer_id = ?", *buyerID)
	}
	return pagination.Page(query, params, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
}

func (r *repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// TransitionOrder moves an order to `to` only while it is in one of `from`.
func (r *repository) HasPaymentIntent(ctx context.Context, orderID uint) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.PaymentIntent{}).Where("order_id = ?", orderID).Count(&count).Error
	return count > 0, err
}

func (r *repository) TransitionOrder(ctx context.Context, id uint, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = r.Now()

	res := r.DB(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) TransitionSellerOrders(ctx context.Context, orderID uint, from []enums.SellerOrderStatus, to enums.SellerOrderStatus, updates map[string]any) (int64, error) {
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = r.Now()

	res := r.DB(ctx).
		Model(&models.SellerOrder{}).
		Where("order_id = ? AND status IN ?", orderID, from).
		Updates(values)
	return res.RowsAffected, res.Error
}
