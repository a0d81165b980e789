package shipments

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Repository persists shipments and the seller orders they fulfil.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Now() time.Time
	FindSellerOrder(ctx context.Context, id uint) (*models.SellerOrder, error)
	FindSellerOrders(ctx context.Context, orderID uint) ([]models.SellerOrder, error)
	FindItems(ctx context.Context, sellerOrderID uint) ([]models.SellerOrderItem, error)
	FindShipment(ctx context.Context, sellerOrderID uint) (*models.Shipment, error)
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	TransitionShipment(ctx context.Context, id uint, from, to enums.ShipmentStatus, updates map[string]any) (bool, error)
	TransitionSellerOrder(ctx context.Context, id uint, from []enums.SellerOrderStatus, to enums.SellerOrderStatus, updates map[string]any) (bool, error)
	CreateEvent(ctx context.Context, event *models.ShipmentEvent) error
	ListEvents(ctx context.Context, shipmentID uint) ([]models.ShipmentEvent, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a shipments repository bound to the provided DB.
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

func (r *repository) FindSellerOrder(ctx context.Context, id uint) (*models.SellerOrder, error) {
	var so models.SellerOrder
	if err := r.DB(ctx).Where("id = ?", id).First(&so).Error; err != nil {
		return nil, err
	}
	return &so, nil
}

func (r *repository) FindSellerOrders(ctx context.Context, orderID uint) ([]models.SellerOrder, error) {
	var rows []models.SellerOrder
	err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindItems(ctx context.Context, sellerOrderID uint) ([]models.SellerOrderItem, error) {
	var rows []models.SellerOrderItem
	err := r.DB(ctx).
		Where("seller_order_id = ?", sellerOrderID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindShipment(ctx context.Context, sellerOrderID uint) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.DB(ctx).Where("seller_order_id = ?", sellerOrderID).First(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) CreateShipment(ctx context.Context, shipment *models.Shipment) error {
	now := r.Now()
	shipment.CreatedAt = now
	shipment.UpdatedAt = now
	return r.DB(ctx).Create(shipment).Error
}

func (r *repository) TransitionShipment(ctx context.Context, id uint, from, to enums.ShipmentStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": r.Now()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.DB(ctx).
		Model(&models.Shipment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) TransitionSellerOrder(ctx context.Context, id uint, from []enums.SellerOrderStatus, to enums.SellerOrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": r.Now()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.DB(ctx).
		Model(&models.SellerOrder{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateEvent(ctx context.Context, event *models.ShipmentEvent) error {
	event.CreatedAt = r.Now()
	return r.DB(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, shipmentID uint) ([]models.ShipmentEvent, error) {
	var rows []models.ShipmentEvent
	err := r.DB(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
