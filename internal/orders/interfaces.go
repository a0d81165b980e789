package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

// Repository defines persistence operations for the order tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Now() time.Time
	CreateOrder(ctx context.Context, order *models.Order) error
	LatestOrderNumber(ctx context.Context, prefix string) (string, error)
	CreateSellerOrder(ctx context.Context, order *models.SellerOrder) error
	CreateItems(ctx context.Context, items []models.SellerOrderItem) error
	CreateEvent(ctx context.Context, event *models.OrderEvent) error
	FindOrder(ctx context.Context, id uint) (*models.Order, error)
	FindSellerOrders(ctx context.Context, orderID uint) ([]models.SellerOrder, error)
	FindItems(ctx context.Context, sellerOrderIDs []uint) ([]models.SellerOrderItem, error)
	FindEvents(ctx context.Context, orderID uint) ([]models.OrderEvent, error)
	ListOrders(ctx context.Context, buyerID *uint, params pagination.Params) ([]models.Order, string, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	HasPaymentIntent(ctx context.Context, orderID uint) (bool, error)
	TransitionOrder(ctx context.Context, id uint, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (bool, error)
	TransitionSellerOrders(ctx context.Context, orderID uint, from []enums.SellerOrderStatus, to enums.SellerOrderStatus, updates map[string]any) (int64, error)
}

// CartRepository reads the buyer's cart, listings and addresses and moves stock.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	ListCartItems(ctx context.Context, userID uint) ([]models.CartItem, error)
	FindListings(ctx context.Context, ids []uint) (map[uint]models.Listing, error)
	DecrementStock(ctx context.Context, listingID uint, qty int) (bool, error)
	RestoreStock(ctx context.Context, listingID uint, qty int) error
	ClearCart(ctx context.Context, userID uint) error
	FindAddress(ctx context.Context, userID, addressID uint) (*models.Address, error)
	CartLines(ctx context.Context, userID uint) ([]campaigns.Line, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type campaignEngine interface {
	ResolveTx(ctx context.Context, tx *gorm.DB, userID uint, lines []campaigns.Line, couponCode string) (*campaigns.Result, error)
	RecordUsage(ctx context.Context, tx *gorm.DB, userID, orderID uint, result *campaigns.Result) error
}

// PaymentReleaser settles the payment intent of an order being cancelled. It runs
// inside the cancellation transaction; the returned func, when non-nil, releases
// any gateway authorization and must only be called after commit.
type PaymentReleaser interface {
	CancelForOrder(ctx context.Context, tx *gorm.DB, orderID uint, caller auth.Caller) (func(context.Context), error)
}
