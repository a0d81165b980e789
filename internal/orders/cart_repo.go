package orders

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

type cartRepository struct {
	repo.Base
}

// NewCartRepository builds the cart/listing/address reader used by checkout.
func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{Base: repo.NewBase(db)}
}

func (r *cartRepository) WithTx(tx *gorm.DB) CartRepository {
	return &cartRepository{Base: r.Bind(tx)}
}

func (r *cartRepository) ListCartItems(ctx context.Context, userID uint) ([]models.CartItem, error) {
	var rows []models.CartItem
	err := r.DB(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *cartRepository) FindListings(ctx context.Context, ids []uint) (map[uint]models.Listing, error) {
	out := make(map[uint]models.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Listing
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// stockStatusExpr recomputes stock_status from the pre-update quantity plus delta.
// Both Postgres and SQLite evaluate SET expressions against the old row.
func stockStatusExpr(delta int) any {
	return gorm.Expr(
		"CASE WHEN stock_quantity + ? <= 0 THEN ? WHEN stock_quantity + ? <= low_stock_threshold THEN ? ELSE ? END",
		delta, enums.StockStatusOutOfStock, delta, enums.StockStatusLowStock, enums.StockStatusInStock,
	)
}

// DecrementStock removes qty units only when that many remain.
func (r *cartRepository) DecrementStock(ctx context.Context, listingID uint, qty int) (bool, error) {
	res := r.DB(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND stock_quantity >= ?", listingID, qty).
		Updates(map[string]any{
			"stock_quantity": gorm.Expr("stock_quantity - ?", qty),
			"stock_status":   stockStatusExpr(-qty),
			"updated_at":     r.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *cartRepository) RestoreStock(ctx context.Context, listingID uint, qty int) error {
	return r.DB(ctx).
		Unscoped().
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		Updates(map[string]any{
			"stock_quantity": gorm.Expr("stock_quantity + ?", qty),
			"stock_status":   stockStatusExpr(qty),
			"updated_at":     r.Now(),
		}).Error
}

// ClearCart soft-deletes every remaining line for the user.
func (r *cartRepository) ClearCart(ctx context.Context, userID uint) error {
	return r.DB(ctx).
		Where("user_id = ?", userID).
		Delete(&models.CartItem{}).Error
}

func (r *cartRepository) FindAddress(ctx context.Context, userID, addressID uint) (*models.Address, error) {
	var address models.Address
	err := r.DB(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&address).Error
	if err != nil {
		return nil, err
	}
	return &address, nil
}

// CartLines joins the cart to live listing prices. Missing or inactive listings are skipped.
func (r *cartRepository) CartLines(ctx context.Context, userID uint) ([]campaigns.Line, error) {
	items, err := r.ListCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged := mergeCartItems(items)
	ids := make([]uint, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	listings, err := r.FindListings(ctx, ids)
	if err != nil {
		return nil, err
	}
	lines := make([]campaigns.Line, 0, len(merged))
	for id, qty := range merged {
		listing, ok := listings[id]
		if !ok || !listing.IsActive {
			continue
		}
		lines = append(lines, lineFor(listing, qty))
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ListingID < lines[j].ListingID })
	return lines, nil
}
