package campaigns

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

// Repository reads campaigns and records their usage.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActive(ctx context.Context, now time.Time) ([]models.Campaign, error)
	FindActiveByCoupon(ctx context.Context, code string, now time.Time) (*models.Campaign, error)
	CountUserUsages(ctx context.Context, userID uint, campaignIDs []uint) (map[uint]int, error)
	IncrementUsage(ctx context.Context, campaignID uint) (bool, error)
	CreateUsage(ctx context.Context, usage *models.CampaignUsage) error
	Create(ctx context.Context, campaign *models.Campaign) error
}

type repository struct {
	repo.Base
}

// NewRepository builds a campaigns repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func activeScope(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where("is_active = ? AND start_date <= ? AND end_date >= ?", true, now, now)
}

func (r *repository) ListActive(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	var rows []models.Campaign
	err := activeScope(r.DB(ctx), now).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindActiveByCoupon(ctx context.Context, code string, now time.Time) (*models.Campaign, error) {
	var campaign models.Campaign
	err := activeScope(r.DB(ctx), now).
		Where("coupon_code = ?", code).
		First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repository) CountUserUsages(ctx context.Context, userID uint, campaignIDs []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		CampaignID uint
		Total      int
	}
	err := r.DB(ctx).
		Model(&models.CampaignUsage{}).
		Select("campaign_id, COUNT(*) AS total").
		Where("user_id = ? AND campaign_id IN ?", userID, campaignIDs).
		Group("campaign_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.CampaignID] = row.Total
	}
	return counts, nil
}

// IncrementUsage bumps current_usage_count unless the global cap is reached.
// It reports false when the guard matched no row.
func (r *repository) IncrementUsage(ctx context.Context, campaignID uint) (bool, error) {
	res := r.DB(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND (max_usage_count IS NULL OR current_usage_count < max_usage_count)", campaignID).
		Updates(map[string]any{
			"current_usage_count": gorm.Expr("current_usage_count + 1"),
			"updated_at":          r.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateUsage(ctx context.Context, usage *models.CampaignUsage) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = r.Now()
	}
	return r.DB(ctx).Create(usage).Error
}

// Create inserts a campaign. Campaign administration lives in the back office;
// this exists for seeding and tests.
func (r *repository) Create(ctx context.Context, campaign *models.Campaign) error {
	now := r.Now()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}
	campaign.UpdatedAt = now
	return r.DB(ctx).Create(campaign).Error
}
