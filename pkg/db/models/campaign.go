package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Campaign is a discount rule maintained by the back office.
type Campaign struct {
	ID                     uint                `gorm:"column:id;primaryKey"`
	Name                   string              `gorm:"column:name;not null"`
	Type                   enums.CampaignType  `gorm:"column:type;not null"`
	Scope                  enums.CampaignScope `gorm:"column:scope;not null"`
	TargetIDs              []uint              `gorm:"column:target_ids;type:text;serializer:json"`
	DiscountPercent        decimal.Decimal     `gorm:"column:discount_percent;type:numeric(5,2);not null;default:0"`
	DiscountAmountCents    int64               `gorm:"column:discount_amount_cents;not null;default:0"`
	MaxDiscountAmountCents *int64              `gorm:"column:max_discount_amount_cents"`
	MinOrderAmountCents    int64               `gorm:"column:min_order_amount_cents;not null;default:0"`
	MinQuantity            int                 `gorm:"column:min_quantity;not null;default:0"`
	BuyQuantity            int                 `gorm:"column:buy_quantity;not null;default:0"`
	GetQuantity            int                 `gorm:"column:get_quantity;not null;default:0"`
	RequiresCouponCode     bool                `gorm:"column:requires_coupon_code;not null;default:false"`
	CouponCode             *string             `gorm:"column:coupon_code;uniqueIndex:ux_campaigns_coupon_code,where:deleted_at IS NULL"`
	MaxUsageCount          *int                `gorm:"column:max_usage_count"`
	MaxUsagePerUser        *int                `gorm:"column:max_usage_per_user"`
	CurrentUsageCount      int                 `gorm:"column:current_usage_count;not null;default:0"`
	Priority               int                 `gorm:"column:priority;not null;default:0"`
	IsStackable            bool                `gorm:"column:is_stackable;not null;default:false"`
	IsActive               bool                `gorm:"column:is_active;not null;default:true"`
	StartDate              time.Time           `gorm:"column:start_date;not null"`
	EndDate                time.Time           `gorm:"column:end_date;not null"`
	CreatedAt              time.Time           `gorm:"column:created_at;not null"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;not null"`
	DeletedAt              gorm.DeletedAt      `gorm:"column:deleted_at;index"`
}

// CampaignUsage records one application of a campaign to an order.
type CampaignUsage struct {
	ID            uint      `gorm:"column:id;primaryKey"`
	CampaignID    uint      `gorm:"column:campaign_id;not null;index:ix_campaign_usages_campaign_user"`
	UserID        uint      `gorm:"column:user_id;not null;index:ix_campaign_usages_campaign_user"`
	OrderID       uint      `gorm:"column:order_id;not null;index"`
	DiscountCents int64     `gorm:"column:discount_cents;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}
