package campaigns

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

// Engine resolves which campaigns apply to a cart and records their usage.
type Engine struct {
	repo    Repository
	metrics *metrics.DomainMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics attaches domain metrics.
func WithMetrics(m *metrics.DomainMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.logg = l }
}

// NewEngine builds the campaign engine.
func NewEngine(repo Repository, opts ...EngineOption) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("campaigns repository required")
	}
	e := &Engine{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Resolve evaluates active campaigns against lines using the engine's own connection.
func (e *Engine) Resolve(ctx context.Context, userID uint, lines []Line, couponCode string) (*Result, error) {
	return e.resolve(ctx, e.repo, userID, lines, couponCode)
}

// ResolveTx evaluates campaigns inside an open transaction so the usage counts it
// reads are the ones RecordUsage will guard.
func (e *Engine) ResolveTx(ctx context.Context, tx *gorm.DB, userID uint, lines []Line, couponCode string) (*Result, error) {
	return e.resolve(ctx, e.repo.WithTx(tx), userID, lines, couponCode)
}

func (e *Engine) resolve(ctx context.Context, repo Repository, userID uint, lines []Line, couponCode string) (*Result, error) {
	now := e.now().UTC()
	result := &Result{SubtotalCents: subtotal(lines)}

	code := strings.TrimSpace(couponCode)
	if code != "" {
		if _, err := repo.FindActiveByCoupon(ctx, code, now); err != nil {
			if db.IsNotFound(err) {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid coupon code").
					WithDetails(map[string]any{"coupon_code": code})
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup coupon")
		}
		result.CouponCode = &code
	}
	if len(lines) == 0 {
		return result, nil
	}

	active, err := repo.ListActive(ctx, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list active campaigns")
	}

	type candidate struct {
		campaign models.Campaign
		matched  []Line
	}
	candidates := make([]candidate, 0, len(active))
	ids := make([]uint, 0, len(active))
	for _, c := range active {
		if !c.StartDate.After(now) && !c.EndDate.Before(now) && c.IsActive && !c.DeletedAt.Valid {
			matched := matchingLines(c, lines)
			if !meetsThresholds(c, matched) {
				continue
			}
			if c.RequiresCouponCode && (c.CouponCode == nil || *c.CouponCode != code) {
				continue
			}
			if c.MaxUsageCount != nil && c.CurrentUsageCount >= *c.MaxUsageCount {
				continue
			}
			candidates = append(candidates, candidate{campaign: c, matched: matched})
			ids = append(ids, c.ID)
		}
	}
	if len(candidates) == 0 {
		return result, nil
	}

	perUser, err := repo.CountUserUsages(ctx, userID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count campaign usages")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return ranksBefore(candidates[i].campaign, candidates[j].campaign)
	})

	for _, cand := range candidates {
		c := cand.campaign
		if c.MaxUsagePerUser != nil && perUser[c.ID] >= *c.MaxUsagePerUser {
			continue
		}
		amount, freeShipping := contribution(c, cand.matched)
		if amount == 0 && !freeShipping {
			continue
		}
		result.Applied = append(result.Applied, Applied{
			CampaignID:    c.ID,
			Name:          c.Name,
			Type:          c.Type,
			DiscountCents: amount,
			FreeShipping:  freeShipping,
		})
		result.DiscountCents += amount
		if freeShipping {
			result.FreeShipping = true
		}
		if !c.IsStackable {
			break
		}
	}
	if result.DiscountCents > result.SubtotalCents {
		result.DiscountCents = result.SubtotalCents
	}
	return result, nil
}

// ranksBefore orders by priority desc, then earliest creation, then id.
func ranksBefore(a, b models.Campaign) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// RecordUsage writes one CampaignUsage per applied campaign and bumps the global
// counter under its cap. Must run inside the checkout transaction.
func (e *Engine) RecordUsage(ctx context.Context, tx *gorm.DB, userID, orderID uint, result *Result) error {
	if result == nil || len(result.Applied) == 0 {
		return nil
	}
	repo := e.repo.WithTx(tx)

	ids := result.CampaignIDs()
	perUser, err := repo.CountUserUsages(ctx, userID, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count campaign usages")
	}
	caps := make(map[uint]*int, len(ids))
	active, err := repo.ListActive(ctx, e.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list active campaigns")
	}
	for _, c := range active {
		caps[c.ID] = c.MaxUsagePerUser
	}

	for _, applied := range result.Applied {
		if limit := caps[applied.CampaignID]; limit != nil && perUser[applied.CampaignID] >= *limit {
			return pkgerrors.New(pkgerrors.CodeConflict, "campaign per-user usage limit reached").
				WithDetails(map[string]any{"campaign_id": applied.CampaignID})
		}
		ok, err := repo.IncrementUsage(ctx, applied.CampaignID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment campaign usage")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "campaign usage limit reached").
				WithDetails(map[string]any{"campaign_id": applied.CampaignID})
		}
		usage := &models.CampaignUsage{
			CampaignID:    applied.CampaignID,
			UserID:        userID,
			OrderID:       orderID,
			DiscountCents: applied.DiscountCents,
		}
		if err := repo.CreateUsage(ctx, usage); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create campaign usage")
		}
		e.metrics.CampaignRedeemed(string(applied.Type))
	}
	if e.logg != nil {
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"order_id":     orderID,
			"campaign_ids": ids,
		}), "campaign usage recorded")
	}
	return nil
}
