package orders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

const (
	orderNumberPrefix    = "ORD-"
	orderNumberAttempts  = 5
	orderNumberSavepoint = "order_number"
)

func orderNumberDayPrefix(at time.Time) string {
	return orderNumberPrefix + at.UTC().Format("20060102") + "-"
}

// nextOrderNumber returns the number after latest within the same day prefix.
func nextOrderNumber(prefix, latest string) string {
	seq := 0
	if strings.HasPrefix(latest, prefix) {
		if n, err := strconv.Atoi(strings.TrimPrefix(latest, prefix)); err == nil {
			seq = n
		}
	}
	return fmt.Sprintf("%s%06d", prefix, seq+1)
}

// insertWithOrderNumber assigns ORD-YYYYMMDD-NNNNNN and inserts the order. Each
// attempt runs in a savepoint so a unique violation from a concurrent checkout
// leaves the outer transaction usable.
func insertWithOrderNumber(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) error {
	prefix := orderNumberDayPrefix(repo.Now())
	latest, err := repo.LatestOrderNumber(ctx, prefix)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read order sequence")
	}
	candidate := nextOrderNumber(prefix, latest)

	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		if err := tx.SavePoint(orderNumberSavepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create savepoint")
		}
		order.ID = 0
		order.OrderNumber = candidate
		err := repo.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if rbErr := tx.RollbackTo(orderNumberSavepoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, rbErr, "rollback savepoint")
		}
		if !db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		candidate = nextOrderNumber(prefix, candidate)
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate order number")
}
