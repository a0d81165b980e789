package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Base carries the connection and clock shared by domain repositories.
// Timestamps are always stamped from the clock; no gorm callbacks are involved.
type Base struct {
	db  *gorm.DB
	now func() time.Time
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// WithClock swaps the clock used for CreatedAt/UpdatedAt stamping.
func (b Base) WithClock(now func() time.Time) Base {
	if now == nil {
		return b
	}
	b.now = now
	return b
}

// Bind returns a copy of b that runs against tx. A nil tx keeps the current connection.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	b.db = tx
	return b
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Now is the repository clock, always UTC.
func (b Base) Now() time.Time {
	if b.now == nil {
		return utcNow()
	}
	return b.now().UTC()
}
