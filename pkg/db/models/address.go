package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Address belongs to a user's address book.
type Address struct {
	ID         uint           `gorm:"column:id;primaryKey"`
	UserID     uint           `gorm:"column:user_id;not null;index"`
	FullName   string         `gorm:"column:full_name;not null"`
	Line1      string         `gorm:"column:line1;not null"`
	Line2      *string        `gorm:"column:line2"`
	City       string         `gorm:"column:city;not null"`
	Region     string         `gorm:"column:region"`
	PostalCode string         `gorm:"column:postal_code;not null"`
	Country    string         `gorm:"column:country;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// Snapshot renders the address as the single string stored on an order.
func (a Address) Snapshot() string {
	parts := []string{a.FullName, a.Line1}
	if a.Line2 != nil && strings.TrimSpace(*a.Line2) != "" {
		parts = append(parts, strings.TrimSpace(*a.Line2))
	}
	cityLine := strings.TrimSpace(strings.Join([]string{a.City, a.Region, a.PostalCode}, " "))
	parts = append(parts, cityLine, a.Country)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
