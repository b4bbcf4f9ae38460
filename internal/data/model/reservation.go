package model

import (
	"time"
)

// Reservation 预扣表
type Reservation struct {
	ReservationID     string    `gorm:"primaryKey;type:varchar(36)"`
	UserID            string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_request,priority:1"`
	RequestID         string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_user_request,priority:2"`
	OperationType     string    `gorm:"type:varchar(32);not null"`
	ModelID           string    `gorm:"type:varchar(64);not null"`
	Estimate          int64     `gorm:"not null"`
	PermanentDrawn    int64     `gorm:"not null;default:0"`
	SubscriptionDrawn int64     `gorm:"not null;default:0"`
	Actual            int64     `gorm:"not null;default:0"`
	Shortfall         int64     `gorm:"not null;default:0"`
	Status            string    `gorm:"type:varchar(16);not null;index:idx_status_created,priority:1"` // reserved/settled/refunded
	Reason            string    `gorm:"type:varchar(32)"`
	CreatedAt         time.Time `gorm:"not null;index:idx_status_created,priority:2"`
	UpdatedAt         time.Time
}

// TableName 指定表名
func (Reservation) TableName() string {
	return "reservation"
}
