package model

import (
	"time"
)

// UsageRecord 结算用量表，由用量事件写入，按 reservation_id 去重
type UsageRecord struct {
	ReservationID string    `gorm:"primaryKey;type:varchar(36)"`
	UserID        string    `gorm:"type:varchar(64);not null;index:idx_user_settled,priority:1"`
	OperationType string    `gorm:"type:varchar(32);not null"`
	ModelID       string    `gorm:"type:varchar(64);not null"`
	Estimate      int64     `gorm:"not null"`
	Charged       int64     `gorm:"not null"`
	InputTokens   int64     `gorm:"not null;default:0"`
	OutputTokens  int64     `gorm:"not null;default:0"`
	Characters    int64     `gorm:"not null;default:0"`
	SettledAt     time.Time `gorm:"not null;index:idx_user_settled,priority:2"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (UsageRecord) TableName() string {
	return "usage_record"
}

// All 需要迁移的全部表
func All() []interface{} {
	return []interface{}{
		&UserBalance{},
		&LedgerEntry{},
		&Reservation{},
		&Subscription{},
		&UsageRecord{},
	}
}
