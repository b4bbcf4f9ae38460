package model

import (
	"time"
)

// LedgerEntry 积分流水表，只追加不修改
type LedgerEntry struct {
	Seq               uint64    `gorm:"primaryKey;autoIncrement"`
	EntryID           string    `gorm:"type:varchar(36);not null;uniqueIndex"`
	UserID            string    `gorm:"type:varchar(64);not null;index:idx_user_seq,priority:1;uniqueIndex:uk_user_request_type,priority:1"`
	Type              string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_user_request_type,priority:3"` // consume/grant/refund/adjust
	RequestID         string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_user_request_type,priority:2"`
	Delta             int64     `gorm:"not null"`
	PermanentDelta    int64     `gorm:"not null"`
	SubscriptionDelta int64     `gorm:"not null"`
	BalanceBefore     int64     `gorm:"not null"`
	BalanceAfter      int64     `gorm:"not null"`
	Metadata          string    `gorm:"type:text"` // JSON
	CreatedAt         time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
