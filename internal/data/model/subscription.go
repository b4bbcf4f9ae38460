package model

import (
	"time"
)

// Subscription 订阅表
type Subscription struct {
	SubscriptionID   string    `gorm:"primaryKey;type:varchar(36)"`
	UserID           string    `gorm:"type:varchar(64);not null;index:idx_user_status,priority:1"`
	PlanID           string    `gorm:"type:varchar(64);not null"`
	Tier             string    `gorm:"type:varchar(16);not null"`
	Priority         int       `gorm:"not null"`
	Price            string    `gorm:"type:decimal(10,2);not null"`
	DurationDays     int       `gorm:"not null"`
	MonthlyAllowance int64     `gorm:"not null"`
	StartDate        time.Time `gorm:"not null"`
	EndDate          time.Time `gorm:"not null"`
	Status           string    `gorm:"type:varchar(16);not null;index:idx_user_status,priority:2"` // active/superseded/cancelled/expired
	RequestID        string    `gorm:"type:varchar(128);not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscription"
}
