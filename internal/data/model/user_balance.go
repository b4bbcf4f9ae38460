package model

import (
	"time"
)

// UserBalance 账户余额表
type UserBalance struct {
	UserID             string     `gorm:"primaryKey;type:varchar(64)"`
	PermanentCredits   int64      `gorm:"not null;default:0"`
	AllowanceAmount    int64      `gorm:"not null;default:0"`
	AllowanceExpiresAt *time.Time `gorm:"index"`
	AllowancePriority  int        `gorm:"not null;default:0"`
	AllowancePlanID    string     `gorm:"type:varchar(64)"`
	Version            int64      `gorm:"not null;default:0"` // 乐观锁版本号
	CreatedAt          time.Time  `gorm:"autoCreateTime"`
	UpdatedAt          time.Time
}

// TableName 指定表名
func (UserBalance) TableName() string {
	return "user_balance"
}
