package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 服务启动配置
type Bootstrap struct {
	Server   *Server   `json:"server"`
	Data     *Data     `json:"data"`
	Billing  *Billing  `json:"billing"`
	Provider *Provider `json:"provider"`
	Log      *Log      `json:"log"`
}

// Log 日志配置
type Log struct {
	Level    string `json:"level"`
	Format   string `json:"format"`
	FilePath string `json:"file_path"`
}

// Server 传输层配置
type Server struct {
	Http *Server_HTTP `json:"http"`
}

// Server_HTTP HTTP 服务配置
type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 数据层配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_Rocketmq `json:"rocketmq"`
}

// Data_Database 数据库配置
type Data_Database struct {
	Driver      string `json:"driver"`
	Source      string `json:"source"`
	AutoMigrate bool   `json:"auto_migrate"`
}

// Data_Redis Redis 配置
type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int       `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

// Data_Rocketmq RocketMQ 配置
type Data_Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Billing 计费配置
type Billing struct {
	DefaultGrant          int64          `json:"default_grant"`
	EstimateMultiplier    string         `json:"estimate_multiplier"`
	CharsPerToken         int64          `json:"chars_per_token"`
	CallTimeout           *Duration      `json:"call_timeout"`
	StaleReservationAfter *Duration      `json:"stale_reservation_after"`
	Retry                 *Billing_Retry `json:"retry"`
	Tiers                 []string       `json:"tiers"`
	Pricing               []*PricingRule `json:"pricing"`
	Plans                 []*Plan        `json:"plans"`
}

// Billing_Retry 余额写冲突重试策略
type Billing_Retry struct {
	MaxAttempts int       `json:"max_attempts"`
	MinBackoff  *Duration `json:"min_backoff"`
	MaxBackoff  *Duration `json:"max_backoff"`
}

// PricingRule 计价规则
type PricingRule struct {
	OperationType string `json:"operation_type"`
	ModelId       string `json:"model_id"`
	Strategy      string `json:"strategy"`
	BaseCost      int64  `json:"base_cost"`
	UnitCost      int64  `json:"unit_cost"`
	MinCharge     int64  `json:"min_charge"`
	RequiredTier  string `json:"required_tier"`
}

// Plan 订阅套餐
type Plan struct {
	Id               string `json:"id"`
	Name             string `json:"name"`
	Tier             string `json:"tier"`
	Priority         int32  `json:"priority"`
	Price            string `json:"price"`
	DurationDays     int32  `json:"duration_days"`
	MonthlyAllowance int64  `json:"monthly_allowance"`
}

// Provider 计量调用的上游服务
type Provider struct {
	Endpoint string    `json:"endpoint"`
	ApiKey   string    `json:"api_key"`
	Timeout  *Duration `json:"timeout"`
}

// Duration 支持 "1.5s" 这类字符串的时长
type Duration struct {
	time.Duration
}

// NewDuration 包装 time.Duration
func NewDuration(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

// AsDuration 返回 time.Duration，nil 视为 0
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

// UnmarshalJSON 解析字符串或纳秒数
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}

// MarshalJSON 输出字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
