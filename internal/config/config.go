package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Log     LogConfig     `mapstructure:"log"`
	Payment PaymentConfig `mapstructure:"payment"`
	Finance FinanceConfig `mapstructure:"finance"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	OrderSettled      string `mapstructure:"order_settled"`
	OrderRefunded     string `mapstructure:"order_refunded"`
	WithdrawalAudited string `mapstructure:"withdrawal_audited"`
	PaymentLate       string `mapstructure:"payment_late"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// PaymentConfig 支付网关配置，mode 只在启动时读取一次
type PaymentConfig struct {
	Mode              string `mapstructure:"mode"` // wechat | simulated
	APIv3Key          string `mapstructure:"api_v3_key"`
	PlatformCertPath  string `mapstructure:"platform_cert_path"` // 微信支付平台证书 PEM
	OrderTimeoutMins  int    `mapstructure:"order_timeout_minutes"`
	MaxNotifySkewSecs int64  `mapstructure:"max_notify_skew_seconds"`
}

// FinanceConfig 财务引擎参数，全部以字符串形式配置后解析为 decimal
type FinanceConfig struct {
	PlatformMerchantID       int64             `mapstructure:"platform_merchant_id"`
	MemberProductPrice       string            `mapstructure:"member_product_price"`
	TaxRate                  string            `mapstructure:"tax_rate"`
	MaxPointsValue           string            `mapstructure:"max_points_value"`
	PointsDiscountRate       string            `mapstructure:"points_discount_rate"`
	MaxDiscountRatio         string            `mapstructure:"max_discount_ratio"`
	MerchantShare            string            `mapstructure:"merchant_share"`
	MerchantPointsRate       string            `mapstructure:"merchant_points_rate"`
	CompanyPointsRate        string            `mapstructure:"company_points_rate"`
	RewardRate               string            `mapstructure:"reward_rate"`
	WithdrawManualThreshold  string            `mapstructure:"withdraw_manual_threshold"`
	CouponValidDays          int               `mapstructure:"coupon_valid_days"`
	MaxTeamLayer             int               `mapstructure:"max_team_layer"`
	MaxMemberLevel           int               `mapstructure:"max_member_level"`
	MaxPurchasePerDay        int64             `mapstructure:"max_purchase_per_day"`
	SubsidyDeductCompanyPts  bool              `mapstructure:"subsidy_deduct_company_points"`
	DirectorDirectThreshold  int               `mapstructure:"director_direct_threshold"`
	DirectorTeamThreshold    int               `mapstructure:"director_team_threshold"`
	Allocations              map[string]string `mapstructure:"allocations"`
}

type JobsConfig struct {
	SubsidyWeekday       int `mapstructure:"subsidy_weekday"`
	SubsidyHour          int `mapstructure:"subsidy_hour"`
	DirectorCheckMinutes int `mapstructure:"director_check_minutes"`
	OutboxMaxRetry       int `mapstructure:"outbox_max_retry"`
}

// AuthConfig 登录令牌配置，admin_mobiles 中的手机号登录后拥有后台权限
type AuthConfig struct {
	Secret       string   `mapstructure:"secret"`
	ExpireHours  int      `mapstructure:"expire_hours"`
	Issuer       string   `mapstructure:"issuer"`
	AdminMobiles []string `mapstructure:"admin_mobiles"`
}

// Allocation 资金池分配比例（相对于分配基数）
type Allocation struct {
	Pool  string
	Ratio decimal.Decimal
}

// Finance 解析后的不可变财务参数
type Finance struct {
	PlatformMerchantID      int64
	MemberProductPrice      decimal.Decimal
	TaxRate                 decimal.Decimal
	MaxPointsValue          decimal.Decimal
	PointsDiscountRate      decimal.Decimal
	MaxDiscountRatio        decimal.Decimal
	MerchantShare           decimal.Decimal
	MerchantPointsRate      decimal.Decimal
	CompanyPointsRate       decimal.Decimal
	RewardRate              decimal.Decimal
	WithdrawManualThreshold decimal.Decimal
	CouponValidDays         int
	MaxTeamLayer            int
	MaxMemberLevel          int
	MaxPurchasePerDay       int64
	SubsidyDeductCompanyPts bool
	DirectorDirectThreshold int
	DirectorTeamThreshold   int
	// Allocations 第一项固定为平台收入池，其余按池名排序
	Allocations []Allocation
}

// LoadConfig 加载配置文件，环境变量 LEDGER_* 可覆盖同名配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

// ParseFinance 校验并解析财务参数
func (c FinanceConfig) ParseFinance() (*Finance, error) {
	f := &Finance{
		PlatformMerchantID:      c.PlatformMerchantID,
		CouponValidDays:         c.CouponValidDays,
		MaxTeamLayer:            c.MaxTeamLayer,
		MaxMemberLevel:          c.MaxMemberLevel,
		MaxPurchasePerDay:       c.MaxPurchasePerDay,
		SubsidyDeductCompanyPts: c.SubsidyDeductCompanyPts,
		DirectorDirectThreshold: c.DirectorDirectThreshold,
		DirectorTeamThreshold:   c.DirectorTeamThreshold,
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"member_product_price", c.MemberProductPrice, &f.MemberProductPrice},
		{"tax_rate", c.TaxRate, &f.TaxRate},
		{"max_points_value", c.MaxPointsValue, &f.MaxPointsValue},
		{"points_discount_rate", c.PointsDiscountRate, &f.PointsDiscountRate},
		{"max_discount_ratio", c.MaxDiscountRatio, &f.MaxDiscountRatio},
		{"merchant_share", c.MerchantShare, &f.MerchantShare},
		{"merchant_points_rate", c.MerchantPointsRate, &f.MerchantPointsRate},
		{"company_points_rate", c.CompanyPointsRate, &f.CompanyPointsRate},
		{"reward_rate", c.RewardRate, &f.RewardRate},
		{"withdraw_manual_threshold", c.WithdrawManualThreshold, &f.WithdrawManualThreshold},
	}
	for _, fd := range fields {
		d, err := decimal.NewFromString(fd.raw)
		if err != nil {
			return nil, fmt.Errorf("finance.%s 配置错误: %w", fd.name, err)
		}
		*fd.dst = d
	}

	allocs, err := ParseAllocations(c.Allocations)
	if err != nil {
		return nil, err
	}
	f.Allocations = allocs

	if f.MaxMemberLevel <= 0 {
		return nil, fmt.Errorf("finance.max_member_level 必须大于0")
	}
	if f.PointsDiscountRate.Sign() <= 0 {
		return nil, fmt.Errorf("finance.points_discount_rate 必须大于0")
	}
	return f, nil
}
