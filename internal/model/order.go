package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 支付单状态（收银台下单 -> 微信回调）
const (
	PayOrderStatusPendingPay = "PENDING_PAY"
	PayOrderStatusPaid       = "PAID"
	PayOrderStatusClosed     = "CLOSED"
)

var ValidStatusTransitions = map[string][]string{
	PayOrderStatusPendingPay: {PayOrderStatusPaid, PayOrderStatusClosed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// 结算订单状态
const (
	OrderStatusCompleted = "completed"
	OrderStatusRefunded  = "refunded"
)

const ProductStatusListed int8 = 1

// Product 商品，user_id 为所属商家
type Product struct {
	ID              int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string              `gorm:"type:varchar(255);not null" json:"name"`
	UserID          int64               `gorm:"index;not null" json:"user_id"`
	Price           decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"price"`
	Stock           int                 `gorm:"not null;default:0" json:"stock"`
	IsMemberProduct bool                `gorm:"not null;default:false" json:"is_member_product"`
	Status          int8                `gorm:"not null;default:1" json:"status"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

type ProductSku struct {
	ID        int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64               `gorm:"index;not null" json:"product_id"`
	Price     decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"price"`
	CreatedAt time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func (ProductSku) TableName() string {
	return "product_skus"
}

// Order 结算订单，结算时创建一次，之后只允许 completed -> refunded
type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_number"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	MerchantID     int64           `gorm:"index;not null" json:"merchant_id"`
	ProductID      int64           `gorm:"not null" json:"product_id"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total_amount"` // 抵扣后
	OriginalAmount decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"original_amount"`
	PointsDiscount decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"points_discount"`
	PointsUsed     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"points_used"`
	IsMemberOrder  bool            `gorm:"not null;default:false" json:"is_member_order"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	RefundedAt     *time.Time      `json:"refunded_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    int64           `gorm:"index;not null" json:"order_id"`
	ProductID  int64           `gorm:"not null" json:"product_id"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// PayOrder 收银台支付单，回调成功后驱动结算
type PayOrder struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	ProductID     int64           `gorm:"not null" json:"product_id"`
	Quantity      int             `gorm:"not null;default:1" json:"quantity"`
	PointsToUse   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"points_to_use"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	Status        string          `gorm:"type:varchar(20);index;not null" json:"status"`
	TransactionID string          `gorm:"type:varchar(64)" json:"transaction_id"`
	ExpiredAt     time.Time       `gorm:"not null" json:"expired_at"`
	PaidAt        *time.Time      `json:"paid_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PayOrder) TableName() string {
	return "pay_order"
}
