package ledger

import (
	"fmt"

	"ledgerpay/internal/model"
)

// Field 用户行上允许变动的余额字段，封闭集合
type Field string

const (
	FieldMemberPoints     Field = "member_points"
	FieldMerchantPoints   Field = "merchant_points"
	FieldPromotionBalance Field = "promotion_balance" // 可提现余额
	FieldMerchantBalance  Field = "merchant_balance"
)

var fieldColumns = map[Field]string{
	FieldMemberPoints:     "member_points",
	FieldMerchantPoints:   "merchant_points",
	FieldPromotionBalance: "promotion_balance",
	FieldMerchantBalance:  "merchant_balance",
}

func (f Field) column() (string, bool) {
	col, ok := fieldColumns[f]
	return col, ok
}

// IsPoints 积分字段的审计记录写入 points_log，其余写入 account_flow
func (f Field) IsPoints() bool {
	return f == FieldMemberPoints || f == FieldMerchantPoints
}

func (f Field) pointsType() string {
	if f == FieldMerchantPoints {
		return model.PointsTypeMerchant
	}
	return model.PointsTypeMember
}

// AccountRef 账户引用：资金池，或某个用户的某个余额字段
type AccountRef struct {
	pool   model.PoolType
	userID int64
	field  Field
}

func Pool(p model.PoolType) AccountRef {
	return AccountRef{pool: p}
}

func UserAccount(userID int64, f Field) AccountRef {
	return AccountRef{userID: userID, field: f}
}

func (a AccountRef) IsPool() bool {
	return a.pool != ""
}

func (a AccountRef) UserID() int64 {
	return a.userID
}

func (a AccountRef) Field() Field {
	return a.field
}

// AccountType 写入 account_flow.account_type 的值
func (a AccountRef) AccountType() string {
	if a.IsPool() {
		return string(a.pool)
	}
	return string(a.field)
}

func (a AccountRef) String() string {
	if a.IsPool() {
		return string(a.pool)
	}
	return fmt.Sprintf("user:%d:%s", a.userID, a.field)
}

func (a AccountRef) valid() bool {
	if a.IsPool() {
		return a.userID == 0 && a.field == ""
	}
	_, ok := a.field.column()
	return ok && a.userID > 0
}
