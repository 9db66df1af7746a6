package service

import (
	"errors"
	"fmt"
)

// 业务校验错误，由 handler 映射为业务错误码
var (
	ErrOrderNotAvailable   = errors.New("商品不存在、未上架或价格无效")
	ErrRateLimitExceeded   = errors.New("24小时内会员商品购买次数已达上限")
	ErrDuplicateOrder      = errors.New("订单号已结算")
	ErrRewardNotFound      = errors.New("没有待审核的奖励")
	ErrSubsidyPoolEmpty    = errors.New("周补贴池余额为0，无法发放")
	ErrNoPointsOutstanding = errors.New("全平台积分为0，无法发放")
	ErrWithdrawalState     = errors.New("提现申请状态不允许审核")
	ErrInvalidAmount       = errors.New("金额必须大于0")
	ErrInvalidParam        = errors.New("参数错误")
	ErrLoginFailed         = errors.New("手机号或密码错误")
)

// OrderError 订单相关的业务校验失败（积分、用户、商家、订单状态）
type OrderError struct {
	Reason string
}

func (e *OrderError) Error() string {
	return e.Reason
}

func orderErrorf(format string, args ...interface{}) error {
	return &OrderError{Reason: fmt.Sprintf(format, args...)}
}

// ReferralError 推荐关系设置失败
type ReferralError struct {
	Reason string
}

func (e *ReferralError) Error() string {
	return e.Reason
}
