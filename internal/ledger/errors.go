package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrUnknownAccount = errors.New("未知账户")

// InsufficientBalanceError 扣减前的余额校验失败，属于业务校验错误
type InsufficientBalanceError struct {
	Account   string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("余额不足: %s 需要 %s，可用 %s", e.Account, e.Required.String(), e.Available.String())
}

// ReversalInsufficientError 退款回冲时账户已无法覆盖原分账金额，说明账本出现偏差，需要人工介入
type ReversalInsufficientError struct {
	OrderNumber string
	Account     string
	Required    decimal.Decimal
	Available   decimal.Decimal
}

func (e *ReversalInsufficientError) Error() string {
	return fmt.Sprintf("退款回冲余额不足: 订单 %s 账户 %s 需回冲 %s，当前 %s",
		e.OrderNumber, e.Account, e.Required.String(), e.Available.String())
}
