package handler

import (
	"errors"

	"ledgerpay/internal/ledger"
	"ledgerpay/internal/payment"
	"ledgerpay/internal/repository"
	"ledgerpay/internal/service"
	"ledgerpay/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError 业务错误返回具体错误码与提示，基础设施错误只返回通用提示
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		insufficient *ledger.InsufficientBalanceError
		reversal     *ledger.ReversalInsufficientError
		orderErr     *service.OrderError
		referralErr  *service.ReferralError
	)

	switch {
	case errors.As(err, &reversal):
		h.log.Error("退款回冲余额不足，账本需要人工核对",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("order_number", reversal.OrderNumber),
			zap.String("account", reversal.Account),
			zap.Error(err))
		response.BusinessError(c, response.CodeReversalInsufficient, err.Error())
	case errors.As(err, &insufficient):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.As(err, &orderErr):
		response.BusinessError(c, response.CodeOrderInvalid, err.Error())
	case errors.As(err, &referralErr):
		response.BusinessError(c, response.CodeReferralInvalid, err.Error())
	case errors.Is(err, service.ErrRateLimitExceeded):
		response.BusinessError(c, response.CodeRateLimited, err.Error())
	case errors.Is(err, service.ErrOrderNotAvailable), errors.Is(err, repository.ErrProductNotFound):
		response.BusinessError(c, response.CodeProductUnavailable, err.Error())
	case errors.Is(err, service.ErrDuplicateOrder):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, service.ErrRewardNotFound):
		response.BusinessError(c, response.CodeRewardNotFound, err.Error())
	case errors.Is(err, service.ErrSubsidyPoolEmpty), errors.Is(err, service.ErrNoPointsOutstanding):
		response.BusinessError(c, response.CodeSubsidyUnavailable, err.Error())
	case errors.Is(err, service.ErrWithdrawalState):
		response.BusinessError(c, response.CodeWithdrawalState, err.Error())
	case errors.Is(err, repository.ErrCouponNotAvailable):
		response.BusinessError(c, response.CodeCouponNotAvailable, err.Error())
	case errors.Is(err, service.ErrLoginFailed), errors.Is(err, service.ErrUserFrozen), errors.Is(err, service.ErrUserDeleted):
		response.BusinessError(c, response.CodeLoginFailed, err.Error())
	case errors.Is(err, repository.ErrMobileRegistered):
		response.BusinessError(c, response.CodeBusinessError, err.Error())
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, repository.ErrPayOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, err.Error())
	case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, repository.ErrWithdrawalNotFound):
		response.BusinessError(c, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidParam), errors.Is(err, service.ErrInvalidAmount):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrAmountMismatch), errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrNotifyExpired), errors.Is(err, payment.ErrMalformedNotify):
		response.BusinessError(c, response.CodePaymentFailed, err.Error())
	default:
		h.log.Error("请求处理失败",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		response.ServerError(c, "系统繁忙，请稍后重试")
	}
}
