package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码
const (
	CodeOrderNotFound        = 1001
	CodeOrderInvalid         = 1002
	CodeBalanceNotEnough     = 1003
	CodeDuplicateRequest     = 1004
	CodeAccountNotFound      = 1005
	CodePaymentFailed        = 1006
	CodeRefundFailed         = 1007
	CodeRateLimited          = 1008
	CodeReversalInsufficient = 1009
	CodeRewardNotFound       = 1010
	CodeWithdrawalState      = 1011
	CodeReferralInvalid      = 1012
	CodeCouponNotAvailable   = 1013
	CodeLoginFailed          = 1014
	CodeSubsidyUnavailable   = 1015
	CodeProductUnavailable   = 1016
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// PageData 分页列表
type PageData struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeSuccess,
		Message:   "success",
		Data:      data,
		RequestID: c.GetString("request_id"),
	})
}

func Page(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	Success(c, PageData{List: list, Total: total, Page: page, PageSize: pageSize})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:      code,
		Message:   message,
		RequestID: c.GetString("request_id"),
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// Unauthorized 鉴权失败直接返回 401
func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:      CodeUnauthorized,
		Message:   message,
		RequestID: c.GetString("request_id"),
	})
}

func Forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Response{
		Code:      CodeForbidden,
		Message:   message,
		RequestID: c.GetString("request_id"),
	})
}
