package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"ledgerpay/internal/infrastructure/auth"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"
	"ledgerpay/internal/service"
	"ledgerpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Services handler 依赖的全部服务
type Services struct {
	User       *service.UserService
	Settlement *service.SettlementService
	Payment    *service.PaymentService
	Reward     *service.RewardService
	Withdrawal *service.WithdrawalService
	Refund     *service.RefundService
	Report     *service.ReportService
	Events     *service.EventService
}

// Handler 统一处理器
type Handler struct {
	svc Services
	log *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	return v, err == nil
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}

// dateRange 解析 start_date / end_date（YYYY-MM-DD），结束日期当天包含在内
func dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, err := time.ParseInLocation("2006-01-02", c.Query("start_date"), time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.ParseInLocation("2006-01-02", c.Query("end_date"), time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end.AddDate(0, 0, 1), true
}

// ============================================================
// 用户
// ============================================================

// Register POST /api/v1/user/register
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	user, err := h.svc.User.Register(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":       user.ID,
		"referral_code": user.ReferralCode,
	})
}

type LoginRequest struct {
	Mobile   string `json:"mobile" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login POST /api/v1/user/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.User.Login(c.Request.Context(), req.Mobile, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// UserInfo GET /api/v1/user/info
func (h *Handler) UserInfo(c *gin.Context) {
	info, err := h.svc.Report.UserInfo(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, info)
}

type SetReferrerRequest struct {
	ReferrerID int64 `json:"referrer_id" binding:"required"`
}

// SetReferrer POST /api/v1/user/referrer
func (h *Handler) SetReferrer(c *gin.Context) {
	var req SetReferrerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.svc.User.SetReferrer(c.Request.Context(), currentUserID(c), req.ReferrerID); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"referrer_id": req.ReferrerID})
}

// GetReferrer GET /api/v1/user/referrer
func (h *Handler) GetReferrer(c *gin.Context) {
	ref, err := h.svc.User.GetReferrer(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if ref == nil {
		response.Success(c, nil)
		return
	}
	response.Success(c, gin.H{
		"referrer_id":  ref.ID,
		"name":         ref.Name,
		"member_level": ref.MemberLevel,
	})
}

// GetTeam GET /api/v1/user/team?max_layer=6
func (h *Handler) GetTeam(c *gin.Context) {
	maxLayer, _ := strconv.Atoi(c.DefaultQuery("max_layer", "0"))
	team, err := h.svc.User.GetTeam(c.Request.Context(), currentUserID(c), maxLayer)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": team, "total": len(team)})
}

// ListCoupons GET /api/v1/user/coupons?status=unused
func (h *Handler) ListCoupons(c *gin.Context) {
	coupons, err := h.svc.Reward.ListCoupons(c.Request.Context(), currentUserID(c), c.DefaultQuery("status", model.CouponStatusUnused))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, coupons)
}

// UseCoupon POST /api/v1/user/coupons/:id/use
func (h *Handler) UseCoupon(c *gin.Context) {
	couponID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "优惠券ID错误")
		return
	}
	if err := h.svc.Reward.UseCoupon(c.Request.Context(), currentUserID(c), couponID); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"coupon_id": couponID})
}

// TransactionChain GET /api/v1/user/chain?order_number=xxx
func (h *Handler) TransactionChain(c *gin.Context) {
	userID := currentUserID(c)
	if c.GetString(ctxRole) == auth.RoleAdmin {
		if id, ok := queryInt64(c, "user_id"); ok && id > 0 {
			userID = id
		}
	}
	report, err := h.svc.Report.TransactionChain(c.Request.Context(), userID, c.Query("order_number"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, report)
}

// ============================================================
// 支付
// ============================================================

// CreatePayOrder POST /api/v1/pay/create
func (h *Handler) CreatePayOrder(c *gin.Context) {
	var req service.CreatePayOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.UserID = currentUserID(c)
	po, err := h.svc.Payment.CreatePayOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"order_no":   po.OrderNo,
		"amount":     po.Amount.StringFixed(2),
		"status":     po.Status,
		"expired_at": po.ExpiredAt,
	})
}

// GetPayOrder GET /api/v1/pay/order?order_no=xxx
func (h *Handler) GetPayOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}
	po, err := h.svc.Payment.GetPayOrder(c.Request.Context(), orderNo)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if po.UserID != currentUserID(c) && c.GetString(ctxRole) != auth.RoleAdmin {
		response.BusinessError(c, response.CodeOrderNotFound, repository.ErrPayOrderNotFound.Error())
		return
	}
	response.Success(c, po)
}

// PayNotify POST /api/v1/pay/notify
//
// 支付平台回调，按微信支付约定：成功返回 200，失败返回非 2xx 让平台重试。
func (h *Handler) PayNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "读取报文失败"})
		return
	}
	result, err := h.svc.Payment.HandleNotify(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": err.Error()})
		return
	}
	h.log.Info("支付回调处理完成",
		zap.String("order_no", result.OrderNo),
		zap.Bool("settled", result.Settled),
		zap.Bool("duplicate", result.Duplicate),
		zap.Bool("late_payment", result.LatePayment))
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "message": "成功"})
}

// ============================================================
// 提现
// ============================================================

type ApplyWithdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	WithdrawalType string          `json:"withdrawal_type"`
}

// ApplyWithdrawal POST /api/v1/withdrawal/apply
func (h *Handler) ApplyWithdrawal(c *gin.Context) {
	var req ApplyWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	w, err := h.svc.Withdrawal.ApplyWithdrawal(c.Request.Context(), &service.ApplyWithdrawalRequest{
		UserID:         currentUserID(c),
		Amount:         req.Amount,
		WithdrawalType: req.WithdrawalType,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, w)
}

// ListMyWithdrawals GET /api/v1/withdrawal/list?status=
func (h *Handler) ListMyWithdrawals(c *gin.Context) {
	list, err := h.svc.Withdrawal.ListWithdrawals(c.Request.Context(), currentUserID(c), c.Query("status"), 50)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, list)
}

// ============================================================
// 后台：订单
// ============================================================

// SettleOrder POST /api/v1/admin/orders/settle
//
// 人工补单，正常流程由支付回调触发结算。
func (h *Handler) SettleOrder(c *gin.Context) {
	var req service.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	orderID, err := h.svc.Settlement.SettleOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"order_id": orderID, "order_number": req.OrderNumber})
}

type RefundOrderRequest struct {
	OrderNumber string `json:"order_number" binding:"required"`
}

// RefundOrder POST /api/v1/admin/orders/refund
func (h *Handler) RefundOrder(c *gin.Context) {
	var req RefundOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.Refund.RefundOrder(c.Request.Context(), req.OrderNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 后台：奖励与补贴
// ============================================================

// ListRewards GET /api/v1/admin/rewards?status=pending&reward_type=team&user_id=&limit=50
func (h *Handler) ListRewards(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rewards, err := h.svc.Reward.ListRewards(c.Request.Context(),
		c.DefaultQuery("status", model.RewardStatusPending), c.Query("reward_type"), userID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, rewards)
}

type AuditRewardsRequest struct {
	RewardIDs []int64 `json:"reward_ids" binding:"required,min=1"`
	Approve   bool    `json:"approve"`
}

// AuditRewards POST /api/v1/admin/rewards/audit
func (h *Handler) AuditRewards(c *gin.Context) {
	var req AuditRewardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	n, err := h.svc.Reward.AuditRewards(c.Request.Context(), req.RewardIDs, req.Approve, auditor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"processed": n, "approve": req.Approve})
}

// DistributeSubsidy POST /api/v1/admin/subsidy/distribute
func (h *Handler) DistributeSubsidy(c *gin.Context) {
	result, err := h.svc.Reward.DistributeWeeklySubsidy(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// CheckDirectors POST /api/v1/admin/directors/check
func (h *Handler) CheckDirectors(c *gin.Context) {
	n, err := h.svc.User.CheckDirectorPromotion(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"promoted": n})
}

// ============================================================
// 后台：提现审核
// ============================================================

type AuditWithdrawalRequest struct {
	Approve bool `json:"approve"`
}

// AuditWithdrawal POST /api/v1/admin/withdrawals/:id/audit
func (h *Handler) AuditWithdrawal(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "提现ID错误")
		return
	}
	var req AuditWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	w, err := h.svc.Withdrawal.AuditWithdrawal(c.Request.Context(), id, req.Approve, auditor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, w)
}

// ListWithdrawals GET /api/v1/admin/withdrawals?status=pending_manual&user_id=
func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.svc.Withdrawal.ListWithdrawals(c.Request.Context(), userID, c.Query("status"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, list)
}

// ListFailedEvents GET /api/v1/admin/events/failed
func (h *Handler) ListFailedEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.svc.Events.ListFailed(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, list)
}

// RequeueEvent POST /api/v1/admin/events/:id/requeue
func (h *Handler) RequeueEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "事件ID错误")
		return
	}
	if err := h.svc.Events.Requeue(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// ============================================================
// 后台：报表
// ============================================================

// FinanceSummary GET /api/v1/admin/reports/summary
func (h *Handler) FinanceSummary(c *gin.Context) {
	summary, err := h.svc.Report.FinanceSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, summary)
}

// ListAccountFlows GET /api/v1/admin/reports/flows?account_type=&user_id=&order_id=&page=&page_size=
func (h *Handler) ListAccountFlows(c *gin.Context) {
	userID, ok1 := queryInt64(c, "user_id")
	orderID, ok2 := queryInt64(c, "order_id")
	if !ok1 || !ok2 {
		response.ParamError(c, "user_id / order_id 参数错误")
		return
	}
	page, pageSize := pageParams(c)
	flows, total, err := h.svc.Report.ListAccountFlows(c.Request.Context(), repository.FlowFilter{
		AccountType: c.Query("account_type"),
		UserID:      userID,
		OrderID:     orderID,
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, flows, total, page, pageSize)
}

// ListPointsLogs GET /api/v1/admin/reports/points?user_id=&type=&page=&page_size=
func (h *Handler) ListPointsLogs(c *gin.Context) {
	userID, ok1 := queryInt64(c, "user_id")
	orderID, ok2 := queryInt64(c, "order_id")
	if !ok1 || !ok2 {
		response.ParamError(c, "user_id / order_id 参数错误")
		return
	}
	page, pageSize := pageParams(c)
	logs, total, err := h.svc.Report.ListPointsLogs(c.Request.Context(), repository.PointsFilter{
		UserID:   userID,
		Type:     c.Query("type"),
		OrderID:  orderID,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, logs, total, page, pageSize)
}

// PublicWelfareReport GET /api/v1/admin/reports/welfare?start_date=2024-01-01&end_date=2024-01-31
func (h *Handler) PublicWelfareReport(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		response.ParamError(c, "start_date / end_date 格式应为 YYYY-MM-DD")
		return
	}
	page, pageSize := pageParams(c)
	report, err := h.svc.Report.PublicWelfareReport(c.Request.Context(), start, end, page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, report)
}

// PointsDeductionReport GET /api/v1/admin/reports/points-deduction?start_date=&end_date=
func (h *Handler) PointsDeductionReport(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		response.ParamError(c, "start_date / end_date 格式应为 YYYY-MM-DD")
		return
	}
	page, pageSize := pageParams(c)
	report, err := h.svc.Report.PointsDeductionReport(c.Request.Context(), start, end, page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, report)
}

// GetUser GET /api/v1/admin/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "用户ID错误")
		return
	}
	info, err := h.svc.Report.UserInfo(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, info)
}
