package handler

import (
	"ledgerpay/internal/infrastructure/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, tokens *auth.TokenIssuer, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		api.POST("/user/register", h.Register)
		api.POST("/user/login", h.Login)
		// 支付平台回调，不走登录鉴权，由网关验签
		api.POST("/pay/notify", h.PayNotify)

		authed := api.Group("", AuthMiddleware(tokens))

		user := authed.Group("/user")
		{
			user.GET("/info", h.UserInfo)
			user.GET("/referrer", h.GetReferrer)
			user.POST("/referrer", h.SetReferrer)
			user.GET("/team", h.GetTeam)
			user.GET("/coupons", h.ListCoupons)
			user.POST("/coupons/:id/use", h.UseCoupon)
			user.GET("/chain", h.TransactionChain)
		}

		pay := authed.Group("/pay")
		{
			pay.POST("/create", h.CreatePayOrder)
			pay.GET("/order", h.GetPayOrder)
		}

		withdrawal := authed.Group("/withdrawal")
		{
			withdrawal.POST("/apply", h.ApplyWithdrawal)
			withdrawal.GET("/list", h.ListMyWithdrawals)
		}

		admin := authed.Group("/admin", AdminMiddleware())
		{
			admin.POST("/orders/settle", h.SettleOrder)
			admin.POST("/orders/refund", h.RefundOrder)

			admin.GET("/rewards", h.ListRewards)
			admin.POST("/rewards/audit", h.AuditRewards)
			admin.POST("/subsidy/distribute", h.DistributeSubsidy)
			admin.POST("/directors/check", h.CheckDirectors)

			admin.GET("/withdrawals", h.ListWithdrawals)
			admin.POST("/withdrawals/:id/audit", h.AuditWithdrawal)

			admin.GET("/events/failed", h.ListFailedEvents)
			admin.POST("/events/:id/requeue", h.RequeueEvent)

			admin.GET("/reports/summary", h.FinanceSummary)
			admin.GET("/reports/flows", h.ListAccountFlows)
			admin.GET("/reports/points", h.ListPointsLogs)
			admin.GET("/reports/welfare", h.PublicWelfareReport)
			admin.GET("/reports/points-deduction", h.PointsDeductionReport)
			admin.GET("/reports/chain", h.TransactionChain)
			admin.GET("/users/:id", h.GetUser)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
