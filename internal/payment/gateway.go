package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ledgerpay/internal/config"

	"github.com/shopspring/decimal"
)

const (
	ModeWechat    = "wechat"
	ModeSimulated = "simulated"
)

// TradeStateSuccess 支付成功状态
const TradeStateSuccess = "SUCCESS"

var (
	ErrInvalidSignature = errors.New("回调签名验证失败")
	ErrNotifyExpired    = errors.New("回调时间戳超出允许范围")
	ErrMalformedNotify  = errors.New("回调报文格式错误")
)

// Notification 验签解密后的支付结果
type Notification struct {
	OutTradeNo    string
	TransactionID string
	TradeState    string
	Amount        decimal.Decimal // 元
	SuccessTime   time.Time
}

func (n *Notification) Succeeded() bool {
	return n.TradeState == TradeStateSuccess
}

// Gateway 支付回调解析策略，进程启动时按配置选定一次
type Gateway interface {
	Name() string
	ParseNotify(ctx context.Context, header http.Header, body []byte) (*Notification, error)
}

// NewGateway 根据 payment.mode 创建网关
func NewGateway(cfg config.PaymentConfig) (Gateway, error) {
	switch cfg.Mode {
	case ModeWechat:
		return NewWechatGateway(cfg)
	case ModeSimulated, "":
		return NewSimulatedGateway(), nil
	default:
		return nil, fmt.Errorf("不支持的支付模式: %s", cfg.Mode)
	}
}
