package payment

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ledgerpay/internal/config"

	"github.com/shopspring/decimal"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// 微信支付 APIv3 回调请求头
const (
	headerTimestamp = "Wechatpay-Timestamp"
	headerNonce     = "Wechatpay-Nonce"
	headerSignature = "Wechatpay-Signature"
	headerSerial    = "Wechatpay-Serial"
)

// WechatGateway 微信支付 APIv3 回调，验签与 AEAD_AES_256_GCM 解密交给官方 SDK 的 notify.Handler
type WechatGateway struct {
	handler *notify.Handler
	maxSkew time.Duration
	now     func() time.Time
}

func NewWechatGateway(cfg config.PaymentConfig) (*WechatGateway, error) {
	if len(cfg.APIv3Key) != 32 {
		return nil, fmt.Errorf("payment.api_v3_key 长度必须为32")
	}
	cert, err := utils.LoadCertificateWithPath(cfg.PlatformCertPath)
	if err != nil {
		return nil, fmt.Errorf("读取微信平台证书失败: %w", err)
	}
	return newWechatGateway(cfg.APIv3Key, []*x509.Certificate{cert}, time.Duration(cfg.MaxNotifySkewSecs)*time.Second)
}

// newWechatGateway 平台证书按序列号匹配 Wechatpay-Serial
func newWechatGateway(apiV3Key string, certs []*x509.Certificate, maxSkew time.Duration) (*WechatGateway, error) {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	verifier := verifiers.NewSHA256WithRSAVerifier(core.NewCertificateMapWithList(certs))
	handler, err := notify.NewRSANotifyHandler(apiV3Key, verifier)
	if err != nil {
		return nil, fmt.Errorf("创建微信回调处理器失败: %w", err)
	}
	return &WechatGateway{handler: handler, maxSkew: maxSkew, now: time.Now}, nil
}

func (g *WechatGateway) Name() string {
	return ModeWechat
}

type wechatTransaction struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	SuccessTime   string `json:"success_time"`
	Amount        struct {
		Total    int64  `json:"total"` // 分
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (g *WechatGateway) ParseNotify(ctx context.Context, header http.Header, body []byte) (*Notification, error) {
	if err := g.checkHeader(header); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()

	var txn wechatTransaction
	if _, err := g.handler.ParseNotifyRequest(ctx, req, &txn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if txn.OutTradeNo == "" {
		return nil, fmt.Errorf("%w: 缺少 out_trade_no", ErrMalformedNotify)
	}

	paidAt := g.now()
	if txn.SuccessTime != "" {
		if t, err := time.Parse(time.RFC3339, txn.SuccessTime); err == nil {
			paidAt = t
		}
	}
	return &Notification{
		OutTradeNo:    txn.OutTradeNo,
		TransactionID: txn.TransactionID,
		TradeState:    txn.TradeState,
		Amount:        decimal.New(txn.Amount.Total, -2),
		SuccessTime:   paidAt,
	}, nil
}

// checkHeader 签名头齐全且时间戳在 payment.max_notify_skew_seconds 之内
func (g *WechatGateway) checkHeader(header http.Header) error {
	timestamp := header.Get(headerTimestamp)
	if timestamp == "" || header.Get(headerNonce) == "" || header.Get(headerSignature) == "" || header.Get(headerSerial) == "" {
		return fmt.Errorf("%w: 缺少签名头", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: 时间戳格式错误", ErrInvalidSignature)
	}
	skew := g.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > g.maxSkew {
		return ErrNotifyExpired
	}
	return nil
}
