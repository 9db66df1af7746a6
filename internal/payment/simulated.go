package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// SimulatedGateway 联调与测试环境使用，报文为明文 JSON，不验签
type SimulatedGateway struct{}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{}
}

func (g *SimulatedGateway) Name() string {
	return ModeSimulated
}

type simulatedNotify struct {
	OutTradeNo    string          `json:"out_trade_no"`
	TransactionID string          `json:"transaction_id"`
	TradeState    string          `json:"trade_state"`
	Amount        decimal.Decimal `json:"amount"`
	SuccessTime   *time.Time      `json:"success_time"`
}

func (g *SimulatedGateway) ParseNotify(_ context.Context, _ http.Header, body []byte) (*Notification, error) {
	var n simulatedNotify
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotify, err)
	}
	if n.OutTradeNo == "" {
		return nil, fmt.Errorf("%w: 缺少 out_trade_no", ErrMalformedNotify)
	}
	if n.TradeState == "" {
		n.TradeState = TradeStateSuccess
	}
	if n.TransactionID == "" {
		n.TransactionID = "SIM" + n.OutTradeNo
	}
	paidAt := time.Now()
	if n.SuccessTime != nil {
		paidAt = *n.SuccessTime
	}
	return &Notification{
		OutTradeNo:    n.OutTradeNo,
		TransactionID: n.TransactionID,
		TradeState:    n.TradeState,
		Amount:        n.Amount,
		SuccessTime:   paidAt,
	}, nil
}
