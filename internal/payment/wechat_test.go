package payment

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"ledgerpay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIv3Key = "0123456789abcdef0123456789abcdef"

// signer 模拟微信支付平台：自签平台证书 + 私钥签名
type signer struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
	now  time.Time
}

func newSigner(t *testing.T, serial int64) *signer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "Tenpay.com Root CA"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &signer{key: key, cert: cert, now: now}
}

func (s *signer) serial() string {
	return fmt.Sprintf("%X", s.cert.SerialNumber.Bytes())
}

func (s *signer) gateway(t *testing.T) *WechatGateway {
	g, err := newWechatGateway(testAPIv3Key, []*x509.Certificate{s.cert}, 0)
	require.NoError(t, err)
	g.now = func() time.Time { return s.now }
	return g
}

// body 构造加密后的回调报文
func (s *signer) body(t *testing.T, txn map[string]interface{}) []byte {
	plain, err := json.Marshal(txn)
	require.NoError(t, err)

	block, err := aes.NewCipher([]byte(testAPIv3Key))
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	nonce := "abcdefghijkl"
	ciphertext := gcm.Seal(nil, []byte(nonce), plain, []byte("transaction"))

	notify := map[string]interface{}{
		"id":            "EV-2018022511223320873",
		"create_time":   "2026-10-14T10:00:00+08:00",
		"event_type":    "TRANSACTION.SUCCESS",
		"resource_type": "encrypt-resource",
		"summary":       "支付成功",
		"resource": map[string]string{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      base64.StdEncoding.EncodeToString(ciphertext),
			"associated_data": "transaction",
			"original_type":   "transaction",
			"nonce":           nonce,
		},
	}
	b, err := json.Marshal(notify)
	require.NoError(t, err)
	return b
}

func (s *signer) header(t *testing.T, ts time.Time, body []byte) http.Header {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	nonce := "5K8264ILTKCH16CQ2502SI8ZNMTM67VS"
	hashed := sha256.Sum256([]byte(timestamp + "\n" + nonce + "\n" + string(body) + "\n"))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, hashed[:])
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Request-ID", "08F78BB5AF0610D302A6A6A5B00A0D0A")
	h.Set(headerTimestamp, timestamp)
	h.Set(headerNonce, nonce)
	h.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	h.Set(headerSerial, s.serial())
	return h
}

func successTxn() map[string]interface{} {
	return map[string]interface{}{
		"out_trade_no":   "PAY20261014100000001",
		"transaction_id": "4200000000202610140000000001",
		"trade_state":    "SUCCESS",
		"success_time":   "2026-10-14T10:00:00+08:00",
		"amount":         map[string]interface{}{"total": 19050, "currency": "CNY"},
	}
}

func TestWechatGateway_ParseNotify(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	g := s.gateway(t)
	body := s.body(t, successTxn())

	n, err := g.ParseNotify(context.Background(), s.header(t, s.now, body), body)
	require.NoError(t, err)
	assert.True(t, n.Succeeded())
	assert.Equal(t, "PAY20261014100000001", n.OutTradeNo)
	assert.Equal(t, "4200000000202610140000000001", n.TransactionID)
	assert.Equal(t, "190.5", n.Amount.String())
	assert.True(t, n.SuccessTime.Equal(time.Date(2026, 10, 14, 2, 0, 0, 0, time.UTC)))
}

func TestWechatGateway_RejectsTamperedBody(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	g := s.gateway(t)
	body := s.body(t, successTxn())
	header := s.header(t, s.now, body)

	other := s.body(t, map[string]interface{}{"out_trade_no": "PAY-OTHER", "trade_state": "SUCCESS"})
	_, err := g.ParseNotify(context.Background(), header, other)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWechatGateway_RejectsForeignKey(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	body := s.body(t, successTxn())
	header := s.header(t, s.now, body)

	// 同序列号不同密钥
	other := newSigner(t, 0x5157F09EFDC096DE)
	_, err := other.gateway(t).ParseNotify(context.Background(), header, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWechatGateway_RejectsUnknownSerial(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	body := s.body(t, successTxn())
	header := s.header(t, s.now, body)

	other := newSigner(t, 0x6E2F5A1B3C4D5E6F)
	_, err := other.gateway(t).ParseNotify(context.Background(), header, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWechatGateway_RejectsStaleTimestamp(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	g := s.gateway(t)
	body := s.body(t, successTxn())

	_, err := g.ParseNotify(context.Background(), s.header(t, s.now.Add(-10*time.Minute), body), body)
	assert.ErrorIs(t, err, ErrNotifyExpired)
}

func TestWechatGateway_MissingHeaders(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	body := s.body(t, successTxn())
	header := s.header(t, s.now, body)
	header.Del(headerSerial)

	_, err := s.gateway(t).ParseNotify(context.Background(), header, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWechatGateway_MissingOutTradeNo(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	body := s.body(t, map[string]interface{}{"trade_state": "SUCCESS"})

	_, err := s.gateway(t).ParseNotify(context.Background(), s.header(t, s.now, body), body)
	assert.ErrorIs(t, err, ErrMalformedNotify)
}

func TestNewWechatGateway_FromCertificateFile(t *testing.T) {
	s := newSigner(t, 0x5157F09EFDC096DE)
	path := filepath.Join(t.TempDir(), "wechatpay_platform.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.cert.Raw}), 0o600))

	g, err := NewGateway(config.PaymentConfig{Mode: ModeWechat, APIv3Key: testAPIv3Key, PlatformCertPath: path})
	require.NoError(t, err)
	assert.Equal(t, ModeWechat, g.Name())

	body := s.body(t, successTxn())
	n, err := g.ParseNotify(context.Background(), s.header(t, time.Now(), body), body)
	require.NoError(t, err)
	assert.Equal(t, "PAY20261014100000001", n.OutTradeNo)

	_, err = NewGateway(config.PaymentConfig{Mode: ModeWechat, APIv3Key: "short", PlatformCertPath: path})
	assert.Error(t, err)
	_, err = NewGateway(config.PaymentConfig{Mode: ModeWechat, APIv3Key: testAPIv3Key, PlatformCertPath: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)
	_, err = NewGateway(config.PaymentConfig{Mode: "alipay"})
	assert.Error(t, err)
}
