package gateway

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripbook/internal/config"
	"tripbook/internal/model"
	"tripbook/pkg/utils"
)

const (
	alipaySuccessAck = "success"
	alipayRetryAck   = "fail"

	alipayTimeFormat = "2006-01-02 15:04:05"
)

// alipayAdapter signs with RSA-SHA256 over the canonical parameter string;
// requests carry a JSON biz_content, notifications arrive form-encoded.
type alipayAdapter struct {
	cfg        config.AlipayConfig
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	client     *http.Client
}

// NewAlipay creates the RSA-SHA256 gateway adapter. Both PEM keys are
// parsed eagerly so a bad deployment fails at startup, not mid-payment.
func NewAlipay(cfg config.AlipayConfig, timeout time.Duration) (Adapter, error) {
	privateKey, err := parseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("alipay private key: %w", err)
	}

	publicKey, err := parseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}

	return &alipayAdapter{
		cfg:        cfg,
		privateKey: privateKey,
		publicKey:  publicKey,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the gateway identifier
func (a *alipayAdapter) Name() string {
	return model.PaymentMethodAlipay
}

// sign computes RSA-SHA256 over the canonical string, base64-encoded.
func (a *alipayAdapter) sign(params map[string]string) (string, error) {
	canonical := canonicalize(params, "sign", "sign_type")
	digest := sha256.Sum256([]byte(canonical))

	sig, err := rsa.SignPKCS1v15(rand.Reader, a.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// BuildSession returns a redirect URL to the provider checkout page. No
// outbound call is needed; the signature authenticates the redirect.
func (a *alipayAdapter) BuildSession(ctx context.Context, order *model.Order) (*Session, error) {
	bizContent, err := json.Marshal(map[string]string{
		"out_trade_no": order.OrderNo,
		"total_amount": centsToYuan(order.Amount),
		"subject":      fmt.Sprintf("tripbook order %s", order.OrderNo),
		"product_code": "FAST_INSTANT_TRADE_PAY",
	})
	if err != nil {
		return nil, err
	}

	params := a.baseParams("alipay.trade.page.pay")
	params["notify_url"] = a.cfg.NotifyURL
	params["biz_content"] = string(bizContent)

	sig, err := a.sign(params)
	if err != nil {
		return nil, err
	}
	params["sign"] = sig

	return &Session{
		Gateway: a.Name(),
		PayURL:  a.cfg.GatewayURL + "?" + encodeQuery(params),
	}, nil
}

// Decode parses the form-encoded notification body.
func (a *alipayAdapter) Decode(raw []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeInvalidParam, "malformed notification body")
	}

	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}

	if len(params) == 0 {
		return nil, utils.NewError(utils.CodeInvalidParam, "empty notification body")
	}
	return params, nil
}

// Verify checks the RSA signature with the provider public key over every
// field except sign and sign_type.
func (a *alipayAdapter) Verify(params map[string]string) error {
	sig, err := base64.StdEncoding.DecodeString(params["sign"])
	if err != nil {
		return utils.ErrSignatureInvalid
	}

	canonical := canonicalize(params, "sign", "sign_type")
	digest := sha256.Sum256([]byte(canonical))

	if err := rsa.VerifyPKCS1v15(a.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return utils.ErrSignatureInvalid
	}
	return nil
}

// Extract pulls the neutral notification out of a verified parameter map.
func (a *alipayAdapter) Extract(params map[string]string) (*Notification, error) {
	txnID := params["trade_no"]
	orderNo := params["out_trade_no"]
	if txnID == "" || orderNo == "" {
		return nil, utils.NewError(utils.CodeInvalidParam, "notification missing trade_no or out_trade_no")
	}

	amount, err := yuanToCents(params["total_amount"])
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeInvalidParam, "invalid total_amount")
	}

	paidAt := time.Now()
	if t, err := time.ParseInLocation(alipayTimeFormat, params["gmt_payment"], time.Local); err == nil {
		paidAt = t
	}

	status := params["trade_status"]
	return &Notification{
		Gateway:       a.Name(),
		TransactionID: txnID,
		OrderNo:       orderNo,
		Succeeded:     status == "TRADE_SUCCESS" || status == "TRADE_FINISHED",
		PaidAmount:    amount,
		PaidAt:        paidAt,
	}, nil
}

// Refund calls the provider refund API and checks the nested response code.
func (a *alipayAdapter) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*RefundResult, error) {
	bizContent, err := json.Marshal(map[string]string{
		"trade_no":       transactionID,
		"refund_amount":  centsToYuan(amount),
		"refund_reason":  reason,
		"out_request_no": fmt.Sprintf("R%s%d", transactionID, time.Now().Unix()),
	})
	if err != nil {
		return nil, err
	}

	params := a.baseParams("alipay.trade.refund")
	params["biz_content"] = string(bizContent)

	sig, err := a.sign(params)
	if err != nil {
		return nil, err
	}
	params["sign"] = sig

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL,
		strings.NewReader(encodeQuery(params)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mapTransportError(err)
	}

	var envelope struct {
		Response struct {
			Code       string `json:"code"`
			SubMsg     string `json:"sub_msg"`
			TradeNo    string `json:"trade_no"`
			FundChange string `json:"fund_change"`
		} `json:"alipay_trade_refund_response"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, utils.WrapError(err, utils.CodeGatewayUnavailable, "malformed refund response")
	}

	if envelope.Response.Code != "10000" {
		return nil, utils.WrapError(
			fmt.Errorf("refund rejected: %s", envelope.Response.SubMsg),
			utils.CodeGatewayRejected, "payment gateway rejected refund")
	}

	return &RefundResult{RefundNo: envelope.Response.TradeNo}, nil
}

// AckSuccess is the literal token that stops provider retries
func (a *alipayAdapter) AckSuccess() Ack {
	return Ack{ContentType: "text/plain", Body: alipaySuccessAck}
}

// AckRetry makes the provider redeliver
func (a *alipayAdapter) AckRetry() Ack {
	return Ack{ContentType: "text/plain", Body: alipayRetryAck}
}

func (a *alipayAdapter) baseParams(method string) map[string]string {
	return map[string]string{
		"app_id":    a.cfg.AppID,
		"method":    method,
		"charset":   "utf-8",
		"sign_type": "RSA2",
		"timestamp": time.Now().Format(alipayTimeFormat),
		"version":   "1.0",
	}
}

func centsToYuan(cents int64) string {
	return strconv.FormatFloat(float64(cents)/100, 'f', 2, 64)
}

func yuanToCents(yuan string) (int64, error) {
	f, err := strconv.ParseFloat(yuan, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}

func parseRSAPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaKey, nil
}
