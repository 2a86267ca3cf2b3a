package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tripbook/internal/config"
	"tripbook/internal/model"
	"tripbook/pkg/utils"
)

const (
	wechatSuccessAck = `<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>`
	wechatRetryAck   = `<xml><return_code><![CDATA[FAIL]]></return_code><return_msg><![CDATA[ERROR]]></return_msg></xml>`
)

// wechatAdapter signs with MD5 over the canonical parameter string and
// speaks flat XML on both directions.
type wechatAdapter struct {
	cfg    config.WechatPayConfig
	client *http.Client
}

// NewWechat creates the MD5/XML gateway adapter.
func NewWechat(cfg config.WechatPayConfig, timeout time.Duration) Adapter {
	return &wechatAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the gateway identifier
func (a *wechatAdapter) Name() string {
	return model.PaymentMethodWechat
}

// sign computes MD5 over "k=v&...&key=SECRET" uppercased. The secret is
// appended to the canonical string, never transmitted.
func (a *wechatAdapter) sign(params map[string]string) string {
	canonical := canonicalize(params, "sign")
	return strings.ToUpper(utils.MD5(canonical + "&key=" + a.cfg.APIKey))
}

// BuildSession places a unified order and returns the provider pay URL.
func (a *wechatAdapter) BuildSession(ctx context.Context, order *model.Order) (*Session, error) {
	params := map[string]string{
		"appid":        a.cfg.AppID,
		"mch_id":       a.cfg.MchID,
		"nonce_str":    utils.GenerateNonce(),
		"body":         fmt.Sprintf("tripbook order %s", order.OrderNo),
		"out_trade_no": order.OrderNo,
		"total_fee":    strconv.FormatInt(order.Amount, 10),
		"notify_url":   a.cfg.NotifyURL,
		"trade_type":   "NATIVE",
	}
	params["sign"] = a.sign(params)

	resp, err := a.post(ctx, a.cfg.APIURL+"/pay/unifiedorder", params)
	if err != nil {
		return nil, err
	}

	if resp["return_code"] != "SUCCESS" || resp["result_code"] != "SUCCESS" {
		return nil, utils.WrapError(
			fmt.Errorf("unifiedorder failed: %s %s", resp["err_code"], resp["err_code_des"]),
			utils.CodeGatewayRejected, "payment gateway rejected request")
	}

	return &Session{
		Gateway: a.Name(),
		PayURL:  resp["code_url"],
	}, nil
}

// Decode parses the flat XML notification body into a parameter map.
func (a *wechatAdapter) Decode(raw []byte) (map[string]string, error) {
	return decodeFlatXML(raw)
}

// Verify recomputes the MD5 signature over every field except sign.
func (a *wechatAdapter) Verify(params map[string]string) error {
	got := params["sign"]
	if got == "" || a.sign(params) != got {
		return utils.ErrSignatureInvalid
	}
	return nil
}

// Extract pulls the neutral notification out of a verified parameter map.
func (a *wechatAdapter) Extract(params map[string]string) (*Notification, error) {
	txnID := params["transaction_id"]
	orderNo := params["out_trade_no"]
	if txnID == "" || orderNo == "" {
		return nil, utils.NewError(utils.CodeInvalidParam, "notification missing transaction_id or out_trade_no")
	}

	fee, err := strconv.ParseInt(params["total_fee"], 10, 64)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeInvalidParam, "invalid total_fee")
	}

	paidAt := time.Now()
	if t, err := time.ParseInLocation("20060102150405", params["time_end"], time.Local); err == nil {
		paidAt = t
	}

	return &Notification{
		Gateway:       a.Name(),
		TransactionID: txnID,
		OrderNo:       orderNo,
		Succeeded:     params["return_code"] == "SUCCESS" && params["result_code"] == "SUCCESS",
		PaidAmount:    fee,
		PaidAt:        paidAt,
	}, nil
}

// Refund calls the provider refund API.
func (a *wechatAdapter) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*RefundResult, error) {
	params := map[string]string{
		"appid":          a.cfg.AppID,
		"mch_id":         a.cfg.MchID,
		"nonce_str":      utils.GenerateNonce(),
		"transaction_id": transactionID,
		"out_refund_no":  fmt.Sprintf("R%s%d", transactionID, time.Now().Unix()),
		"total_fee":      strconv.FormatInt(amount, 10),
		"refund_fee":     strconv.FormatInt(amount, 10),
		"refund_desc":    reason,
	}
	params["sign"] = a.sign(params)

	resp, err := a.post(ctx, a.cfg.APIURL+"/secapi/pay/refund", params)
	if err != nil {
		return nil, err
	}

	if resp["return_code"] != "SUCCESS" || resp["result_code"] != "SUCCESS" {
		return nil, utils.WrapError(
			fmt.Errorf("refund failed: %s %s", resp["err_code"], resp["err_code_des"]),
			utils.CodeGatewayRejected, "payment gateway rejected refund")
	}

	return &RefundResult{RefundNo: resp["refund_id"]}, nil
}

// AckSuccess is the literal token that stops provider retries
func (a *wechatAdapter) AckSuccess() Ack {
	return Ack{ContentType: "application/xml", Body: wechatSuccessAck}
}

// AckRetry makes the provider redeliver
func (a *wechatAdapter) AckRetry() Ack {
	return Ack{ContentType: "application/xml", Body: wechatRetryAck}
}

// post sends a signed XML request and decodes the flat XML response.
func (a *wechatAdapter) post(ctx context.Context, endpoint string, params map[string]string) (map[string]string, error) {
	body := encodeFlatXML(params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mapTransportError(err)
	}

	return decodeFlatXML(data)
}

// decodeFlatXML walks a single-level <xml>...</xml> document into a map.
func decodeFlatXML(raw []byte) (map[string]string, error) {
	params := make(map[string]string)
	decoder := xml.NewDecoder(bytes.NewReader(raw))

	var key string
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, utils.WrapError(err, utils.CodeInvalidParam, "malformed xml notification")
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local != "xml" {
				key = t.Name.Local
			}
		case xml.CharData:
			if key != "" {
				params[key] += string(t)
			}
		case xml.EndElement:
			key = ""
		}
	}

	if len(params) == 0 {
		return nil, utils.NewError(utils.CodeInvalidParam, "empty xml notification")
	}
	return params, nil
}

// encodeFlatXML renders a map as the provider's flat XML document with
// CDATA-wrapped values.
func encodeFlatXML(params map[string]string) []byte {
	var b bytes.Buffer
	b.WriteString("<xml>")
	for k, v := range params {
		fmt.Fprintf(&b, "<%s><![CDATA[%s]]></%s>", k, v, k)
	}
	b.WriteString("</xml>")
	return b.Bytes()
}
