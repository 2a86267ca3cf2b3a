// Package gateway adapts external payment providers behind a single
// interface. Each provider has its own wire format and signing scheme; the
// rest of the system dispatches through the closed Registry and never
// branches on a gateway name.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"tripbook/internal/model"
	"tripbook/pkg/utils"
)

// Session is the opaque payload a client needs to start paying: either a
// redirect URL or provider SDK parameters. It never carries secrets.
type Session struct {
	Gateway string            `json:"gateway"`
	PayURL  string            `json:"pay_url,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Notification is the provider-neutral view of an inbound webhook.
type Notification struct {
	Gateway       string
	TransactionID string
	OrderNo       string
	Succeeded     bool
	PaidAmount    int64 // minor units
	PaidAt        time.Time
}

// RefundResult carries the provider refund id on success.
type RefundResult struct {
	RefundNo string
}

// Ack is the exact response body a provider expects. Anything other than
// the success token makes the provider retry delivery.
type Ack struct {
	ContentType string
	Body        string
}

// Adapter is implemented once per payment provider.
type Adapter interface {
	// Name returns the gateway identifier (matches model.PaymentMethod)
	Name() string

	// BuildSession assembles and signs the provider payment request
	BuildSession(ctx context.Context, order *model.Order) (*Session, error)

	// Decode parses the provider wire format into a flat parameter map
	Decode(raw []byte) (map[string]string, error)

	// Verify recomputes the signature over all fields except the signature
	// itself; mismatch is a hard failure
	Verify(params map[string]string) error

	// Extract pulls the provider-neutral notification out of the params
	Extract(params map[string]string) (*Notification, error)

	// Refund calls the provider refund API
	Refund(ctx context.Context, transactionID string, amount int64, reason string) (*RefundResult, error)

	// AckSuccess is the body that stops provider retries
	AckSuccess() Ack

	// AckRetry is the body that makes the provider redeliver
	AckRetry() Ack
}

// canonicalize joins non-empty params as key=value pairs sorted
// lexicographically by key, the shared precondition of both providers'
// signing schemes. Signature fields are the caller's business to exclude.
func canonicalize(params map[string]string, exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || skip[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// encodeQuery url-encodes params for a redirect-style session.
func encodeQuery(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

// mapTransportError converts an outbound HTTP failure into the typed
// gateway errors callers retry on. The order is never advanced on any of
// these.
func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return utils.WrapError(err, utils.CodeGatewayTimeout, "payment gateway timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return utils.WrapError(err, utils.CodeGatewayTimeout, "payment gateway timeout")
	}
	return utils.WrapError(err, utils.CodeGatewayUnavailable, "payment gateway unavailable")
}
