package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tripbook/internal/gateway"
	"tripbook/internal/model"
	"tripbook/internal/monitor"
	"tripbook/internal/notify"
	"tripbook/internal/repository"
	"tripbook/pkg/breaker"
	"tripbook/pkg/log"
	"tripbook/pkg/utils"
)

// PaymentService owns the gateway-facing half of the order lifecycle:
// building payment sessions and reconciling webhook notifications.
type PaymentService interface {
	// Build (or replay) a payment session for a pending order
	CreateSession(ctx context.Context, userID uint64, orderNo, method string) (*gateway.Session, error)

	// Reconcile an inbound webhook; the returned ack is always written
	// back to the provider verbatim
	HandleNotification(ctx context.Context, method string, raw []byte) (gateway.Ack, error)

	// Gateway names accepted by CreateSession
	Methods() []string
}

type paymentService struct {
	registry    *gateway.Registry
	orderRepo   repository.OrderRepository
	webhookRepo repository.WebhookEventRepository
	rdb         *redis.Client
	breakers    *breaker.Manager
	notifier    *notify.Notifier
	metrics     *monitor.MetricsCollector
	tracer      *monitor.Tracer
	sessionTTL  time.Duration

	// seenTxns short-circuits the common duplicate-delivery case before
	// the DB insert. It can report false positives, so a hit still goes
	// through the durable dedup check; it can never cause a wrong ack.
	seenTxns *bloom.BloomFilter
	seenMu   sync.Mutex
}

// NewPaymentService creates a payment service
func NewPaymentService(
	registry *gateway.Registry,
	orderRepo repository.OrderRepository,
	webhookRepo repository.WebhookEventRepository,
	rdb *redis.Client,
	breakers *breaker.Manager,
	notifier *notify.Notifier,
	metrics *monitor.MetricsCollector,
	tracer *monitor.Tracer,
	sessionTTL time.Duration,
) PaymentService {
	return &paymentService{
		registry:    registry,
		orderRepo:   orderRepo,
		webhookRepo: webhookRepo,
		rdb:         rdb,
		breakers:    breakers,
		notifier:    notifier,
		metrics:     metrics,
		tracer:      tracer,
		sessionTTL:  sessionTTL,
		seenTxns:    bloom.NewWithEstimates(1_000_000, 0.01),
	}
}

func sessionCacheKey(orderNo, method string) string {
	return fmt.Sprintf("pay:session:%s:%s", method, orderNo)
}

// CreateSession builds a provider payment session for a pending order.
// Sessions are cached in Redis for their TTL, so a client retrying the
// payment page gets the same session instead of a second provider call.
func (s *paymentService) CreateSession(ctx context.Context, userID uint64, orderNo, method string) (*gateway.Session, error) {
	adapter, err := s.registry.Get(method)
	if err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, utils.ErrOrderNotFound
	}
	if !order.CanPay() {
		if order.IsPending() && order.IsExpired() {
			return nil, utils.NewError(utils.CodeInvalidStateTransition, "order expired, place a new one")
		}
		return nil, utils.ErrInvalidStateTransition
	}

	cacheKey := sessionCacheKey(orderNo, method)
	if data, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
		var session gateway.Session
		if json.Unmarshal(data, &session) == nil {
			return &session, nil
		}
	}

	var session *gateway.Session
	start := time.Now()
	gctx, span := s.tracer.StartGatewaySpan(ctx, method, "create_session")
	err = s.breakers.Execute(gctx, "gateway:"+method, func() error {
		var berr error
		session, berr = adapter.BuildSession(gctx, order)
		return berr
	})
	s.tracer.RecordError(span, err)
	span.End()
	s.metrics.RecordGatewayDuration(method, "create_session", time.Since(start))
	if err != nil {
		if breaker.IsCircuitBreakerError(err) {
			return nil, utils.WrapError(err, utils.CodeGatewayUnavailable, "payment gateway unavailable")
		}
		return nil, err
	}

	if data, err := json.Marshal(session); err == nil {
		if err := s.rdb.Set(ctx, cacheKey, data, s.sessionTTL).Err(); err != nil {
			log.WithError(err).Warn("Failed to cache payment session")
		}
	}

	log.WithFields(logrus.Fields{
		"order_no": orderNo,
		"method":   method,
	}).Info("Payment session created")

	return session, nil
}

// Methods lists registered gateway names
func (s *paymentService) Methods() []string {
	return s.registry.Names()
}

func txnKey(method, transactionID string) []byte {
	return []byte(method + ":" + transactionID)
}

// HandleNotification reconciles one webhook delivery. The ack decides
// whether the provider retries, so the rules are strict:
//   - unverifiable payloads get the retry ack; a transient corruption
//     heals on redelivery, a forgery never stops being rejected
//   - failed-payment notifications get the success ack, there is nothing
//     to apply and redelivery cannot change that
//   - duplicates get the success ack, the first delivery already won
//   - an order that is not pending anymore gets the success ack plus an
//     error log; retrying cannot make a cancelled order payable, the
//     money has to be reconciled out of band
//   - everything else (DB down, etc.) gets the retry ack
func (s *paymentService) HandleNotification(ctx context.Context, method string, raw []byte) (gateway.Ack, error) {
	adapter, err := s.registry.Get(method)
	if err != nil {
		return gateway.Ack{}, err
	}

	ctx, span := s.tracer.StartSpan(ctx, "payment.webhook."+method)
	defer span.End()

	params, err := adapter.Decode(raw)
	if err != nil {
		log.WithFields(logrus.Fields{"gateway": method}).WithError(err).Warn("Undecodable webhook payload")
		s.metrics.RecordWebhook(method, "undecodable")
		return adapter.AckRetry(), nil
	}

	if err := adapter.Verify(params); err != nil {
		log.WithFields(logrus.Fields{"gateway": method}).WithError(err).Warn("Webhook signature verification failed")
		s.metrics.RecordSignatureFailure(method)
		s.metrics.RecordWebhook(method, "bad_signature")
		return adapter.AckRetry(), nil
	}

	n, err := adapter.Extract(params)
	if err != nil {
		log.WithFields(logrus.Fields{"gateway": method}).WithError(err).Warn("Webhook missing required fields")
		s.metrics.RecordWebhook(method, "malformed")
		return adapter.AckRetry(), nil
	}

	if !n.Succeeded {
		// a failed payment changes nothing here
		s.metrics.RecordWebhook(method, "payment_failed")
		return adapter.AckSuccess(), nil
	}

	if s.maybeSeen(method, n.TransactionID) {
		existing, err := s.webhookRepo.GetByTransaction(ctx, method, n.TransactionID)
		if err == nil && existing != nil {
			s.metrics.RecordWebhookDuplicate(method)
			s.metrics.RecordWebhook(method, "duplicate")
			return adapter.AckSuccess(), nil
		}
		// bloom false positive or read error, fall through to the
		// durable path
	}

	order, err := s.orderRepo.GetByOrderNo(ctx, n.OrderNo)
	if err != nil {
		if errors.Is(err, utils.ErrOrderNotFound) {
			log.WithFields(logrus.Fields{
				"gateway":        method,
				"order_no":       n.OrderNo,
				"transaction_id": n.TransactionID,
			}).Error("Webhook references unknown order")
			s.metrics.RecordWebhook(method, "unknown_order")
			return adapter.AckSuccess(), nil
		}
		s.metrics.RecordWebhook(method, "error")
		return adapter.AckRetry(), nil
	}

	if n.PaidAmount != order.Amount {
		// money moved but not the amount we asked for; never auto-apply
		log.WithFields(logrus.Fields{
			"gateway":        method,
			"order_no":       n.OrderNo,
			"transaction_id": n.TransactionID,
			"expected":       order.Amount,
			"received":       n.PaidAmount,
		}).Error("Webhook amount mismatch, manual reconciliation required")
		s.metrics.RecordWebhook(method, "amount_mismatch")
		return adapter.AckSuccess(), nil
	}

	event := &model.WebhookEvent{
		Gateway:       method,
		TransactionID: n.TransactionID,
		OrderID:       order.ID,
		PaidAmount:    n.PaidAmount,
		ProcessedAt:   time.Now(),
	}
	pay := model.PaymentRecord{
		Method:        method,
		TransactionID: n.TransactionID,
		PaidAmount:    n.PaidAmount,
		PaidAt:        n.PaidAt,
	}

	dctx, dbSpan := s.tracer.StartDBSpan(ctx, "record_and_confirm", "webhook_events")
	err = s.webhookRepo.RecordAndConfirm(dctx, event, pay)
	dbSpan.End()
	switch {
	case err == nil:
		s.markSeen(method, n.TransactionID)
		s.metrics.RecordWebhook(method, "applied")
		s.metrics.RecordOrderPayment(method, "success")
		log.WithFields(logrus.Fields{
			"gateway":        method,
			"order_no":       n.OrderNo,
			"transaction_id": n.TransactionID,
			"amount":         n.PaidAmount,
		}).Info("Payment confirmed")

		s.notifier.Publish(ctx, notify.TopicOrderPaid, notify.Event{
			OrderNo: order.OrderNo,
			UserID:  order.UserID,
			Status:  model.StatusName(model.OrderStatusPaid),
			Amount:  n.PaidAmount,
		})
		return adapter.AckSuccess(), nil

	case errors.Is(err, repository.ErrDuplicateEvent):
		s.markSeen(method, n.TransactionID)
		s.metrics.RecordWebhookDuplicate(method)
		s.metrics.RecordWebhook(method, "duplicate")
		return adapter.AckSuccess(), nil

	case errors.Is(err, utils.ErrInvalidStateTransition):
		// cancelled before the money arrived, or paid through another
		// transaction; replays cannot fix either
		s.markSeen(method, n.TransactionID)
		log.WithFields(logrus.Fields{
			"gateway":        method,
			"order_no":       n.OrderNo,
			"transaction_id": n.TransactionID,
			"order_status":   model.StatusName(order.Status),
		}).Error("Webhook for order no longer pending, manual reconciliation required")
		s.metrics.RecordWebhook(method, "state_conflict")
		return adapter.AckSuccess(), nil

	default:
		s.tracer.RecordError(span, err)
		log.WithFields(logrus.Fields{
			"gateway":        method,
			"order_no":       n.OrderNo,
			"transaction_id": n.TransactionID,
		}).WithError(err).Error("Failed to apply webhook")
		s.metrics.RecordWebhook(method, "error")
		return adapter.AckRetry(), nil
	}
}

func (s *paymentService) maybeSeen(method, transactionID string) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return s.seenTxns.Test(txnKey(method, transactionID))
}

func (s *paymentService) markSeen(method, transactionID string) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	s.seenTxns.Add(txnKey(method, transactionID))
}
