package refund

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tripbook/internal/gateway"
	"tripbook/internal/model"
	"tripbook/internal/monitor"
	"tripbook/internal/notify"
	"tripbook/internal/repository"
	"tripbook/pkg/breaker"
	"tripbook/pkg/lock"
	"tripbook/pkg/log"
	"tripbook/pkg/utils"
)

// RefundService decides pending refund requests. Approval moves money, so
// it calls the original payment gateway; rejection is a pure state change.
type RefundService interface {
	// Decide approves or rejects a pending refund. The reason is the
	// operator's statement; rejections require one.
	Decide(ctx context.Context, orderNo string, approve bool, reason, operator string) (*model.Order, error)

	// ListPending lists refund requests awaiting a decision
	ListPending(ctx context.Context, page, pageSize int) ([]*model.Order, int64, error)
}

type refundService struct {
	orderRepo repository.OrderRepository
	registry  *gateway.Registry
	rdb       *redis.Client
	breakers  *breaker.Manager
	notifier  *notify.Notifier
	metrics   *monitor.MetricsCollector
	tracer    *monitor.Tracer
}

// NewRefundService creates a refund service
func NewRefundService(
	orderRepo repository.OrderRepository,
	registry *gateway.Registry,
	rdb *redis.Client,
	breakers *breaker.Manager,
	notifier *notify.Notifier,
	metrics *monitor.MetricsCollector,
	tracer *monitor.Tracer,
) RefundService {
	return &refundService{
		orderRepo: orderRepo,
		registry:  registry,
		rdb:       rdb,
		breakers:  breakers,
		notifier:  notifier,
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Decide applies an operator decision to a refund_pending order.
//
// The per-order redis lock keeps two operators from racing the gateway
// call: the status CAS alone would stop a double state change, but not a
// double Refund request against the provider. On a gateway failure the
// order stays refund_pending and the decision can simply be retried;
// nothing is marked refunded until the provider accepted the request.
func (s *refundService) Decide(ctx context.Context, orderNo string, approve bool, reason, operator string) (*model.Order, error) {
	if !approve && reason == "" {
		return nil, utils.NewError(utils.CodeInvalidParam, "rejection requires a reason")
	}

	l := lock.NewRedisLock(s.rdb, "refund:decide:"+orderNo, utils.GenerateNonce(), 30*time.Second)
	if err := l.TryLock(ctx, 3, 100*time.Millisecond); err != nil {
		return nil, utils.WrapError(err, utils.CodeRefundFailed, "refund decision already in progress")
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithFields(logrus.Fields{"order_no": orderNo}).WithError(err).Warn("Failed to release refund lock")
		}
	}()

	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusRefundPending {
		return nil, utils.ErrInvalidStateTransition
	}
	if order.RefundAmount == nil || order.PaymentMethod == nil || order.TransactionID == nil {
		return nil, utils.NewError(utils.CodeInternalError, "refund request missing payment details")
	}

	now := time.Now()

	if !approve {
		updates := map[string]interface{}{
			"refund_decision_reason": reason,
			"refund_decided_by":      operator,
			"refund_decided_at":      now,
		}
		if err := s.orderRepo.Transition(ctx, order.ID, model.OrderStatusRefundPending, model.OrderStatusRefundRejected, updates); err != nil {
			return nil, err
		}

		s.metrics.RecordRefund(*order.PaymentMethod, "rejected")
		log.WithFields(logrus.Fields{
			"order_no": orderNo,
			"operator": operator,
			"reason":   reason,
		}).Info("Refund rejected")

		s.notifier.Publish(ctx, notify.TopicRefundRejected, notify.Event{
			OrderNo: order.OrderNo,
			UserID:  order.UserID,
			Status:  model.StatusName(model.OrderStatusRefundRejected),
			Amount:  *order.RefundAmount,
			Reason:  reason,
		})
		return s.orderRepo.GetByOrderNo(ctx, orderNo)
	}

	adapter, err := s.registry.Get(*order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	requestReason := ""
	if order.RefundReason != nil {
		requestReason = *order.RefundReason
	}

	var result *gateway.RefundResult
	start := time.Now()
	gctx, span := s.tracer.StartGatewaySpan(ctx, adapter.Name(), "refund")
	err = s.breakers.Execute(gctx, "gateway:"+adapter.Name(), func() error {
		var berr error
		result, berr = adapter.Refund(gctx, *order.TransactionID, *order.RefundAmount, requestReason)
		return berr
	})
	s.tracer.RecordError(span, err)
	span.End()
	s.metrics.RecordGatewayDuration(adapter.Name(), "refund", time.Since(start))
	if err != nil {
		// order stays refund_pending; the decision is retryable
		s.metrics.RecordRefund(*order.PaymentMethod, "gateway_error")
		log.WithFields(logrus.Fields{
			"order_no": orderNo,
			"operator": operator,
		}).WithError(err).Error("Gateway refund failed, order left pending")

		if breaker.IsCircuitBreakerError(err) {
			return nil, utils.WrapError(err, utils.CodeGatewayUnavailable, "payment gateway unavailable")
		}
		return nil, utils.WrapError(err, utils.CodeRefundFailed, "gateway refund failed")
	}

	updates := map[string]interface{}{
		"refund_no":         result.RefundNo,
		"refund_decided_by": operator,
		"refund_decided_at": now,
	}
	if reason != "" {
		updates["refund_decision_reason"] = reason
	}
	if err := s.orderRepo.Transition(ctx, order.ID, model.OrderStatusRefundPending, model.OrderStatusRefunded, updates); err != nil {
		// the provider accepted the refund but our state did not move;
		// loud log so reconciliation can close the gap
		log.WithFields(logrus.Fields{
			"order_no":  orderNo,
			"refund_no": result.RefundNo,
		}).WithError(err).Error("Refund accepted by gateway but state transition failed")
		return nil, err
	}

	s.metrics.RecordRefund(*order.PaymentMethod, "refunded")
	log.WithFields(logrus.Fields{
		"order_no":  orderNo,
		"refund_no": result.RefundNo,
		"operator":  operator,
		"amount":    *order.RefundAmount,
	}).Info("Refund completed")

	s.notifier.Publish(ctx, notify.TopicRefunded, notify.Event{
		OrderNo: order.OrderNo,
		UserID:  order.UserID,
		Status:  model.StatusName(model.OrderStatusRefunded),
		Amount:  *order.RefundAmount,
	})

	return s.orderRepo.GetByOrderNo(ctx, orderNo)
}

// ListPending lists refund requests awaiting a decision
func (s *refundService) ListPending(ctx context.Context, page, pageSize int) ([]*model.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.orderRepo.ListByStatus(ctx, model.OrderStatusRefundPending, page, pageSize)
}
