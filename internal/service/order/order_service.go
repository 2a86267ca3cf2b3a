package order

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tripbook/internal/model"
	"tripbook/internal/monitor"
	"tripbook/internal/notify"
	"tripbook/internal/repository"
	"tripbook/internal/service/inventory"
	"tripbook/pkg/log"
	"tripbook/pkg/snowflake"
	"tripbook/pkg/utils"
)

// CreateOrderRequest input for order creation
type CreateOrderRequest struct {
	UserID       uint64 `json:"-"`
	ItemID       uint64 `json:"item_id" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
	VisitDate    string `json:"visit_date" binding:"required,datetime=2006-01-02"`
	ContactName  string `json:"contact_name" binding:"required,max=50"`
	ContactPhone string `json:"contact_phone" binding:"required,max=20"`
}

// RefundRequest input for the user-side refund request
type RefundRequest struct {
	Amount *int64 `json:"amount"` // cents; nil means full paid amount
	Reason string `json:"reason" binding:"required,max=255"`
}

// OrderService order service interface
type OrderService interface {
	// Create order with inventory reservation
	Create(ctx context.Context, req *CreateOrderRequest) (*model.Order, error)

	// Cancel a pending order, releasing its reservation
	Cancel(ctx context.Context, userID uint64, orderNo string) error

	// Complete a paid order (operator action after the visit)
	Complete(ctx context.Context, orderNo string) error

	// Request a refund on a paid or completed order
	RequestRefund(ctx context.Context, userID uint64, orderNo string, req *RefundRequest) (*model.Order, error)

	// Get order by order number, scoped to its owner
	GetByOrderNo(ctx context.Context, userID uint64, orderNo string) (*model.Order, error)

	// List user orders
	ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error)

	// Cancel expired pending orders in batches
	HandleExpired(ctx context.Context) (int, error)
}

// orderService order service implementation
type orderService struct {
	orderRepo    repository.OrderRepository
	store        inventory.Store
	idGenerator  *snowflake.IDGenerator
	notifier     *notify.Notifier
	tracer       *monitor.Tracer
	orderTimeout time.Duration
}

// NewOrderService creates an order service
func NewOrderService(
	orderRepo repository.OrderRepository,
	store inventory.Store,
	idGenerator *snowflake.IDGenerator,
	notifier *notify.Notifier,
	tracer *monitor.Tracer,
	orderTimeout time.Duration,
) OrderService {
	return &orderService{
		orderRepo:    orderRepo,
		store:        store,
		idGenerator:  idGenerator,
		notifier:     notifier,
		tracer:       tracer,
		orderTimeout: orderTimeout,
	}
}

// Create validates the request, resolves a blind-box destination when the
// item calls for one, and persists the order together with its stock
// reservation in one transaction.
func (s *orderService) Create(ctx context.Context, req *CreateOrderRequest) (*model.Order, error) {
	if req.Quantity <= 0 {
		return nil, utils.NewError(utils.CodeInvalidParam, "quantity must be positive")
	}
	visitDate, err := time.ParseInLocation("2006-01-02", req.VisitDate, time.Local)
	if err != nil {
		return nil, utils.NewError(utils.CodeInvalidParam, "invalid visit date")
	}
	if visitDate.Before(todayStart()) {
		return nil, utils.NewError(utils.CodeInvalidParam, "visit date is in the past")
	}

	item, err := s.store.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item.Status == model.ItemStatusInactive {
		return nil, utils.ErrItemNotFound
	}

	now := time.Now()
	order := &model.Order{
		OrderNo:      s.newOrderNo(now),
		UserID:       req.UserID,
		Kind:         item.Kind,
		ItemID:       item.ID,
		Quantity:     req.Quantity,
		UnitPrice:    item.UnitPrice,
		Amount:       item.UnitPrice * int64(req.Quantity),
		Status:       model.OrderStatusPending,
		VisitDate:    visitDate,
		ContactName:  req.ContactName,
		ContactPhone: req.ContactPhone,
		ExpireAt:     now.Add(s.orderTimeout),
	}

	ctx, span := s.tracer.StartOrderSpan(ctx, "create", order.OrderNo, order.UserID)
	defer span.End()

	if item.Kind == model.ItemKindBlindbox {
		dest, err := s.store.DrawDestination(item)
		if err != nil {
			s.tracer.RecordError(span, err)
			return nil, err
		}
		order.DestID = &dest.SpotID
	}

	if err := s.orderRepo.CreateWithReservation(ctx, order); err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"order_no": order.OrderNo,
		"user_id":  order.UserID,
		"item_id":  order.ItemID,
		"amount":   order.Amount,
	}).Info("Order created")

	s.notifier.Publish(ctx, notify.TopicOrderCreated, notify.Event{
		OrderNo: order.OrderNo,
		UserID:  order.UserID,
		Status:  model.StatusName(order.Status),
		Amount:  order.Amount,
	})

	return order, nil
}

// newOrderNo builds the order number: a T prefix, the creation date, and a
// snowflake ID so numbers stay unique across nodes without coordination.
func (s *orderService) newOrderNo(now time.Time) string {
	return fmt.Sprintf("T%s%d", now.Format("20060102"), s.idGenerator.NextID())
}

// Cancel cancels a pending order. The repository runs the status CAS and
// the stock release in one transaction, so a concurrent payment
// confirmation either beats the cancel entirely or loses entirely.
func (s *orderService) Cancel(ctx context.Context, userID uint64, orderNo string) error {
	order, err := s.ownedOrder(ctx, userID, orderNo)
	if err != nil {
		return err
	}

	if err := s.orderRepo.CancelPending(ctx, order.ID); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"order_no": orderNo,
		"user_id":  userID,
	}).Info("Order cancelled")

	s.notifier.Publish(ctx, notify.TopicOrderCancelled, notify.Event{
		OrderNo: order.OrderNo,
		UserID:  order.UserID,
		Status:  model.StatusName(model.OrderStatusCancelled),
		Amount:  order.Amount,
	})
	return nil
}

// Complete moves a paid order to completed.
func (s *orderService) Complete(ctx context.Context, orderNo string) error {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	return s.orderRepo.Transition(ctx, order.ID, model.OrderStatusPaid, model.OrderStatusCompleted, nil)
}

// RequestRefund moves the order into refund_pending, recording the amount
// and reason. The amount defaults to the full paid amount and can never
// exceed it.
func (s *orderService) RequestRefund(ctx context.Context, userID uint64, orderNo string, req *RefundRequest) (*model.Order, error) {
	order, err := s.ownedOrder(ctx, userID, orderNo)
	if err != nil {
		return nil, err
	}

	if !order.CanRequestRefund() {
		return nil, utils.ErrInvalidStateTransition
	}
	if order.PaidAmount == nil {
		return nil, utils.NewError(utils.CodeInternalError, "paid order without payment record")
	}

	amount := *order.PaidAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 || amount > *order.PaidAmount {
		return nil, utils.ErrRefundExceedsPaid
	}

	updates := map[string]interface{}{
		"refund_amount": amount,
		"refund_reason": req.Reason,
	}
	if err := s.orderRepo.Transition(ctx, order.ID, order.Status, model.OrderStatusRefundPending, updates); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"order_no": orderNo,
		"user_id":  userID,
		"amount":   amount,
	}).Info("Refund requested")

	s.notifier.Publish(ctx, notify.TopicRefundRequested, notify.Event{
		OrderNo: order.OrderNo,
		UserID:  order.UserID,
		Status:  model.StatusName(model.OrderStatusRefundPending),
		Amount:  amount,
	})

	return s.orderRepo.GetByOrderNo(ctx, orderNo)
}

// GetByOrderNo returns the order if it belongs to the user.
func (s *orderService) GetByOrderNo(ctx context.Context, userID uint64, orderNo string) (*model.Order, error) {
	return s.ownedOrder(ctx, userID, orderNo)
}

// ListByUser lists user orders
func (s *orderService) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.orderRepo.ListByUser(ctx, userID, page, pageSize)
}

// HandleExpired sweeps pending orders past their deadline and cancels
// them. An order that gets paid between the listing and the cancel loses
// the CAS and is skipped; only genuine expirations release stock.
func (s *orderService) HandleExpired(ctx context.Context) (int, error) {
	orders, err := s.orderRepo.ListExpired(ctx, 100)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, order := range orders {
		if err := s.orderRepo.CancelPending(ctx, order.ID); err != nil {
			if utils.GetErrorCode(err) == utils.CodeInvalidStateTransition {
				continue // paid in the meantime
			}
			log.WithFields(logrus.Fields{
				"order_no": order.OrderNo,
			}).WithError(err).Error("Failed to cancel expired order")
			continue
		}
		cancelled++

		s.notifier.Publish(ctx, notify.TopicOrderExpired, notify.Event{
			OrderNo: order.OrderNo,
			UserID:  order.UserID,
			Status:  model.StatusName(model.OrderStatusCancelled),
			Amount:  order.Amount,
		})
	}

	if cancelled > 0 {
		log.WithFields(logrus.Fields{"count": cancelled}).Info("Expired orders cancelled")
	}
	return cancelled, nil
}

// StartExpireSweep runs HandleExpired on a fixed interval until the
// context is cancelled.
func StartExpireSweep(ctx context.Context, svc OrderService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := svc.HandleExpired(ctx); err != nil {
					log.WithError(err).Error("Expired order sweep failed")
				}
			}
		}
	}()
}

func (s *orderService) ownedOrder(ctx context.Context, userID uint64, orderNo string) (*model.Order, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		// do not leak existence of other users' orders
		return nil, utils.ErrOrderNotFound
	}
	return order, nil
}

func todayStart() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
