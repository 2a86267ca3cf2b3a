package refund

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tripbook/internal/gateway"
	"tripbook/internal/model"
	"tripbook/internal/monitor"
	"tripbook/pkg/breaker"
	"tripbook/pkg/utils"
)

type mockOrderRepo struct {
	mock.Mock
}

func (m *mockOrderRepo) CreateWithReservation(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *mockOrderRepo) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *mockOrderRepo) Transition(ctx context.Context, id uint64, from, to int8, updates map[string]interface{}) error {
	args := m.Called(ctx, id, from, to, updates)
	return args.Error(0)
}

func (m *mockOrderRepo) CancelPending(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockOrderRepo) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error) {
	args := m.Called(ctx, userID, page, pageSize)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*model.Order), args.Get(1).(int64), args.Error(2)
}

func (m *mockOrderRepo) ListByStatus(ctx context.Context, status int8, page, pageSize int) ([]*model.Order, int64, error) {
	args := m.Called(ctx, status, page, pageSize)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*model.Order), args.Get(1).(int64), args.Error(2)
}

func (m *mockOrderRepo) ListExpired(ctx context.Context, limit int) ([]*model.Order, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

// fakeAdapter only needs Refund for these tests; the rest satisfies the
// interface.
type fakeAdapter struct {
	name      string
	refundErr error
	refunds   int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) BuildSession(ctx context.Context, order *model.Order) (*gateway.Session, error) {
	return &gateway.Session{Gateway: f.name}, nil
}

func (f *fakeAdapter) Decode(raw []byte) (map[string]string, error) { return nil, nil }

func (f *fakeAdapter) Verify(params map[string]string) error { return nil }

func (f *fakeAdapter) Extract(params map[string]string) (*gateway.Notification, error) {
	return nil, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*gateway.RefundResult, error) {
	f.refunds++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &gateway.RefundResult{RefundNo: "R" + transactionID}, nil
}

func (f *fakeAdapter) AckSuccess() gateway.Ack { return gateway.Ack{Body: "success"} }

func (f *fakeAdapter) AckRetry() gateway.Ack { return gateway.Ack{Body: "fail"} }

func refundPendingOrder() *model.Order {
	method := "wechat"
	txnID := "4200001234567890"
	amount := int64(19800)
	reason := "trip cancelled"
	return &model.Order{
		ID:            1,
		OrderNo:       "T20260901123456",
		UserID:        7,
		Amount:        19800,
		Status:        model.OrderStatusRefundPending,
		PaymentMethod: &method,
		TransactionID: &txnID,
		PaidAmount:    &amount,
		RefundAmount:  &amount,
		RefundReason:  &reason,
	}
}

func newTestService(t *testing.T, adapter gateway.Adapter, orderRepo *mockOrderRepo) RefundService {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	breakers := breaker.NewManager(breaker.Config{
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})

	tracer, err := monitor.NewTracer(&monitor.TracerConfig{ServiceName: "test"})
	assert.NoError(t, err)

	return NewRefundService(orderRepo, gateway.NewRegistry(adapter), rdb, breakers, nil, monitor.GetMetricsCollector(), tracer)
}

func TestDecide_Approve(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(refundPendingOrder(), nil)
	orderRepo.On("Transition", mock.Anything, uint64(1), int8(model.OrderStatusRefundPending), int8(model.OrderStatusRefunded), mock.Anything).Return(nil)

	_, err := svc.Decide(context.Background(), "T20260901123456", true, "", "ops-alice")
	assert.NoError(t, err)
	assert.Equal(t, 1, adapter.refunds)
	orderRepo.AssertExpectations(t)
}

func TestDecide_Reject(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(refundPendingOrder(), nil)
	orderRepo.On("Transition", mock.Anything, uint64(1), int8(model.OrderStatusRefundPending), int8(model.OrderStatusRefundRejected), mock.MatchedBy(func(updates map[string]interface{}) bool {
		return updates["refund_decision_reason"] == "tickets already issued" &&
			updates["refund_decided_by"] == "ops-alice"
	})).Return(nil)

	_, err := svc.Decide(context.Background(), "T20260901123456", false, "tickets already issued", "ops-alice")
	assert.NoError(t, err)
	assert.Equal(t, 0, adapter.refunds, "rejection must not touch the gateway")
	orderRepo.AssertExpectations(t)
}

func TestDecide_RejectRequiresReason(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	_, err := svc.Decide(context.Background(), "T20260901123456", false, "", "ops-alice")
	assert.Error(t, err)
	assert.Equal(t, utils.CodeInvalidParam, utils.GetErrorCode(err))
	orderRepo.AssertNotCalled(t, "GetByOrderNo", mock.Anything, mock.Anything)
}

func TestDecide_RejectionReasonReturned(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	pending := refundPendingOrder()
	decided := refundPendingOrder()
	decided.Status = model.OrderStatusRefundRejected
	reason := "tickets already issued"
	decided.RefundDecisionReason = &reason

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pending, nil).Once()
	orderRepo.On("Transition", mock.Anything, uint64(1), int8(model.OrderStatusRefundPending), int8(model.OrderStatusRefundRejected), mock.Anything).Return(nil)
	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(decided, nil).Once()

	o, err := svc.Decide(context.Background(), "T20260901123456", false, reason, "ops-alice")
	assert.NoError(t, err)
	if assert.NotNil(t, o.RefundDecisionReason) {
		assert.Equal(t, reason, *o.RefundDecisionReason)
	}
}

func TestDecide_GatewayFailureLeavesPending(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", refundErr: errors.New("connection refused")}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(refundPendingOrder(), nil)

	_, err := svc.Decide(context.Background(), "T20260901123456", true, "", "ops-alice")
	assert.Error(t, err)
	assert.Equal(t, utils.CodeRefundFailed, utils.GetErrorCode(err))
	orderRepo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDecide_NotRefundPending(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	order := refundPendingOrder()
	order.Status = model.OrderStatusPaid
	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(order, nil)

	_, err := svc.Decide(context.Background(), "T20260901123456", true, "", "ops-alice")
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)
	assert.Equal(t, 0, adapter.refunds)
}

func TestDecide_MissingPaymentDetails(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	order := refundPendingOrder()
	order.TransactionID = nil
	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(order, nil)

	_, err := svc.Decide(context.Background(), "T20260901123456", true, "", "ops-alice")
	assert.Error(t, err)
	assert.Equal(t, utils.CodeInternalError, utils.GetErrorCode(err))
}

func TestListPending(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo)

	orderRepo.On("ListByStatus", mock.Anything, int8(model.OrderStatusRefundPending), 1, 20).Return([]*model.Order{refundPendingOrder()}, int64(1), nil)

	orders, total, err := svc.ListPending(context.Background(), 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, orders, 1)
}
