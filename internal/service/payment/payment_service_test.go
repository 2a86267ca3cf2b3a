package payment

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
	"tripbook/internal/repository"
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

type mockWebhookRepo struct {
	mock.Mock
}

func (m *mockWebhookRepo) GetByTransaction(ctx context.Context, gw, transactionID string) (*model.WebhookEvent, error) {
	args := m.Called(ctx, gw, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *mockWebhookRepo) RecordAndConfirm(ctx context.Context, event *model.WebhookEvent, pay model.PaymentRecord) error {
	args := m.Called(ctx, event, pay)
	return args.Error(0)
}

// fakeAdapter is a scriptable gateway adapter; the real wire formats are
// covered by the gateway package tests.
type fakeAdapter struct {
	name          string
	decodeErr     error
	verifyErr     error
	extractErr    error
	notification  *gateway.Notification
	session       *gateway.Session
	buildErr      error
	buildSessions int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) BuildSession(ctx context.Context, order *model.Order) (*gateway.Session, error) {
	f.buildSessions++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.session, nil
}

func (f *fakeAdapter) Decode(raw []byte) (map[string]string, error) {
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return map[string]string{"raw": string(raw)}, nil
}

func (f *fakeAdapter) Verify(params map[string]string) error { return f.verifyErr }

func (f *fakeAdapter) Extract(params map[string]string) (*gateway.Notification, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.notification, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{RefundNo: "R" + transactionID}, nil
}

func (f *fakeAdapter) AckSuccess() gateway.Ack {
	return gateway.Ack{ContentType: "text/plain", Body: "success"}
}

func (f *fakeAdapter) AckRetry() gateway.Ack {
	return gateway.Ack{ContentType: "text/plain", Body: "fail"}
}

func pendingOrder() *model.Order {
	return &model.Order{
		ID:       1,
		OrderNo:  "T20260901123456",
		UserID:   7,
		Amount:   19800,
		Status:   model.OrderStatusPending,
		ExpireAt: time.Now().Add(30 * time.Minute),
	}
}

func paidNotification() *gateway.Notification {
	return &gateway.Notification{
		Gateway:       "wechat",
		TransactionID: "4200001234567890",
		OrderNo:       "T20260901123456",
		Succeeded:     true,
		PaidAmount:    19800,
		PaidAt:        time.Now(),
	}
}

func newTestService(t *testing.T, adapter gateway.Adapter, orderRepo repository.OrderRepository, webhookRepo repository.WebhookEventRepository) PaymentService {
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

	return NewPaymentService(
		gateway.NewRegistry(adapter),
		orderRepo,
		webhookRepo,
		rdb,
		breakers,
		nil,
		monitor.GetMetricsCollector(),
		tracer,
		5*time.Minute,
	)
}

func TestHandleNotification_Applied(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", notification: paidNotification()}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pendingOrder(), nil)
	webhookRepo.On("RecordAndConfirm", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "success", ack.Body)
	webhookRepo.AssertExpectations(t)
}

func TestHandleNotification_Duplicate(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", notification: paidNotification()}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pendingOrder(), nil)
	webhookRepo.On("RecordAndConfirm", mock.Anything, mock.Anything, mock.Anything).Return(repository.ErrDuplicateEvent)

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "success", ack.Body)
}

func TestHandleNotification_BadSignature(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", verifyErr: utils.ErrSignatureInvalid}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "fail", ack.Body)
	orderRepo.AssertNotCalled(t, "GetByOrderNo", mock.Anything, mock.Anything)
}

func TestHandleNotification_Undecodable(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", decodeErr: errors.New("garbage")}
	svc := newTestService(t, adapter, new(mockOrderRepo), new(mockWebhookRepo))

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "fail", ack.Body)
}

func TestHandleNotification_PaymentFailed(t *testing.T) {
	n := paidNotification()
	n.Succeeded = false
	adapter := &fakeAdapter{name: "wechat", notification: n}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "success", ack.Body)
	orderRepo.AssertNotCalled(t, "GetByOrderNo", mock.Anything, mock.Anything)
	webhookRepo.AssertNotCalled(t, "RecordAndConfirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNotification_UnknownOrder(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", notification: paidNotification()}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(nil, utils.ErrOrderNotFound)

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "success", ack.Body)
	webhookRepo.AssertNotCalled(t, "RecordAndConfirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNotification_AmountMismatch(t *testing.T) {
	n := paidNotification()
	n.PaidAmount = 100
	adapter := &fakeAdapter{name: "wechat", notification: n}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pendingOrder(), nil)

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "success", ack.Body)
	webhookRepo.AssertNotCalled(t, "RecordAndConfirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNotification_StateConflict(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", notification: paidNotification()}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pendingOrder(), nil)
	webhookRepo.On("RecordAndConfirm", mock.Anything, mock.Anything, mock.Anything).Return(utils.ErrInvalidStateTransition)

	// conflict is terminal, retries cannot help, so the provider is told
	// to stop delivering
	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "success", ack.Body)
}

func TestHandleNotification_StorageError(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", notification: paidNotification()}
	orderRepo := new(mockOrderRepo)
	webhookRepo := new(mockWebhookRepo)
	svc := newTestService(t, adapter, orderRepo, webhookRepo)

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pendingOrder(), nil)
	webhookRepo.On("RecordAndConfirm", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	ack, err := svc.HandleNotification(context.Background(), "wechat", []byte("payload"))
	assert.NoError(t, err)
	assert.Equal(t, "fail", ack.Body)
}

func TestHandleNotification_UnknownMethod(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	svc := newTestService(t, adapter, new(mockOrderRepo), new(mockWebhookRepo))

	_, err := svc.HandleNotification(context.Background(), "bitcoin", []byte("payload"))
	assert.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	adapter := &fakeAdapter{
		name:    "wechat",
		session: &gateway.Session{Gateway: "wechat", PayURL: "weixin://pay/abc"},
	}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo, new(mockWebhookRepo))

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pendingOrder(), nil)

	session, err := svc.CreateSession(context.Background(), 7, "T20260901123456", "wechat")
	assert.NoError(t, err)
	assert.Equal(t, "weixin://pay/abc", session.PayURL)

	// second call replays the cached session instead of going back to the
	// provider
	session, err = svc.CreateSession(context.Background(), 7, "T20260901123456", "wechat")
	assert.NoError(t, err)
	assert.Equal(t, "weixin://pay/abc", session.PayURL)
	assert.Equal(t, 1, adapter.buildSessions)
}

func TestCreateSession_WrongUser(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", session: &gateway.Session{Gateway: "wechat"}}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo, new(mockWebhookRepo))

	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(pendingOrder(), nil)

	_, err := svc.CreateSession(context.Background(), 99, "T20260901123456", "wechat")
	assert.ErrorIs(t, err, utils.ErrOrderNotFound)
	assert.Equal(t, 0, adapter.buildSessions)
}

func TestCreateSession_ExpiredOrder(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", session: &gateway.Session{Gateway: "wechat"}}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo, new(mockWebhookRepo))

	order := pendingOrder()
	order.ExpireAt = time.Now().Add(-time.Minute)
	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(order, nil)

	_, err := svc.CreateSession(context.Background(), 7, "T20260901123456", "wechat")
	assert.Error(t, err)
	assert.Equal(t, 0, adapter.buildSessions)
}

func TestCreateSession_PaidOrder(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat", session: &gateway.Session{Gateway: "wechat"}}
	orderRepo := new(mockOrderRepo)
	svc := newTestService(t, adapter, orderRepo, new(mockWebhookRepo))

	order := pendingOrder()
	order.Status = model.OrderStatusPaid
	orderRepo.On("GetByOrderNo", mock.Anything, "T20260901123456").Return(order, nil)

	_, err := svc.CreateSession(context.Background(), 7, "T20260901123456", "wechat")
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)
}

func TestMethods(t *testing.T) {
	adapter := &fakeAdapter{name: "wechat"}
	svc := newTestService(t, adapter, new(mockOrderRepo), new(mockWebhookRepo))

	assert.Equal(t, []string{"wechat"}, svc.Methods())
}
