package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tripbook/internal/gateway"
	"tripbook/pkg/utils"
)

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) CreateSession(ctx context.Context, userID uint64, orderNo, method string) (*gateway.Session, error) {
	args := m.Called(ctx, userID, orderNo, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Session), args.Error(1)
}

func (m *mockPaymentService) HandleNotification(ctx context.Context, method string, raw []byte) (gateway.Ack, error) {
	args := m.Called(ctx, method, raw)
	return args.Get(0).(gateway.Ack), args.Error(1)
}

func (m *mockPaymentService) Methods() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func setupPaymentRouter(svc *mockPaymentService, userID uint64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewPaymentHandler(svc)

	r := gin.New()
	r.POST("/payment/notify/:method", h.Notify)
	r.GET("/payment/methods", h.Methods)
	authed := r.Group("/", asUser(userID))
	authed.POST("/payment/create", h.CreateSession)
	return r
}

func TestCreateSessionHandler(t *testing.T) {
	svc := new(mockPaymentService)
	router := setupPaymentRouter(svc, 7)

	svc.On("CreateSession", mock.Anything, uint64(7), "T20260901123456", "wechat").
		Return(&gateway.Session{Gateway: "wechat", PayURL: "weixin://pay/abc"}, nil)

	body := `{"order_no":"T20260901123456","method":"wechat"}`
	req := httptest.NewRequest(http.MethodPost, "/payment/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp utils.Response
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "weixin://pay/abc", data["pay_url"])
}

func TestCreateSessionHandler_GatewayUnavailable(t *testing.T) {
	svc := new(mockPaymentService)
	router := setupPaymentRouter(svc, 7)

	svc.On("CreateSession", mock.Anything, uint64(7), "T20260901123456", "wechat").
		Return(nil, utils.ErrGatewayUnavailable)

	body := `{"order_no":"T20260901123456","method":"wechat"}`
	req := httptest.NewRequest(http.MethodPost, "/payment/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNotifyHandler_AckVerbatim(t *testing.T) {
	svc := new(mockPaymentService)
	router := setupPaymentRouter(svc, 7)

	ack := gateway.Ack{
		ContentType: "application/xml",
		Body:        `<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>`,
	}
	svc.On("HandleNotification", mock.Anything, "wechat", []byte("payload")).Return(ack, nil)

	req := httptest.NewRequest(http.MethodPost, "/payment/notify/wechat", strings.NewReader("payload"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// the provider parses this byte for byte, no envelope allowed
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ack.Body, w.Body.String())
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
}

func TestNotifyHandler_UnknownGateway(t *testing.T) {
	svc := new(mockPaymentService)
	router := setupPaymentRouter(svc, 7)

	svc.On("HandleNotification", mock.Anything, "bitcoin", mock.Anything).
		Return(gateway.Ack{}, utils.NewError(utils.CodeInvalidParam, "unknown payment method: bitcoin"))

	req := httptest.NewRequest(http.MethodPost, "/payment/notify/bitcoin", strings.NewReader("payload"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestMethodsHandler(t *testing.T) {
	svc := new(mockPaymentService)
	router := setupPaymentRouter(svc, 7)

	svc.On("Methods").Return([]string{"wechat", "alipay"})

	req := httptest.NewRequest(http.MethodGet, "/payment/methods", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp utils.Response
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"wechat", "alipay"}, data["methods"].([]interface{}))
}
