package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/labconnect/internal/breaker"
	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/credential"
	"github.com/jafarshop/labconnect/internal/domain"
	"github.com/jafarshop/labconnect/internal/gateway"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/queue"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/internal/repository/memory"
	"github.com/jafarshop/labconnect/internal/service"
	"github.com/jafarshop/labconnect/pkg/errors"
)

const testAPIKey = "lab-ops-key"

// fakePartner answers login, booking and status calls in memory
type fakePartner struct {
	logins   int
	status   string
	products []domain.Product
}

func (f *fakePartner) Login(ctx context.Context, username, password string) (*partner.LoginResponse, error) {
	f.logins++
	return &partner.LoginResponse{RespID: "RES00001", APIKey: "partner-key"}, nil
}

func (f *fakePartner) CreateOrder(ctx context.Context, apiKey string, req partner.CreateOrderRequest) (*partner.CreateOrderResponse, error) {
	return &partner.CreateOrderResponse{RespID: "RES00001", OrderNo: "LAB-" + req.OrderID[:8]}, nil
}

func (f *fakePartner) OrderStatus(ctx context.Context, apiKey, orderNo string) (*partner.OrderStatusResponse, error) {
	return &partner.OrderStatusResponse{RespID: "RES00001", OrderNo: orderNo, Status: f.status}, nil
}

func (f *fakePartner) Products(ctx context.Context, apiKey string, productType domain.ProductType) ([]domain.Product, error) {
	return f.products, nil
}

type testServer struct {
	router   *gin.Engine
	partner  *fakePartner
	breaker  *breaker.Breaker
	operator *domain.Operator
	repos    *repository.Repositories
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repos := memory.NewRepositories()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	require.NoError(t, err)
	operator := &domain.Operator{Name: "ops", APIKeyHash: string(hash), IsActive: true}
	require.NoError(t, repos.Operator.Create(context.Background(), operator))

	fp := &fakePartner{
		status: domain.PartnerStatusAssigned,
		products: []domain.Product{
			{Type: domain.ProductTypeTest, Code: "CBC", Name: "Complete Blood Count", Rate: 350, Test: &domain.TestProduct{SampleType: "blood"}},
		},
	}

	b := breaker.New(breaker.Config{Name: "partner", FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute}, nil)
	q := queue.New(queue.Config{}, nil)
	q.Start()
	t.Cleanup(q.Close)
	dispatcher := gateway.NewDispatcher(b, q, 0, nil)

	manager := credential.NewManager(repos.Session, fp, dispatcher, credential.FixedTTL{TTL: time.Hour},
		config.PartnerConfig{Username: "lab", Password: "secret"}, nil)
	gw := gateway.New(dispatcher, manager, nil)
	syncCfg := config.SyncConfig{RetryBaseDelay: time.Minute}

	router := NewRouter(&config.Config{Environment: "test"}, Services{
		Operators:   repos.Operator,
		Credentials: manager,
		Orders:      service.NewOrderService(repos, gw, fp, nil, syncCfg, nil),
		Sync:        service.NewSyncService(repos, gw, fp, nil, nil),
		Catalog:     service.NewCatalogService(gw, fp, nil),
		Partner:     gw,
	}, zap.NewNop())

	return &testServer{router: router, partner: fp, breaker: b, operator: operator, repos: repos}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func checkoutBody(submit bool) map[string]interface{} {
	return map[string]interface{}{
		"customer": map[string]interface{}{
			"name":    "Asha",
			"phone":   "9876543210",
			"address": "12 MG Road",
			"pincode": "560001",
		},
		"items": []map[string]interface{}{
			{"product_code": "CBC", "product_type": "TEST", "price": 350},
		},
		"submit": submit,
	}
}

func errorKind(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	kind, _ := e["kind"].(string)
	return kind
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_RejectsMissingAndWrongKey(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/partner/stats", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/partner/stats", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/partner/stats", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCredentials_AcquireReusesAndNeverReturnsValue(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/credentials/acquire", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["reused"])
	assert.NotContains(t, w.Body.String(), "partner-key")

	w, body = s.do(t, http.MethodPost, "/v1/credentials/acquire", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["reused"])
	assert.Equal(t, 1, s.partner.logins)

	_, body = s.do(t, http.MethodGet, "/v1/credentials", nil)
	assert.Equal(t, string(credential.StateActive), body["state"])

	w, body = s.do(t, http.MethodDelete, "/v1/credentials", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["revoked"])
}

func TestOrders_CreateSubmitSyncFlow(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/orders", checkoutBody(true))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := body["order"].(map[string]interface{})
	orderID := order["id"].(string)
	submission := body["submission"].(map[string]interface{})
	assert.Equal(t, true, submission["success"])
	assert.NotEmpty(t, submission["partner_reference"])
	assert.Equal(t, string(domain.LocalStatusCreated), order["local_status"])
	assert.Equal(t, submission["partner_reference"], order["partner_reference"])

	w, body = s.do(t, http.MethodPost, "/v1/orders/"+orderID+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["status_changed"])
	assert.Equal(t, domain.PartnerStatusAssigned, body["new_status"])

	_, body = s.do(t, http.MethodGet, "/v1/orders/"+orderID, nil)
	order = body["order"].(map[string]interface{})
	assert.Equal(t, string(domain.LocalStatusCreated), order["local_status"])
	assert.Len(t, order["partner_status_history"], 1)

	s.partner.status = domain.PartnerStatusDone
	w, body = s.do(t, http.MethodPost, "/v1/orders/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, float64(1), result["total"])
	assert.Equal(t, float64(1), result["status_changed"])
}

func TestOrders_SyncAllCoversOnlyOwnOrders(t *testing.T) {
	s := newTestServer(t)

	reference := "LAB-OTHER"
	other := &domain.Order{
		OperatorID:       uuid.New(),
		LocalStatus:      domain.LocalStatusCreated,
		PartnerReference: &reference,
	}
	require.NoError(t, s.repos.Order.Create(context.Background(), other))

	_, body := s.do(t, http.MethodPost, "/v1/orders", checkoutBody(true))
	require.Equal(t, true, body["submission"].(map[string]interface{})["success"])

	s.partner.status = domain.PartnerStatusDone
	w, body := s.do(t, http.MethodPost, "/v1/orders/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := body["result"].(map[string]interface{})
	assert.Equal(t, float64(1), result["total"])

	stored, err := s.repos.Order.GetByID(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LocalStatusCreated, stored.LocalStatus)
	assert.Empty(t, stored.PartnerStatusHistory)
}

func TestOrders_ValidationAndLookupErrors(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/orders", map[string]interface{}{"items": []interface{}{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(errors.KindValidation), errorKind(body))

	w, _ = s.do(t, http.MethodGet, "/v1/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodGet, "/v1/orders/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(errors.KindNotFound), errorKind(body))
}

func TestOrders_RetryOfPendingOrderConflicts(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(t, http.MethodPost, "/v1/orders", checkoutBody(false))
	orderID := body["order"].(map[string]interface{})["id"].(string)

	w, body := s.do(t, http.MethodPost, "/v1/orders/"+orderID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(errors.KindInvalidStatusTransition), errorKind(body))

	w, body = s.do(t, http.MethodPost, "/v1/orders/"+orderID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.LocalStatusCancelled), body["order"].(map[string]interface{})["local_status"])
}

func TestOrders_OpenCircuitIsServiceUnavailable(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(t, http.MethodPost, "/v1/orders", checkoutBody(false))
	orderID := body["order"].(map[string]interface{})["id"].(string)

	boom := fmt.Errorf("partner down")
	for i := 0; i < 3; i++ {
		_ = s.breaker.Execute(func() error { return boom })
	}
	require.Equal(t, breaker.Open, s.breaker.State())

	w, body := s.do(t, http.MethodPost, "/v1/orders/"+orderID+"/submit", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(errors.KindPartnerUnavailable), errorKind(body))

	_, body = s.do(t, http.MethodGet, "/v1/partner/stats", nil)
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, breaker.Open.String(), stats["breaker"].(map[string]interface{})["state"])
}

func TestProducts_ListAndCheck(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/v1/products?type=test", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["count"])

	w, body = s.do(t, http.MethodPost, "/v1/products/check", map[string]interface{}{
		"items": []map[string]interface{}{
			{"product_code": "CBC", "product_type": "TEST"},
			{"product_code": "HBA1C", "product_type": "TEST"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["available"])
	missing := body["missing"].(map[string]interface{})
	assert.Equal(t, []interface{}{"HBA1C"}, missing["TEST"])
}
