package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/broker"
	"github.com/kavindya12/soa-microservices-platform/internal/config"
	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	apphttp "github.com/kavindya12/soa-microservices-platform/internal/http"
	"github.com/kavindya12/soa-microservices-platform/internal/http/handler"
	httpmiddleware "github.com/kavindya12/soa-microservices-platform/internal/http/middleware"
	"github.com/kavindya12/soa-microservices-platform/internal/jwt"
	"github.com/kavindya12/soa-microservices-platform/internal/middleware"
	"github.com/kavindya12/soa-microservices-platform/internal/password"
	"github.com/kavindya12/soa-microservices-platform/internal/repository"
	"github.com/kavindya12/soa-microservices-platform/internal/saga"
	authsvc "github.com/kavindya12/soa-microservices-platform/internal/service/auth"
)

type fakeOrchestrator struct {
	placed   []domain.WorkflowOrder
	placeErr error
	stock    map[string]int
	stockErr error
}

func (f *fakeOrchestrator) PlaceOrder(ctx context.Context, order domain.WorkflowOrder) error {
	if f.placeErr != nil {
		return f.placeErr
	}
	f.placed = append(f.placed, order)
	return nil
}

func (f *fakeOrchestrator) WorkflowStatus(ctx context.Context, orderID string) saga.StatusReport {
	return saga.StatusReport{
		OrderID: orderID,
		Details: saga.StatusDetails{
			Order:    json.RawMessage(`{"id":"` + orderID + `"}`),
			Payment:  json.RawMessage(`{"status":"not_found","message":"Payment details not found."}`),
			Shipping: json.RawMessage(`{"status":"unavailable","message":"Shipping service unavailable."}`),
		},
	}
}

func (f *fakeOrchestrator) UpdateCatalogStock(ctx context.Context, productID string, quantity int) error {
	if f.stockErr != nil {
		return f.stockErr
	}
	if f.stock == nil {
		f.stock = map[string]int{}
	}
	f.stock[productID] += quantity
	return nil
}

type staticBroker bool

func (b staticBroker) Connected() bool { return bool(b) }

type routerHarness struct {
	engine *gin.Engine
	tokens *authsvc.TokenService
	saga   *fakeOrchestrator
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher := password.NewHasher(password.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	clients, err := repository.NewStaticClientRegistry(config.DevelopmentClients(), hasher)
	require.NoError(t, err)
	keys, err := jwt.NewKeyManager("primary", []byte("0123456789abcdef0123456789abcdef"), nil)
	require.NoError(t, err)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	cfg := config.Config{
		ServiceName:        "orchestrator-service",
		AuthCodeTTL:        10 * time.Minute,
		AccessTokenTTL:     24 * time.Hour,
		ServiceIdentities:  []string{"orchestrator-service"},
		CORSAllowedOrigins: []string{"*"},
	}
	tokens := authsvc.NewTokenService(clients, repository.NewMemoryGrantStore(), repository.NewMemoryTokenStore(),
		jwt.NewGenerator(keys, "orchestrator-service", time.Hour, node), hasher, cfg, zap.NewNop())

	orch := &fakeOrchestrator{}
	engine := apphttp.NewRouter(cfg, apphttp.Handlers{
		System:   handler.NewSystemHandler(staticBroker(false)),
		OAuth:    handler.NewOAuthHandler(tokens),
		Workflow: handler.NewWorkflowHandler(orch, nil, zap.NewNop()),
	}, &httpmiddleware.Auth{Verifier: tokens}, middleware.NewRateLimiter(6000, zap.NewNop()), zap.NewNop())

	return &routerHarness{engine: engine, tokens: tokens, saga: orch}
}

func (h *routerHarness) do(method, target, token, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *routerHarness) serviceToken(t *testing.T, scope string) string {
	t.Helper()
	token, err := h.tokens.MintServiceClaims(context.Background(), "orchestrator-service", scope)
	require.NoError(t, err)
	return token
}

const orderBody = `{"id":"ORD-1","item":"P1","quantity":2,"customerName":"Ada",
"shippingAddress":{"street":"1 Main St","city":"Springfield","zipCode":"12345"}}`

func TestPublicEndpoints(t *testing.T) {
	h := newRouterHarness(t)

	w := h.do(http.MethodGet, "/", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Orchestrator Service API - OAuth2 Server", w.Body.String())

	w = h.do(http.MethodGet, "/health", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Equal(t, "healthy", health["status"])
	require.Equal(t, "disconnected", health["broker"])

	w = h.do(http.MethodGet, "/api-docs", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/workflow-status/:orderId")
}

func TestAuthorizationCodeFlowThroughRouter(t *testing.T) {
	h := newRouterHarness(t)

	query := url.Values{
		"response_type": {"code"},
		"client_id":     {"orders-service-client"},
		"redirect_uri":  {"http://localhost:3000/auth/callback"},
		"scope":         {"read write"},
		"state":         {"s1"},
	}
	w := h.do(http.MethodGet, "/oauth/authorize?"+query.Encode(), "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "s1", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"orders-service-client"},
		"client_secret": {"orders-service-secret"},
	}
	w = h.do(http.MethodPost, "/oauth/token", "", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, w.Code)
	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		JWTToken    string `json:"jwt_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokenResp))
	require.Equal(t, "Bearer", tokenResp.TokenType)
	require.EqualValues(t, 86400, tokenResp.ExpiresIn)

	w = h.do(http.MethodPost, "/oauth/token", "", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_grant")

	introspect := url.Values{
		"token":         {tokenResp.AccessToken},
		"client_id":     {"orders-service-client"},
		"client_secret": {"orders-service-secret"},
	}
	w = h.do(http.MethodPost, "/oauth/introspect", "", "application/x-www-form-urlencoded", introspect.Encode())
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"active":true`)

	w = h.do(http.MethodPost, "/place-order", tokenResp.JWTToken, "application/json", orderBody)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Order ORD-1 created and initiation request sent to orchestrator.", w.Body.String())
	require.Len(t, h.saga.placed, 1)
	require.Equal(t, "Springfield", h.saga.placed[0].ShippingAddress.City)

	w = h.do(http.MethodGet, "/oauth/clients", tokenResp.JWTToken, "", "")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	h := newRouterHarness(t)
	query := url.Values{
		"response_type": {"code"},
		"client_id":     {"orders-service-client"},
		"redirect_uri":  {"http://attacker.example/cb"},
	}
	w := h.do(http.MethodGet, "/oauth/authorize?"+query.Encode(), "", "", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_redirect_uri")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newRouterHarness(t)

	w := h.do(http.MethodPost, "/place-order", "", "application/json", orderBody)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "missing_or_invalid_token")

	w = h.do(http.MethodGet, "/workflow-status/ORD-1", "not-a-jwt", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/place-order", h.serviceToken(t, "read"), "application/json", orderBody)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, h.saga.placed)
}

func TestPlaceOrderValidationAndBrokerOutage(t *testing.T) {
	h := newRouterHarness(t)
	token := h.serviceToken(t, "read write")

	w := h.do(http.MethodPost, "/place-order", token, "application/json", `{"id":"ORD-2","item":"P1","quantity":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "validation_failed")

	h.saga.placeErr = broker.ErrUnavailable
	w = h.do(http.MethodPost, "/place-order", token, "application/json", orderBody)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWorkflowStatusAndStockRoutes(t *testing.T) {
	h := newRouterHarness(t)
	token := h.serviceToken(t, "")

	w := h.do(http.MethodGet, "/workflow-status/ORD-9", token, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"orderId":"ORD-9","details":{
		"order":{"id":"ORD-9"},
		"payment":{"status":"not_found","message":"Payment details not found."},
		"shipping":{"status":"unavailable","message":"Shipping service unavailable."}}}`, w.Body.String())

	w = h.do(http.MethodPut, "/update-catalog-stock/P1", token, "application/json", `{"quantity":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"Quantity must be a positive number"}`, w.Body.String())

	w = h.do(http.MethodPut, "/update-catalog-stock/P1", token, "application/json", `{"quantity":2.5}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"Quantity must be a whole number of units"}`, w.Body.String())
	require.Empty(t, h.saga.stock)

	w = h.do(http.MethodPut, "/update-catalog-stock/P1", token, "application/json", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"message":"Stock updated successfully for product P1"}`, w.Body.String())
	require.Equal(t, 3, h.saga.stock["P1"])
}

func TestClientsRequiresAdmin(t *testing.T) {
	h := newRouterHarness(t)

	w := h.do(http.MethodGet, "/oauth/clients", h.serviceToken(t, "admin"), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Message string   `json:"message"`
		Clients []string `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "OAuth2 clients registered", resp.Message)
	require.Equal(t, []string{"orders-service-client", "payments-service-client", "shipping-service-client", "orchestrator-admin-client"}, resp.Clients)
}

func TestDevelopmentAdminClientReachesClientList(t *testing.T) {
	h := newRouterHarness(t)

	query := url.Values{
		"response_type": {"code"},
		"client_id":     {"orchestrator-admin-client"},
		"redirect_uri":  {"http://localhost:3003/auth/callback"},
		"scope":         {"admin"},
	}
	w := h.do(http.MethodGet, "/oauth/authorize?"+query.Encode(), "", "", "")
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {location.Query().Get("code")},
		"client_id":     {"orchestrator-admin-client"},
		"client_secret": {"orchestrator-admin-secret"},
	}
	w = h.do(http.MethodPost, "/oauth/token", "", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, w.Code)
	var tokenResp struct {
		JWTToken string `json:"jwt_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokenResp))

	w = h.do(http.MethodGet, "/oauth/clients", tokenResp.JWTToken, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "orchestrator-admin-client")
}
