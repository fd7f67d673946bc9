package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kavindya12/soa-microservices-platform/internal/domain"
)

const maxResponseBytes = 1 << 20

var (
	// ErrNotFound signals a 404 from a record store.
	ErrNotFound = errors.New("collaborator: not found")
	// ErrUpstream signals a transport failure or unexpected response.
	ErrUpstream = errors.New("collaborator: upstream failure")
	// ErrStockRejected signals a catalog response without success=true.
	ErrStockRejected = errors.New("collaborator: stock update rejected")
)

// TokenSource returns a bearer token for an outbound call.
type TokenSource func(ctx context.Context) (string, error)

// Endpoints are the base URLs of the external collaborators.
type Endpoints struct {
	Orders   string
	Payments string
	Shipping string
	Catalog  string
}

// HTTPClient calls the Orders, Payments, Shipping and Catalog services with a service token.
type HTTPClient struct {
	httpClient *http.Client
	endpoints  Endpoints
	token      TokenSource
}

// NewHTTPClient constructs the client. A nil http.Client defaults to a 10s timeout.
func NewHTTPClient(client *http.Client, endpoints Endpoints, token TokenSource) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{httpClient: client, endpoints: endpoints, token: token}
}

// CreateOrder persists the order in the Orders service.
func (c *HTTPClient) CreateOrder(ctx context.Context, order domain.WorkflowOrder) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.endpoints.Orders+"/orders", order)
}

// GetOrder loads the order record.
func (c *HTTPClient) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.endpoints.Orders+"/orders/"+url.PathEscape(orderID), nil)
}

// GetPayment loads the payment record for an order.
func (c *HTTPClient) GetPayment(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.endpoints.Payments+"/payments/"+url.PathEscape(orderID), nil)
}

// GetShipping loads the shipping record for an order.
func (c *HTTPClient) GetShipping(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.endpoints.Shipping+"/shipping/"+url.PathEscape(orderID), nil)
}

type stockRequest struct {
	Quantity int `json:"quantity"`
}

type stockResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UpdateStock decrements catalog stock. Success is decided by the response body flag,
// not by the HTTP status alone.
func (c *HTTPClient) UpdateStock(ctx context.Context, productID string, quantity int) error {
	endpoint := fmt.Sprintf("%s/api/products/%s/stock", c.endpoints.Catalog, url.PathEscape(productID))
	body, err := c.do(ctx, http.MethodPut, endpoint, stockRequest{Quantity: quantity})
	if err != nil {
		return err
	}
	var resp stockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode stock response: %w", errors.Join(ErrUpstream, err))
	}
	if !resp.Success {
		if resp.Message != "" {
			return fmt.Errorf("%w: %s", ErrStockRejected, resp.Message)
		}
		return ErrStockRejected
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, errors.Join(ErrUpstream, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", errors.Join(ErrUpstream, err))
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s %s: status=%d %s: %w", method, endpoint, resp.StatusCode, snippet(body), ErrUpstream)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		encoded, _ := json.Marshal(string(body))
		return encoded, nil
	}
	return body, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
