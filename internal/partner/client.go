package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/labconnect/internal/config"
	apperrors "github.com/jafarshop/labconnect/pkg/errors"
)

// ErrCredentialRejected is wrapped into request errors when the partner refuses the bearer
// credential before its local expiry
var ErrCredentialRejected = errors.New("partner rejected credential")

const respIDSuccess = "RES00001"

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new partner API client
func NewClient(cfg config.PartnerConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Normalize base URL - ensure a scheme and remove trailing slashes
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Login exchanges operator credentials for a bearer API key
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "login", "/login", "", LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}

	if resp.RespID != respIDSuccess || resp.APIKey == "" {
		return nil, &apperrors.ErrPartnerRequest{
			Operation:  "login",
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("login rejected: %s", resp.Response),
		}
	}

	return &resp, nil
}

// CreateOrder books an order at the partner. req.OrderID is our order id and acts as the
// partner-side reference key, so resubmitting the same order is safe.
func (c *Client) CreateOrder(ctx context.Context, apiKey string, req CreateOrderRequest) (*CreateOrderResponse, error) {
	var resp CreateOrderResponse
	if err := c.post(ctx, "create-order", "/booking-master/create-order", apiKey, req, &resp); err != nil {
		return nil, err
	}

	if resp.RespID != respIDSuccess || resp.OrderNo == "" {
		return nil, &apperrors.ErrPartnerRequest{
			Operation:  "create-order",
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("order rejected: %s", resp.Response),
		}
	}

	return &resp, nil
}

// OrderStatus fetches the partner status of a booked order
func (c *Client) OrderStatus(ctx context.Context, apiKey, orderNo string) (*OrderStatusResponse, error) {
	var resp OrderStatusResponse
	if err := c.post(ctx, "order-status", "/order-master/order-status", apiKey, OrderStatusRequest{OrderNo: orderNo}, &resp); err != nil {
		return nil, err
	}

	if resp.RespID != respIDSuccess || resp.Status == "" {
		return nil, &apperrors.ErrPartnerRequest{
			Operation:  "order-status",
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("status unavailable: %s", resp.Response),
		}
	}

	return &resp, nil
}

func (c *Client) post(ctx context.Context, operation, path, apiKey string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperrors.ErrPartnerRequest{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperrors.ErrPartnerRequest{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug("Partner call completed",
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		return &apperrors.ErrPartnerRequest{Operation: operation, StatusCode: resp.StatusCode, Err: ErrCredentialRejected}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperrors.ErrPartnerRequest{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("body: %s", truncate(string(respBody), 512)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &apperrors.ErrPartnerRequest{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
