package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
)

const (
	OrdersRoute          = "/api/orders"
	maxResponseBodyBytes = 1 << 20
)

var _ contractx.OrderRepository = (*Client)(nil)

// Client submits finalized orders to the ordering server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: server url is required", contractx.ErrValidation)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: trimmed, httpClient: httpClient}, nil
}

func (c *Client) Save(ctx context.Context, order contractx.FinalizedOrder) (string, error) {
	stored, err := c.Place(ctx, order)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

func (c *Client) Place(ctx context.Context, order contractx.FinalizedOrder) (contractx.StoredOrder, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return contractx.StoredOrder{}, fmt.Errorf("%w: encode order: %v", contractx.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+OrdersRoute, bytes.NewReader(payload))
	if err != nil {
		return contractx.StoredOrder{}, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return contractx.StoredOrder{}, fmt.Errorf("%w: submit order: %v", contractx.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return contractx.StoredOrder{}, fmt.Errorf("%w: read order response: %v", contractx.ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return contractx.StoredOrder{}, fmt.Errorf("%w: order rejected: %s", contractx.ErrValidation, strings.TrimSpace(string(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return contractx.StoredOrder{}, fmt.Errorf("%w: order status %d: %s", contractx.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var stored contractx.StoredOrder
	if err := json.Unmarshal(body, &stored); err != nil {
		return contractx.StoredOrder{}, fmt.Errorf("%w: decode order response: %v", contractx.ErrSchemaViolation, err)
	}
	return stored, nil
}
