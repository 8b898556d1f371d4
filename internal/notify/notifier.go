package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers the post-payment side effects the shop owns: clearing the
// customer's cart and sending the order confirmation mail. Callers invoke it
// only after winning the paid transition, so each order triggers it at most
// once.
type Notifier interface {
	ClearCart(ctx context.Context, orderID int64) error
	SendOrderMail(ctx context.Context, orderID int64) error
}

// ShopClient notifies the shop through its internal HTTP API.
type ShopClient struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

func NewShopClient(baseURL string, logger *zap.Logger) *ShopClient {
	return &ShopClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		logger:  logger,
	}
}

func (c *ShopClient) ClearCart(ctx context.Context, orderID int64) error {
	return c.post(ctx, fmt.Sprintf("%s/internal/orders/%d/cart/clear", c.baseURL, orderID))
}

func (c *ShopClient) SendOrderMail(ctx context.Context, orderID int64) error {
	return c.post(ctx, fmt.Sprintf("%s/internal/orders/%d/mail", c.baseURL, orderID))
}

func (c *ShopClient) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	return nil
}
