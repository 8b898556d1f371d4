package elepay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"elepay-bridge/internal/domain"
)

// Client is the charge lookup façade over the processor REST API. Calls are
// single-attempt: create-code mutates processor state and its idempotency on
// retry is not guaranteed.
type Client interface {
	CreateCode(ctx context.Context, req *CodeRequest) (*Code, error)
	RetrieveCode(ctx context.Context, codeID string) (*Code, error)
	RetrieveCharge(ctx context.Context, chargeID string) (*domain.Charge, error)
	ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error)
}

type httpClient struct {
	client    *http.Client
	host      string
	secretKey string
}

func NewClient(host, secretKey string) Client {
	return &httpClient{
		client:    &http.Client{Timeout: 10 * time.Second},
		host:      host,
		secretKey: secretKey,
	}
}

func (c *httpClient) CreateCode(ctx context.Context, req *CodeRequest) (*Code, error) {
	code := &Code{}
	if err := c.do(ctx, http.MethodPost, "/codes", req, code); err != nil {
		return nil, fmt.Errorf("create code for %s: %w", req.OrderNo, err)
	}
	return code, nil
}

func (c *httpClient) RetrieveCode(ctx context.Context, codeID string) (*Code, error) {
	code := &Code{}
	if err := c.do(ctx, http.MethodGet, "/codes/"+codeID, nil, code); err != nil {
		return nil, fmt.Errorf("retrieve code %s: %w", codeID, err)
	}
	return code, nil
}

func (c *httpClient) RetrieveCharge(ctx context.Context, chargeID string) (*domain.Charge, error) {
	charge := &domain.Charge{}
	if err := c.do(ctx, http.MethodGet, "/charges/"+chargeID, nil, charge); err != nil {
		return nil, fmt.Errorf("retrieve charge %s: %w", chargeID, err)
	}
	return charge, nil
}

func (c *httpClient) ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	resp := &paymentMethodsResponse{}
	if err := c.do(ctx, http.MethodGet, "/code-settings/payment-methods", nil, resp); err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return resp.PaymentMethods, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	// The secret key authenticates as the basic auth username, password empty.
	req.SetBasicAuth(c.secretKey, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do request: %v", domain.ErrProcessorFault, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d for %s %s", domain.ErrProcessorFault, resp.StatusCode, method, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", domain.ErrProcessorFault, err)
	}
	return nil
}
