package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"elepay-bridge/internal/elepay"
)

// PaymentMethodInfo is one presentable payment method: the catalog key joined
// with its display metadata. Exposed as plain data for the shop frontend.
type PaymentMethodInfo struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Image string `json:"image"`
	UA    string `json:"ua"`
}

// methodMetadata is the externally hosted display catalog, keyed by method:
// localized names and icon URLs.
type methodMetadata struct {
	Name  map[string]string `json:"name"`
	Image struct {
		Short string `json:"short"`
		Long  string `json:"long"`
	} `json:"image"`
}

type Service interface {
	Resolve(ctx context.Context) ([]PaymentMethodInfo, error)
	// DisplayName maps a raw method key to its localized name; unmatched keys
	// keep the raw value.
	DisplayName(ctx context.Context, key string) string
}

type service struct {
	client      elepay.Client
	httpClient  *http.Client
	metadataURL string
	locale      string
	logger      *zap.Logger
}

func NewService(client elepay.Client, metadataURL, locale string, logger *zap.Logger) Service {
	return &service{
		client:      client,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		metadataURL: metadataURL,
		locale:      locale,
		logger:      logger,
	}
}

// Resolve keeps the enabled methods usable on the web, expands creditcard into
// one entry per supported brand, and joins each key against the display
// metadata. Entries without metadata are dropped; processor order is kept.
func (s *service) Resolve(ctx context.Context) ([]PaymentMethodInfo, error) {
	metadata, err := s.fetchMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch method metadata: %w", err)
	}

	available, err := s.client.ListPaymentMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled methods: %w", err)
	}

	methods := make([]PaymentMethodInfo, 0, len(available))
	for _, item := range available {
		if item.PaymentMethod == "" || !hasResource(item.Resources, "web") {
			continue
		}

		if item.PaymentMethod == "creditcard" {
			for _, brand := range item.Brand {
				if info, ok := s.methodInfo("creditcard_"+brand, item, metadata); ok {
					methods = append(methods, info)
				}
			}
			continue
		}

		if info, ok := s.methodInfo(item.PaymentMethod, item, metadata); ok {
			methods = append(methods, info)
		}
	}
	return methods, nil
}

func (s *service) DisplayName(ctx context.Context, key string) string {
	methods, err := s.Resolve(ctx)
	if err != nil {
		s.logger.Warn("Could not resolve payment method catalog, keeping raw method key",
			zap.String("key", key), zap.Error(err))
		return key
	}
	for _, method := range methods {
		if method.Key == key {
			return method.Name
		}
	}
	return key
}

func (s *service) methodInfo(key string, item elepay.PaymentMethod, metadata map[string]methodMetadata) (PaymentMethodInfo, bool) {
	meta, ok := metadata[key]
	if !ok {
		return PaymentMethodInfo{}, false
	}
	return PaymentMethodInfo{
		Key:   key,
		Name:  meta.Name[s.locale],
		Image: meta.Image.Short,
		UA:    item.UA,
	}, true
}

func (s *service) fetchMetadata(ctx context.Context) (map[string]methodMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var metadata map[string]methodMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return metadata, nil
}

func hasResource(resources []string, want string) bool {
	for _, r := range resources {
		if r == want {
			return true
		}
	}
	return false
}
