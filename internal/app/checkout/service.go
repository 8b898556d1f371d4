package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"elepay-bridge/internal/domain"
	"elepay-bridge/internal/elepay"
	"elepay-bridge/internal/notify"
	"elepay-bridge/internal/repository/order_repo"
	"elepay-bridge/internal/repository/outbox_repo"
)

// Result tells the checkout handler where the customer goes next: to the
// processor payment page, or straight to the complete page when the
// zero-amount fast path already settled the order.
type Result struct {
	RedirectURL string
	OrderNo     string
	Completed   bool
}

type Service interface {
	InitiateCheckout(ctx context.Context, orderID int64) (*Result, error)
}

type service struct {
	db            domain.Querier
	txRunner      domain.TxRunner
	orderRepo     order_repo.OrderRepository
	outboxRepo    outbox_repo.OutboxRepository
	client        elepay.Client
	notifier      notify.Notifier
	publicBaseURL string
	locale        string
	now           func() time.Time
	logger        *zap.Logger
}

func NewService(
	db domain.Querier,
	txRunner domain.TxRunner,
	orderRepo order_repo.OrderRepository,
	outboxRepo outbox_repo.OutboxRepository,
	client elepay.Client,
	notifier notify.Notifier,
	publicBaseURL, locale string,
	now func() time.Time,
	logger *zap.Logger,
) Service {
	if now == nil {
		now = time.Now
	}
	return &service{
		db:            db,
		txRunner:      txRunner,
		orderRepo:     orderRepo,
		outboxRepo:    outboxRepo,
		client:        client,
		notifier:      notifier,
		publicBaseURL: publicBaseURL,
		locale:        locale,
		now:           now,
		logger:        logger,
	}
}

// InitiateCheckout creates a processor payment session for the order and
// returns the page to redirect the customer to. A zero payment total never
// reaches the processor: a zero-value charge is undefined for the gateway, so
// the order is settled locally instead.
func (s *service) InitiateCheckout(ctx context.Context, orderID int64) (*Result, error) {
	order, err := s.orderRepo.GetByIDTx(ctx, s.db, orderID)
	if err != nil {
		s.logger.Error("Order not found for checkout", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}

	now := s.now()
	orderNo := domain.FormatOrderNo(order.ID, now)

	if order.PaymentTotal == 0 {
		return s.settleZeroAmount(ctx, order, orderNo, now)
	}

	if err := s.orderRepo.UpdateStatusTx(ctx, s.db, order.ID, domain.OrderStatusPending); err != nil {
		s.logger.Error("Failed to mark order pending", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("mark order %d pending: %w", order.ID, err)
	}

	returnURL, err := addQuery(s.publicBaseURL+"/elepay/checkout/validate", map[string]string{
		"orderNo": orderNo,
	})
	if err != nil {
		return nil, fmt.Errorf("build return url: %w", err)
	}

	code, err := s.client.CreateCode(ctx, &elepay.CodeRequest{
		OrderNo:  orderNo,
		Amount:   order.PaymentTotal,
		FrontURL: returnURL,
	})
	if err != nil {
		s.logger.Error("Failed to create processor code", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrCheckoutCreation, err)
	}

	redirectURL, err := addQuery(code.CodeURL, map[string]string{
		"mode":   "auto",
		"locale": s.locale,
	})
	if err != nil {
		return nil, fmt.Errorf("build redirect url: %w", err)
	}

	s.logger.Info("Checkout initiated",
		zap.Int64("order_id", order.ID),
		zap.String("order_no", orderNo),
		zap.String("code_id", code.ID))

	return &Result{RedirectURL: redirectURL, OrderNo: orderNo}, nil
}

// settleZeroAmount commits the paid transition and the completion event in
// one transaction. The conditional update keeps it idempotent should the
// checkout endpoint be hit twice.
func (s *service) settleZeroAmount(ctx context.Context, order *domain.Order, orderNo string, now time.Time) (*Result, error) {
	payload, err := json.Marshal(domain.OrderPaidEvent{OrderID: order.ID, PaidAt: now})
	if err != nil {
		s.logger.Error("Failed to marshal order paid event", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("marshal order paid event for order %d: %w", order.ID, err)
	}

	var won bool
	err = s.txRunner.RunInTx(ctx, func(q domain.Querier) error {
		won, err = s.orderRepo.MarkPaidTx(ctx, q, order.ID, "", now)
		if err != nil {
			return fmt.Errorf("mark order %d paid: %w", order.ID, err)
		}
		if !won {
			return nil
		}
		msg := domain.NewOutboxMessage(order.ID, "", payload, now)
		if err := s.outboxRepo.CreateMessageTx(ctx, q, msg); err != nil {
			return fmt.Errorf("enqueue completion notification for order %d: %w", order.ID, err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to settle zero-amount order", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, err
	}
	if !won {
		s.logger.Info("Zero-amount order already settled", zap.Int64("order_id", order.ID))
		return &Result{OrderNo: orderNo, Completed: true}, nil
	}

	s.logger.Info("Zero-amount order settled without processor", zap.Int64("order_id", order.ID))

	if err := s.notifier.ClearCart(ctx, order.ID); err != nil {
		s.logger.Error("Failed to clear cart", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	if err := s.notifier.SendOrderMail(ctx, order.ID); err != nil {
		s.logger.Error("Failed to send order confirmation mail", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return &Result{OrderNo: orderNo, Completed: true}, nil
}

// addQuery appends parameters to a URL that may already carry a query string.
func addQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for key, value := range params {
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
