package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"elepay-bridge/internal/app/catalog"
	"elepay-bridge/internal/domain"
	"elepay-bridge/internal/elepay"
	"elepay-bridge/internal/notify"
	"elepay-bridge/internal/repository/charge_repo"
	"elepay-bridge/internal/repository/order_repo"
	"elepay-bridge/internal/repository/outbox_repo"
)

// Route tells the redirect handler where to send the customer next.
type Route string

const (
	RouteComplete Route = "complete"
	RouteCart     Route = "cart"
	RouteError    Route = "error"
)

// RedirectParams are the query parameters the processor appends when sending
// the customer back to the shop.
type RedirectParams struct {
	Status   string
	CodeID   string
	ChargeID string
	OrderNo  string
}

// Service reconciles processor-reported charges against the order ledger.
// Both notification channels, the browser redirect and the server-to-server
// webhook, funnel into Reconcile; it is safe under repeated and concurrent
// invocation for the same order.
type Service interface {
	HandleRedirect(ctx context.Context, params RedirectParams) (Route, error)
	HandleWebhook(ctx context.Context, payload []byte) error
	Reconcile(ctx context.Context, order *domain.Order, charge *domain.Charge) error
}

type service struct {
	db         domain.Querier
	txRunner   domain.TxRunner
	orderRepo  order_repo.OrderRepository
	chargeRepo charge_repo.ChargeRepository
	outboxRepo outbox_repo.OutboxRepository
	client     elepay.Client
	notifier   notify.Notifier
	catalog    catalog.Service
	now        func() time.Time
	logger     *zap.Logger
}

func NewService(
	db domain.Querier,
	txRunner domain.TxRunner,
	orderRepo order_repo.OrderRepository,
	chargeRepo charge_repo.ChargeRepository,
	outboxRepo outbox_repo.OutboxRepository,
	client elepay.Client,
	notifier notify.Notifier,
	catalogSvc catalog.Service,
	now func() time.Time,
	logger *zap.Logger,
) Service {
	if now == nil {
		now = time.Now
	}
	return &service{
		db:         db,
		txRunner:   txRunner,
		orderRepo:  orderRepo,
		chargeRepo: chargeRepo,
		outboxRepo: outboxRepo,
		client:     client,
		notifier:   notifier,
		catalog:    catalogSvc,
		now:        now,
		logger:     logger,
	}
}

// HandleRedirect validates the browser return from the processor page. Only a
// captured status reaches Reconcile; anything else rolls the order back to
// PROCESSING, releasing the lock taken before the customer was redirected.
func (s *service) HandleRedirect(ctx context.Context, params RedirectParams) (Route, error) {
	orderID, err := domain.ParseOrderNo(params.OrderNo)
	if err != nil {
		s.logger.Error("Malformed order number on redirect", zap.String("order_no", params.OrderNo), zap.Error(err))
		return RouteError, domain.ErrOrderNotFound
	}

	order, err := s.orderRepo.GetByIDTx(ctx, s.db, orderID)
	if err != nil {
		s.logger.Error("Order not found for redirect validation", zap.Int64("order_id", orderID), zap.Error(err))
		return RouteError, err
	}

	if order.IsPaid() {
		// The webhook got here first; nothing left to do.
		s.logger.Info("Order already paid on redirect", zap.Int64("order_id", order.ID))
		return RouteComplete, nil
	}

	if params.Status != string(domain.ChargeStatusCaptured) {
		if err := s.orderRepo.UpdateStatusTx(ctx, s.db, order.ID, domain.OrderStatusProcessing); err != nil {
			s.logger.Error("Failed to roll back order status", zap.Int64("order_id", order.ID), zap.Error(err))
			return RouteError, err
		}
		if params.Status == string(domain.ChargeStatusCancelled) {
			s.logger.Info("Payment cancelled on processor page", zap.Int64("order_id", order.ID))
			return RouteCart, nil
		}
		s.logger.Error("Unknown redirect status",
			zap.Int64("order_id", order.ID), zap.String("status", params.Status))
		return RouteError, domain.ErrUnknownStatus
	}

	charge, err := s.fetchCharge(ctx, params)
	if err != nil {
		s.logger.Error("Failed to fetch charge for redirect validation", zap.Int64("order_id", order.ID), zap.Error(err))
		return RouteError, err
	}

	if err := s.Reconcile(ctx, order, charge); err != nil {
		return RouteError, err
	}
	return RouteComplete, nil
}

// HandleWebhook processes the processor's asynchronous notification. The
// charge is always re-fetched: the payload is untrusted input and only the
// API is authoritative.
func (s *service) HandleWebhook(ctx context.Context, payload []byte) error {
	var event domain.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	orderID, err := domain.ParseOrderNo(event.Data.Object.OrderNo)
	if err != nil {
		s.logger.Error("Malformed order number in webhook", zap.String("order_no", event.Data.Object.OrderNo), zap.Error(err))
		return err
	}

	order, err := s.orderRepo.GetByIDTx(ctx, s.db, orderID)
	if err != nil {
		s.logger.Error("Order not found for webhook", zap.Int64("order_id", orderID), zap.Error(err))
		return err
	}

	charge, err := s.client.RetrieveCharge(ctx, event.Data.Object.ID)
	if err != nil {
		s.logger.Error("Failed to retrieve charge for webhook",
			zap.Int64("order_id", orderID), zap.String("charge_id", event.Data.Object.ID), zap.Error(err))
		return err
	}

	return s.Reconcile(ctx, order, charge)
}

// Reconcile validates the charge against the order and commits the paid
// transition. The order store's conditional update is the concurrency guard:
// when the redirect and the webhook race, exactly one caller commits and
// fires the side effects, the other observes already-paid and succeeds
// without touching anything.
func (s *service) Reconcile(ctx context.Context, order *domain.Order, charge *domain.Charge) error {
	if order.IsPaid() {
		s.logger.Info("Order already paid, skipping reconciliation", zap.Int64("order_id", order.ID))
		return nil
	}

	chargeOrderID, err := domain.ParseOrderNo(charge.OrderNo)
	if err != nil || chargeOrderID != order.ID {
		s.logger.Error("Charge order number does not match order",
			zap.Int64("order_id", order.ID), zap.String("charge_order_no", charge.OrderNo))
		return domain.ErrOrderMismatch
	}

	if order.PaymentTotal != charge.Amount {
		s.logger.Error("Charge amount does not match order payment total",
			zap.Int64("order_id", order.ID),
			zap.Int64("payment_total", order.PaymentTotal),
			zap.Int64("charge_amount", charge.Amount))
		return domain.ErrAmountMismatch
	}

	if charge.Status != domain.ChargeStatusCaptured {
		s.logger.Error("Charge is not captured",
			zap.Int64("order_id", order.ID), zap.String("charge_status", string(charge.Status)))
		return domain.ErrChargeNotCaptured
	}

	methodName := s.catalog.DisplayName(ctx, charge.MethodKey())

	paidAt := s.now()
	payload, err := json.Marshal(domain.OrderPaidEvent{
		OrderID:       order.ID,
		ChargeID:      charge.ID,
		Amount:        charge.Amount,
		PaymentMethod: methodName,
		PaidAt:        paidAt,
	})
	if err != nil {
		s.logger.Error("Failed to marshal order paid event", zap.Int64("order_id", order.ID), zap.Error(err))
		return fmt.Errorf("marshal order paid event for order %d: %w", order.ID, err)
	}

	// The paid transition, the charge mapping and the completion event commit
	// in one transaction. A failure rolls all three back and surfaces the
	// error, so a webhook redelivery retries the whole commit instead of
	// short-circuiting at a half-written paid order.
	var won bool
	err = s.txRunner.RunInTx(ctx, func(q domain.Querier) error {
		won, err = s.orderRepo.MarkPaidTx(ctx, q, order.ID, methodName, paidAt)
		if err != nil {
			return fmt.Errorf("mark order %d paid: %w", order.ID, err)
		}
		if !won {
			return nil
		}
		if err := s.chargeRepo.UpsertTx(ctx, q, order.ID, charge.ID); err != nil {
			return fmt.Errorf("save charge mapping for order %d: %w", order.ID, err)
		}
		msg := domain.NewOutboxMessage(order.ID, charge.ID, payload, paidAt)
		if err := s.outboxRepo.CreateMessageTx(ctx, q, msg); err != nil {
			return fmt.Errorf("enqueue completion notification for order %d: %w", order.ID, err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to commit paid transition", zap.Int64("order_id", order.ID), zap.Error(err))
		return err
	}
	if !won {
		s.logger.Info("Order was paid concurrently, skipping side effects", zap.Int64("order_id", order.ID))
		return nil
	}

	s.logger.Info("Order reconciled to paid",
		zap.Int64("order_id", order.ID),
		zap.String("charge_id", charge.ID),
		zap.String("payment_method", methodName))

	// Shop notifications stay outside the transaction: their failures are
	// logged, never returned, because the commit is already durable and a
	// webhook redelivery would short-circuit at the already-paid check.
	if err := s.notifier.ClearCart(ctx, order.ID); err != nil {
		s.logger.Error("Failed to clear cart", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	if err := s.notifier.SendOrderMail(ctx, order.ID); err != nil {
		s.logger.Error("Failed to send order confirmation mail", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return nil
}

func (s *service) fetchCharge(ctx context.Context, params RedirectParams) (*domain.Charge, error) {
	if params.ChargeID != "" {
		return s.client.RetrieveCharge(ctx, params.ChargeID)
	}
	if params.CodeID != "" {
		code, err := s.client.RetrieveCode(ctx, params.CodeID)
		if err != nil {
			return nil, err
		}
		if code.Charge == nil {
			return nil, fmt.Errorf("%w: code %s carries no charge", domain.ErrProcessorFault, params.CodeID)
		}
		return code.Charge, nil
	}
	return nil, errors.New("redirect carries neither chargeId nor codeId")
}
