package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"elepay-bridge/internal/app/catalog"
	"elepay-bridge/internal/domain"
	"elepay-bridge/internal/elepay"
)

type mockOrderRepo struct {
	getByIDFn      func(ctx context.Context, id int64) (*domain.Order, error)
	updateStatusFn func(ctx context.Context, id int64, status domain.OrderStatus) error
	markPaidFn     func(ctx context.Context, id int64, paymentMethod string, paidAt time.Time) (bool, error)
}

func (m *mockOrderRepo) GetByIDTx(ctx context.Context, _ domain.Querier, id int64) (*domain.Order, error) {
	return m.getByIDFn(ctx, id)
}
func (m *mockOrderRepo) UpdateStatusTx(ctx context.Context, _ domain.Querier, id int64, status domain.OrderStatus) error {
	return m.updateStatusFn(ctx, id, status)
}
func (m *mockOrderRepo) MarkPaidTx(ctx context.Context, _ domain.Querier, id int64, paymentMethod string, paidAt time.Time) (bool, error) {
	return m.markPaidFn(ctx, id, paymentMethod, paidAt)
}

type mockChargeRepo struct {
	upsertFn func(ctx context.Context, orderID int64, chargeID string) error
}

func (m *mockChargeRepo) UpsertTx(ctx context.Context, _ domain.Querier, orderID int64, chargeID string) error {
	if m.upsertFn == nil {
		return nil
	}
	return m.upsertFn(ctx, orderID, chargeID)
}
func (m *mockChargeRepo) GetByOrderIDTx(ctx context.Context, _ domain.Querier, orderID int64) (*domain.ChargeMapping, error) {
	return nil, nil
}

type mockOutboxRepo struct {
	createFn func(ctx context.Context, msg *domain.OutboxMessage) error
}

func (m *mockOutboxRepo) CreateMessageTx(ctx context.Context, _ domain.Querier, msg *domain.OutboxMessage) error {
	if m.createFn == nil {
		return nil
	}
	return m.createFn(ctx, msg)
}
func (m *mockOutboxRepo) GetPendingMessages(ctx context.Context, _ domain.Querier, limit int) ([]domain.OutboxMessage, error) {
	return nil, nil
}
func (m *mockOutboxRepo) UpdateMessageStatusTx(ctx context.Context, _ domain.Querier, id string, status domain.OutboxMessageStatus) error {
	return nil
}

type mockClient struct {
	createCodeFn     func(ctx context.Context, req *elepay.CodeRequest) (*elepay.Code, error)
	retrieveCodeFn   func(ctx context.Context, codeID string) (*elepay.Code, error)
	retrieveChargeFn func(ctx context.Context, chargeID string) (*domain.Charge, error)
	listMethodsFn    func(ctx context.Context) ([]elepay.PaymentMethod, error)
}

func (m *mockClient) CreateCode(ctx context.Context, req *elepay.CodeRequest) (*elepay.Code, error) {
	return m.createCodeFn(ctx, req)
}
func (m *mockClient) RetrieveCode(ctx context.Context, codeID string) (*elepay.Code, error) {
	return m.retrieveCodeFn(ctx, codeID)
}
func (m *mockClient) RetrieveCharge(ctx context.Context, chargeID string) (*domain.Charge, error) {
	return m.retrieveChargeFn(ctx, chargeID)
}
func (m *mockClient) ListPaymentMethods(ctx context.Context) ([]elepay.PaymentMethod, error) {
	return m.listMethodsFn(ctx)
}

// countingNotifier tallies side-effect invocations; safe for concurrent use.
type countingNotifier struct {
	mu         sync.Mutex
	cartClears int
	mailsSent  int
}

func (n *countingNotifier) ClearCart(ctx context.Context, orderID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cartClears++
	return nil
}
func (n *countingNotifier) SendOrderMail(ctx context.Context, orderID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mailsSent++
	return nil
}

// recordingTxRunner runs fn directly and tallies the verdict of each
// transaction; a non-nil error from fn counts as a rollback.
type recordingTxRunner struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

func (r *recordingTxRunner) RunInTx(ctx context.Context, fn func(q domain.Querier) error) error {
	err := fn(nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.rollbacks++
		return err
	}
	r.commits++
	return nil
}

type staticCatalog struct {
	names map[string]string
}

func (c *staticCatalog) Resolve(ctx context.Context) ([]catalog.PaymentMethodInfo, error) {
	return nil, nil
}
func (c *staticCatalog) DisplayName(ctx context.Context, key string) string {
	if name, ok := c.names[key]; ok {
		return name
	}
	return key
}

// casOrderRepo mimics the database's conditional update: the first MarkPaid
// wins, every later call reports the order as already paid.
type casOrderRepo struct {
	mockOrderRepo
	mu        sync.Mutex
	paid      bool
	paidCount int
}

func newCASOrderRepo() *casOrderRepo {
	r := &casOrderRepo{}
	r.markPaidFn = func(ctx context.Context, id int64, paymentMethod string, paidAt time.Time) (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.paid {
			return false, nil
		}
		r.paid = true
		r.paidCount++
		return true, nil
	}
	return r
}

func newTestService(orderRepo *mockOrderRepo, chargeRepo *mockChargeRepo, outboxRepo *mockOutboxRepo, client *mockClient, notifier *countingNotifier, names map[string]string) Service {
	return newTestServiceTx(&recordingTxRunner{}, orderRepo, chargeRepo, outboxRepo, client, notifier, names)
}

func newTestServiceTx(txRunner domain.TxRunner, orderRepo *mockOrderRepo, chargeRepo *mockChargeRepo, outboxRepo *mockOutboxRepo, client *mockClient, notifier *countingNotifier, names map[string]string) Service {
	return NewService(
		nil,
		txRunner,
		orderRepo,
		chargeRepo,
		outboxRepo,
		client,
		notifier,
		&staticCatalog{names: names},
		func() time.Time { return time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC) },
		zap.NewNop(),
	)
}

func pendingOrder(id, amount int64) *domain.Order {
	return &domain.Order{ID: id, PaymentTotal: amount, Status: domain.OrderStatusPending}
}

func capturedCharge(orderID int64, amount int64) *domain.Charge {
	return &domain.Charge{
		ID:            "ch_1",
		OrderNo:       domain.FormatOrderNo(orderID, time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)),
		Amount:        amount,
		Status:        domain.ChargeStatusCaptured,
		PaymentMethod: "alipay",
	}
}

func TestReconcileCommitsPaidTransition(t *testing.T) {
	var markedMethod string
	var upserted string
	var published int

	orderRepo := &mockOrderRepo{
		markPaidFn: func(ctx context.Context, id int64, paymentMethod string, paidAt time.Time) (bool, error) {
			markedMethod = paymentMethod
			return true, nil
		},
	}
	chargeRepo := &mockChargeRepo{
		upsertFn: func(ctx context.Context, orderID int64, chargeID string) error {
			upserted = chargeID
			return nil
		},
	}
	outboxRepo := &mockOutboxRepo{
		createFn: func(ctx context.Context, msg *domain.OutboxMessage) error {
			published++
			return nil
		},
	}
	notifier := &countingNotifier{}
	svc := newTestService(orderRepo, chargeRepo, outboxRepo, &mockClient{}, notifier, map[string]string{"alipay": "Alipay"})

	err := svc.Reconcile(context.Background(), pendingOrder(7, 1200), capturedCharge(7, 1200))
	assert.NoError(t, err)
	assert.Equal(t, "Alipay", markedMethod)
	assert.Equal(t, "ch_1", upserted)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, notifier.cartClears)
	assert.Equal(t, 1, notifier.mailsSent)
}

func TestReconcileIdempotentWhenAlreadyPaid(t *testing.T) {
	notifier := &countingNotifier{}
	svc := newTestService(&mockOrderRepo{}, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, notifier, nil)

	order := pendingOrder(7, 1200)
	order.Status = domain.OrderStatusPaid
	err := svc.Reconcile(context.Background(), order, capturedCharge(7, 1200))
	assert.NoError(t, err)
	assert.Equal(t, 0, notifier.cartClears)
	assert.Equal(t, 0, notifier.mailsSent)
}

func TestReconcileSecondCallNoRepeatedSideEffects(t *testing.T) {
	orderRepo := newCASOrderRepo()
	notifier := &countingNotifier{}
	svc := newTestService(&orderRepo.mockOrderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, notifier, nil)

	charge := capturedCharge(7, 1200)
	assert.NoError(t, svc.Reconcile(context.Background(), pendingOrder(7, 1200), charge))
	assert.NoError(t, svc.Reconcile(context.Background(), pendingOrder(7, 1200), charge))

	assert.Equal(t, 1, orderRepo.paidCount)
	assert.Equal(t, 1, notifier.cartClears)
	assert.Equal(t, 1, notifier.mailsSent)
}

func TestReconcileRejectsOrderMismatch(t *testing.T) {
	orderRepo := &mockOrderRepo{
		markPaidFn: func(ctx context.Context, id int64, paymentMethod string, paidAt time.Time) (bool, error) {
			t.Fatal("MarkPaid must not be called on a mismatched charge")
			return false, nil
		},
	}
	notifier := &countingNotifier{}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, notifier, nil)

	err := svc.Reconcile(context.Background(), pendingOrder(7, 1200), capturedCharge(8, 1200))
	assert.ErrorIs(t, err, domain.ErrOrderMismatch)
	assert.Equal(t, 0, notifier.cartClears)
}

func TestReconcileRejectsAmountMismatch(t *testing.T) {
	svc := newTestService(&mockOrderRepo{}, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)

	err := svc.Reconcile(context.Background(), pendingOrder(7, 1200), capturedCharge(7, 1100))
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
}

func TestReconcileRejectsUncapturedCharge(t *testing.T) {
	svc := newTestService(&mockOrderRepo{}, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)

	for _, status := range []domain.ChargeStatus{domain.ChargeStatusCreated, domain.ChargeStatusCancelled} {
		charge := capturedCharge(7, 1200)
		charge.Status = status
		err := svc.Reconcile(context.Background(), pendingOrder(7, 1200), charge)
		assert.ErrorIs(t, err, domain.ErrChargeNotCaptured, "status %s must be rejected", status)
	}
}

func TestReconcileCreditCardBrandLabel(t *testing.T) {
	var markedMethod string
	orderRepo := &mockOrderRepo{
		markPaidFn: func(ctx context.Context, id int64, paymentMethod string, paidAt time.Time) (bool, error) {
			markedMethod = paymentMethod
			return true, nil
		},
	}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{},
		map[string]string{"creditcard_visa": "Visa Card"})

	charge := capturedCharge(7, 1200)
	charge.PaymentMethod = "creditcard"
	charge.CardInfo = &domain.CardInfo{Brand: "visa"}

	assert.NoError(t, svc.Reconcile(context.Background(), pendingOrder(7, 1200), charge))
	assert.Equal(t, "Visa Card", markedMethod)
}

func TestReconcileUnmatchedMethodKeepsRawKey(t *testing.T) {
	var markedMethod string
	orderRepo := &mockOrderRepo{
		markPaidFn: func(ctx context.Context, id int64, paymentMethod string, paidAt time.Time) (bool, error) {
			markedMethod = paymentMethod
			return true, nil
		},
	}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)

	assert.NoError(t, svc.Reconcile(context.Background(), pendingOrder(7, 1200), capturedCharge(7, 1200)))
	assert.Equal(t, "alipay", markedMethod)
}

func TestReconcileConcurrentCallsSingleCommit(t *testing.T) {
	orderRepo := newCASOrderRepo()
	notifier := &countingNotifier{}
	var publishCount int
	var publishMu sync.Mutex
	outboxRepo := &mockOutboxRepo{
		createFn: func(ctx context.Context, msg *domain.OutboxMessage) error {
			publishMu.Lock()
			defer publishMu.Unlock()
			publishCount++
			return nil
		},
	}
	svc := newTestService(&orderRepo.mockOrderRepo, &mockChargeRepo{}, outboxRepo, &mockClient{}, notifier, nil)

	charge := capturedCharge(7, 1200)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Reconcile(context.Background(), pendingOrder(7, 1200), charge)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, orderRepo.paidCount, "exactly one caller must commit")
	assert.Equal(t, 1, notifier.cartClears, "cart must be cleared exactly once")
	assert.Equal(t, 1, notifier.mailsSent, "mail must be sent exactly once")
	assert.Equal(t, 1, publishCount, "completion event must be published exactly once")
}

func TestReconcileMappingFailureRollsBackPaidTransition(t *testing.T) {
	orderRepo := newCASOrderRepo()
	upserts := 0
	chargeRepo := &mockChargeRepo{
		upsertFn: func(ctx context.Context, orderID int64, chargeID string) error {
			upserts++
			if upserts == 1 {
				return assert.AnError
			}
			return nil
		},
	}
	published := 0
	outboxRepo := &mockOutboxRepo{
		createFn: func(ctx context.Context, msg *domain.OutboxMessage) error {
			published++
			return nil
		},
	}
	notifier := &countingNotifier{}
	txRunner := &recordingTxRunner{}
	svc := newTestServiceTx(txRunner, &orderRepo.mockOrderRepo, chargeRepo, outboxRepo, &mockClient{}, notifier, nil)

	charge := capturedCharge(7, 1200)
	err := svc.Reconcile(context.Background(), pendingOrder(7, 1200), charge)
	assert.Error(t, err, "a failed mapping write must surface so the webhook is redelivered")
	assert.Equal(t, 1, txRunner.rollbacks)
	assert.Equal(t, 0, txRunner.commits)
	assert.Equal(t, 0, published, "no completion event may outlive the rollback")
	assert.Equal(t, 0, notifier.cartClears)
	assert.Equal(t, 0, notifier.mailsSent)

	// The rollback reverts the paid transition, so the redelivery retries the
	// whole commit rather than short-circuiting at already-paid.
	orderRepo.paid = false
	assert.NoError(t, svc.Reconcile(context.Background(), pendingOrder(7, 1200), charge))
	assert.Equal(t, 1, txRunner.commits)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, notifier.cartClears)
	assert.Equal(t, 1, notifier.mailsSent)
}

func TestReconcileOutboxFailureRollsBackPaidTransition(t *testing.T) {
	orderRepo := newCASOrderRepo()
	outboxRepo := &mockOutboxRepo{
		createFn: func(ctx context.Context, msg *domain.OutboxMessage) error {
			return assert.AnError
		},
	}
	notifier := &countingNotifier{}
	txRunner := &recordingTxRunner{}
	svc := newTestServiceTx(txRunner, &orderRepo.mockOrderRepo, &mockChargeRepo{}, outboxRepo, &mockClient{}, notifier, nil)

	err := svc.Reconcile(context.Background(), pendingOrder(7, 1200), capturedCharge(7, 1200))
	assert.Error(t, err)
	assert.Equal(t, 1, txRunner.rollbacks)
	assert.Equal(t, 0, txRunner.commits)
	assert.Equal(t, 0, notifier.cartClears)
	assert.Equal(t, 0, notifier.mailsSent)
}

func TestHandleRedirectCapturedByChargeID(t *testing.T) {
	order := pendingOrder(7, 1200)
	orderRepo := newCASOrderRepo()
	orderRepo.getByIDFn = func(ctx context.Context, id int64) (*domain.Order, error) {
		assert.Equal(t, int64(7), id)
		return order, nil
	}
	client := &mockClient{
		retrieveChargeFn: func(ctx context.Context, chargeID string) (*domain.Charge, error) {
			assert.Equal(t, "ch_1", chargeID)
			return capturedCharge(7, 1200), nil
		},
	}
	svc := newTestService(&orderRepo.mockOrderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, client, &countingNotifier{}, nil)

	route, err := svc.HandleRedirect(context.Background(), RedirectParams{
		Status:   "captured",
		ChargeID: "ch_1",
		OrderNo:  capturedCharge(7, 1200).OrderNo,
	})
	assert.NoError(t, err)
	assert.Equal(t, RouteComplete, route)
	assert.Equal(t, 1, orderRepo.paidCount)
}

func TestHandleRedirectCapturedViaCode(t *testing.T) {
	orderRepo := newCASOrderRepo()
	orderRepo.getByIDFn = func(ctx context.Context, id int64) (*domain.Order, error) {
		return pendingOrder(7, 1200), nil
	}
	client := &mockClient{
		retrieveCodeFn: func(ctx context.Context, codeID string) (*elepay.Code, error) {
			assert.Equal(t, "code_1", codeID)
			return &elepay.Code{ID: codeID, Charge: capturedCharge(7, 1200)}, nil
		},
	}
	svc := newTestService(&orderRepo.mockOrderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, client, &countingNotifier{}, nil)

	route, err := svc.HandleRedirect(context.Background(), RedirectParams{
		Status:  "captured",
		CodeID:  "code_1",
		OrderNo: "7-090000",
	})
	assert.NoError(t, err)
	assert.Equal(t, RouteComplete, route)
}

func TestHandleRedirectCancelledRollsBackToProcessing(t *testing.T) {
	var rolledBackTo domain.OrderStatus
	orderRepo := &mockOrderRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Order, error) {
			return pendingOrder(7, 1200), nil
		},
		updateStatusFn: func(ctx context.Context, id int64, status domain.OrderStatus) error {
			rolledBackTo = status
			return nil
		},
	}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)

	route, err := svc.HandleRedirect(context.Background(), RedirectParams{
		Status:  "cancelled",
		OrderNo: "7-090000",
	})
	assert.NoError(t, err)
	assert.Equal(t, RouteCart, route)
	assert.Equal(t, domain.OrderStatusProcessing, rolledBackTo)
}

func TestHandleRedirectUnknownStatus(t *testing.T) {
	var rolledBackTo domain.OrderStatus
	orderRepo := &mockOrderRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Order, error) {
			return pendingOrder(7, 1200), nil
		},
		updateStatusFn: func(ctx context.Context, id int64, status domain.OrderStatus) error {
			rolledBackTo = status
			return nil
		},
	}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)

	route, err := svc.HandleRedirect(context.Background(), RedirectParams{
		Status:  "mystery",
		OrderNo: "7-090000",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
	assert.Equal(t, RouteError, route)
	assert.Equal(t, domain.OrderStatusProcessing, rolledBackTo)
}

func TestHandleRedirectAlreadyPaidSkipsProcessor(t *testing.T) {
	order := pendingOrder(7, 1200)
	order.Status = domain.OrderStatusPaid
	orderRepo := &mockOrderRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Order, error) {
			return order, nil
		},
	}
	client := &mockClient{
		retrieveChargeFn: func(ctx context.Context, chargeID string) (*domain.Charge, error) {
			t.Fatal("charge must not be fetched for a paid order")
			return nil, nil
		},
	}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, client, &countingNotifier{}, nil)

	route, err := svc.HandleRedirect(context.Background(), RedirectParams{
		Status:   "captured",
		ChargeID: "ch_1",
		OrderNo:  "7-090000",
	})
	assert.NoError(t, err)
	assert.Equal(t, RouteComplete, route)
}

func TestHandleRedirectOrderNotFound(t *testing.T) {
	orderRepo := &mockOrderRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Order, error) {
			return nil, domain.ErrOrderNotFound
		},
	}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)

	route, err := svc.HandleRedirect(context.Background(), RedirectParams{Status: "captured", OrderNo: "7-090000"})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, RouteError, route)
}

func TestHandleWebhookReconciles(t *testing.T) {
	orderRepo := newCASOrderRepo()
	orderRepo.getByIDFn = func(ctx context.Context, id int64) (*domain.Order, error) {
		assert.Equal(t, int64(7), id)
		return pendingOrder(7, 1200), nil
	}
	var fetched string
	client := &mockClient{
		retrieveChargeFn: func(ctx context.Context, chargeID string) (*domain.Charge, error) {
			fetched = chargeID
			return capturedCharge(7, 1200), nil
		},
	}
	notifier := &countingNotifier{}
	svc := newTestService(&orderRepo.mockOrderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, client, notifier, nil)

	payload := []byte(`{"type":"charge.captured","data":{"object":{"id":"ch_1","orderNo":"7-090000"}}}`)
	assert.NoError(t, svc.HandleWebhook(context.Background(), payload))
	assert.Equal(t, "ch_1", fetched, "the charge must always be re-fetched from the API")
	assert.Equal(t, 1, notifier.cartClears)
}

func TestHandleWebhookOrderNotFound(t *testing.T) {
	orderRepo := &mockOrderRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Order, error) {
			return nil, domain.ErrOrderNotFound
		},
	}
	svc := newTestService(orderRepo, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)

	payload := []byte(`{"data":{"object":{"id":"ch_1","orderNo":"99-090000"}}}`)
	assert.ErrorIs(t, svc.HandleWebhook(context.Background(), payload), domain.ErrOrderNotFound)
}

func TestHandleWebhookMalformedPayload(t *testing.T) {
	svc := newTestService(&mockOrderRepo{}, &mockChargeRepo{}, &mockOutboxRepo{}, &mockClient{}, &countingNotifier{}, nil)
	assert.Error(t, svc.HandleWebhook(context.Background(), []byte("not json")))
}
