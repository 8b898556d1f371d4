package order_repo

import (
	"context"
	"time"

	"elepay-bridge/internal/domain"
)

// OrderRepository is the bridge's view of the shop order ledger.
//
// MarkPaidTx is a conditional update: it transitions the order to PAID only if
// it is not paid already and reports whether this caller performed the
// transition. Concurrent reconciliations for the same order race on it and
// exactly one wins.
type OrderRepository interface {
	GetByIDTx(ctx context.Context, querier domain.Querier, id int64) (*domain.Order, error)
	UpdateStatusTx(ctx context.Context, querier domain.Querier, id int64, status domain.OrderStatus) error
	MarkPaidTx(ctx context.Context, querier domain.Querier, id int64, paymentMethod string, paidAt time.Time) (bool, error)
}
