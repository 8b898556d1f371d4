package charge_repo

import (
	"context"

	"elepay-bridge/internal/domain"
)

// ChargeRepository persists the order id to processor charge id mapping.
// Upsert overwrites an existing mapping rather than appending history; the
// processor issues at most one capturable charge per order number.
type ChargeRepository interface {
	UpsertTx(ctx context.Context, querier domain.Querier, orderID int64, chargeID string) error
	GetByOrderIDTx(ctx context.Context, querier domain.Querier, orderID int64) (*domain.ChargeMapping, error)
}
