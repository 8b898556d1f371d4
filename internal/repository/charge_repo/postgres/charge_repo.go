package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"elepay-bridge/internal/domain"
)

type chargeRepository struct {
	db *sql.DB
}

func NewChargeRepository(db *sql.DB) *chargeRepository {
	return &chargeRepository{db: db}
}

func (r *chargeRepository) UpsertTx(ctx context.Context, querier domain.Querier, orderID int64, chargeID string) error {
	query := `
		INSERT INTO elepay_charges (order_id, charge_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (order_id) DO UPDATE
		SET charge_id = EXCLUDED.charge_id, updated_at = EXCLUDED.updated_at
	`
	_, err := querier.ExecContext(ctx, query, orderID, chargeID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert charge mapping for order %d: %w", orderID, err)
	}
	return nil
}

func (r *chargeRepository) GetByOrderIDTx(ctx context.Context, querier domain.Querier, orderID int64) (*domain.ChargeMapping, error) {
	query := `
		SELECT order_id, charge_id, created_at, updated_at
		FROM elepay_charges
		WHERE order_id = $1
	`
	mapping := &domain.ChargeMapping{}
	var chargeID sql.NullString
	err := querier.QueryRowContext(ctx, query, orderID).Scan(
		&mapping.OrderID,
		&chargeID,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get charge mapping for order %d: %w", orderID, err)
	}
	if chargeID.Valid {
		mapping.ChargeID = chargeID.String
	}
	return mapping, nil
}
