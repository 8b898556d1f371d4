package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"elepay-bridge/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *orderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id int64) (*domain.Order, error) {
	query := `
		SELECT id, payment_total, status, payment_method, payment_date, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	order := &domain.Order{}
	var paymentMethod sql.NullString
	var paymentDate sql.NullTime
	err := querier.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.PaymentTotal,
		&order.Status,
		&paymentMethod,
		&paymentDate,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order by id %d: %w", id, err)
	}
	if paymentMethod.Valid {
		order.PaymentMethod = paymentMethod.String
	}
	if paymentDate.Valid {
		order.PaymentDate = &paymentDate.Time
	}
	return order, nil
}

func (r *orderRepository) UpdateStatusTx(ctx context.Context, querier domain.Querier, id int64, status domain.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status <> $4
	`
	// Never demote a paid order: the redirect rollback path may arrive after
	// the webhook has already committed the paid transition.
	_, err := querier.ExecContext(ctx, query, string(status), time.Now(), id, string(domain.OrderStatusPaid))
	if err != nil {
		return fmt.Errorf("failed to update status for order %d: %w", id, err)
	}
	return nil
}

// MarkPaidTx performs the paid transition as a single conditional update. The
// WHERE clause is the concurrency guard: of any number of concurrent callers,
// the database lets exactly one row update through.
func (r *orderRepository) MarkPaidTx(ctx context.Context, querier domain.Querier, id int64, paymentMethod string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, payment_method = $2, payment_date = $3, updated_at = $3
		WHERE id = $4 AND status <> $1
	`
	res, err := querier.ExecContext(ctx, query, string(domain.OrderStatusPaid), paymentMethod, paidAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark order %d as paid: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for paid transition: %w", err)
	}
	return rowsAffected == 1, nil
}
