package domain

import (
	"errors"
	"time"
)

type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "NEW"
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Order mirrors the shop ledger row the bridge operates on. PaymentTotal is
// an integral JPY amount; the processor has no notion of fractional charges.
type Order struct {
	ID            int64
	PaymentTotal  int64
	Status        OrderStatus
	PaymentMethod string
	PaymentDate   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

func (o *Order) MarkAsPending() error {
	if o.Status == OrderStatusPaid {
		return errors.New("cannot move a paid order back to pending")
	}
	o.Status = OrderStatusPending
	o.UpdatedAt = time.Now()
	return nil
}

// MarkAsProcessing releases the pending lock taken before redirecting the
// customer to the processor page. Resetting an order that never left
// processing is a no-op.
func (o *Order) MarkAsProcessing() error {
	if o.Status == OrderStatusPaid {
		return errors.New("cannot move a paid order back to processing")
	}
	o.Status = OrderStatusProcessing
	o.UpdatedAt = time.Now()
	return nil
}
