package domain

import "time"

// ChargeMapping links a shop order to the processor charge that paid it.
// A single row per order; a later reconciliation overwrites the charge id.
type ChargeMapping struct {
	OrderID   int64
	ChargeID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
