package domain

import (
	"time"

	"github.com/google/uuid"
)

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

// OutboxMessage is a completion notification waiting to be relayed to Kafka.
// Rows are only ever written by the caller that won the paid transition, so
// the relay publishes at most one event per order.
type OutboxMessage struct {
	ID        string
	OrderID   int64
	ChargeID  string
	Payload   []byte
	Status    OutboxMessageStatus
	CreatedAt time.Time
	SentAt    *time.Time
}

// NewOutboxMessage builds a pending completion notification with a fresh id.
func NewOutboxMessage(orderID int64, chargeID string, payload []byte, at time.Time) *OutboxMessage {
	return &OutboxMessage{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		ChargeID:  chargeID,
		Payload:   payload,
		Status:    OutboxStatusPending,
		CreatedAt: at,
	}
}
