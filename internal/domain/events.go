package domain

import "time"

// OrderPaidEvent is published to Kafka once an order has been reconciled to
// paid. Downstream consumers (fulfilment, analytics) key on OrderID.
type OrderPaidEvent struct {
	OrderID       int64     `json:"order_id"`
	ChargeID      string    `json:"charge_id"`
	Amount        int64     `json:"amount"`
	PaymentMethod string    `json:"payment_method"`
	PaidAt        time.Time `json:"paid_at"`
}

// WebhookEvent is the processor's server-to-server notification envelope:
// {"type": ..., "data": {"object": {"id": ..., "orderNo": ...}}}.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID      string `json:"id"`
			OrderNo string `json:"orderNo"`
		} `json:"object"`
	} `json:"data"`
}
