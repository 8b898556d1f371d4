package domain

type ChargeStatus string

const (
	ChargeStatusCreated           ChargeStatus = "created"
	ChargeStatusCaptured          ChargeStatus = "captured"
	ChargeStatusCancelled         ChargeStatus = "cancelled"
	ChargeStatusRefunded          ChargeStatus = "refunded"
	ChargeStatusPartiallyRefunded ChargeStatus = "partially_refunded"
)

// Charge is the processor-side record of a payment attempt, decoded once from
// the API response.
type Charge struct {
	ID            string       `json:"id"`
	OrderNo       string       `json:"orderNo"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	Status        ChargeStatus `json:"status"`
	PaymentMethod string       `json:"paymentMethod"`
	CardInfo      *CardInfo    `json:"cardInfo"`
	AppID         string       `json:"appId"`
}

type CardInfo struct {
	Brand string `json:"brand"`
}

// MethodKey resolves the catalog key for the charge's payment method.
// Credit cards are keyed per brand.
func (c *Charge) MethodKey() string {
	if c.PaymentMethod == "creditcard" && c.CardInfo != nil && c.CardInfo.Brand != "" {
		return "creditcard_" + c.CardInfo.Brand
	}
	return c.PaymentMethod
}
