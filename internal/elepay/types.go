package elepay

import "elepay-bridge/internal/domain"

// CodeRequest is the create-code payload: a processor-hosted payment session
// for one checkout attempt.
type CodeRequest struct {
	OrderNo  string `json:"orderNo"`
	Amount   int64  `json:"amount"`
	FrontURL string `json:"frontUrl"`
}

// Code is the processor-hosted payment session. Charge is populated once the
// customer has completed payment on the processor page.
type Code struct {
	ID      string         `json:"id"`
	CodeURL string         `json:"codeUrl"`
	Charge  *domain.Charge `json:"charge"`
}

// PaymentMethod is one entry of the processor's enabled-methods list.
type PaymentMethod struct {
	PaymentMethod string   `json:"paymentMethod"`
	Resources     []string `json:"resources"`
	Brand         []string `json:"brand"`
	UA            string   `json:"ua"`
}

type paymentMethodsResponse struct {
	PaymentMethods []PaymentMethod `json:"paymentMethods"`
}
