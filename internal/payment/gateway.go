package payment

import (
	"context"
	"errors"
	"fmt"
)

// Gateway payment states as reported by the processor. Only captured is
// acceptable for settlement.
const StatusCaptured = "captured"

// ErrInvalidSignature indicates the confirmation's signature does not match
// the HMAC computed with the shared secret. Never retried.
var ErrInvalidSignature = errors.New("invalid signature - payment verification failed")

// ErrGatewayUnavailable indicates the gateway could not be reached (network
// failure or timeout). Safe to retry.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// PaymentNotCapturedError indicates the gateway reported a non-captured
// state for the referenced payment.
type PaymentNotCapturedError struct {
	PaymentID string
	Status    string
}

func (e *PaymentNotCapturedError) Error() string {
	return fmt.Sprintf("payment %s not captured (status: %s)", e.PaymentID, e.Status)
}

// InvalidOrderStateError indicates payment verification was attempted on an
// order that is neither pending nor completed (e.g. already failed).
type InvalidOrderStateError struct {
	OrderID string
	Status  string
}

func (e *InvalidOrderStateError) Error() string {
	return fmt.Sprintf("order %s payment status is invalid: %s", e.OrderID, e.Status)
}

// GatewayOrderRequest registers an order with the gateway. Amount is in
// minor currency units (paise).
type GatewayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// GatewayOrder is the gateway's session reference for a registered order.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// GatewayPayment is the gateway's authoritative view of a payment.
type GatewayPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
}

// Gateway is the external payment processor. The engine registers orders
// with it; the verifier asks it for a payment's authoritative status.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
}
