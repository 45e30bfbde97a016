package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/chhotelal2310/E-Commers-backend/internal/inventory"
	"github.com/chhotelal2310/E-Commers-backend/internal/orders"
	"go.uber.org/zap"
)

// Confirmation is the asynchronous payment confirmation callback payload.
type Confirmation struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	OrderID          string `json:"orderId"`
	PaymentID        string `json:"paymentId"`
	AlreadyProcessed bool   `json:"alreadyProcessed,omitempty"`
	Message          string `json:"message"`
}

// Verifier validates a gateway confirmation and settles the order: stock
// reservation and the pending->completed transition commit in one
// transaction, guarded so a duplicated or concurrent callback can never
// decrement stock twice.
type Verifier struct {
	orders       *orders.Store
	reservations *inventory.Service
	gateway      Gateway
	secret       []byte
	logger       *zap.Logger
	nowFunc      func() time.Time
}

// NewVerifier creates a Verifier. secret is the gateway key secret shared
// for signature computation.
func NewVerifier(orderStore *orders.Store, reservations *inventory.Service, gateway Gateway, secret string, logger *zap.Logger) *Verifier {
	return &Verifier{
		orders:       orderStore,
		reservations: reservations,
		gateway:      gateway,
		secret:       []byte(secret),
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// Verify runs the confirmation through its gates: signature, gateway-side
// capture status, order state, then the atomic settle transaction. Every
// gate failure short-circuits with no side effects.
func (v *Verifier) Verify(ctx context.Context, conf Confirmation) (VerifyResult, error) {
	if !v.signatureValid(conf) {
		return VerifyResult{}, ErrInvalidSignature
	}

	pay, err := v.gateway.FetchPayment(ctx, conf.GatewayPaymentID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("fetch payment: %w", err)
	}
	if pay.Status != StatusCaptured {
		return VerifyResult{}, &PaymentNotCapturedError{PaymentID: pay.ID, Status: pay.Status}
	}

	order, err := v.orders.Get(ctx, conf.OrderID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return VerifyResult{}, orders.ErrNotFound
	}

	switch order.PaymentStatus {
	case orders.PaymentCompleted:
		// duplicate delivery of an already-settled confirmation: success, no-op
		return v.alreadyProcessed(order.OrderID, conf.GatewayPaymentID), nil
	case orders.PaymentPending:
		// fall through to settlement
	default:
		// a failed order is not resurrected
		return VerifyResult{}, &InvalidOrderStateError{OrderID: order.OrderID, Status: order.PaymentStatus}
	}

	paidAt := v.nowFunc()
	settle, err := v.orders.SettleTransactItem(order.OrderID, pay.ID, float64(pay.Amount)/100, paidAt)
	if err != nil {
		return VerifyResult{}, err
	}

	// Stock decrements and the pending->completed transition are one
	// transaction. The pending guard on the settle item doubles as the
	// idempotency check under concurrency: of two racing callbacks exactly
	// one commits, the other cancels with a state conflict.
	_, err = v.reservations.Reserve(ctx, order.ProductSummary, settle)
	if err != nil {
		if errors.Is(err, inventory.ErrStateConflict) {
			return v.resolveSettleConflict(ctx, order.OrderID, conf.GatewayPaymentID)
		}
		if errors.Is(err, inventory.ErrTransactionAborted) {
			// retryable; do not mark the order failed over a transient conflict
			return VerifyResult{}, err
		}
		v.markFailed(ctx, order.OrderID, err)
		return VerifyResult{}, err
	}

	return VerifyResult{
		OrderID:   order.OrderID,
		PaymentID: pay.ID,
		Message:   "payment verified & order processed successfully",
	}, nil
}

// resolveSettleConflict re-reads the order after the settle guard canceled
// the transaction. A completed order means this callback lost the race to a
// twin and the outcome is still success.
func (v *Verifier) resolveSettleConflict(ctx context.Context, orderID, paymentID string) (VerifyResult, error) {
	order, err := v.orders.Get(ctx, orderID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("re-read order after settle conflict: %w", err)
	}
	if order != nil && order.PaymentStatus == orders.PaymentCompleted {
		return v.alreadyProcessed(orderID, paymentID), nil
	}
	status := ""
	if order != nil {
		status = order.PaymentStatus
	}
	return VerifyResult{}, &InvalidOrderStateError{OrderID: orderID, Status: status}
}

// markFailed flips the order to failed for operator visibility. Best-effort
// and informational only: the pending guard keeps it from ever touching a
// completed order, and its own failure is logged, not returned.
func (v *Verifier) markFailed(ctx context.Context, orderID string, cause error) {
	if err := v.orders.MarkPaymentFailed(ctx, orderID); err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
		v.logger.Warn("mark payment failed",
			zap.String("order_id", orderID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

func (v *Verifier) alreadyProcessed(orderID, paymentID string) VerifyResult {
	return VerifyResult{
		OrderID:          orderID,
		PaymentID:        paymentID,
		AlreadyProcessed: true,
		Message:          "order already processed successfully",
	}
}

// signatureValid recomputes the HMAC-SHA256 of gatewayOrderID|gatewayPaymentID
// with the shared secret and compares in constant time.
func (v *Verifier) signatureValid(conf Confirmation) bool {
	if conf.GatewayOrderID == "" || conf.GatewayPaymentID == "" || conf.Signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s|%s", conf.GatewayOrderID, conf.GatewayPaymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(conf.Signature))
}
