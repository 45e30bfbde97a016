package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/chhotelal2310/E-Commers-backend/internal/aws"
	"github.com/chhotelal2310/E-Commers-backend/internal/inventory"
	"github.com/chhotelal2310/E-Commers-backend/internal/orders"
	"github.com/chhotelal2310/E-Commers-backend/internal/payment"
	"go.uber.org/zap"
)

// ErrUnsupportedMethod indicates a payment method outside the known set.
var ErrUnsupportedMethod = errors.New("unsupported payment method")

// notifyTimeout bounds the fire-and-forget confirmation publish.
const notifyTimeout = 10 * time.Second

// Notifier queues the order-confirmed notification. The SQS Publisher
// satisfies it; failures never propagate into order creation.
type Notifier interface {
	PublishOrderConfirmed(ctx context.Context, msg aws.OrderConfirmedMessage, attributes map[string]string) error
}

// OrderRequest is the checkout payload after validation.
type OrderRequest struct {
	PaymentMethod  string
	FinalAmount    float64
	Discount       float64
	DeliveryCharge float64
	Tax            float64
	Address        orders.Address
	ProductSummary []orders.ProductLine
}

// CreateOrderResult merges the persisted order with the gateway session
// reference (nil on the cash-on-delivery path).
type CreateOrderResult struct {
	Order        orders.Order          `json:"order"`
	GatewayOrder *payment.GatewayOrder `json:"gatewayOrder,omitempty"`
}

// Engine orchestrates order creation per payment method and drives the stock
// reservation at the correct point in the order state machine: synchronously
// for cash on delivery, deferred to payment verification for gateway methods.
type Engine struct {
	orders       *orders.Store
	reservations *inventory.Service
	gateway      payment.Gateway
	notifier     Notifier
	logger       *zap.Logger
	currency     string
	nowFunc      func() time.Time
}

// NewEngine creates an Engine. currency is the gateway settlement currency
// (e.g. "INR").
func NewEngine(orderStore *orders.Store, reservations *inventory.Service, gateway payment.Gateway, notifier Notifier, currency string, logger *zap.Logger) *Engine {
	return &Engine{
		orders:       orderStore,
		reservations: reservations,
		gateway:      gateway,
		notifier:     notifier,
		logger:       logger,
		currency:     currency,
		nowFunc:      time.Now,
	}
}

// CreateOrder builds the order snapshot and branches on payment method.
//
// COD: stock reservation and the order Put commit in one transaction; if
// any line fails, no order exists and the reservation failure is returned.
//
// Gateway: the order persists as pending with no stock touched (abandoned
// payments must not hold inventory), the gateway order is registered, and
// the gateway reference is returned for the client-side payment flow.
func (e *Engine) CreateOrder(ctx context.Context, userID string, req OrderRequest) (*CreateOrderResult, error) {
	order := orders.Order{
		OrderID:           uuid.NewString(),
		TrackingID:        orders.NewTrackingID(),
		UserID:            userID,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     orders.PaymentPending,
		FulfillmentStatus: orders.FulfillmentConfirmed,
		FinalAmount:       req.FinalAmount,
		Discount:          req.Discount,
		DeliveryCharge:    req.DeliveryCharge,
		Tax:               req.Tax,
		Address:           req.Address,
		ProductSummary:    req.ProductSummary,
		CreatedAt:         e.nowFunc(),
	}

	switch {
	case req.PaymentMethod == orders.MethodCOD:
		if err := e.createCashOnDelivery(ctx, &order); err != nil {
			return nil, err
		}
		e.notifyAsync(order)
		return &CreateOrderResult{Order: order}, nil

	case orders.IsGatewayMethod(req.PaymentMethod):
		gw, err := e.createGatewayOrder(ctx, &order)
		if err != nil {
			return nil, err
		}
		e.notifyAsync(order)
		return &CreateOrderResult{Order: order, GatewayOrder: gw}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.PaymentMethod)
	}
}

func (e *Engine) createCashOnDelivery(ctx context.Context, order *orders.Order) error {
	put, err := e.orders.PutTransactItem(*order)
	if err != nil {
		return err
	}
	if _, err := e.reservations.Reserve(ctx, order.ProductSummary, put); err != nil {
		return err
	}
	return nil
}

func (e *Engine) createGatewayOrder(ctx context.Context, order *orders.Order) (*payment.GatewayOrder, error) {
	if err := e.orders.Create(ctx, *order); err != nil {
		return nil, err
	}

	gw, err := e.gateway.CreateOrder(ctx, payment.GatewayOrderRequest{
		Amount:   int64(math.Round(order.FinalAmount * 100)), // minor units
		Currency: e.currency,
		Receipt:  order.TrackingID,
	})
	if err != nil {
		// the pending order holds no stock, so it is harmless if abandoned
		return nil, fmt.Errorf("register gateway order: %w", err)
	}

	order.GatewayOrderID = gw.ID
	if err := e.orders.SetGatewayOrder(ctx, order.OrderID, gw.ID); err != nil {
		e.logger.Warn("record gateway order id",
			zap.String("order_id", order.OrderID),
			zap.String("gateway_order_id", gw.ID),
			zap.Error(err))
	}
	return gw, nil
}

// notifyAsync queues the confirmation notification without awaiting it. The
// notification service owns retries; a publish failure is logged and never
// fails order creation.
func (e *Engine) notifyAsync(order orders.Order) {
	if e.notifier == nil {
		return
	}
	msg := aws.OrderConfirmedMessage{
		OrderID:     order.OrderID,
		TrackingID:  order.TrackingID,
		UserID:      order.UserID,
		FinalAmount: order.FinalAmount,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		attrs := map[string]string{
			"order_id": order.OrderID,
			"event":    "order_confirmed",
		}
		if err := e.notifier.PublishOrderConfirmed(ctx, msg, attrs); err != nil {
			e.logger.Error("order confirmation notification failed",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}
	}()
}
