package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Payment methods
const (
	MethodCOD      = "COD"
	MethodRazorPay = "RazorPay"
	MethodPaytm    = "Paytm"
)

// Payment statuses. pending -> completed and pending -> failed are the only
// transitions this engine performs; completed is terminal.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Fulfillment statuses
const (
	FulfillmentConfirmed        = "Confirmed"
	FulfillmentShipped          = "Shipped"
	FulfillmentOutForDelivery   = "Out for Delivery"
	FulfillmentDelivered        = "Delivered"
	FulfillmentRefundInProgress = "Refund in Progress"
	FulfillmentRefunded         = "Refunded"
	FulfillmentCanceled         = "Canceled"
)

// IsGatewayMethod reports whether the payment method settles through an
// external gateway (stock reservation deferred to payment verification).
func IsGatewayMethod(method string) bool {
	return method == MethodRazorPay || method == MethodPaytm
}

// Address is the shipping address captured on the order.
type Address struct {
	Street      string `dynamodbav:"street" json:"street"`
	City        string `dynamodbav:"city" json:"city"`
	State       string `dynamodbav:"state" json:"state"`
	PostalCode  string `dynamodbav:"postal_code" json:"postalCode"`
	Country     string `dynamodbav:"country" json:"country"`
	AddressType string `dynamodbav:"address_type,omitempty" json:"addressType,omitempty"`
}

// ProductLine is one line of the order's product summary, snapshotted at
// creation time. Reservation consumes exactly these quantities; later stock
// changes never alter the snapshot.
type ProductLine struct {
	ProductID string  `dynamodbav:"product_id" json:"productId"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	SubTotal  float64 `dynamodbav:"sub_total" json:"subTotal"`
}

// PaymentDetails records the gateway settlement once payment completes.
type PaymentDetails struct {
	TransactionID   string  `dynamodbav:"transaction_id,omitempty" json:"transactionId,omitempty"`
	PaymentDate     string  `dynamodbav:"payment_date,omitempty" json:"paymentDate,omitempty"`
	TotalPaidAmount float64 `dynamodbav:"total_paid_amount,omitempty" json:"totalPaidAmount,omitempty"`
}

// Order represents the item stored in the orders DynamoDB table. Orders are
// never deleted, only status-transitioned.
type Order struct {
	OrderID           string         `dynamodbav:"order_id" json:"orderId"`       // PK
	TrackingID        string         `dynamodbav:"tracking_id" json:"trackingId"` // unique human-readable id, GSI
	UserID            string         `dynamodbav:"user_id" json:"userId"`         // GSI
	PaymentMethod     string         `dynamodbav:"payment_method" json:"paymentMethod"`
	PaymentStatus     string         `dynamodbav:"payment_status" json:"paymentStatus"`
	FulfillmentStatus string         `dynamodbav:"fulfillment_status" json:"fulfillmentStatus"`
	FinalAmount       float64        `dynamodbav:"final_amount" json:"finalAmount"`
	Discount          float64        `dynamodbav:"discount" json:"discount"`
	DeliveryCharge    float64        `dynamodbav:"delivery_charge" json:"deliveryCharge"`
	Tax               float64        `dynamodbav:"tax" json:"tax"`
	Address           Address        `dynamodbav:"address" json:"address"`
	ProductSummary    []ProductLine  `dynamodbav:"product_summary" json:"productSummary"`
	PaymentDetails    PaymentDetails `dynamodbav:"payment_details,omitempty" json:"paymentDetails"`
	GatewayOrderID    string         `dynamodbav:"gateway_order_id,omitempty" json:"gatewayOrderId,omitempty"`
	CreatedAt         time.Time      `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `dynamodbav:"updated_at" json:"updatedAt"`
}

// NewTrackingID generates a human-readable tracking id in the storefront's
// #IMO_xxxxxxxx format.
func NewTrackingID() string {
	n, err := rand.Int(rand.Reader, big.NewInt(90000000))
	if err != nil {
		// crypto/rand failing means the platform is broken; fall back to time
		return fmt.Sprintf("#IMO_%08d", time.Now().UnixNano()%100000000)
	}
	return fmt.Sprintf("#IMO_%d", 10000000+n.Int64())
}
