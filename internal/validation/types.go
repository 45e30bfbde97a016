package validation

// AddressRequest is the shipping address block of the checkout payload.
type AddressRequest struct {
	Street      string `json:"street" validate:"required,min=2,max=100"`
	City        string `json:"city" validate:"required,min=2,max=50"`
	State       string `json:"state" validate:"required,min=2,max=50"`
	PostalCode  string `json:"postalCode" validate:"required,min=3,max=20"`
	Country     string `json:"country" validate:"omitempty,min=2,max=50"`
	AddressType string `json:"addressType" validate:"omitempty,oneof=home work billing shipping other"`
}

// ProductLineRequest is a single product line of the checkout payload.
type ProductLineRequest struct {
	ProductID string  `json:"productId" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`  // must be >= 1
	SubTotal  float64 `json:"subTotal" validate:"required,gt=0"`   // line total
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	FinalAmount    float64              `json:"finalAmount" validate:"required,gt=0"`
	Discount       float64              `json:"discount" validate:"min=0"`
	PaymentMethod  string               `json:"paymentMethod" validate:"required,oneof=COD RazorPay Paytm"`
	DeliveryCharge float64              `json:"deliveryCharge" validate:"min=0"`
	Tax            float64              `json:"tax" validate:"min=0"`
	ProductSummary []ProductLineRequest `json:"productSummary" validate:"required,min=1,dive"` // at least one line
	Address        AddressRequest       `json:"address" validate:"required"`
}
