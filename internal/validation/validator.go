package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for CreateOrderRequest to ensure the
	// claimed final amount is consistent with the line subtotals and charges.
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation verifies
// sum(subTotal) - discount + deliveryCharge == finalAmount (within a cent).
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	var sum float64
	for _, line := range req.ProductSummary {
		sum += line.SubTotal
	}
	expected := sum - req.Discount + req.DeliveryCharge

	// compare in integer cents to avoid float rounding issues
	expectedCents := int(math.Round(expected * 100))
	amountCents := int(math.Round(req.FinalAmount * 100))
	if expectedCents != amountCents {
		sl.ReportError(req.FinalAmount, "finalAmount", "FinalAmount", "amount_match_items",
			fmt.Sprintf("expected %.2f != finalAmount %.2f", expected, req.FinalAmount))
	}
}
