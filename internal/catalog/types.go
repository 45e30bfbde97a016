package catalog

import "time"

// Product is the slice of the catalog item this engine reads and writes.
// Everything except stock is owned by the catalog service; stock is mutated
// only through the conditional decrement/increment operations on Stock.
type Product struct {
	ProductID       string    `dynamodbav:"product_id"` // PK
	Name            string    `dynamodbav:"name,omitempty"`
	Stock           int       `dynamodbav:"stock"`
	Price           float64   `dynamodbav:"price"`
	DiscountedPrice float64   `dynamodbav:"discounted_price,omitempty"`
	CreatedAt       time.Time `dynamodbav:"created_at,omitempty"`
	UpdatedAt       time.Time `dynamodbav:"updated_at,omitempty"`
}
