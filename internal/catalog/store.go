package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chhotelal2310/E-Commers-backend/internal/aws"
)

// ErrNotFound indicates the product does not exist in the catalog.
var ErrNotFound = errors.New("product not found")

// InsufficientStockError reports a decrement that would have taken stock
// below zero. Available is read from the item image returned with the
// conditional failure, so no second lookup is needed.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

const (
	decrementUpdateExpr = "SET stock = stock - :qty, updated_at = :ua"
	decrementCondExpr   = "attribute_exists(product_id) AND stock >= :qty"
	incrementUpdateExpr = "SET stock = stock + :qty, updated_at = :ua"
	incrementCondExpr   = "attribute_exists(product_id)"
)

// Stock encapsulates stock operations on the products table.
// The stock >= :qty guard lives in the same conditional write as the
// decrement, so two orders racing for the last unit are serialized by
// DynamoDB and stock can never go negative.
type Stock struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStock creates a Stock bound to the products table.
func NewStock(client aws.DynamoDBAPI, tableName string) *Stock {
	return &Stock{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// TryDecrement decrements stock by qty as one conditional write.
// Returns ErrNotFound if the product does not exist, or an
// *InsufficientStockError if stock < qty.
func (s *Stock) TryDecrement(ctx context.Context, productID string, qty int) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    awsString(decrementUpdateExpr),
		ConditionExpression: awsString(decrementCondExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":qty": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return s.decrementFailure(productID, qty, ccf.Item)
		}
		return fmt.Errorf("decrement stock: %w", err)
	}
	return nil
}

// Increment is the compensating operation: it adds qty back atomically.
// Used on rollback/cancellation paths.
func (s *Stock) Increment(ctx context.Context, productID string, qty int) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    awsString(incrementUpdateExpr),
		ConditionExpression: awsString(incrementCondExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":qty": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}

// DecrementTransactItem builds the guarded decrement as a transact item so a
// batch of reservations plus an order write can commit as one transaction.
func (s *Stock) DecrementTransactItem(productID string, qty int) types.TransactWriteItem {
	now := s.nowFunc()
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"product_id": &types.AttributeValueMemberS{Value: productID},
			},
			UpdateExpression:    awsString(decrementUpdateExpr),
			ConditionExpression: awsString(decrementCondExpr),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":qty": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
				":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}
}

// DecrementFailure maps the old item image of a failed conditional decrement
// to ErrNotFound or an *InsufficientStockError. Shared with the reservation
// service, which sees the same failures through transaction cancellation
// reasons.
func (s *Stock) DecrementFailure(productID string, qty int, oldItem map[string]types.AttributeValue) error {
	return s.decrementFailure(productID, qty, oldItem)
}

func (s *Stock) decrementFailure(productID string, qty int, oldItem map[string]types.AttributeValue) error {
	if len(oldItem) == 0 {
		return ErrNotFound
	}
	var p Product
	if err := attributevalue.UnmarshalMap(oldItem, &p); err != nil {
		// image came back but is unreadable; still a stock failure
		return &InsufficientStockError{ProductID: productID, Requested: qty}
	}
	return &InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Stock}
}

// Get fetches a product by product_id. Returns (nil, nil) if not found.
func (s *Stock) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Put writes a product record. Catalog CRUD lives elsewhere; this exists for
// seeding and fixtures.
func (s *Stock) Put(ctx context.Context, p Product) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.nowFunc()
	}
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
