package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chhotelal2310/E-Commers-backend/internal/aws"
)

// ErrNotFound indicates the order does not exist.
var ErrNotFound = errors.New("order not found")

// ErrStatusMismatch indicates a conditional status transition failed because
// the order was not in the expected state.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

const (
	trackingIndex = "tracking_id-index"
	userIndex     = "user_id-index"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new order, guarded so an order id is never overwritten.
func (s *Store) Create(ctx context.Context, order Order) error {
	item, err := s.marshalNew(&order)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("order %s already exists: %w", order.OrderID, ErrStatusMismatch)
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// PutTransactItem builds the guarded order Put as a transact item, so order
// creation can commit in the same transaction as its stock reservation.
func (s *Store) PutTransactItem(order Order) (types.TransactWriteItem, error) {
	item, err := s.marshalNew(&order)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	}, nil
}

// SettleTransactItem builds the settlement update: payment completed,
// transaction details recorded, fulfillment confirmed. The payment_status =
// pending guard is the idempotency check: a duplicate confirmation, or a
// concurrent one, cancels the whole transaction instead of decrementing
// stock a second time.
func (s *Store) SettleTransactItem(orderID, transactionID string, paidAmount float64, paidAt time.Time) (types.TransactWriteItem, error) {
	details, err := attributevalue.MarshalMap(PaymentDetails{
		TransactionID:   transactionID,
		PaymentDate:     paidAt.Format(time.RFC3339),
		TotalPaidAmount: paidAmount,
	})
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal payment details: %w", err)
	}
	now := s.nowFunc()
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"order_id": &types.AttributeValueMemberS{Value: orderID},
			},
			UpdateExpression:    awsString("SET payment_status = :completed, payment_details = :pd, fulfillment_status = :fs, updated_at = :ua"),
			ConditionExpression: awsString("payment_status = :pending"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":completed": &types.AttributeValueMemberS{Value: PaymentCompleted},
				":pending":   &types.AttributeValueMemberS{Value: PaymentPending},
				":pd":        &types.AttributeValueMemberM{Value: details},
				":fs":        &types.AttributeValueMemberS{Value: FulfillmentConfirmed},
				":ua":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			},
		},
	}, nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByTrackingID looks an order up by its human-readable tracking id.
// Returns (nil, nil) if not found.
func (s *Store) GetByTrackingID(ctx context.Context, trackingID string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(trackingIndex),
		KeyConditionExpression: awsString("tracking_id = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: trackingID},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query tracking index: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByUser returns a user's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(userIndex),
		KeyConditionExpression: awsString("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: awsBool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("query user index: %w", err)
	}
	result := make([]Order, 0, len(out.Items))
	for _, item := range out.Items {
		var o Order
		if err := attributevalue.UnmarshalMap(item, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		result = append(result, o)
	}
	return result, nil
}

// SetGatewayOrder records the gateway's order reference on a pending order.
func (s *Store) SetGatewayOrder(ctx context.Context, orderID, gatewayOrderID string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET gateway_order_id = :gid, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gid": &types.AttributeValueMemberS{Value: gatewayOrderID},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("set gateway order: %w", err)
	}
	return nil
}

// MarkPaymentFailed flips a pending order to failed for operator visibility.
// Best-effort: a completed order is never overwritten (the pending guard
// fails and ErrStatusMismatch is returned).
func (s *Store) MarkPaymentFailed(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET payment_status = :failed, updated_at = :ua"),
		ConditionExpression: awsString("payment_status = :pending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":  &types.AttributeValueMemberS{Value: PaymentFailed},
			":pending": &types.AttributeValueMemberS{Value: PaymentPending},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

func (s *Store) marshalNew(order *Order) (map[string]types.AttributeValue, error) {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	item, err := attributevalue.MarshalMap(*order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	return item, nil
}

func awsString(s string) *string { return &s }
func awsInt32(n int32) *int32    { return &n }
func awsBool(b bool) *bool       { return &b }
