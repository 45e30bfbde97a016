package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// OrderConfirmedMessage is the payload queued for the notification service
// after an order is created. The notification service owns delivery and
// retries; nothing in the order path waits on it.
type OrderConfirmedMessage struct {
	OrderID     string  `json:"order_id"`
	TrackingID  string  `json:"tracking_id"`
	UserID      string  `json:"user_id"`
	FinalAmount float64 `json:"final_amount"`
}

// Publisher wraps an SQS client and the notification queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// PublishOrderConfirmed marshals msg and sends it to the notification queue.
// attributes map[string]string -> sent as MessageAttributes.
func (p *Publisher) PublishOrderConfirmed(ctx context.Context, msg OrderConfirmedMessage, attributes map[string]string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	bodyStr := string(body)

	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &bodyStr,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			// using string type for all attrs
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: &v,
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err = p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }
