package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/chhotelal2310/E-Commers-backend/internal/aws"
	"go.uber.org/zap"
)

// Metric names emitted by the order path.
const (
	MetricOrdersCreated       = "OrdersCreated"
	MetricPaymentsVerified    = "PaymentsVerified"
	MetricReservationFailures = "ReservationFailures"
)

const emitTimeout = 3 * time.Second

// Emitter publishes operational counters to CloudWatch. Emission is detached
// and best-effort: a metrics outage never touches an order or payment result.
type Emitter struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *zap.Logger
}

// NewEmitter returns an Emitter publishing under namespace.
func NewEmitter(client aws.CloudWatchAPI, namespace string, logger *zap.Logger) *Emitter {
	return &Emitter{client: client, namespace: namespace, logger: logger}
}

// Count asynchronously increments a counter metric with the given dimensions.
// Safe to call on a nil Emitter.
func (e *Emitter) Count(name string, dimensions map[string]string) {
	if e == nil || e.client == nil {
		return
	}
	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		k, v := k, v
		dims = append(dims, cwtypes.Dimension{Name: &k, Value: &v})
	}
	one := 1.0
	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &one,
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &e.namespace,
			MetricData: []cwtypes.MetricDatum{datum},
		})
		if err != nil {
			e.logger.Debug("put metric data", zap.String("metric", name), zap.Error(err))
		}
	}()
}
