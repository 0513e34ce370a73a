package aws

import (
	"context"
	"log"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const metricNamespace = "LessonPay/Purchases"

// Metric names emitted by the purchase flow.
const (
	MetricPurchaseInitiated       = "PurchaseInitiated"
	MetricPurchaseCompleted       = "PurchaseCompleted"
	MetricPurchaseCancelled       = "PurchaseCancelled"
	MetricPurchaseRefunded        = "PurchaseRefunded"
	MetricReconciliationEscalated = "ReconciliationEscalated"
)

// Metrics emits purchase counters to CloudWatch. Emission is best-effort:
// a metric failure is logged and never propagated into a purchase operation.
type Metrics struct {
	CloudWatch CloudWatchAPI
}

// NewMetrics returns a Metrics emitter. A nil client disables emission.
func NewMetrics(cw CloudWatchAPI) *Metrics {
	return &Metrics{CloudWatch: cw}
}

// Count increments a named counter by 1.
func (m *Metrics) Count(ctx context.Context, name string) {
	if m == nil || m.CloudWatch == nil {
		return
	}
	one := 1.0
	ns := metricNamespace
	input := &cloudwatch.PutMetricDataInput{
		Namespace: &ns,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Value:      &one,
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}
	if _, err := m.CloudWatch.PutMetricData(ctx, input); err != nil {
		log.Printf("put metric %s: %v", name, err)
	}
}
