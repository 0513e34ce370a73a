package purchases

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/linguadesk/lessonpay/internal/catalog"
	"github.com/linguadesk/lessonpay/internal/gateway"
)

// mockDynamo backs a real ledger.Store in service tests. It supports the
// condition and filter expressions the store issues, keyed by order_token.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	updateErr   error // injected infra failure for the retry path
	updateCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (m *mockDynamo) status(token string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[token]
	if !ok {
		return "", false
	}
	return strAttr(item, "payment_status"), true
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := strAttr(params.Item, "order_token")
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(order_token)" {
		if _, exists := m.items[token]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[token] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[strAttr(params.Key, "order_token")]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	token := strAttr(params.Key, "order_token")
	item, exists := m.items[token]

	vals := params.ExpressionAttributeValues
	val := func(k string) string {
		if v, ok := vals[k].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}

	if params.ConditionExpression != nil {
		switch cond := *params.ConditionExpression; cond {
		case "#s = :expected":
			if !exists || strAttr(item, "payment_status") != val(":expected") {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "#s IN (:pending, :new)":
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
			s := strAttr(item, "payment_status")
			if s != val(":pending") && s != val(":new") {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "attribute_exists(order_token)":
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			return nil, errors.New("unsupported condition: " + cond)
		}
	}
	if !exists {
		return nil, errors.New("item not found")
	}

	if v, ok := vals[":new"]; ok {
		item["payment_status"] = v
	}
	if v, ok := vals[":cid"]; ok {
		item["capture_id"] = v
	}
	if v, ok := vals[":ua"]; ok {
		item["updated_at"] = v
	}
	m.items[token] = item

	out := map[string]types.AttributeValue{}
	for k, v := range item {
		out[k] = v
	}
	return &dyn.UpdateItemOutput{Attributes: out}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := strAttr(params.Key, "order_token")
	item, exists := m.items[token]
	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :pending" {
		pending := ""
		if v, ok := params.ExpressionAttributeValues[":pending"].(*types.AttributeValueMemberS); ok {
			pending = v.Value
		}
		if !exists || strAttr(item, "payment_status") != pending {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(m.items, token)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]types.AttributeValue
	for _, item := range m.items {
		if params.FilterExpression == nil {
			out = append(out, item)
			continue
		}
		v := ""
		if av, ok := params.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberS); ok {
			v = av.Value
		}
		switch *params.FilterExpression {
		case "id = :v":
			if strAttr(item, "id") == v {
				out = append(out, item)
			}
		case "capture_id = :v":
			if strAttr(item, "capture_id") == v {
				out = append(out, item)
			}
		}
	}
	return &dyn.ScanOutput{Items: out}, nil
}

// mockSQS records reconciliation escalations.
type mockSQS struct {
	mu     sync.Mutex
	bodies []string
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, *params.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

// fakeGateway drives the service through scripted processor behavior.
type fakeGateway struct {
	createFunc  func(ctx context.Context, units []gateway.PurchaseUnit, returnURL, cancelURL string) (*gateway.OrderResult, error)
	captureFunc func(ctx context.Context, orderToken string) (*gateway.CaptureResult, error)
	refundFunc  func(ctx context.Context, captureID string) (*gateway.RefundResult, error)

	createCalls  int
	captureCalls int
}

func (f *fakeGateway) CreateOrder(ctx context.Context, units []gateway.PurchaseUnit, returnURL, cancelURL string) (*gateway.OrderResult, error) {
	f.createCalls++
	return f.createFunc(ctx, units, returnURL, cancelURL)
}

func (f *fakeGateway) CaptureOrder(ctx context.Context, orderToken string) (*gateway.CaptureResult, error) {
	f.captureCalls++
	return f.captureFunc(ctx, orderToken)
}

func (f *fakeGateway) RefundCapture(ctx context.Context, captureID string) (*gateway.RefundResult, error) {
	return f.refundFunc(ctx, captureID)
}

// fakeCatalog serves a fixed set of lessons.
type fakeCatalog struct {
	lessons map[string]*catalog.MainLesson
}

func (f *fakeCatalog) MainLesson(ctx context.Context, id string) (*catalog.MainLesson, error) {
	return f.lessons[id], nil
}
