package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory mock keyed by order_token. It understands
// only the condition and filter expressions the Store actually issues.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	// injectable failures for retry-path tests
	updateErr error
	putErr    error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		items: map[string]map[string]types.AttributeValue{},
	}
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return nil, m.putErr
	}
	token := strAttr(params.Item, "order_token")
	if token == "" {
		return nil, errors.New("no order_token in put item")
	}
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
	token := strAttr(params.Key, "order_token")
	item, ok := m.items[token]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
		cond := *params.ConditionExpression
		switch cond {
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

// Scan evaluates the handful of filter shapes the Store builds.
func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []map[string]types.AttributeValue
	for _, item := range m.items {
		if matchesFilter(item, params) {
			out = append(out, item)
		}
	}
	return &dyn.ScanOutput{Items: out}, nil
}

func matchesFilter(item map[string]types.AttributeValue, params *dyn.ScanInput) bool {
	if params.FilterExpression == nil {
		return true
	}
	vals := params.ExpressionAttributeValues
	val := func(k string) string {
		if v, ok := vals[k].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}

	for _, part := range strings.Split(*params.FilterExpression, " AND ") {
		switch part {
		case "id = :v":
			if strAttr(item, "id") != val(":v") {
				return false
			}
		case "capture_id = :v":
			if strAttr(item, "capture_id") != val(":v") {
				return false
			}
		case "#s = :ps":
			if strAttr(item, "payment_status") != val(":ps") {
				return false
			}
		case "begins_with(purchase_date, :pd)":
			if !strings.HasPrefix(strAttr(item, "purchase_date"), val(":pd")) {
				return false
			}
		case "(contains(user_email, :q) OR contains(product_id, :q))":
			q := val(":q")
			if !strings.Contains(strAttr(item, "user_email"), q) &&
				!strings.Contains(strAttr(item, "product_id"), q) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
