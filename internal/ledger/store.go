package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/linguadesk/lessonpay/internal/aws"
)

func isConditionalCheckFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

// Store encapsulates operations on the purchases table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new purchases Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new record. The conditional put enforces exactly one
// record per order token; a duplicate returns ErrConflict.
func (s *Store) Create(ctx context.Context, rec *PurchaseRecord) error {
	now := s.nowFunc()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.PurchaseDate.IsZero() {
		rec.PurchaseDate = now
	}
	rec.UpdatedAt = now

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal purchase record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_token)"),
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConflict
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// FindByToken fetches a record by order token. Returns (nil, nil) if not found.
func (s *Store) FindByToken(ctx context.Context, orderToken string) (*PurchaseRecord, error) {
	key := map[string]types.AttributeValue{
		"order_token": &types.AttributeValueMemberS{Value: orderToken},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec PurchaseRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal purchase record: %w", err)
	}
	return &rec, nil
}

// FindByID fetches a record by its surrogate id. Returns (nil, nil) if not found.
// Admin-path lookup; the table is keyed by token, so this scans.
func (s *Store) FindByID(ctx context.Context, id string) (*PurchaseRecord, error) {
	return s.scanOne(ctx, "id = :v", id)
}

// FindByCaptureID fetches the record holding a capture reference.
// Returns (nil, nil) if not found.
func (s *Store) FindByCaptureID(ctx context.Context, captureID string) (*PurchaseRecord, error) {
	return s.scanOne(ctx, "capture_id = :v", captureID)
}

func (s *Store) scanOne(ctx context.Context, filterExpr, value string) (*PurchaseRecord, error) {
	input := &dyn.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: &filterExpr,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	}
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if len(out.Items) > 0 {
			var rec PurchaseRecord
			if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
				return nil, fmt.Errorf("unmarshal purchase record: %w", err)
			}
			return &rec, nil
		}
		if out.LastEvaluatedKey == nil {
			return nil, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// CompareAndSetStatus conditionally moves the record from expectedStatus to
// newStatus. This is the single primitive all status writers use: the check
// and the write happen in one request, so two racing writers cannot both
// move one record out of pending. Returns ErrConflict if the condition failed
// (wrong status or no record); never an implicit insert.
func (s *Store) CompareAndSetStatus(ctx context.Context, orderToken, expectedStatus, newStatus string) (*PurchaseRecord, error) {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_token": &types.AttributeValueMemberS{Value: orderToken},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "payment_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("#s = :expected"),
		ReturnValues:        types.ReturnValueAllNew,
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return unmarshalAttributes(out.Attributes)
}

// MarkCompleted records a successful capture: status moves to the capture's
// reported status and the capture reference is stored. The condition admits
// pending (first write) and the target status itself, so a retry with the
// same inputs is safely repeatable. A missing record or a refunded record
// fails the condition and returns ErrConflict.
func (s *Store) MarkCompleted(ctx context.Context, orderToken, captureID, status string) (*PurchaseRecord, error) {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_token": &types.AttributeValueMemberS{Value: orderToken},
		},
		UpdateExpression:         awsString("SET #s = :new, capture_id = :cid, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "payment_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":     &types.AttributeValueMemberS{Value: status},
			":cid":     &types.AttributeValueMemberS{Value: captureID},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("#s IN (:pending, :new)"),
		ReturnValues:        types.ReturnValueAllNew,
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return unmarshalAttributes(out.Attributes)
}

// SetStatusByToken writes a status unconditionally with respect to the
// current status but requires the record to exist. Admin override path.
// Returns ErrNotFound for a missing token; never an implicit insert.
func (s *Store) SetStatusByToken(ctx context.Context, orderToken, status string) (*PurchaseRecord, error) {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_token": &types.AttributeValueMemberS{Value: orderToken},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "payment_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberS{Value: status},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("attribute_exists(order_token)"),
		ReturnValues:        types.ReturnValueAllNew,
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return unmarshalAttributes(out.Attributes)
}

// DeleteByToken removes a record, but only while it is still pending.
// A completed purchase is never erased by a cancel action, even when two
// browser tabs race. The conditional failure covers both "wrong status" and
// "no record"; callers disambiguate with FindByToken.
func (s *Store) DeleteByToken(ctx context.Context, orderToken string) error {
	input := &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_token": &types.AttributeValueMemberS{Value: orderToken},
		},
		ConditionExpression:      awsString("#s = :pending"),
		ExpressionAttributeNames: map[string]string{"#s": "payment_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
		},
	}

	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConflict
		}
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// ListFilters narrows List results. Zero values mean "no filter".
type ListFilters struct {
	PaymentStatus string // exact status match
	PurchaseDate  string // date prefix, e.g. 2026-09-01
	Search        string // substring over user email / product id
}

// List returns a page of records (newest first) and the total matching count.
// The purchases table is admin-scale, so a filtered scan with client-side
// offset pagination is sufficient.
func (s *Store) List(ctx context.Context, filters ListFilters, limit, offset int) ([]PurchaseRecord, int, error) {
	var exprParts []string
	values := map[string]types.AttributeValue{}
	names := map[string]string{}

	if filters.PaymentStatus != "" {
		exprParts = append(exprParts, "#s = :ps")
		names["#s"] = "payment_status"
		values[":ps"] = &types.AttributeValueMemberS{Value: filters.PaymentStatus}
	}
	if filters.PurchaseDate != "" {
		exprParts = append(exprParts, "begins_with(purchase_date, :pd)")
		values[":pd"] = &types.AttributeValueMemberS{Value: filters.PurchaseDate}
	}
	if filters.Search != "" {
		exprParts = append(exprParts, "(contains(user_email, :q) OR contains(product_id, :q))")
		values[":q"] = &types.AttributeValueMemberS{Value: filters.Search}
	}

	input := &dyn.ScanInput{TableName: &s.tableName}
	if len(exprParts) > 0 {
		expr := strings.Join(exprParts, " AND ")
		input.FilterExpression = &expr
		input.ExpressionAttributeValues = values
		if len(names) > 0 {
			input.ExpressionAttributeNames = names
		}
	}

	var all []PurchaseRecord
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		var page []PurchaseRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, 0, fmt.Errorf("unmarshal purchase records: %w", err)
		}
		all = append(all, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].PurchaseDate.After(all[j].PurchaseDate)
	})

	total := len(all)
	if offset >= total {
		return []PurchaseRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func unmarshalAttributes(item map[string]types.AttributeValue) (*PurchaseRecord, error) {
	var rec PurchaseRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal purchase record: %w", err)
	}
	return &rec, nil
}

func awsString(s string) *string { return &s }
