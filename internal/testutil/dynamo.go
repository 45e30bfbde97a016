// Package testutil provides an in-memory DynamoDB fake shared by the store
// tests. It evaluates the small expression grammar the stores emit
// (attribute_exists/attribute_not_exists, equality and >= comparisons, SET
// clauses with addition/subtraction) and honors transactional cancellation
// semantics including per-item reasons and ALL_OLD images, so tests
// exercise the same conditional-write behavior the engine relies on in
// production.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoFake is a concurrency-safe in-memory stand-in for DynamoDB. All
// operations serialize on one mutex, which models the atomicity of
// conditional writes: the condition check and the mutation happen under the
// same critical section.
type DynamoFake struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
}

type fakeTable struct {
	pk    string
	items map[string]map[string]types.AttributeValue
}

// NewDynamoFake returns an empty fake with no tables.
func NewDynamoFake() *DynamoFake {
	return &DynamoFake{tables: map[string]*fakeTable{}}
}

// AddTable registers a table with its partition key attribute name.
func (f *DynamoFake) AddTable(name, pk string) *DynamoFake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &fakeTable{pk: pk, items: map[string]map[string]types.AttributeValue{}}
	return f
}

// Seed stores an item directly, bypassing conditions.
func (f *DynamoFake) Seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[table]
	t.items[stringAttr(item[t.pk])] = copyItem(item)
}

// Item returns a copy of the stored item, or nil.
func (f *DynamoFake) Item(table, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[table]
	if t == nil {
		return nil
	}
	return copyItem(t.items[key])
}

// Len returns the number of items in a table.
func (f *DynamoFake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.tables[table]; t != nil {
		return len(t.items)
	}
	return 0
}

func (f *DynamoFake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	item := t.items[stringAttr(params.Key[t.pk])]
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *DynamoFake) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key := stringAttr(params.Item[t.pk])
	existing := t.items[key]
	if params.ConditionExpression != nil && !evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.items[key] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *DynamoFake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key := stringAttr(params.Key[t.pk])
	existing := t.items[key]
	if params.ConditionExpression != nil && !evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeValues) {
		ccf := &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		if params.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
			ccf.Item = copyItem(existing)
		}
		return nil, ccf
	}
	updated := copyItem(existing)
	if updated == nil {
		updated = map[string]types.AttributeValue{}
		for k, v := range params.Key {
			updated[k] = v
		}
	}
	if params.UpdateExpression != nil {
		if err := applyUpdate(*params.UpdateExpression, updated, params.ExpressionAttributeValues, params.ExpressionAttributeNames); err != nil {
			return nil, err
		}
	}
	t.items[key] = updated
	return &dyn.UpdateItemOutput{Attributes: copyItem(updated)}, nil
}

func (f *DynamoFake) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	attr, value, ok := parseKeyCondition(strOrEmpty(params.KeyConditionExpression), params.ExpressionAttributeValues)
	if !ok {
		return nil, fmt.Errorf("testutil: unsupported key condition %q", strOrEmpty(params.KeyConditionExpression))
	}

	var matches []map[string]types.AttributeValue
	for _, item := range t.items {
		if stringAttr(item[attr]) == value {
			matches = append(matches, copyItem(item))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return stringAttr(matches[i]["created_at"]) < stringAttr(matches[j]["created_at"])
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
	}
	if params.Limit != nil && int(*params.Limit) < len(matches) {
		matches = matches[:*params.Limit]
	}
	return &dyn.QueryOutput{Items: matches}, nil
}

func (f *DynamoFake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Phase 1: evaluate every condition against the current state.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		switch {
		case it.Put != nil:
			t, err := f.table(it.Put.TableName)
			if err != nil {
				return nil, err
			}
			existing := t.items[stringAttr(it.Put.Item[t.pk])]
			if it.Put.ConditionExpression != nil && !evalCondition(*it.Put.ConditionExpression, existing, it.Put.ExpressionAttributeValues) {
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
				if it.Put.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
					reasons[i].Item = copyItem(existing)
				}
				failed = true
			}
		case it.Update != nil:
			t, err := f.table(it.Update.TableName)
			if err != nil {
				return nil, err
			}
			existing := t.items[stringAttr(it.Update.Key[t.pk])]
			if it.Update.ConditionExpression != nil && !evalCondition(*it.Update.ConditionExpression, existing, it.Update.ExpressionAttributeValues) {
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
				if it.Update.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
					reasons[i].Item = copyItem(existing)
				}
				failed = true
			}
		default:
			return nil, errors.New("testutil: unsupported transact item")
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	// Phase 2: apply everything.
	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			t, _ := f.table(it.Put.TableName)
			t.items[stringAttr(it.Put.Item[t.pk])] = copyItem(it.Put.Item)
		case it.Update != nil:
			t, _ := f.table(it.Update.TableName)
			key := stringAttr(it.Update.Key[t.pk])
			updated := copyItem(t.items[key])
			if updated == nil {
				updated = map[string]types.AttributeValue{}
				for k, v := range it.Update.Key {
					updated[k] = v
				}
			}
			if it.Update.UpdateExpression != nil {
				if err := applyUpdate(*it.Update.UpdateExpression, updated, it.Update.ExpressionAttributeValues, it.Update.ExpressionAttributeNames); err != nil {
					return nil, err
				}
			}
			t.items[key] = updated
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *DynamoFake) table(name *string) (*fakeTable, error) {
	if name == nil {
		return nil, errors.New("testutil: missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, fmt.Errorf("testutil: unknown table %q", *name)
	}
	return t, nil
}

// evalCondition evaluates the AND-joined condition terms the stores use.
func evalCondition(expr string, item map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	for _, term := range strings.Split(expr, " AND ") {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "attribute_not_exists(") && strings.HasSuffix(term, ")"):
			attr := term[len("attribute_not_exists(") : len(term)-1]
			if item != nil {
				if _, ok := item[attr]; ok {
					return false
				}
			}
		case strings.HasPrefix(term, "attribute_exists(") && strings.HasSuffix(term, ")"):
			attr := term[len("attribute_exists(") : len(term)-1]
			if item == nil {
				return false
			}
			if _, ok := item[attr]; !ok {
				return false
			}
		case strings.Contains(term, ">="):
			parts := strings.SplitN(term, ">=", 2)
			attr, ref := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if item == nil {
				return false
			}
			lhs, lok := numberAttr(item[attr])
			rhs, rok := numberAttr(values[ref])
			if !lok || !rok || lhs < rhs {
				return false
			}
		case strings.Contains(term, "="):
			parts := strings.SplitN(term, "=", 2)
			attr, ref := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if item == nil {
				return false
			}
			if !attrEqual(item[attr], values[ref]) {
				return false
			}
		default:
			panic(fmt.Sprintf("testutil: unsupported condition term %q", term))
		}
	}
	return true
}

// applyUpdate applies a SET-only update expression.
func applyUpdate(expr string, item map[string]types.AttributeValue, values map[string]types.AttributeValue, names map[string]string) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("testutil: unsupported update expression %q", expr)
	}
	for _, clause := range strings.Split(expr[len("SET "):], ",") {
		clause = strings.TrimSpace(clause)
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("testutil: unsupported update clause %q", clause)
		}
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		rhs := strings.TrimSpace(parts[1])

		switch {
		case strings.Contains(rhs, " - "):
			ops := strings.SplitN(rhs, " - ", 2)
			if err := applyArithmetic(item, attr, resolveName(strings.TrimSpace(ops[0]), names), strings.TrimSpace(ops[1]), values, -1); err != nil {
				return err
			}
		case strings.Contains(rhs, " + "):
			ops := strings.SplitN(rhs, " + ", 2)
			if err := applyArithmetic(item, attr, resolveName(strings.TrimSpace(ops[0]), names), strings.TrimSpace(ops[1]), values, 1); err != nil {
				return err
			}
		default:
			v, ok := values[rhs]
			if !ok {
				return fmt.Errorf("testutil: missing expression value %q", rhs)
			}
			item[attr] = v
		}
	}
	return nil
}

func applyArithmetic(item map[string]types.AttributeValue, target, operand, ref string, values map[string]types.AttributeValue, sign float64) error {
	base, ok := numberAttr(item[operand])
	if !ok {
		return fmt.Errorf("testutil: attribute %q is not numeric", operand)
	}
	delta, ok := numberAttr(values[ref])
	if !ok {
		return fmt.Errorf("testutil: expression value %q is not numeric", ref)
	}
	result := base + sign*delta
	item[target] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(result, 'f', -1, 64)}
	return nil
}

func parseKeyCondition(expr string, values map[string]types.AttributeValue) (attr, value string, ok bool) {
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	ref := strings.TrimSpace(parts[1])
	return strings.TrimSpace(parts[0]), stringAttr(values[ref]), true
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if resolved, ok := names[name]; ok {
			return resolved
		}
	}
	return name
}

func attrEqual(a, b types.AttributeValue) bool {
	if an, ok := numberAttr(a); ok {
		bn, bok := numberAttr(b)
		return bok && an == bn
	}
	return stringAttr(a) == stringAttr(b)
}

func numberAttr(v types.AttributeValue) (float64, bool) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func stringAttr(v types.AttributeValue) string {
	switch m := v.(type) {
	case *types.AttributeValueMemberS:
		return m.Value
	case *types.AttributeValueMemberN:
		return m.Value
	default:
		return ""
	}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
