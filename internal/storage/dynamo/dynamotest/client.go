// Package dynamotest provides an in-memory DynamoDB client for tests. It
// understands the key condition, condition and update expression shapes the
// dynamo store issues, not the full expression grammar.
package dynamotest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

type keyAttrs struct {
	pk, sk string
}

type table struct {
	key     keyAttrs
	indexes map[string]keyAttrs
	items   map[string]map[string]types.AttributeValue
}

// Client is a goroutine-safe in-memory DynamoDB.
type Client struct {
	mu       sync.Mutex
	tables   map[string]*table
	failures map[string]error
	calls    map[string]int
}

// New returns a client with no tables.
func New() *Client {
	return &Client{
		tables:   map[string]*table{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

// FailOn makes every call of op ("GetItem", "Query", ... or "*") return err.
// A nil err clears the failure.
func (c *Client) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Items returns a snapshot of every item in name.
func (c *Client) Items(name string) []map[string]types.AttributeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(t.items[k]))
	}
	return out
}

func (c *Client) enter(op string) error {
	c.calls[op]++
	if err, ok := c.failures[op]; ok {
		return err
	}
	if err, ok := c.failures["*"]; ok {
		return err
	}
	return nil
}

func (c *Client) table(name *string) (*table, error) {
	t, ok := c.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func str(item map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	pk, ok := str(item, t.key.pk)
	if !ok {
		return "", validation("missing key attribute %s", t.key.pk)
	}
	sk, _ := str(item, t.key.sk)
	return pk + "\x00" + sk, nil
}

func validation(format string, args ...any) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: fmt.Sprintf(format, args...), Fault: smithy.FaultClient}
}

type expr struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e expr) name(token string) string {
	if n, ok := e.names[token]; ok {
		return n
	}
	return token
}

// holds evaluates a conjunction of attribute_exists, attribute_not_exists
// and equality terms against item, which may be nil.
func (e expr) holds(condition *string, item map[string]types.AttributeValue) (bool, error) {
	if condition == nil {
		return true, nil
	}
	for _, term := range strings.Split(aws.ToString(condition), " AND ") {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "attribute_exists(") && strings.HasSuffix(term, ")"):
			_, ok := item[e.name(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_exists("), ")"))]
			if !ok {
				return false, nil
			}
		case strings.HasPrefix(term, "attribute_not_exists(") && strings.HasSuffix(term, ")"):
			_, ok := item[e.name(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_not_exists("), ")"))]
			if ok {
				return false, nil
			}
		case strings.Contains(term, " = "):
			lhs, rhs, _ := strings.Cut(term, " = ")
			want, ok := e.values[strings.TrimSpace(rhs)]
			if !ok {
				return false, validation("missing value %s", rhs)
			}
			if !reflect.DeepEqual(item[e.name(strings.TrimSpace(lhs))], want) {
				return false, nil
			}
		default:
			return false, validation("unsupported condition %q", term)
		}
	}
	return true, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// CreateTable records the key schema and global secondary indexes.
func (c *Client) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateTable"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.TableName)
	if _, ok := c.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists: " + name)}
	}
	t := &table{
		key:     keysOf(in.KeySchema),
		indexes: map[string]keyAttrs{},
		items:   map[string]map[string]types.AttributeValue{},
	}
	for _, gsi := range in.GlobalSecondaryIndexes {
		t.indexes[aws.ToString(gsi.IndexName)] = keysOf(gsi.KeySchema)
	}
	c.tables[name] = t
	return &dynamodb.CreateTableOutput{TableDescription: describe(name, t)}, nil
}

func keysOf(elems []types.KeySchemaElement) keyAttrs {
	var k keyAttrs
	for _, e := range elems {
		if e.KeyType == types.KeyTypeHash {
			k.pk = aws.ToString(e.AttributeName)
		} else {
			k.sk = aws.ToString(e.AttributeName)
		}
	}
	return k
}

func describe(name string, t *table) *types.TableDescription {
	return &types.TableDescription{
		TableName:   aws.String(name),
		TableStatus: types.TableStatusActive,
		ItemCount:   aws.Int64(int64(len(t.items))),
	}
}

// DescribeTable reports an existing table as active.
func (c *Client) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeTable"); err != nil {
		return nil, err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: describe(aws.ToString(in.TableName), t)}, nil
}

// GetItem reads one item by primary key.
func (c *Client) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("GetItem"); err != nil {
		return nil, err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: clone(t.items[key])}, nil
}

// PutItem writes one item, honouring ConditionExpression.
func (c *Client) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("PutItem"); err != nil {
		return nil, err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := expr{in.ExpressionAttributeNames, in.ExpressionAttributeValues}.holds(in.ConditionExpression, t.items[key])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[key] = clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// Query supports "#pk = :pk" optionally followed by
// "AND begins_with(#sk, :prefix)" on the table or a global index.
func (c *Client) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("Query"); err != nil {
		return nil, err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	keys := t.key
	if in.IndexName != nil {
		var ok bool
		keys, ok = t.indexes[aws.ToString(in.IndexName)]
		if !ok {
			return nil, validation("index %s does not exist", aws.ToString(in.IndexName))
		}
	}

	e := expr{in.ExpressionAttributeNames, in.ExpressionAttributeValues}
	partTerm, prefixTerm, hasPrefix := strings.Cut(aws.ToString(in.KeyConditionExpression), " AND ")
	lhs, rhs, ok := strings.Cut(partTerm, " = ")
	if !ok || e.name(strings.TrimSpace(lhs)) != keys.pk {
		return nil, validation("unsupported key condition %q", aws.ToString(in.KeyConditionExpression))
	}
	pkValue, _ := e.values[strings.TrimSpace(rhs)].(*types.AttributeValueMemberS)
	if pkValue == nil {
		return nil, validation("missing partition key value")
	}
	var prefix string
	if hasPrefix {
		inner := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(prefixTerm), "begins_with("), ")")
		skName, valueRef, ok := strings.Cut(inner, ", ")
		if !ok || e.name(skName) != keys.sk {
			return nil, validation("unsupported key condition %q", aws.ToString(in.KeyConditionExpression))
		}
		v, _ := e.values[valueRef].(*types.AttributeValueMemberS)
		if v == nil {
			return nil, validation("missing prefix value")
		}
		prefix = v.Value
	}

	var matched []map[string]types.AttributeValue
	for _, item := range t.items {
		pk, ok := str(item, keys.pk)
		if !ok || pk != pkValue.Value {
			continue
		}
		sk, ok := str(item, keys.sk)
		if !ok || !strings.HasPrefix(sk, prefix) {
			continue
		}
		matched = append(matched, item)
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		a, _ := str(matched[i], keys.sk)
		b, _ := str(matched[j], keys.sk)
		if a == b {
			ka, _ := t.keyOf(matched[i])
			kb, _ := t.keyOf(matched[j])
			a, b = ka, kb
		}
		if forward {
			return a < b
		}
		return a > b
	})

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		after, err := t.keyOf(in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for i, item := range matched {
			if k, _ := t.keyOf(item); k == after {
				start = i + 1
				break
			}
		}
	}
	matched = matched[start:]

	out := &dynamodb.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
		last := matched[len(matched)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			t.key.pk: last[t.key.pk],
			t.key.sk: last[t.key.sk],
		}
	}
	for _, item := range matched {
		out.Items = append(out.Items, clone(item))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// UpdateItem supports "SET #a = :a, ..." and "REMOVE #b, ..." clauses.
func (c *Client) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	e := expr{in.ExpressionAttributeNames, in.ExpressionAttributeValues}
	current := t.items[key]
	ok, err := e.holds(in.ConditionExpression, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}

	next := clone(current)
	if next == nil {
		next = clone(in.Key)
	}
	update := aws.ToString(in.UpdateExpression)
	setPart, removePart := update, ""
	if i := strings.Index(update, "REMOVE "); i >= 0 {
		setPart, removePart = update[:i], update[i+len("REMOVE "):]
	}
	setPart = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(setPart), "SET "))
	if setPart != "" {
		for _, assign := range strings.Split(setPart, ", ") {
			lhs, rhs, ok := strings.Cut(assign, " = ")
			if !ok {
				return nil, validation("unsupported update %q", assign)
			}
			v, ok := e.values[strings.TrimSpace(rhs)]
			if !ok {
				return nil, validation("missing value %s", rhs)
			}
			next[e.name(strings.TrimSpace(lhs))] = v
		}
	}
	if removePart = strings.TrimSpace(removePart); removePart != "" {
		for _, name := range strings.Split(removePart, ", ") {
			delete(next, e.name(strings.TrimSpace(name)))
		}
	}
	t.items[key] = next

	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = clone(next)
	}
	return out, nil
}

// TransactWriteItems applies Puts and ConditionChecks atomically.
func (c *Client) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		t    *table
		key  string
		item map[string]types.AttributeValue
	}
	var writes []write
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		var (
			tableName *string
			keyItem   map[string]types.AttributeValue
			cond      *string
			e         expr
		)
		switch {
		case ti.Put != nil:
			tableName, keyItem, cond = ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression
			e = expr{ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues}
		case ti.ConditionCheck != nil:
			tableName, keyItem, cond = ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression
			e = expr{ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues}
		default:
			return nil, validation("only Put and ConditionCheck are supported")
		}
		t, err := c.table(tableName)
		if err != nil {
			return nil, err
		}
		key, err := t.keyOf(keyItem)
		if err != nil {
			return nil, err
		}
		ok, err := e.holds(cond, t.items[key])
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
			continue
		}
		if ti.Put != nil {
			writes = append(writes, write{t: t, key: key, item: clone(ti.Put.Item)})
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		w.t.items[w.key] = w.item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// BatchWriteItem applies every put and delete request.
func (c *Client) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("BatchWriteItem"); err != nil {
		return nil, err
	}
	for name, requests := range in.RequestItems {
		t, err := c.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		if len(requests) > 25 {
			return nil, validation("too many items in batch: %d", len(requests))
		}
		for _, r := range requests {
			switch {
			case r.PutRequest != nil:
				key, err := t.keyOf(r.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				t.items[key] = clone(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				key, err := t.keyOf(r.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(t.items, key)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}, nil
}
