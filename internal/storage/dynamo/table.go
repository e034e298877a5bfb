package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/schema"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

// tableWait bounds how long EnsureTable waits for a new table to become active.
const tableWait = 2 * time.Minute

// Ping describes the table.
func (s *Store) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "ping", start, err) }(time.Now())

	if _, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return classify("record ping", fmt.Errorf("describe table %s: %w", s.table, err))
	}
	return nil
}

// EnsureTable creates the table and its secondary indexes when missing and
// waits for it to become active. It reports whether the table was created.
func (s *Store) EnsureTable(ctx context.Context) (bool, error) {
	const op = "record ensure_table"
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return false, nil
	}
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return false, classify(op, fmt.Errorf("describe table %s: %w", s.table, err))
	}

	if _, err := s.api.CreateTable(ctx, tableDefinition(s.table)); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return false, classify(op, fmt.Errorf("create table %s: %w", s.table, err))
		}
	}
	waiter := dynamodb.NewTableExistsWaiter(s.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, tableWait); err != nil {
		return true, classify(op, fmt.Errorf("wait for table %s: %w", s.table, err))
	}
	s.logger.Info("Created table")
	return true, nil
}

func stringAttrs(names ...string) []types.AttributeDefinition {
	defs := make([]types.AttributeDefinition, len(names))
	for i, n := range names {
		defs[i] = types.AttributeDefinition{AttributeName: aws.String(n), AttributeType: types.ScalarAttributeTypeS}
	}
	return defs
}

func keySchema(pk, sk string) []types.KeySchemaElement {
	return []types.KeySchemaElement{
		{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
		{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
	}
}

func index(name, pk, sk string) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(name),
		KeySchema:  keySchema(pk, sk),
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func tableDefinition(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: stringAttrs(
			schema.AttrPK, schema.AttrSK,
			schema.AttrGSI1PK, schema.AttrGSI1SK,
			schema.AttrGSI2PK, schema.AttrGSI2SK,
			schema.AttrGSI3PK, schema.AttrGSI3SK,
		),
		KeySchema: keySchema(schema.AttrPK, schema.AttrSK),
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			index(schema.LookupIndex, schema.AttrGSI1PK, schema.AttrGSI1SK),
			index(schema.UniqueIndex, schema.AttrGSI2PK, schema.AttrGSI2SK),
			index(schema.CategoryIndex, schema.AttrGSI3PK, schema.AttrGSI3SK),
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// GetItem reads the raw item stored under key with a consistent read. A
// missing item yields nil and no error.
func (s *Store) GetItem(ctx context.Context, key map[string]types.AttributeValue) (item schema.Item, err error) {
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "get_item", start, err) }(time.Now())

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("record get_item", fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return schema.Item(out.Item), nil
}

// PutItems writes items unconditionally, replacing whatever is stored under
// the same keys. Writing the same items twice leaves the table unchanged.
// Items the service leaves unprocessed are reported as a capacity error.
func (s *Store) PutItems(ctx context.Context, items ...schema.Item) (err error) {
	const op = "record put_items"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "put_items", start, err) }(time.Now())

	for start := 0; start < len(items); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(items))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: requests},
		})
		if err != nil {
			return classify(op, fmt.Errorf("batch write: %w", err))
		}
		if n := len(out.UnprocessedItems[s.table]); n > 0 {
			s.logger.Warn("Batch write left items unprocessed", zap.Int("count", n))
			return store.Errorf(store.KindCapacity, op, Backend, "%d items unprocessed", n)
		}
	}
	return nil
}
