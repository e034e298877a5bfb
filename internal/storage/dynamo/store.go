// Package dynamo implements the single-table NoSQL RecordStore on DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/schema"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// Backend is the tag reported in errors and metrics.
const Backend = "dynamodb"

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	dynamodb.QueryAPIClient
	dynamodb.DescribeTableAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Config selects the table and, for DynamoDB Local or LocalStack, the endpoint.
type Config struct {
	// Table is the single table holding every entity kind.
	Table    string
	Endpoint string
}

// Store is the single-table RecordStore.
type Store struct {
	api    API
	table  string
	ids    store.IDGenerator
	clock  store.Clock
	logger *zap.Logger
}

var _ store.RecordStore = (*Store)(nil)

// New builds a store from an AWS config.
func New(awsCfg aws.Config, cfg Config, ids store.IDGenerator, clock store.Clock, logger *zap.Logger) (*Store, error) {
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.Table, ids, clock, logger)
}

// NewWithAPI constructs a store from an existing client (primarily for testing).
func NewWithAPI(api API, table string, ids store.IDGenerator, clock store.Clock, logger *zap.Logger) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:    api,
		table:  table,
		ids:    ids,
		clock:  clock,
		logger: logger.Named("dynamo").With(zap.String("table", table)),
	}, nil
}

// Table returns the configured table name.
func (s *Store) Table() string {
	return s.table
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() {}

// Create writes e, its uniqueness guards and existence checks for every
// referenced entity in one transaction.
func (s *Store) Create(ctx context.Context, e model.Entity) (id string, err error) {
	const op = "record create"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "create", start, err) }(time.Now())

	id, err = store.PrepareCreate(op, Backend, e, s.ids, s.clock)
	if err != nil {
		return "", err
	}
	item, err := schema.ToItem(e)
	if err != nil {
		return "", store.Invalid(op, Backend, err)
	}
	guards := schema.GuardItems(e)

	refs := e.References()
	refKeys := make([]map[string]types.AttributeValue, 0, len(refs))
	for _, ref := range refs {
		key, err := s.locate(ctx, op, ref)
		if err != nil {
			return "", err
		}
		refKeys = append(refKeys, key)
	}

	notExists := aws.String("attribute_not_exists(#pk)")
	exists := aws.String("attribute_exists(#pk)")
	names := map[string]string{"#pk": schema.AttrPK}

	tx := make([]types.TransactWriteItem, 0, 1+len(guards)+len(refKeys))
	tx = append(tx, types.TransactWriteItem{Put: &types.Put{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      notExists,
		ExpressionAttributeNames: names,
	}})
	for _, g := range guards {
		tx = append(tx, types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(s.table),
			Item:                     g,
			ConditionExpression:      notExists,
			ExpressionAttributeNames: names,
		}})
	}
	for _, key := range refKeys {
		tx = append(tx, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                aws.String(s.table),
			Key:                      key,
			ConditionExpression:      exists,
			ExpressionAttributeNames: names,
		}})
	}

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx})
	if err != nil {
		return "", classifyCreate(op, e, len(guards), err)
	}
	s.logger.Debug("Created item", zap.String("kind", string(e.Kind())), zap.String("id", id))
	return id, nil
}

// classifyCreate maps a cancelled create transaction to the failing part:
// the entity or a guard is a conflict, a reference check a validation error.
// Cancellations without a failed condition are classified by their reasons,
// so throttling stays retryable.
func classifyCreate(op string, e model.Entity, guards int, err error) error {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return classify(op, fmt.Errorf("create %s %s: %w", e.Kind(), e.GetID(), err))
	}
	refs := e.References()
	for i, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
			continue
		}
		switch {
		case i == 0:
			return store.Errorf(store.KindConflict, op, Backend, "%s %s already exists", e.Kind(), e.GetID())
		case i <= guards:
			return store.Errorf(store.KindConflict, op, Backend, "%s violates a uniqueness constraint", e.Kind())
		case i-1-guards < len(refs):
			return store.Errorf(store.KindValidation, op, Backend, "referenced %s does not exist", refs[i-1-guards])
		}
	}
	return classify(op, fmt.Errorf("create %s %s: %w", e.Kind(), e.GetID(), err))
}

// locate resolves the primary key of a referenced entity. Users are their own
// partition; everything else is found through the LookupIndex.
func (s *Store) locate(ctx context.Context, op string, ref model.Ref) (map[string]types.AttributeValue, error) {
	if ref.Kind == model.KindUser {
		key := schema.EntityKey(model.KindUser, ref.ID)
		return schema.KeyOf(key, key), nil
	}
	item, err := s.lookup(ctx, ref.Kind, ref.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.Errorf(store.KindValidation, op, Backend, "referenced %s does not exist", ref)
		}
		return nil, err
	}
	return item.Key(), nil
}

func (s *Store) lookup(ctx context.Context, kind model.Kind, id string) (schema.Item, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(schema.LookupIndex),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  map[string]string{"#pk": schema.AttrGSI1PK},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": sv(schema.EntityKey(kind, id))},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, classify("record lookup", fmt.Errorf("lookup %s %s: %w", kind, id, err))
	}
	if len(out.Items) == 0 {
		return nil, store.Errorf(store.KindNotFound, "record lookup", Backend, "%s not found", kind)
	}
	return schema.Item(out.Items[0]), nil
}

func sv(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func decode(op string, item map[string]types.AttributeValue) (model.Entity, error) {
	e, err := schema.FromItem(item)
	if err != nil {
		return nil, store.E(store.KindUnknown, op, Backend, err)
	}
	return e, nil
}

// Get loads one entity. Users are read with a consistent GetItem; other
// kinds go through the LookupIndex, which is eventually consistent.
func (s *Store) Get(ctx context.Context, kind model.Kind, id string) (e model.Entity, err error) {
	const op = "record get"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "get", start, err) }(time.Now())

	if !kind.Valid() {
		return nil, store.Errorf(store.KindValidation, op, Backend, "unknown kind %q", kind)
	}
	if id == "" {
		return nil, store.Errorf(store.KindValidation, op, Backend, "id is required")
	}
	if kind == model.KindUser {
		key := schema.EntityKey(model.KindUser, id)
		out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.table),
			Key:            schema.KeyOf(key, key),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, classify(op, fmt.Errorf("get user %s: %w", id, err))
		}
		if len(out.Item) == 0 {
			return nil, store.Errorf(store.KindNotFound, op, Backend, "user not found")
		}
		return decode(op, out.Item)
	}
	item, err := s.lookup(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return decode(op, item)
}

// GetByUnique loads a user by email through the UniqueIndex.
func (s *Store) GetByUnique(ctx context.Context, kind model.Kind, field, value string) (e model.Entity, err error) {
	const op = "record get_by_unique"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "get_by_unique", start, err) }(time.Now())

	email, err := store.CheckUnique(op, Backend, kind, field, value)
	if err != nil {
		return nil, err
	}
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(schema.UniqueIndex),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  map[string]string{"#pk": schema.AttrGSI2PK},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": sv(schema.EmailKey(email))},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, classify(op, fmt.Errorf("query email: %w", err))
	}
	if len(out.Items) == 0 {
		return nil, store.Errorf(store.KindNotFound, op, Backend, "user not found")
	}
	return decode(op, out.Items[0])
}

// queryAll pages through in, decoding entities that pass f until limit
// matches are collected (limit 0 means all).
func (s *Store) queryAll(ctx context.Context, op string, in *dynamodb.QueryInput, f store.Filter) ([]model.Entity, error) {
	var out []model.Entity
	paginator := dynamodb.NewQueryPaginator(s.api, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(op, fmt.Errorf("query %s: %w", aws.ToString(in.IndexName), err))
		}
		for _, item := range page.Items {
			if schema.IsGuard(item) {
				continue
			}
			e, err := decode(op, item)
			if err != nil {
				return nil, err
			}
			if !f.Matches(e) {
				continue
			}
			out = append(out, e)
			if f.Limit > 0 && len(out) == f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// ListChildren runs one partition query with a sort key prefix, newest
// first. A category filter on recommendations uses the CategoryIndex instead.
func (s *Store) ListChildren(
	ctx context.Context,
	parentKind model.Kind,
	parentID string,
	childKind model.Kind,
	f store.Filter,
) (items []model.Entity, err error) {
	const op = "record list_children"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "list_children", start, err) }(time.Now())

	if err := store.CheckChildren(op, Backend, parentKind, parentID, childKind, f); err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		KeyConditionExpression:   aws.String("#pk = :pk AND begins_with(#sk, :prefix)"),
		ExpressionAttributeNames: map[string]string{"#pk": schema.AttrPK, "#sk": schema.AttrSK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     sv(schema.EntityKey(parentKind, parentID)),
			":prefix": sv(schema.ChildPrefix(childKind)),
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	}
	if childKind == model.KindRecommendation && f.Category != "" {
		in.IndexName = aws.String(schema.CategoryIndex)
		in.ConsistentRead = nil
		in.ExpressionAttributeNames = map[string]string{"#pk": schema.AttrGSI3PK, "#sk": schema.AttrGSI3SK}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk":     sv(schema.CategoryKey(f.Category)),
			":prefix": sv(schema.CategoryProjectPrefix(parentID)),
		}
	}
	if f.Limit > 0 && f.Status == "" && f.Priority == "" {
		in.Limit = aws.Int32(int32(min(f.Limit, math.MaxInt32)))
	}
	return s.queryAll(ctx, op, in, f)
}

// LatestChild returns the newest child: the same partition query with limit one.
func (s *Store) LatestChild(ctx context.Context, parentKind model.Kind, parentID string, childKind model.Kind) (model.Entity, error) {
	items, err := s.ListChildren(ctx, parentKind, parentID, childKind, store.Filter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, store.Errorf(store.KindNotFound, "record latest_child", Backend, "%s has no %s", parentKind, childKind)
	}
	return items[0], nil
}

// ListByCategory queries the CategoryIndex across every project. Results are
// ordered by id, newest first, to match the relational store.
func (s *Store) ListByCategory(ctx context.Context, category string, f store.Filter) (recs []*model.Recommendation, err error) {
	const op = "record list_by_category"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "list_by_category", start, err) }(time.Now())

	if category == "" {
		return nil, store.Errorf(store.KindValidation, op, Backend, "category is required")
	}
	if err := f.Check(model.KindRecommendation); err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	limit := f.Limit
	f.Category = category
	f.Limit = 0

	items, err := s.queryAll(ctx, op, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(schema.CategoryIndex),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  map[string]string{"#pk": schema.AttrGSI3PK},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": sv(schema.CategoryKey(category))},
	}, f)
	if err != nil {
		return nil, err
	}
	recs = make([]*model.Recommendation, 0, len(items))
	for _, e := range items {
		r, err := store.As[*model.Recommendation](e, nil)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// UpdateFields applies patch with a single conditional UpdateItem.
func (s *Store) UpdateFields(ctx context.Context, kind model.Kind, id string, patch model.Patch) (e model.Entity, err error) {
	const op = "record update_fields"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "update_fields", start, err) }(time.Now())

	current, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	next, changed, err := model.Apply(current, patch, s.clock.Now())
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	set, remove, err := schema.UpdateSet(next, changed)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}

	names := map[string]string{"#pk": schema.AttrPK}
	values := map[string]types.AttributeValue{}
	var sets, removes []string
	for i, field := range changed {
		name := fmt.Sprintf("#f%d", i)
		if v, ok := set[field]; ok {
			names[name] = field
			values[fmt.Sprintf(":v%d", i)] = v
			sets = append(sets, fmt.Sprintf("%s = :v%d", name, i))
		}
	}
	for i, field := range remove {
		name := fmt.Sprintf("#r%d", i)
		names[name] = field
		removes = append(removes, name)
	}
	var expr []string
	if len(sets) > 0 {
		expr = append(expr, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		expr = append(expr, "REMOVE "+strings.Join(removes, ", "))
	}

	cond := "attribute_exists(#pk)"
	guarded := model.Guarded(kind, patch)
	if guarded {
		status, _ := model.Status(current)
		names["#status"] = "status"
		values[":expected"] = sv(status)
		cond += " AND #status = :expected"
	}
	in := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      schema.KeyOf(schema.PartitionKey(current), schema.SortKey(current)),
		UpdateExpression:         aws.String(strings.Join(expr, " ")),
		ConditionExpression:      aws.String(cond),
		ExpressionAttributeNames: names,
		ReturnValues:             types.ReturnValueAllNew,
	}
	if len(values) > 0 {
		in.ExpressionAttributeValues = values
	}

	out, err := s.api.UpdateItem(ctx, in)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if guarded {
				return nil, store.Errorf(store.KindConflict, op, Backend, "%s %s status changed concurrently", kind, id)
			}
			return nil, store.Errorf(store.KindNotFound, op, Backend, "%s not found", kind)
		}
		return nil, classify(op, fmt.Errorf("update %s %s: %w", kind, id, err))
	}
	return decode(op, out.Attributes)
}
