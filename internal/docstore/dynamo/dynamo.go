// Package dynamo is a DynamoDB docstore backend. Each collection maps to its
// own table named <prefix><collection> with a string partition key "id".
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/campaign-mailer/internal/docstore"
)

// MaxBatchSize is DynamoDB's BatchWriteItem limit.
const MaxBatchSize = 25

const keyAttr = "id"

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store implements docstore.Store on DynamoDB.
type Store struct {
	db          API
	tablePrefix string
}

var _ docstore.Store = (*Store)(nil)

// New creates a store over an existing client.
func New(db API, tablePrefix string) *Store {
	return &Store{db: db, tablePrefix: tablePrefix}
}

// NewFromConfig loads AWS configuration the same way the rest of the
// service does: an explicit shared profile when given, otherwise the default
// credential chain (IAM role on ECS).
func NewFromConfig(ctx context.Context, tablePrefix, region, profile string) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), tablePrefix), nil
}

func (s *Store) table(collection string) *string {
	return aws.String(s.tablePrefix + collection)
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{keyAttr: &types.AttributeValueMemberS{Value: id}}
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := docstore.NewID()
	if err := s.put(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if !merge || len(data) == 0 {
		return s.put(ctx, collection, id, data)
	}
	expr := newExpression()
	update, err := expr.setClause(data)
	if err != nil {
		return err
	}
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 s.table(collection),
		Key:                       key(id),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
	})
	if err != nil {
		return fmt.Errorf("merging %s/%s in DynamoDB: %w", collection, id, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, collection, id string, data map[string]any) error {
	item, err := marshalItem(id, data)
	if err != nil {
		return err
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: s.table(collection),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting %s/%s to DynamoDB: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      s.table(collection),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s from DynamoDB: %w", collection, id, err)
	}
	if out.Item == nil {
		return nil, docstore.ErrNotFound
	}
	return unmarshalItem(out.Item)
}

// Query scans the table with a filter expression. Collections here are small
// (contact records per account) so a secondary index per field is not worth
// its write cost.
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if err := docstore.ValidateFilters(filters); err != nil {
		return nil, err
	}
	in := &dynamodb.ScanInput{
		TableName:      s.table(collection),
		ConsistentRead: aws.Bool(true),
	}
	if len(filters) > 0 {
		expr := newExpression()
		cond, err := expr.filterClause(filters)
		if err != nil {
			return nil, err
		}
		in.FilterExpression = aws.String(cond)
		in.ExpressionAttributeNames = expr.names
		in.ExpressionAttributeValues = expr.values
	}

	var docs []docstore.Document
	p := dynamodb.NewScanPaginator(s.db, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning %s in DynamoDB: %w", collection, err)
		}
		for _, item := range page.Items {
			doc, err := unmarshalItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if len(fields) == 0 {
		if _, err := s.Get(ctx, collection, id); err != nil {
			return err
		}
		return nil
	}
	expr := newExpression()
	update, err := expr.setClause(fields)
	if err != nil {
		return err
	}
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 s.table(collection),
		Key:                       key(id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(expr.exists()),
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return docstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating %s/%s in DynamoDB: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: s.table(collection),
		Key:       key(id),
	})
	if err != nil {
		return fmt.Errorf("deleting %s/%s from DynamoDB: %w", collection, id, err)
	}
	return nil
}

// Mutate issues a single conditional UpdateItem. When the condition fails,
// the old item returned with the exception tells a missing document apart
// from an already-present member.
func (s *Store) Mutate(ctx context.Context, collection, id string, m docstore.Mutation) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	expr := newExpression()
	update, cond, err := expr.mutation(m)
	if err != nil {
		return false, err
	}
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           s.table(collection),
		Key:                                 key(id),
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            expr.names,
		ExpressionAttributeValues:           expr.values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return false, docstore.ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mutating %s/%s in DynamoDB: %w", collection, id, err)
	}
	return true, nil
}

func (s *Store) NewBatch() docstore.Batch {
	return &batch{store: s, requests: make(map[string][]types.WriteRequest)}
}

func (s *Store) MaxBatchSize() int { return MaxBatchSize }

func (s *Store) Close() error { return nil }

type batch struct {
	store    *Store
	requests map[string][]types.WriteRequest
	n        int
	err      error
}

func (b *batch) Set(collection, id string, data map[string]any) {
	item, err := marshalItem(id, data)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return
	}
	table := aws.ToString(b.store.table(collection))
	b.requests[table] = append(b.requests[table], types.WriteRequest{
		PutRequest: &types.PutRequest{Item: item},
	})
	b.n++
}

func (b *batch) Delete(collection, id string) {
	table := aws.ToString(b.store.table(collection))
	b.requests[table] = append(b.requests[table], types.WriteRequest{
		DeleteRequest: &types.DeleteRequest{Key: key(id)},
	})
	b.n++
}

func (b *batch) Len() int { return b.n }

const maxUnprocessedRetries = 5

// Commit sends the batch and resubmits unprocessed items with backoff.
func (b *batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if b.n > MaxBatchSize {
		return fmt.Errorf("%w: %d ops, limit %d", docstore.ErrBatchTooLarge, b.n, MaxBatchSize)
	}
	pending := b.requests
	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt > maxUnprocessedRetries {
			return fmt.Errorf("batch write: %d tables still unprocessed after %d retries", len(pending), maxUnprocessedRetries)
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 50 * time.Millisecond):
			}
		}
		out, err := b.store.db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch writing to DynamoDB: %w", err)
		}
		pending = out.UnprocessedItems
	}
	b.requests = make(map[string][]types.WriteRequest)
	b.n = 0
	return nil
}

func marshalItem(id string, data map[string]any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling item %s: %w", id, err)
	}
	if item == nil {
		item = make(map[string]types.AttributeValue)
	}
	item[keyAttr] = &types.AttributeValueMemberS{Value: id}
	return item, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (*docstore.Document, error) {
	var data map[string]any
	if err := attributevalue.UnmarshalMap(item, &data); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	id := docstore.String(data[keyAttr])
	delete(data, keyAttr)
	return &docstore.Document{ID: id, Data: data}, nil
}

// expression accumulates placeholder names and values. Field names go
// through #placeholders because investor columns carry spaces
// ("Partner Email") and may collide with reserved words.
type expression struct {
	names  map[string]string
	values map[string]types.AttributeValue
	n      int
	v      int
}

func newExpression() *expression {
	return &expression{names: make(map[string]string), values: make(map[string]types.AttributeValue)}
}

func (e *expression) name(field string) string {
	for k, v := range e.names {
		if v == field {
			return k
		}
	}
	p := fmt.Sprintf("#f%d", e.n)
	e.n++
	e.names[p] = field
	return p
}

func (e *expression) value(av types.AttributeValue) string {
	p := fmt.Sprintf(":v%d", e.v)
	e.v++
	e.values[p] = av
	return p
}

func (e *expression) marshal(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling expression value: %w", err)
	}
	return e.value(av), nil
}

func (e *expression) exists() string {
	return fmt.Sprintf("attribute_exists(%s)", e.name(keyAttr))
}

func (e *expression) setClause(fields map[string]any) (string, error) {
	parts := make([]string, 0, len(fields))
	for _, f := range sortedKeys(fields) {
		name := e.name(f)
		p, err := e.marshal(fields[f])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", f, err)
		}
		parts = append(parts, fmt.Sprintf("%s = %s", name, p))
	}
	return "SET " + strings.Join(parts, ", "), nil
}

func (e *expression) filterClause(filters []docstore.Filter) (string, error) {
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		name := e.name(f.Field)
		placeholders := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			p, err := e.marshal(v)
			if err != nil {
				return "", err
			}
			placeholders = append(placeholders, p)
		}
		switch f.Op {
		case docstore.OpEqual:
			conds = append(conds, fmt.Sprintf("%s = %s", name, placeholders[0]))
		case docstore.OpIn:
			conds = append(conds, fmt.Sprintf("%s IN (%s)", name, strings.Join(placeholders, ", ")))
		}
	}
	return strings.Join(conds, " AND "), nil
}

func (e *expression) mutation(m docstore.Mutation) (update, cond string, err error) {
	cond = e.exists()
	var clauses []string

	if u := m.AppendUnique; u != nil {
		field := e.name(u.Field)
		empty := e.value(&types.AttributeValueMemberL{Value: []types.AttributeValue{}})
		list := e.value(&types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberS{Value: u.Value},
		}})
		member := e.value(&types.AttributeValueMemberS{Value: u.Value})
		clauses = append(clauses, fmt.Sprintf("SET %s = list_append(if_not_exists(%s, %s), %s)", field, field, empty, list))
		cond += fmt.Sprintf(" AND NOT contains(%s, %s)", field, member)
	}

	if len(m.Increments) > 0 {
		adds := make([]string, 0, len(m.Increments))
		for _, f := range sortedKeys(m.Increments) {
			p, err := e.marshal(m.Increments[f])
			if err != nil {
				return "", "", err
			}
			adds = append(adds, fmt.Sprintf("%s %s", e.name(f), p))
		}
		clauses = append(clauses, "ADD "+strings.Join(adds, ", "))
	}
	return strings.Join(clauses, " "), cond, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
