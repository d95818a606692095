// Package mongodb is a MongoDB docstore backend. Each collection maps to a
// MongoDB collection named <prefix><collection> and the document id is
// stored as _id.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ignite/campaign-mailer/internal/docstore"
)

// MaxBatchSize bounds one BulkWrite round.
const MaxBatchSize = 500

const keyField = "_id"

// Collection is the subset of *mongo.Collection the store uses.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// Store implements docstore.Store on MongoDB.
type Store struct {
	client *mongo.Client
	coll   func(name string) Collection
}

var _ docstore.Store = (*Store)(nil)

// Connect dials uri, verifies the connection and returns a store over
// database.
func Connect(ctx context.Context, uri, database, prefix string) (*Store, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}
	db := client.Database(database)
	return &Store{
		client: client,
		coll:   func(name string) Collection { return db.Collection(prefix + name) },
	}, nil
}

// New creates a store that resolves collections through coll.
func New(coll func(name string) Collection) *Store {
	return &Store{coll: coll}
}

// Client exposes the underlying client for health checks; nil when the
// store was built with New.
func (s *Store) Client() *mongo.Client { return s.client }

func byID(id string) bson.M { return bson.M{keyField: id} }

func fields(data map[string]any) bson.M {
	doc := make(bson.M, len(data)+1)
	for k, v := range data {
		if k != keyField {
			doc[k] = v
		}
	}
	return doc
}

func withID(id string, data map[string]any) bson.M {
	doc := fields(data)
	doc[keyField] = id
	return doc
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := docstore.NewID()
	if _, err := s.coll(collection).InsertOne(ctx, withID(id, data)); err != nil {
		return "", fmt.Errorf("inserting %s document: %w", collection, err)
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	var err error
	if merge {
		// An upsert takes _id from the equality filter.
		_, err = s.coll(collection).UpdateOne(ctx, byID(id),
			bson.M{"$set": fields(data)}, options.Update().SetUpsert(true))
	} else {
		_, err = s.coll(collection).ReplaceOne(ctx, byID(id),
			withID(id, data), options.Replace().SetUpsert(true))
	}
	if err != nil {
		return fmt.Errorf("upserting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var raw bson.M
	err := s.coll(collection).FindOne(ctx, byID(id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s/%s: %w", collection, id, err)
	}
	doc := toDocument(raw)
	if doc.ID == "" {
		doc.ID = id
	}
	return &doc, nil
}

// Query matches stored values as-is, so filters must use the same types the
// documents were written with (list ids and emails are strings).
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if err := docstore.ValidateFilters(filters); err != nil {
		return nil, err
	}
	cur, err := s.coll(collection).Find(ctx, buildFilter(filters),
		options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("reading %s cursor: %w", collection, err)
	}
	docs := make([]docstore.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toDocument(raw))
	}
	return docs, nil
}

func buildFilter(filters []docstore.Filter) bson.M {
	f := bson.M{}
	for _, flt := range filters {
		switch flt.Op {
		case docstore.OpEqual:
			f[flt.Field] = flt.Values[0]
		case docstore.OpIn:
			f[flt.Field] = bson.M{"$in": flt.Values}
		}
	}
	return f
}

func (s *Store) Update(ctx context.Context, collection, id string, changes map[string]any) error {
	res, err := s.coll(collection).UpdateOne(ctx, byID(id), bson.M{"$set": fields(changes)})
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.coll(collection).DeleteOne(ctx, byID(id)); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

// Mutate issues one UpdateOne whose filter excludes documents already
// holding the member, so the check and the write are a single atomic step.
// A zero match is disambiguated with an existence count.
func (s *Store) Mutate(ctx context.Context, collection, id string, m docstore.Mutation) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	filter, update := buildMutation(id, m)
	c := s.coll(collection)
	res, err := c.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mutating %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := c.CountDocuments(ctx, byID(id), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return false, docstore.ErrNotFound
	}
	return false, nil
}

func buildMutation(id string, m docstore.Mutation) (bson.M, bson.M) {
	filter := byID(id)
	update := bson.M{}
	if len(m.Increments) > 0 {
		inc := bson.M{}
		for f, d := range m.Increments {
			inc[f] = d
		}
		update["$inc"] = inc
	}
	if u := m.AppendUnique; u != nil {
		filter[u.Field] = bson.M{"$ne": u.Value}
		update["$push"] = bson.M{u.Field: u.Value}
	}
	return filter, update
}

func (s *Store) NewBatch() docstore.Batch {
	return &batch{store: s}
}

func (s *Store) MaxBatchSize() int { return MaxBatchSize }

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type batch struct {
	store *Store
	ops   map[string][]mongo.WriteModel
	n     int
}

func (b *batch) add(collection string, m mongo.WriteModel) {
	if b.ops == nil {
		b.ops = make(map[string][]mongo.WriteModel)
	}
	b.ops[collection] = append(b.ops[collection], m)
	b.n++
}

func (b *batch) Set(collection, id string, data map[string]any) {
	b.add(collection, mongo.NewReplaceOneModel().
		SetFilter(byID(id)).
		SetReplacement(withID(id, data)).
		SetUpsert(true))
}

func (b *batch) Delete(collection, id string) {
	b.add(collection, mongo.NewDeleteOneModel().SetFilter(byID(id)))
}

func (b *batch) Len() int { return b.n }

// Commit sends one ordered BulkWrite per collection. Writes are atomic per
// document, not across the batch.
func (b *batch) Commit(ctx context.Context) error {
	if b.n > MaxBatchSize {
		return fmt.Errorf("%w: %d ops, limit %d", docstore.ErrBatchTooLarge, b.n, MaxBatchSize)
	}
	names := make([]string, 0, len(b.ops))
	for name := range b.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := b.store.coll(name).BulkWrite(ctx, b.ops[name], options.BulkWrite().SetOrdered(true)); err != nil {
			return fmt.Errorf("bulk write %s: %w", name, err)
		}
	}
	b.ops, b.n = nil, 0
	return nil
}

func toDocument(raw bson.M) docstore.Document {
	id := docstore.String(raw[keyField])
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == keyField {
			continue
		}
		data[k] = normalize(v)
	}
	return docstore.Document{ID: id, Data: data}
}

// normalize converts driver container types into plain maps and slices.
func normalize(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	}
	return v
}
