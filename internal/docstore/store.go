// Package docstore is a small convenience layer over a MongoDB database:
// create, read, update and delete on named collections with automatic
// created_at/updated_at timestamps.
//
// A Store is built once at startup and shared. When the database is not
// configured the Store still exists, but every operation fails with
// ErrNotConfigured (Delete with ErrNotInitialized) without touching the network.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gogotex/docstore/internal/config"
	"github.com/gogotex/docstore/internal/database"
	"github.com/gogotex/docstore/pkg/logger"
	"github.com/gogotex/docstore/pkg/metrics"
)

const (
	opCreate = "create"
	opGet    = "get"
	opUpdate = "update"
	opDelete = "delete"
)

// Store wraps an optional database handle. It is read-only after
// construction and safe for concurrent use.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// New wraps an existing database handle. A nil db yields an unconfigured store.
func New(db *mongo.Database) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to the configured database. When the URL or the database name
// is missing it returns an unconfigured store and no error; it never retries.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if !cfg.Enabled() {
		logger.Warnf("document store not configured (url=%v name=%v)", cfg.URL != "", cfg.Name != "")
		return New(nil), nil
	}
	client, err := database.ConnectMongo(ctx, cfg.URL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	s := New(client.Database(cfg.Name))
	s.client = client
	logger.Infof("document store bound to database %q", cfg.Name)
	return s, nil
}

// Configured reports whether a database handle is present.
func (s *Store) Configured() bool { return s.db != nil }

// Close disconnects a client opened by Open. Stores built with New leave the
// client to their owner.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// timestamp is millisecond precision, the resolution BSON dates keep.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Create inserts data into collection and returns the new id as text.
// data is modified in place: created_at and updated_at are set to the same
// UTC instant and _id is filled with a new ObjectID when absent.
func (s *Store) Create(ctx context.Context, collection string, data Document) (id string, err error) {
	defer observe(opCreate, time.Now(), &err)
	if s.db == nil {
		return "", ErrNotConfigured
	}
	if data == nil {
		data = Document{}
	}

	now := s.timestamp()
	data[FieldCreatedAt] = now
	data[FieldUpdatedAt] = now
	if _, ok := data[FieldID]; !ok {
		data[FieldID] = primitive.NewObjectID()
	}

	res, err := s.db.Collection(collection).InsertOne(ctx, data)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	return idString(res.InsertedID), nil
}

// Get returns every document in collection matching filter; a nil filter
// matches all. created_at and updated_at come back as UTC time.Time.
// A nil or zero limit returns all matches, a positive limit caps
// the count. No sort is applied.
func (s *Store) Get(ctx context.Context, collection string, filter Filter, limit *int64) (docs []Document, err error) {
	defer observe(opGet, time.Now(), &err)
	if s.db == nil {
		return nil, ErrNotConfigured
	}
	if limit != nil && *limit < 0 {
		return nil, ErrInvalidLimit
	}
	if filter == nil {
		filter = Filter{}
	}

	opts := options.Find()
	if limit != nil && *limit > 0 {
		opts.SetLimit(*limit)
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read %s cursor: %w", collection, err)
	}
	if docs == nil {
		docs = []Document{}
	}
	for _, d := range docs {
		decodeTimestamps(d)
	}
	return docs, nil
}

// decodeTimestamps turns the stored created_at/updated_at dates back into
// UTC time.Time values, the type Create and Update put in the caller's map.
func decodeTimestamps(d Document) {
	for _, f := range []string{FieldCreatedAt, FieldUpdatedAt} {
		if dt, ok := d[f].(primitive.DateTime); ok {
			d[f] = dt.Time().UTC()
		}
	}
}

// Update applies patch with $set to the first document matching filter and
// reports whether a field value actually changed. A nil filter is rejected
// with ErrFilterRequired; pass an empty Filter to match any document.
// patch is modified in place with a fresh updated_at; created_at is never
// touched.
func (s *Store) Update(ctx context.Context, collection string, filter Filter, patch Document) (modified bool, err error) {
	defer observe(opUpdate, time.Now(), &err)
	if s.db == nil {
		return false, ErrNotConfigured
	}
	if filter == nil {
		return false, ErrFilterRequired
	}
	if patch == nil {
		patch = Document{}
	}

	patch[FieldUpdatedAt] = s.timestamp()

	res, err := s.db.Collection(collection).UpdateOne(ctx, filter, bson.M{"$set": patch})
	if err != nil {
		return false, fmt.Errorf("update in %s: %w", collection, err)
	}
	return res.ModifiedCount > 0, nil
}

// Delete removes the first document matching filter and reports whether one
// was removed. A nil filter is rejected with ErrFilterRequired.
func (s *Store) Delete(ctx context.Context, collection string, filter Filter) (deleted bool, err error) {
	defer observe(opDelete, time.Now(), &err)
	if s.db == nil {
		return false, ErrNotInitialized
	}
	if filter == nil {
		return false, ErrFilterRequired
	}

	res, err := s.db.Collection(collection).DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return res.DeletedCount > 0, nil
}

func observe(op string, start time.Time, errp *error) {
	err := *errp
	switch {
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrNotInitialized):
		metrics.Operations.WithLabelValues(op, "unconfigured").Inc()
		return
	case err != nil:
		metrics.Operations.WithLabelValues(op, "error").Inc()
	default:
		metrics.Operations.WithLabelValues(op, "ok").Inc()
	}
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
