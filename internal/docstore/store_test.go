package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/gogotex/docstore/internal/config"
	"github.com/gogotex/docstore/pkg/metrics"
)

func newMock(t *testing.T) *mtest.T {
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestStore_Unconfigured(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.False(t, s.Configured())

	before := testutil.ToFloat64(metrics.Operations.WithLabelValues(opDelete, "unconfigured"))

	data := Document{"name": "A"}
	_, err := s.Create(ctx, "users", data)
	require.ErrorIs(t, err, ErrNotConfigured)
	require.NotContains(t, data, FieldCreatedAt)

	_, err = s.Get(ctx, "users", nil, nil)
	require.ErrorIs(t, err, ErrNotConfigured)

	patch := Document{"age": 31}
	_, err = s.Update(ctx, "users", Filter{"email": "a@x.com"}, patch)
	require.ErrorIs(t, err, ErrNotConfigured)
	require.NotContains(t, patch, FieldUpdatedAt)

	_, err = s.Delete(ctx, "users", Filter{"email": "a@x.com"})
	require.ErrorIs(t, err, ErrNotInitialized)
	require.False(t, errors.Is(err, ErrNotConfigured))
	require.NotEqual(t, ErrNotConfigured.Error(), ErrNotInitialized.Error())

	require.Equal(t, before+1, testutil.ToFloat64(metrics.Operations.WithLabelValues(opDelete, "unconfigured")))
	require.NoError(t, s.Close(ctx))
}

func TestOpen_UnconfiguredWhenValuesMissing(t *testing.T) {
	cases := []config.DatabaseConfig{
		{},
		{URL: "mongodb://localhost:27017"},
		{Name: "app"},
	}
	for _, cfg := range cases {
		s, err := Open(context.Background(), cfg)
		require.NoError(t, err)
		require.False(t, s.Configured())
	}
}

func TestOpen_InvalidURI(t *testing.T) {
	s, err := Open(context.Background(), config.DatabaseConfig{URL: "not-a-uri", Name: "app", Timeout: time.Second})
	require.Error(t, err)
	require.Nil(t, s)
}

func TestStore_Create(t *testing.T) {
	mt := newMock(t)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.FixedZone("CET", 3600))

	mt.Run("sets timestamps and generated id", func(mt *mtest.T) {
		s := New(mt.DB)
		s.now = fixedClock(clock)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		data := Document{"name": "A", "email": "a@x.com"}
		id, err := s.Create(context.Background(), "users", data)
		require.NoError(mt, err)

		oid, ok := data[FieldID].(primitive.ObjectID)
		require.True(mt, ok)
		require.Equal(mt, oid.Hex(), id)

		created, ok := data[FieldCreatedAt].(time.Time)
		require.True(mt, ok)
		require.Equal(mt, created, data[FieldUpdatedAt])
		require.Equal(mt, time.UTC, created.Location())
		require.True(mt, created.Equal(clock.Truncate(time.Millisecond)))
	})

	mt.Run("keeps caller supplied id", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		id, err := s.Create(context.Background(), "users", Document{"_id": "user-1"})
		require.NoError(mt, err)
		require.Equal(mt, "user-1", id)
	})

	mt.Run("nil data still inserts", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		id, err := s.Create(context.Background(), "users", nil)
		require.NoError(mt, err)
		require.Len(mt, id, 24)
	})

	mt.Run("driver error propagates", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		_, err := s.Create(context.Background(), "users", Document{"_id": "user-1"})
		require.Error(mt, err)
		require.True(mt, mongo.IsDuplicateKeyError(err))
	})
}

func TestStore_Get(t *testing.T) {
	mt := newMock(t)

	mt.Run("returns matches", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "app.users", mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: primitive.NewObjectID()},
				{Key: "name", Value: "A"},
				{Key: "email", Value: "a@x.com"},
			}))

		docs, err := s.Get(context.Background(), "users", Filter{"email": "a@x.com"}, nil)
		require.NoError(mt, err)
		require.Len(mt, docs, 1)
		require.Equal(mt, "A", docs[0]["name"])
		require.Equal(mt, "a@x.com", docs[0]["email"])
	})

	mt.Run("timestamps come back as time.Time", func(mt *mtest.T) {
		s := New(mt.DB)
		stamp := time.Date(2024, 5, 1, 11, 0, 0, 123000000, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "app.users", mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: primitive.NewObjectID()},
				{Key: FieldCreatedAt, Value: primitive.NewDateTimeFromTime(stamp)},
				{Key: FieldUpdatedAt, Value: primitive.NewDateTimeFromTime(stamp)},
				{Key: "born", Value: primitive.NewDateTimeFromTime(stamp)},
			}))

		docs, err := s.Get(context.Background(), "users", nil, nil)
		require.NoError(mt, err)
		require.Len(mt, docs, 1)
		require.Equal(mt, stamp, docs[0][FieldCreatedAt])
		require.Equal(mt, stamp, docs[0][FieldUpdatedAt])
		require.IsType(mt, primitive.DateTime(0), docs[0]["born"])
	})

	mt.Run("no matches is an empty slice", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "app.users", mtest.FirstBatch))

		docs, err := s.Get(context.Background(), "users", Filter{"nonexistent_field": "x"}, nil)
		require.NoError(mt, err)
		require.NotNil(mt, docs)
		require.Empty(mt, docs)
	})

	mt.Run("positive limit is sent", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "app.users", mtest.FirstBatch))

		_, err := s.Get(context.Background(), "users", nil, Limit(5))
		require.NoError(mt, err)

		ev := mt.GetStartedEvent()
		require.NotNil(mt, ev)
		require.Equal(mt, "find", ev.CommandName)
		n, ok := ev.Command.Lookup("limit").Int64OK()
		require.True(mt, ok)
		require.Equal(mt, int64(5), n)
	})

	mt.Run("zero limit means no limit", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "app.users", mtest.FirstBatch))

		_, err := s.Get(context.Background(), "users", nil, Limit(0))
		require.NoError(mt, err)

		ev := mt.GetStartedEvent()
		require.NotNil(mt, ev)
		_, lerr := ev.Command.LookupErr("limit")
		require.Error(mt, lerr)
	})

	mt.Run("negative limit is rejected", func(mt *mtest.T) {
		s := New(mt.DB)

		_, err := s.Get(context.Background(), "users", nil, Limit(-1))
		require.ErrorIs(mt, err, ErrInvalidLimit)
	})
}

func TestStore_Update(t *testing.T) {
	mt := newMock(t)

	mt.Run("modified", func(mt *mtest.T) {
		s := New(mt.DB)
		s.now = fixedClock(time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC))
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		patch := Document{"age": int32(31)}
		ok, err := s.Update(context.Background(), "users", Filter{"email": "a@x.com"}, patch)
		require.NoError(mt, err)
		require.True(mt, ok)

		require.Equal(mt, time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC), patch[FieldUpdatedAt])
		require.NotContains(mt, patch, FieldCreatedAt)

		ev := mt.GetStartedEvent()
		require.NotNil(mt, ev)
		require.Equal(mt, "update", ev.CommandName)
		set := ev.Command.Lookup("updates", "0", "u", "$set")
		require.Equal(mt, bson.TypeEmbeddedDocument, set.Type)
		require.Equal(mt, bson.TypeDateTime, set.Document().Lookup(FieldUpdatedAt).Type)
		require.Equal(mt, int32(31), set.Document().Lookup("age").Int32())
		if multi, err := ev.Command.LookupErr("updates", "0", "multi"); err == nil {
			require.False(mt, multi.Boolean())
		}
	})

	mt.Run("nil filter is rejected", func(mt *mtest.T) {
		s := New(mt.DB)

		patch := Document{"age": int32(31)}
		ok, err := s.Update(context.Background(), "users", nil, patch)
		require.ErrorIs(mt, err, ErrFilterRequired)
		require.False(mt, ok)
		require.NotContains(mt, patch, FieldUpdatedAt)
		require.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("empty filter is sent as is", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		ok, err := s.Update(context.Background(), "users", Filter{}, Document{"age": int32(31)})
		require.NoError(mt, err)
		require.True(mt, ok)

		ev := mt.GetStartedEvent()
		require.NotNil(mt, ev)
		q := ev.Command.Lookup("updates", "0", "q")
		require.Equal(mt, bson.TypeEmbeddedDocument, q.Type)
		elems, err := q.Document().Elements()
		require.NoError(mt, err)
		require.Empty(mt, elems)
	})

	mt.Run("unchanged or unmatched reports false", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
		))
		ok, err := s.Update(context.Background(), "users", Filter{"email": "a@x.com"}, Document{"age": 31})
		require.NoError(mt, err)
		require.False(mt, ok)

		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))
		ok, err = s.Update(context.Background(), "users", Filter{"email": "nobody@x.com"}, Document{"age": 31})
		require.NoError(mt, err)
		require.False(mt, ok)
	})

	mt.Run("nil patch sets only updated_at", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		ok, err := s.Update(context.Background(), "users", Filter{"email": "a@x.com"}, nil)
		require.NoError(mt, err)
		require.True(mt, ok)
	})

	mt.Run("server error propagates", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "unknown operator: $bogus",
		}))
		_, err := s.Update(context.Background(), "users", Filter{"age": bson.M{"$bogus": 1}}, Document{"age": 1})
		require.Error(mt, err)
		var se mongo.ServerError
		require.True(mt, errors.As(err, &se))
		require.True(mt, se.HasErrorCode(2))
	})
}

func TestStore_Delete(t *testing.T) {
	mt := newMock(t)

	mt.Run("deleted", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		ok, err := s.Delete(context.Background(), "users", Filter{"email": "a@x.com"})
		require.NoError(mt, err)
		require.True(mt, ok)

		ev := mt.GetStartedEvent()
		require.NotNil(mt, ev)
		require.Equal(mt, "delete", ev.CommandName)
		require.Equal(mt, int32(1), ev.Command.Lookup("deletes", "0", "limit").Int32())
	})

	mt.Run("nothing matched", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))

		ok, err := s.Delete(context.Background(), "users", Filter{"email": "a@x.com"})
		require.NoError(mt, err)
		require.False(mt, ok)
	})

	mt.Run("nil filter is rejected", func(mt *mtest.T) {
		s := New(mt.DB)

		ok, err := s.Delete(context.Background(), "users", nil)
		require.ErrorIs(mt, err, ErrFilterRequired)
		require.False(mt, ok)
		require.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("empty filter is sent as is", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		ok, err := s.Delete(context.Background(), "users", Filter{})
		require.NoError(mt, err)
		require.True(mt, ok)

		ev := mt.GetStartedEvent()
		require.NotNil(mt, ev)
		elems, err := ev.Command.Lookup("deletes", "0", "q").Document().Elements()
		require.NoError(mt, err)
		require.Empty(mt, elems)
	})
}

func TestStore_UnconfiguredWinsOverMissingFilter(t *testing.T) {
	s := New(nil)

	_, err := s.Update(context.Background(), "users", nil, nil)
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = s.Delete(context.Background(), "users", nil)
	require.ErrorIs(t, err, ErrNotInitialized)
}
