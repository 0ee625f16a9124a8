package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/docstore/internal/docstore"
	"github.com/gogotex/docstore/pkg/logger"
)

// Store is the subset of *docstore.Store the routes need.
type Store interface {
	Create(ctx context.Context, collection string, data docstore.Document) (string, error)
	Get(ctx context.Context, collection string, filter docstore.Filter, limit *int64) ([]docstore.Document, error)
	Update(ctx context.Context, collection string, filter docstore.Filter, patch docstore.Document) (bool, error)
	Delete(ctx context.Context, collection string, filter docstore.Filter) (bool, error)
}

// Request and response bodies are MongoDB Extended JSON, so dates and
// ObjectIDs survive the trip ({"$date": ...}, {"$oid": ...}).
type updateRequest struct {
	Filter docstore.Filter   `bson:"filter"`
	Patch  docstore.Document `bson:"patch"`
}

type deleteRequest struct {
	Filter docstore.Filter `bson:"filter"`
}

// RegisterDocumentRoutes mounts the collection CRUD routes under /api/collections.
func RegisterDocumentRoutes(r gin.IRouter, store Store) {
	g := r.Group("/api/collections/:collection")

	g.POST("", func(c *gin.Context) {
		var doc docstore.Document
		if err := bindExtJSON(c, &doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := store.Create(c.Request.Context(), c.Param("collection"), doc)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	})

	g.GET("", func(c *gin.Context) {
		var filter docstore.Filter
		if raw := c.Query("filter"); raw != "" {
			if err := bson.UnmarshalExtJSON([]byte(raw), false, &filter); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter: " + err.Error()})
				return
			}
		}
		var limit *int64
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = docstore.Limit(n)
		}
		docs, err := store.Get(c.Request.Context(), c.Param("collection"), filter, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		writeDocuments(c, docs)
	})

	g.PATCH("", func(c *gin.Context) {
		var req updateRequest
		if err := bindExtJSON(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Filter == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "filter is required"})
			return
		}
		ok, err := store.Update(c.Request.Context(), c.Param("collection"), req.Filter, req.Patch)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"modified": ok})
	})

	g.DELETE("", func(c *gin.Context) {
		var req deleteRequest
		if raw := c.Query("filter"); raw != "" {
			if err := bson.UnmarshalExtJSON([]byte(raw), false, &req.Filter); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter: " + err.Error()})
				return
			}
		} else if err := bindExtJSON(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Filter == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "filter is required"})
			return
		}
		ok, err := store.Delete(c.Request.Context(), c.Param("collection"), req.Filter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": ok})
	})
}

func bindExtJSON(c *gin.Context, v interface{}) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is empty")
	}
	return bson.UnmarshalExtJSON(body, false, v)
}

func writeDocuments(c *gin.Context, docs []docstore.Document) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range docs {
		b, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			logger.Errorf("encode document from %s: %v", c.Param("collection"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode documents"})
			return
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, docstore.ErrNotConfigured), errors.Is(err, docstore.ErrNotInitialized):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, docstore.ErrInvalidLimit), errors.Is(err, docstore.ErrFilterRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
