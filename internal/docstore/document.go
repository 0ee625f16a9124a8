package docstore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Timestamp fields maintained by the store.
const (
	FieldID        = "_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Document is one schema-less record: field name to any BSON-encodable value
// (string, number, bool, time.Time, nested Document or bson.M, slices).
type Document map[string]any

// Filter is a Mongo query document. Operator sub-documents such as
// {"age": {"$lt": 25}} are passed to the server untouched.
type Filter map[string]any

// Limit returns a pointer suitable for the limit argument of Get.
func Limit(n int64) *int64 { return &n }

func idString(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
