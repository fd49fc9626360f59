package sqlutil

import (
	"encoding/json"

	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go values and nullable JSONB columns

// ToNullRawMessage wraps a JSON document; an empty document is NULL.
func ToNullRawMessage(doc []byte) pqtype.NullRawMessage {
	if len(doc) == 0 {
		return pqtype.NullRawMessage{Valid: false}
	}
	return pqtype.NullRawMessage{RawMessage: json.RawMessage(doc), Valid: true}
}

// FromNullRawMessage returns the document or nil for NULL.
func FromNullRawMessage(val pqtype.NullRawMessage) []byte {
	if !val.Valid {
		return nil
	}
	return val.RawMessage
}
