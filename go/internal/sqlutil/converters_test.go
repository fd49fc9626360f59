package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullRawMessage(t *testing.T) {
	assert.False(t, ToNullRawMessage(nil).Valid)
	assert.Nil(t, FromNullRawMessage(ToNullRawMessage(nil)))

	doc := []byte(`{"version":2}`)
	wrapped := ToNullRawMessage(doc)
	assert.True(t, wrapped.Valid)
	assert.JSONEq(t, string(doc), string(FromNullRawMessage(wrapped)))
}
