package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRequestSendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/rooms/r1", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.URL + "/")
	c.SetHeader("Authorization", "Bearer abc")

	got, err := c.Put(context.Background(), "/rooms/r1", "application/json", strings.NewReader(`{"ok":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))
}

func TestMakeRequestReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stale version", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := NewBaseClient(srv.URL).Get(context.Background(), "/x")
	require.Error(t, err)
	assert.True(t, HasStatus(err, http.StatusConflict))
	assert.False(t, HasStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "conflict")
}

func TestMakeRequestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewBaseClient(url).Get(context.Background(), "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network request failed")
}
