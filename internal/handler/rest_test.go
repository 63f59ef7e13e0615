package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onex/noderuntime/internal/contract"
)

func TestRESTHandlerExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u-42", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"name": "Ada"})
	}))
	defer srv.Close()

	h := NewRESTHandler()
	require.NoError(t, h.Init(context.Background(), contract.Connection{URL: srv.URL, TimeoutMS: 5000}))
	defer h.Shutdown(context.Background())

	resp := h.Execute(context.Background(), Request{
		Operation: "lookup",
		REST: &RESTCall{
			Method:  http.MethodGet,
			Path:    "/users/u-42",
			Headers: map[string]string{"Authorization": "Bearer tok"},
		},
	})

	require.NoError(t, resp.Err)
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"name": "Ada"}, resp.Data)
	assert.GreaterOrEqual(t, resp.DurationMS, int64(0))
}

func TestRESTHandlerExecuteNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	h := NewRESTHandler()
	require.NoError(t, h.Init(context.Background(), contract.Connection{URL: srv.URL}))
	defer h.Shutdown(context.Background())

	resp := h.Execute(context.Background(), Request{
		REST: &RESTCall{Method: http.MethodGet, Path: "/missing"},
	})

	require.NoError(t, resp.Err)
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRESTHandlerExecuteWithJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u-42", body["id"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	h := NewRESTHandler()
	require.NoError(t, h.Init(context.Background(), contract.Connection{URL: srv.URL}))
	defer h.Shutdown(context.Background())

	resp := h.Execute(context.Background(), Request{
		REST: &RESTCall{
			Method: http.MethodPost,
			Path:   "/users",
			Body:   map[string]interface{}{"id": "u-42"},
		},
	})

	require.NoError(t, resp.Err)
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRESTHandlerExecuteMissingCallErrors(t *testing.T) {
	h := NewRESTHandler()
	require.NoError(t, h.Init(context.Background(), contract.Connection{URL: "http://example.invalid"}))
	defer h.Shutdown(context.Background())

	resp := h.Execute(context.Background(), Request{})
	assert.Error(t, resp.Err)
}
