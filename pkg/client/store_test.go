package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

func TestHTTPDocumentStore_GetDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/api/documents/two-sum":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"document": types.Document{ID: "two-sum", Name: "Two Sum", Content: "function f() {}"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := NewHTTPDocumentStore(server.URL+"/", nil)

	doc, err := store.GetDocument(context.Background(), "two-sum")
	require.NoError(t, err)
	assert.Equal(t, "Two Sum", doc.Name)
	assert.Equal(t, "function f() {}", doc.Content)

	_, err = store.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrDocumentNotFound)
}

func TestHTTPDocumentStore_PutDocumentContent(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/documents/r1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"document":{"id":"r1"}}`))
	}))
	defer server.Close()

	store := NewHTTPDocumentStore(server.URL, server.Client())
	require.NoError(t, store.PutDocumentContent(context.Background(), "r1", "final"))
	assert.Equal(t, map[string]string{"code": "final"}, got)
}

func TestHTTPDocumentStore_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewHTTPDocumentStore(server.URL, nil)

	err := store.PutDocumentContent(context.Background(), "r1", "x")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "500")
}
