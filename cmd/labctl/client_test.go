package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendsBearerAndPrintsJSON(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"revoked":2}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	c := newClient(&clientOptions{BaseURL: srv.URL + "/", APIKey: "k1"})
	require.NoError(t, c.call(context.Background(), &out, http.MethodDelete, "/v1/credentials", nil))

	assert.Equal(t, "Bearer k1", gotAuth)
	assert.Equal(t, "/v1/credentials", gotPath)
	assert.Contains(t, out.String(), `"revoked": 2`)
}

func TestClient_ErrorStatusIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":{"kind":"partner_unavailable","message":"partner unavailable"}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	c := newClient(&clientOptions{BaseURL: srv.URL, APIKey: "k1"})
	err := c.call(context.Background(), &out, http.MethodPost, "/v1/orders/sync", nil)

	assert.Error(t, err)
	assert.Contains(t, out.String(), "partner_unavailable")
}

func TestClient_RequiresAPIKey(t *testing.T) {
	c := newClient(&clientOptions{BaseURL: "http://localhost:8080"})
	assert.Error(t, c.call(context.Background(), &bytes.Buffer{}, http.MethodGet, "/v1/partner/stats", nil))
}
