package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(baseURL string) Options {
	return Options{
		BaseURL:   baseURL,
		Timeout:   time.Second,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	}
}

func TestInstantlyClient_ListEmails(t *testing.T) {
	var gotAuth, gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[],"data":[{"id":"e1"},{"id":"e2"}]}`))
	}))
	defer srv.Close()

	c := NewInstantlyClient(fastOptions(srv.URL))
	items, err := c.ListEmails(context.Background(), "key-1", "", 50)
	require.NoError(t, err)

	assert.Len(t, items, 2)
	assert.Equal(t, "Bearer key-1", gotAuth)
	assert.Equal(t, "/api/v2/emails", gotPath)
	assert.Equal(t, "50", gotLimit)
}

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"裸数组", `[{"id":"a"}]`, 1},
		{"data 包装", `{"data":[{"id":"a"},{"id":"b"}]}`, 2},
		{"results 包装", `{"results":[{"id":"a"}]}`, 1},
		{"空对象", `{}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := decodeList([]byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}

	_, err := decodeList([]byte(`"nope"`))
	assert.Error(t, err)
}

func TestPlusVibeClient_ListEmails(t *testing.T) {
	var gotKey, gotWorkspace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotWorkspace = r.URL.Query().Get("workspace_id")
		assert.Equal(t, "/api/v1/unibox/emails", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"1"},{"id":"2"},{"id":"3"}]}`))
	}))
	defer srv.Close()

	c := NewPlusVibeClient(fastOptions(srv.URL + "/api/v1"))
	items, err := c.ListEmails(context.Background(), "pv-key", "ws-9", 2)
	require.NoError(t, err)

	assert.Len(t, items, 2, "截断到 limit")
	assert.Equal(t, "pv-key", gotKey)
	assert.Equal(t, "ws-9", gotWorkspace)
}

func TestPlusVibeClient_RequiresWorkspace(t *testing.T) {
	c := NewPlusVibeClient(fastOptions("http://127.0.0.1:1"))
	_, err := c.ListEmails(context.Background(), "k", "", 10)
	assert.ErrorIs(t, err, ErrWorkspaceRequired)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewInstantlyClient(fastOptions(srv.URL))
	items, err := c.ListEmails(context.Background(), "k", "", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxTries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewInstantlyClient(fastOptions(srv.URL))
	_, err := c.ListEmails(context.Background(), "k", "", 10)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer srv.Close()

	c := NewInstantlyClient(fastOptions(srv.URL))
	_, err := c.ListEmails(context.Background(), "k", "", 10)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "bad key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewInstantlyClient(fastOptions(srv.URL))
	start := time.Now()
	_, err := c.ListEmails(ctx, "k", "", 10)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}
