package remote

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHTTP(t *testing.T) (*Memory, *HTTPClient) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := NewMemory()
	srv := httptest.NewServer(NewHandler(mem, log.New(io.Discard, "", 0)))
	t.Cleanup(srv.Close)

	return mem, NewHTTPClient(srv.URL, time.Second)
}

func TestHTTP_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem, client := setupHTTP(t)

	due := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	id, err := client.Push(ctx, Record{
		Type: testType,
		Key:  "k1",
		Fields: Fields{
			"title":       "Over the wire",
			"dueDate":     due,
			"isCompleted": 0,
			"sortOrder":   2,
		},
	})
	require.NoError(t, err)

	stored, ok := mem.Lookup(testType, "k1")
	require.True(t, ok)
	assert.Equal(t, id, stored.ID)

	records, err := client.Pull(ctx, testType, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Over the wire", records[0].Fields.String("title").Value)
	assert.Equal(t, 2, records[0].Fields.Int("sortOrder").Value)
	assert.True(t, records[0].Fields.Time("dueDate").Value.Equal(due))

	records, err = client.Pull(ctx, testType, records[0].ChangedAt)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, client.Delete(ctx, id))
	stored, _ = mem.Lookup(testType, "k1")
	assert.True(t, stored.Deleted)
}

func TestHTTP_ErrorClassification(t *testing.T) {
	ctx := context.Background()
	mem, client := setupHTTP(t)

	mem.SetFault(func(op Op, rec Record) error {
		switch {
		case op == OpPush && rec.Key == "rejected":
			return ErrRejected
		case op == OpPush && rec.Key == "flaky":
			return ErrTransient
		case op == OpDelete:
			return ErrNotFound
		}
		return nil
	})

	_, err := client.Push(ctx, Record{Type: testType, Key: "rejected"})
	assert.True(t, IsRejected(err), "got %v", err)

	_, err = client.Push(ctx, Record{Type: testType, Key: "flaky"})
	assert.True(t, IsTransient(err), "got %v", err)

	assert.NoError(t, client.Delete(ctx, "whatever"), "404 on delete counts as success")
}

func TestHTTP_StatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		rejected  bool
	}{
		{http.StatusBadRequest, false, true},
		{http.StatusConflict, false, true},
		{http.StatusUnprocessableEntity, false, true},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusTeapot, false, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, time.Second).Push(context.Background(), Record{Type: testType, Key: "k"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err), "transient: %v", err)
			assert.Equal(t, tt.rejected, IsRejected(err), "rejected: %v", err)
		})
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, time.Second).Pull(context.Background(), testType, time.Time{})
	assert.True(t, IsTransient(err), "got %v", err)
}

func TestHandler_BadRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewMemory(), log.New(io.Discard, "", 0))

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"missing type", http.MethodGet, "/v1/records", http.StatusBadRequest},
		{"bad since", http.MethodGet, "/v1/records?type=T&since=yesterday", http.StatusBadRequest},
		{"unknown record", http.MethodGet, "/v1/records/nope", http.StatusNotFound},
		{"health", http.MethodGet, "/healthz", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
