package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSupabase(t *testing.T, handler http.HandlerFunc, maxBytes int64) *SupabaseStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := NewSupabaseStore(SupabaseConfig{URL: srv.URL + "/", ServiceKey: "service-key", Bucket: "syllabi", MaxBytes: maxBytes}, srv.Client(), discard)
	require.NoError(t, err)
	return s
}

func TestSupabaseStore_Probe(t *testing.T) {
	s := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/list/syllabi", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 1, body["limit"])
		_, _ = w.Write([]byte(`[]`))
	}, 0)

	require.NoError(t, s.Probe(context.Background()))
}

func TestSupabaseStore_ProbeServerError(t *testing.T) {
	s := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}, 0)

	err := s.Probe(context.Background())
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.True(t, IsRetryable(err))
}

func TestSupabaseStore_Fetch(t *testing.T) {
	s := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/storage/v1/object/syllabi/user-1/abc-Bio 101.pdf", r.URL.Path)
		_, _ = w.Write([]byte("%PDF-1.7 body"))
	}, 0)

	data, err := s.Fetch(context.Background(), "user-1/abc-Bio 101.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(data))
}

func TestSupabaseStore_FetchNotFound(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"404": func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		},
		"400 with not_found body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"statusCode":"404","error":"not_found","message":"Object not found"}`))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			s := newSupabase(t, h, 0)
			_, err := s.Fetch(context.Background(), "user-1/missing.pdf")
			assert.ErrorIs(t, err, common.ErrNotFound)
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestSupabaseStore_FetchHonoursDeadline(t *testing.T) {
	s := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Fetch(ctx, "user-1/slow.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSupabaseStore_FetchTooLarge(t *testing.T) {
	s := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}, 4)

	_, err := s.Fetch(context.Background(), "user-1/big.pdf")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.False(t, IsRetryable(err))
}

func TestNewSupabaseStore_RequiresConfig(t *testing.T) {
	_, err := NewSupabaseStore(SupabaseConfig{URL: "http://x"}, nil, discard)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestFSStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "user-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "user-1", "abc-syllabus.txt"), []byte("Week 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "user-1", "empty.txt"), nil, 0o644))

	s := NewFSStore(root, 0, discard)
	ctx := context.Background()

	require.NoError(t, s.Probe(ctx))

	data, err := s.Fetch(ctx, "user-1/abc-syllabus.txt")
	require.NoError(t, err)
	assert.Equal(t, "Week 1", string(data))

	data, err = s.Fetch(ctx, "user-1/empty.txt")
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = s.Fetch(ctx, "user-1/missing.txt")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.Fetch(ctx, "../outside.txt")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	assert.Error(t, NewFSStore(filepath.Join(root, "nope"), 0, discard).Probe(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Fetch(cancelled, "user-1/abc-syllabus.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
	assert.True(t, IsRetryable(&StatusError{Op: "fetch", Code: 503}))
	assert.False(t, IsRetryable(&StatusError{Op: "fetch", Code: 403}))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestNew(t *testing.T) {
	s, err := New(Config{Backend: "fs", Root: t.TempDir()}, discard)
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, s)

	_, err = New(Config{Backend: "s3"}, discard)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestSupabaseStore_Put(t *testing.T) {
	s := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/syllabi/user-1/abc-notes.txt", r.URL.Path)
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "Week 2", string(body))
		_, _ = w.Write([]byte(`{"Key":"syllabi/user-1/abc-notes.txt"}`))
	}, 0)

	require.NoError(t, s.Put(context.Background(), "user-1/abc-notes.txt", []byte("Week 2"), "text/plain"))
	assert.ErrorIs(t, s.Put(context.Background(), "", nil, ""), common.ErrInvalidInput)
}

func TestFSStore_Put(t *testing.T) {
	s := NewFSStore(t.TempDir(), 0, discard)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "user-2/ff00-plan.md", []byte("# Plan"), ""))
	data, err := s.Fetch(ctx, "user-2/ff00-plan.md")
	require.NoError(t, err)
	assert.Equal(t, "# Plan", string(data))

	assert.ErrorIs(t, s.Put(ctx, "/abs/path", []byte("x"), ""), common.ErrInvalidInput)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "fetch returned status 403", Describe(&StatusError{Op: "fetch", Code: 403, Body: "secret body"}))
	assert.Equal(t, "probe returned status 500", Describe(fmt.Errorf("wrapped: %w", &StatusError{Op: "probe", Code: 500})))
	assert.Equal(t, ErrTooLarge.Error(), Describe(ErrTooLarge))
	assert.Equal(t, "invalid artifact reference", Describe(common.ErrInvalidInput))
	assert.Equal(t, "request timed out", Describe(context.DeadlineExceeded))
	assert.Equal(t, "unexpected storage error", Describe(errors.New("open /srv/artifacts/user-1/x.pdf: permission denied")))
	assert.Equal(t, "", Describe(nil))
}
