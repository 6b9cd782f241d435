// Package artifact reads uploaded syllabus documents from object storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

// Store is the read side of the artifact bucket. Both calls must return
// promptly once ctx is done.
type Store interface {
	// Probe performs a cheap connectivity check against the store.
	Probe(ctx context.Context) error
	// Fetch downloads the full artifact stored under ref.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Writer uploads artifacts. Both backends implement it.
type Writer interface {
	Put(ctx context.Context, ref string, data []byte, contentType string) error
}

// ReadWriter is a Store that can also upload.
type ReadWriter interface {
	Store
	Writer
}

// ErrTooLarge is returned when an artifact exceeds the configured size cap.
var ErrTooLarge = errors.New("artifact too large")

// StatusError is a non-2xx answer from a remote store.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Code)
}

// Describe summarizes a store error for the job's owner. The op and status
// code survive; response bodies, URLs and paths stay in the logs.
func Describe(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return fmt.Sprintf("%s returned status %d", se.Op, se.Code)
	case errors.Is(err, ErrTooLarge):
		return ErrTooLarge.Error()
	case errors.Is(err, common.ErrInvalidInput):
		return "invalid artifact reference"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return "network error"
	}
	return "unexpected storage error"
}

// IsRetryable reports whether a failed Fetch may succeed if tried again:
// transport errors and 5xx answers are, deadlines and missing objects are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, ErrTooLarge) || errors.Is(err, common.ErrInvalidInput) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return !ne.Timeout()
	}
	return true
}

// Config selects and configures a Store.
type Config struct {
	Backend    string // supabase | fs
	URL        string
	ServiceKey string
	Bucket     string
	Root       string
	MaxBytes   int64
}

// New builds the configured Store.
func New(cfg Config, logger *slog.Logger) (ReadWriter, error) {
	switch cfg.Backend {
	case "supabase":
		s, err := NewSupabaseStore(SupabaseConfig{
			URL:        cfg.URL,
			ServiceKey: cfg.ServiceKey,
			Bucket:     cfg.Bucket,
			MaxBytes:   cfg.MaxBytes,
		}, nil, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "fs":
		return NewFSStore(cfg.Root, cfg.MaxBytes, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q: %w", cfg.Backend, common.ErrInvalidInput)
	}
}
