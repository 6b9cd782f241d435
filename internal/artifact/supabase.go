package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

// SupabaseConfig addresses one bucket of a Supabase Storage project.
type SupabaseConfig struct {
	URL        string // project URL, e.g. https://xyz.supabase.co
	ServiceKey string
	Bucket     string
	MaxBytes   int64
}

// SupabaseStore talks to the Supabase Storage REST API.
type SupabaseStore struct {
	cfg    SupabaseConfig
	http   *http.Client
	logger *slog.Logger
}

// NewSupabaseStore returns a store for cfg.Bucket. Deadlines come from the
// caller's context, so the default client carries no timeout of its own.
func NewSupabaseStore(cfg SupabaseConfig, client *http.Client, logger *slog.Logger) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("supabase store needs url, service key and bucket: %w", common.ErrInvalidInput)
	}
	if client == nil {
		client = &http.Client{}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &SupabaseStore{cfg: cfg, http: client, logger: common.OrDefault(logger)}, nil
}

func (s *SupabaseStore) Probe(ctx context.Context) error {
	endpoint := s.cfg.URL + "/storage/v1/object/list/" + url.PathEscape(s.cfg.Bucket)
	body := map[string]any{"prefix": "", "limit": 1, "offset": 0}
	_, err := s.do(ctx, "probe", http.MethodPost, endpoint, body)
	return err
}

func (s *SupabaseStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimLeft(ref, "/")
	if ref == "" {
		return nil, fmt.Errorf("empty artifact ref: %w", common.ErrInvalidInput)
	}
	return s.do(ctx, "fetch", http.MethodGet, s.objectURL(ref), nil)
}

// Put uploads data under ref, replacing any existing object.
func (s *SupabaseStore) Put(ctx context.Context, ref string, data []byte, contentType string) error {
	ref = strings.TrimLeft(ref, "/")
	if ref == "" {
		return fmt.Errorf("empty artifact ref: %w", common.ErrInvalidInput)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.send(ctx, "put", http.MethodPost, s.objectURL(ref), bytes.NewReader(data), contentType, map[string]string{"x-upsert": "true"})
	return err
}

func (s *SupabaseStore) objectURL(ref string) string {
	segments := strings.Split(ref, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.cfg.URL + "/storage/v1/object/" + url.PathEscape(s.cfg.Bucket) + "/" + strings.Join(segments, "/")
}

func (s *SupabaseStore) do(ctx context.Context, op, method, endpoint string, body any) ([]byte, error) {
	if body == nil {
		return s.send(ctx, op, method, endpoint, nil, "", nil)
	}
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return s.send(ctx, op, method, endpoint, bytes.NewReader(bs), "application/json", nil)
}

func (s *SupabaseStore) send(ctx context.Context, op, method, endpoint string, reader io.Reader, contentType string, headers map[string]string) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		s.logger.Error("artifact.http.build_request_error", "req_id", reqID, "op", op, "error", err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
	req.Header.Set("apikey", s.cfg.ServiceKey)

	s.logger.Debug("artifact.http.request", "req_id", reqID, "op", op, "method", method, "url", endpoint)

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Warn("artifact.http.send_error", "req_id", reqID, "op", op, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			s.logger.Warn("artifact.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Warn("artifact.http.status", "req_id", reqID, "op", op, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
		se := &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if resp.StatusCode == http.StatusNotFound || isNotFoundBody(snippet) {
			return nil, fmt.Errorf("%w: %w", common.ErrNotFound, se)
		}
		return nil, se
	}

	raw, err := readCapped(resp.Body, s.cfg.MaxBytes)
	if err != nil {
		s.logger.Warn("artifact.http.read_error", "req_id", reqID, "op", op, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("artifact.http.response",
		"req_id", reqID,
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return raw, nil
}

// Supabase answers a missing object with 400 and a JSON body naming the 404.
func isNotFoundBody(b []byte) bool {
	var payload struct {
		StatusCode string `json:"statusCode"`
		Error      string `json:"error"`
	}
	if json.Unmarshal(b, &payload) != nil {
		return false
	}
	return payload.StatusCode == "404" || strings.EqualFold(payload.Error, "not_found")
}

func readCapped(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	return raw, nil
}
