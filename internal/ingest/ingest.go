// Package ingest uploads local syllabus files to the artifact store and
// submits a job for each one, either in one pass over a directory or
// continuously from a watched drop folder.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/internal/artifact"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
)

// DefaultExts are the document types accepted when none are configured.
var DefaultExts = map[string]struct{}{
	"pdf":  {},
	"txt":  {},
	"md":   {},
	"docx": {},
}

// Submitter records a job for an uploaded artifact. trigger.Service and
// server.Client satisfy it.
type Submitter interface {
	Submit(ctx context.Context, ownerID, artifactRef string, mode trigger.Mode) (*entity.Job, error)
}

// FileResult is the per-file ingest outcome.
type FileResult struct {
	Path         string
	JobID        uuid.UUID
	ArtifactRef  string
	Deduplicated bool
	HashHex      string
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

type Ingestor struct {
	store    artifact.Writer
	jobs     Submitter
	owner    string
	mode     trigger.Mode
	exts     map[string]struct{}
	maxBytes int64
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]FileResult // content hash -> first result
}

type Option func(*Ingestor)

func WithExts(exts []string) Option {
	return func(i *Ingestor) {
		if set := ParseExts(exts); len(set) > 0 {
			i.exts = set
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(i *Ingestor) { i.maxBytes = n }
}

func NewIngestor(store artifact.Writer, jobs Submitter, owner string, mode trigger.Mode, logger *slog.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:  store,
		jobs:   jobs,
		owner:  owner,
		mode:   mode,
		exts:   DefaultExts,
		logger: common.OrDefault(logger),
		seen:   make(map[string]FileResult),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// ParseExts normalizes a list like ".PDF, txt" into a lookup set.
func ParseExts(exts []string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, e := range exts {
		e = normalizeExt(e)
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func (i *Ingestor) allowed(path string) bool {
	_, ok := i.exts[normalizeExt(filepath.Ext(path))]
	return ok
}

// IngestPath uploads one file and submits a job for it. Files whose content
// was already ingested by this Ingestor are reported as deduplicated and
// not submitted again.
func (i *Ingestor) IngestPath(ctx context.Context, path string) (FileResult, error) {
	res := FileResult{Path: path}
	if !i.allowed(path) {
		return res, fmt.Errorf("unsupported or missing extension %q: %w", filepath.Ext(path), common.ErrInvalidInput)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return res, fmt.Errorf("%s is empty: %w", path, common.ErrInvalidInput)
	}
	if i.maxBytes > 0 && int64(len(data)) > i.maxBytes {
		return res, fmt.Errorf("%s: %w", path, artifact.ErrTooLarge)
	}

	sum := sha256.Sum256(data)
	res.HashHex = hex.EncodeToString(sum[:])

	i.mu.Lock()
	prev, dup := i.seen[res.HashHex]
	i.mu.Unlock()
	if dup {
		prev.Path = path
		prev.Deduplicated = true
		i.logger.Info("ingest.deduplicated", "path", path, "job_id", prev.JobID)
		return prev, nil
	}

	res.ArtifactRef = i.owner + "/" + uuid.NewString() + "-" + filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if err := i.store.Put(ctx, res.ArtifactRef, data, contentType); err != nil {
		return res, fmt.Errorf("upload %s: %w", path, err)
	}

	job, err := i.jobs.Submit(ctx, i.owner, res.ArtifactRef, i.mode)
	if err != nil {
		return res, fmt.Errorf("submit %s: %w", path, err)
	}
	res.JobID = job.ID

	i.mu.Lock()
	i.seen[res.HashHex] = res
	i.mu.Unlock()

	i.logger.Info("ingest.submitted", "path", path, "job_id", job.ID, "artifact_ref", res.ArtifactRef, "status", job.Status)
	return res, nil
}

// IngestDirectory walks root and ingests every matching file. Per-file
// failures are recorded in the results and do not stop the walk.
func (i *Ingestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []FileResult
	var stats DirStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && isHidden(path) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !i.allowed(path) {
			return nil
		}
		stats.Matched++

		res, err := i.IngestPath(ctx, path)
		if err != nil {
			res.Err = err.Error()
			results = append(results, res)
			stats.Failed++
			i.logger.Warn("ingest.failed", "path", path, "err", err)
			return nil
		}
		results = append(results, res)
		stats.Succeeded++
		if res.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk %s: %w", root, err)
	}
	return results, stats, nil
}

// Watch ingests files as they appear under cfg.Roots until ctx ends.
func (i *Ingestor) Watch(ctx context.Context, cfg WatchConfig) error {
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = i.exts
	}
	paths, errs, err := StartWatcher(ctx, cfg, i.logger)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-paths:
			if !ok {
				return ctx.Err()
			}
			if _, err := i.IngestPath(ctx, p); err != nil {
				i.logger.Warn("ingest.failed", "path", p, "err", err)
			}
		case _, ok := <-errs:
			// StartWatcher already logged it.
			if !ok {
				errs = nil
			}
		}
	}
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
