package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

// FSStore serves artifacts from a local directory laid out like the bucket.
type FSStore struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
}

func NewFSStore(root string, maxBytes int64, logger *slog.Logger) *FSStore {
	return &FSStore{root: root, maxBytes: maxBytes, logger: common.OrDefault(logger)}
}

func (s *FSStore) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("probe %s: not a directory", s.root)
	}
	return nil
}

func (s *FSStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v := common.ObjectKey("artifact_ref", ref); v != nil || ref == "" {
		return nil, fmt.Errorf("artifact ref %q: %w", ref, common.ErrInvalidInput)
	}

	path := filepath.Join(s.root, filepath.FromSlash(ref))
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("artifact %s: %w", ref, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", ref, err)
	}
	defer func() { _ = f.Close() }()

	data, err := readCapped(f, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("artifact.fs.read", "ref", ref, "bytes", len(data))
	return data, nil
}

// Put writes data under ref, creating parent directories as needed.
func (s *FSStore) Put(ctx context.Context, ref string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v := common.ObjectKey("artifact_ref", ref); v != nil || ref == "" {
		return fmt.Errorf("artifact ref %q: %w", ref, common.ErrInvalidInput)
	}
	path := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", ref, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit artifact %s: %w", ref, err)
	}
	s.logger.Debug("artifact.fs.write", "ref", ref, "bytes", len(data))
	return nil
}
