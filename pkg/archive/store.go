package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	MaxFileBytes        = 64 << 20
	MaxOperationSeconds = 30
)

// Store writes media files atomically inside a Guard's root.
type Store struct {
	guard        *Guard
	maxFileBytes int
	maxDuration  time.Duration
}

type SaveResult struct {
	Path  string
	Bytes int
}

func NewStore(guard *Guard) *Store {
	return &Store{
		guard:        guard,
		maxFileBytes: MaxFileBytes,
		maxDuration:  MaxOperationSeconds * time.Second,
	}
}

func (s *Store) Root() string {
	return s.guard.Root()
}

// FileName builds "<id><ext>" for an untrusted message id, replacing path separators.
func FileName(id, ext string) string {
	id = strings.TrimSpace(id)
	id = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, id)
	if id == "" || strings.Trim(id, ".") == "" {
		id = fmt.Sprintf("media-%d", time.Now().UnixNano())
	}
	return id + ext
}

// Save writes data to name, replacing any existing file.
func (s *Store) Save(ctx context.Context, name string, data []byte) (SaveResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	if len(data) > s.maxFileBytes {
		return SaveResult{}, NewError(ErrorTooLarge, fmt.Sprintf("file exceeds %d bytes", s.maxFileBytes))
	}
	if err := ctx.Err(); err != nil {
		return SaveResult{}, NewError(ErrorIO, err.Error())
	}

	resolvedPath, err := s.guard.ResolvePath(name)
	if err != nil {
		return SaveResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(resolvedPath), 0o755); err != nil {
		return SaveResult{}, normalizeIOError(err, "create parent directory failed")
	}
	if err := s.guard.EnsureContained(resolvedPath); err != nil {
		return SaveResult{}, err
	}

	if err := atomicWrite(resolvedPath, data, 0o644); err != nil {
		return SaveResult{}, normalizeIOError(err, "write failed")
	}

	return SaveResult{Path: resolvedPath, Bytes: len(data)}, nil
}

func (s *Store) withOperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.maxDuration <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.maxDuration)
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".wakit-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	cleanup = false
	return nil
}
