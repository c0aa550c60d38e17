package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
	"github.com/GriffinCanCode/assemblyline/internal/stages"
)

// FilesConfig configures the files source
type FilesConfig struct {
	Root string
	// Pattern is a doublestar glob matched against slash separated paths
	// relative to Root. Empty matches every file.
	Pattern     string
	MaxFileSize int64 // 0 = unlimited
	SkipContent bool
	Follow      bool
	Workers     int
}

// Files walks a directory tree and emits one stages.File per matching file
type Files struct {
	cfg    FilesConfig
	logger *zap.Logger
}

// NewFiles validates cfg and creates the source
func NewFiles(cfg FilesConfig, logger *zap.Logger) (*Files, error) {
	if cfg.Root == "" {
		return nil, errors.New("files source: root required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("files source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("files source: %s is not a directory", cfg.Root)
	}
	if cfg.Pattern != "" && !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, fmt.Errorf("files source: invalid pattern %q", cfg.Pattern)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Files{cfg: cfg, logger: logger}, nil
}

// Walk calls emit for every matching file and returns how many were
// emitted. emit is never called concurrently.
func (f *Files) Walk(ctx context.Context, emit func(stages.File) error) (int, error) {
	return f.walk(ctx, nil, emit)
}

// WalkPartition is Walk restricted to the files of partition index out of
// total. Files are assigned by a hash of their relative path, so the
// partitions of one tree are disjoint and together cover it.
func (f *Files) WalkPartition(ctx context.Context, index, total int, emit func(stages.File) error) (int, error) {
	if total <= 1 {
		return f.walk(ctx, nil, emit)
	}
	if index < 0 || index >= total {
		return 0, fmt.Errorf("partition %d out of range [0, %d)", index, total)
	}
	return f.walk(ctx, func(rel string) bool {
		return xxhash.Sum64String(rel)%uint64(total) == uint64(index)
	}, emit)
}

func (f *Files) walk(ctx context.Context, keep func(rel string) bool, emit func(stages.File) error) (int, error) {
	var (
		mu      sync.Mutex
		emitted int
	)

	conf := fastwalk.Config{Follow: f.cfg.Follow, NumWorkers: f.cfg.Workers}
	err := fastwalk.Walk(&conf, f.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			f.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(f.cfg.Root, path)
		if err != nil {
			return nil
		}
		if f.cfg.Pattern != "" {
			matched, err := doublestar.Match(f.cfg.Pattern, filepath.ToSlash(rel))
			if err != nil || !matched {
				return nil
			}
		}

		if keep != nil && !keep(filepath.ToSlash(rel)) {
			return nil
		}

		file, ok := f.load(path, rel)
		if !ok {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		if err := emit(file); err != nil {
			return err
		}
		emitted++
		return nil
	})

	return emitted, err
}

func (f *Files) load(path, rel string) (stages.File, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return stages.File{}, false
	}
	if f.cfg.MaxFileSize > 0 && info.Size() > f.cfg.MaxFileSize {
		f.logger.Debug("Skipping large file", zap.String("path", path), zap.Int64("size", info.Size()))
		return stages.File{}, false
	}

	file := stages.File{
		Path:    path,
		Rel:     filepath.ToSlash(rel),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}
	if !f.cfg.SkipContent {
		data, err := os.ReadFile(path)
		if err != nil {
			f.logger.Warn("Skipping unreadable file", zap.String("path", path), zap.Error(err))
			return stages.File{}, false
		}
		file.Content = data
	}
	return file, true
}

// Start is the source start hook. With several source workers each one
// walks the tree but only sends its own partition.
func (f *Files) Start(ctx context.Context, w *pipeline.Worker) error {
	n, err := f.WalkPartition(ctx, w.PoolIndex(), w.PoolSize(), func(file stages.File) error {
		return w.Send(ctx, file)
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", f.cfg.Root, err)
	}
	w.Logger().Info("Walk complete", zap.String("root", f.cfg.Root), zap.Int("files", n),
		zap.Int("partition", w.PoolIndex()), zap.Int("partitions", w.PoolSize()))
	return nil
}
