package workdir

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qencode/internal/logging"
)

// TempPrefix marks directories created by DefaultTempDir.
const TempPrefix = "temp_"

// CleanStaleResult contains the outcome of a stale directory sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes job temp directories under parent whose ledger (or the
// directory itself, when no ledger exists) has not changed within maxAge.
func CleanStale(ctx context.Context, parent string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	parent = strings.TrimSpace(parent)
	if parent == "" {
		return result
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: parent, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), TempPrefix) {
			continue
		}
		dirPath := filepath.Join(parent, entry.Name())
		modTime, err := lastActivity(New(dirPath))
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !modTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.WarnWithContext(logger, "failed to remove stale temp directory", "workdir_cleanup_failed",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed stale temp directory",
			logging.String("path", dirPath),
			logging.Duration("age", time.Since(modTime)),
			logging.String(logging.FieldEventType, "workdir_cleanup"),
		)
	}
	return result
}

func lastActivity(l Layout) (time.Time, error) {
	if info, err := os.Stat(l.LedgerPath()); err == nil {
		return info.ModTime(), nil
	}
	info, err := os.Stat(l.Root)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Usage returns the total size in bytes of regular files under root.
func Usage(root string) int64 {
	var size int64
	_ = filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
