package workdir

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"qencode/internal/logging"
)

// Prepare creates the layout directories. Without resume any existing temp
// directory is wiped first. It reports whether previous split chunks were
// found and kept.
func Prepare(l Layout, resume bool, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if !resume {
		if err := os.RemoveAll(l.Root); err != nil {
			return false, fmt.Errorf("clear temp dir %s: %w", l.Root, err)
		}
	}
	for _, dir := range []string{l.Root, l.SplitDir(), l.EncodeDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if !resume {
		return false, nil
	}
	chunks, err := l.SplitChunks()
	if err != nil {
		return false, fmt.Errorf("list split chunks: %w", err)
	}
	if len(chunks) == 0 {
		logger.Info("resume requested but no split chunks found; starting fresh",
			logging.String("temp_dir", l.Root),
		)
		return false, nil
	}
	logger.Info("resuming from existing temp dir",
		logging.String("temp_dir", l.Root),
		logging.Int("chunks", len(chunks)),
	)
	return true, nil
}

// ResetSplit empties split/ so a fresh split cannot mix with leftovers.
func ResetSplit(l Layout) error {
	if err := os.RemoveAll(l.SplitDir()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.MkdirAll(l.SplitDir(), 0o755)
}

// ResetProbes removes quality probes for name.
func ResetProbes(l Layout, name string) error {
	if err := os.RemoveAll(l.ProbeDir(name)); err != nil {
		return err
	}
	return os.MkdirAll(l.ProbeDir(name), 0o755)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Remove deletes the temp directory.
func Remove(l Layout) error {
	if err := os.RemoveAll(l.Root); err != nil {
		return fmt.Errorf("remove temp dir %s: %w", l.Root, err)
	}
	return nil
}
