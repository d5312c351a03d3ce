package workdir

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrBusy reports that another process holds the job lock for a temp dir.
var ErrBusy = errors.New("temp dir is in use by another job")

// JobLock guards a temp dir against concurrent jobs. The lock file sits next
// to the temp dir so a fresh start can wipe the directory while holding it.
type JobLock struct {
	path string
	lock *flock.Flock
}

// LockPath returns the lock file used for l.
func LockPath(l Layout) string {
	return filepath.Join(filepath.Dir(l.Root), "."+filepath.Base(l.Root)+".lock")
}

// Lock acquires the job lock without blocking.
func Lock(l Layout) (*JobLock, error) {
	path := LockPath(l)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire job lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, l.Root)
	}
	return &JobLock{path: path, lock: fl}, nil
}

// Release unlocks and removes the lock file.
func (j *JobLock) Release() error {
	if j == nil {
		return nil
	}
	if err := j.lock.Unlock(); err != nil {
		return fmt.Errorf("release job lock %s: %w", j.path, err)
	}
	_ = removeIfExists(j.path)
	return nil
}
