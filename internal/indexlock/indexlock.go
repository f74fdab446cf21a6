// Package indexlock enforces the single-writer-per-index rule: at most one
// archive or restore may hold the index at a time, and ls takes a shared
// lock. The lock lives on a ".lock" file alongside the index database so
// it is independent of how the index itself is opened.
package indexlock

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/radiac/serac/internal/errs"
)

// Lock is a held flock(2) lock on an index's sibling .lock file.
type Lock struct {
	f *os.File
}

// AcquireExclusive blocks until an exclusive lock is held, for archive and
// restore.
func AcquireExclusive(indexPath string) (*Lock, error) {
	return acquire(indexPath, unix.LOCK_EX)
}

// AcquireShared blocks until a shared lock is held, for the read-only ls command.
func AcquireShared(indexPath string) (*Lock, error) {
	return acquire(indexPath, unix.LOCK_SH)
}

func acquire(indexPath string, how int) (*Lock, error) {
	f, err := os.OpenFile(indexPath+".lock", os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, errs.New(errs.Index, "indexlock.acquire", err)
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, errs.New(errs.Index, "indexlock.acquire", err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. Safe to call more than once: calls after the
// first are no-ops. Cancellation (SIGINT) before
// the final commit leaves both the lock release and the index untouched by
// any half-written state.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return errs.New(errs.Index, "indexlock.Release", err)
	}
	return errs.New(errs.Index, "indexlock.Release", cerr)
}
