package registry

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// fileLock holds an advisory exclusive lock on path+".lock" for the
// lifetime of the registry operation that acquired it, using syscall.Flock
// the same way the pack's own git-mirror updater guards concurrent
// "remote update" runs against a repo-local lock file. A plain flock is
// preferred over a third-party locking library: it is the primitive the
// examples themselves reach for, and the registry's locking need (whole
// file, short hold time, same-host only) does not warrant anything heavier.
type fileLock struct {
	file *os.File
}

// acquireFileLock blocks, retrying with backoff, until it holds an
// exclusive lock on path or budget elapses.
func acquireFileLock(path string, budget time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("registry: open lock file: %w", err)
	}

	deadline := time.Now().Add(budget)
	backoff := 20 * time.Millisecond
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &fileLock{file: f}, nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("registry: lock timeout after %s, retry the command", budget)
		}
		time.Sleep(backoff)
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}

func (l *fileLock) release() error {
	defer l.file.Close()
	return syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
}
