//go:build !windows

package database

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"voip-monitor/internal/models"
)

// writerLock is an advisory flock held for the partition's lifetime so a
// second process cannot open the same partition for writing.
type writerLock struct {
	f *os.File
}

func acquireWriterLock(path string) (*writerLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, models.ErrPartitionBusy
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &writerLock{f: f}, nil
}

func (l *writerLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
