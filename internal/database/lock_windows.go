//go:build windows

package database

import (
	"fmt"
	"os"
)

// writerLock on Windows relies on the share mode of an open handle; the
// in-process registry still enforces one writer per partition.
type writerLock struct {
	f *os.File
}

func acquireWriterLock(path string) (*writerLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock file: %w", err)
	}
	return &writerLock{f: f}, nil
}

func (l *writerLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
