package eventlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// DefaultMaxFileSize is the size in bytes above which the log file is rotated.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// fileSink appends formatted entries to a file and rotates it by size.
// It is guarded by the journal mutex.
type fileSink struct {
	path    string
	file    *os.File
	size    int64
	maxSize int64
	counter int
}

func openSink(path string, maxSize int64) (*fileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	return &fileSink{path: path, file: f, size: st.Size(), maxSize: maxSize}, nil
}

// write appends line and reports the backup path when the file was rotated.
func (s *fileSink) write(line string) (rotated string, err error) {
	n, err := s.file.WriteString(line)
	s.size += int64(n)
	if err != nil {
		return "", err
	}
	if s.maxSize > 0 && s.size > s.maxSize {
		return s.rotate()
	}

	return "", nil
}

func (s *fileSink) nextBackup() string {
	for {
		name := fmt.Sprintf("%s.%d.bak", s.path, s.counter)
		s.counter++
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			return name
		}
	}
}

func (s *fileSink) rotate() (string, error) {
	if err := s.file.Close(); err != nil {
		return "", fmt.Errorf("close log file: %w", err)
	}
	backup := s.nextBackup()
	if err := os.Rename(s.path, backup); err != nil {
		return "", fmt.Errorf("rotate log file: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("reopen log file: %w", err)
	}
	s.file = f
	s.size = 0

	return backup, nil
}

func (s *fileSink) sync() error {
	return s.file.Sync()
}

func (s *fileSink) close() error {
	return s.file.Close()
}
