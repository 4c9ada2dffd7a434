package tempfiles

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrLimitExceeded is returned by Spool when the source is larger than the limit.
var ErrLimitExceeded = errors.New("stream exceeds size limit")

// Create makes a temp file in the provided directory, creating the directory if needed.
func Create(dir string, pattern string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// Spooled is a temp file holding a fully buffered stream, rewound to the start.
type Spooled struct {
	*os.File
	Size int64
}

// Discard closes and removes the temp file. Safe to call after the file was renamed.
func (s *Spooled) Discard() {
	_ = s.File.Close()
	_ = os.Remove(s.File.Name())
}

// Spool copies at most limit bytes from r into a temp file in dir. A limit
// of zero or less means unbounded. On error the temp file is already removed.
func Spool(dir, pattern string, r io.Reader, limit int64) (*Spooled, error) {
	f, err := Create(dir, pattern)
	if err != nil {
		return nil, err
	}
	s := &Spooled{File: f}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		s.Discard()
		return nil, fmt.Errorf("spool stream: %w", err)
	}
	if limit > 0 && n > limit {
		s.Discard()
		return nil, fmt.Errorf("%w: %d bytes", ErrLimitExceeded, limit)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.Discard()
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	s.Size = n
	return s, nil
}
