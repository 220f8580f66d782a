package progress

import (
	"errors"
	"io"
)

// Reader wraps a request body and calls fn with the running byte count after every read.
// The transport decides how much is read at a time, so it also decides the update cadence.
type Reader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    func(sent, total int64)
}

// NewReader wraps r. total is the full body length; fn may be nil.
func NewReader(r io.Reader, total int64, fn func(sent, total int64)) *Reader {
	return &Reader{r: r, total: total, fn: fn}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.fn != nil {
			r.fn(r.sent, r.total)
		}
	}
	return n, err
}

// Seek rewinds the underlying body when it supports seeking and resets the byte count.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	s, ok := r.r.(io.Seeker)
	if !ok {
		return 0, errors.New("progress: underlying reader is not seekable")
	}
	pos, err := s.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	r.sent = pos
	return pos, nil
}

// Close closes the underlying body if it is a Closer.
func (r *Reader) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Sent returns the number of bytes read so far.
func (r *Reader) Sent() int64 {
	return r.sent
}
