package chunk

import (
	"errors"
	"io"
	"iter"
)

// DefaultFrameSize is the frame size used when none is configured (64KB).
const DefaultFrameSize = 64 * 1024

// Frames returns the frames of buf, each frameSize bytes long except possibly the last.
// No frame is produced for an empty remainder. A frameSize <= 0 selects DefaultFrameSize.
// Each call on the returned sequence starts over from the beginning of buf.
func Frames(buf []byte, frameSize int) iter.Seq[[]byte] {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return func(yield func([]byte) bool) {
		for off := 0; off < len(buf); off += frameSize {
			end := min(off+frameSize, len(buf))
			// cap the capacity so a caller appending to a frame cannot clobber the next one
			if !yield(buf[off:end:end]) {
				return
			}
		}
	}
}

// Count returns the number of frames Frames produces for n bytes.
func Count(n, frameSize int) int {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return (n + frameSize - 1) / frameSize
}

// Reader streams a buffer frame by frame. A single Read never crosses a frame
// boundary, so bytes reach the transport strictly in buffer order, one frame at a time.
type Reader struct {
	buf       []byte
	frameSize int

	next func() ([]byte, bool)
	stop func()

	cur []byte
	off int64
}

// NewReader creates a Reader over buf using frames of frameSize bytes.
func NewReader(buf []byte, frameSize int) *Reader {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	r := &Reader{buf: buf, frameSize: frameSize}
	r.restart()
	return r
}

// Len returns the total byte length of the underlying buffer.
// It is the value to send as Content-Length.
func (r *Reader) Len() int64 {
	return int64(len(r.buf))
}

// Read reads up to len(p) bytes from the current frame.
func (r *Reader) Read(p []byte) (int, error) {
	if len(r.cur) == 0 {
		frame, ok := r.next()
		if !ok {
			return 0, io.EOF
		}
		r.cur = frame
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	r.off += int64(n)
	return n, nil
}

// Seek restarts the frame sequence and skips to the requested offset.
// Clients that sign or checksum a body rewind it before sending.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = int64(len(r.buf)) + offset
	default:
		return 0, errors.New("chunk: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("chunk: negative position")
	}

	r.stop()
	r.restart()

	skipped := int64(0)
	for skipped < abs {
		frame, ok := r.next()
		if !ok {
			break
		}
		if remaining := abs - skipped; int64(len(frame)) > remaining {
			r.cur = frame[remaining:]
			skipped = abs
			break
		}
		skipped += int64(len(frame))
	}
	r.off = abs
	return abs, nil
}

// Close releases the frame iterator. Reads after Close return io.EOF.
func (r *Reader) Close() error {
	r.stop()
	r.cur = nil
	return nil
}

func (r *Reader) restart() {
	r.next, r.stop = iter.Pull(Frames(r.buf, r.frameSize))
	r.cur = nil
	r.off = 0
}
