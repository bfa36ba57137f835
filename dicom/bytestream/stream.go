// Package bytestream provides an offset-tracking byte source for the DICOM
// parser, abstracting over an in-memory buffer, a regular file, or an
// optionally memory-mapped file.
package bytestream

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

// ErrInvalidRead is returned when a read would extend past the end of the
// stream.
var ErrInvalidRead = errors.New("bytestream: invalid read past end of stream")

// forwardChunkSize is the 1 MiB ceiling on scratch allocation per skip. Every
// source is read by offset (ReadAt), so Forward allocates nothing and this
// constant is not referenced by the current code.
const forwardChunkSize = 1 << 20 // 1 MiB

// Options configures how a Stream is opened.
type Options struct {
	// MemoryMap requests an mmap-backed stream from Open. In-memory buffers
	// (NewFromBytes) are never mapped. When set, Open maps the path whatever
	// its file type and returns an error if the mapping fails. Opt-in only:
	// the zero value never maps.
	MemoryMap bool
}

// source abstracts the three backing stores a Stream can wrap.
type source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// bufferSource adapts an in-memory byte slice to the source interface.
type bufferSource struct {
	data []byte
}

func (b *bufferSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *bufferSource) Close() error { return nil }

func (b *bufferSource) Size() int64 { return int64(len(b.data)) }

// fileSource adapts an *os.File to the source interface.
type fileSource struct {
	f    *os.File
	size int64
}

func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) { return fs.f.ReadAt(p, off) }
func (fs *fileSource) Close() error                            { return fs.f.Close() }
func (fs *fileSource) Size() int64                             { return fs.size }

// mmapSource adapts golang.org/x/exp/mmap.ReaderAt to the source interface.
type mmapSource struct {
	r *mmap.ReaderAt
}

func (ms *mmapSource) ReadAt(p []byte, off int64) (int, error) { return ms.r.ReadAt(p, off) }
func (ms *mmapSource) Close() error                            { return ms.r.Close() }
func (ms *mmapSource) Size() int64                             { return int64(ms.r.Len()) }

// Stream is a seekable, offset-tracking byte source. It is not safe for
// concurrent use: callers needing concurrent reads should open independent
// Streams over the same file.
type Stream struct {
	src    source
	offset int64
}

// Open opens path as a Stream. With Options.MemoryMap set, the file is
// memory-mapped via golang.org/x/exp/mmap instead of read with ReadAt
// syscalls; this is worthwhile for large files that will be randomly
// accessed (frame index lookups) but is never the default.
func Open(path string, opts Options) (*Stream, error) {
	if opts.MemoryMap {
		r, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("bytestream: mmap open %s: %w", path, err)
		}
		return &Stream{src: &mmapSource{r: r}}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bytestream: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("bytestream: stat %s: %w", path, err)
	}
	return &Stream{src: &fileSource{f: f, size: info.Size()}}, nil
}

// NewFromBytes wraps an in-memory buffer as a Stream. The buffer is not
// copied; callers must not mutate it while the Stream is in use.
func NewFromBytes(data []byte) *Stream {
	return &Stream{src: &bufferSource{data: data}}
}

// Close releases any resources (file handle or mapping) held by the Stream.
func (s *Stream) Close() error {
	if s.src == nil {
		return nil
	}
	return s.src.Close()
}

// Read returns the next n bytes starting at the current offset and advances
// the offset by n. It returns ErrInvalidRead if n exceeds Remaining().
func (s *Stream) Read(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("bytestream: negative read length %d", n)
	}
	if int64(n) > s.Remaining() {
		return nil, fmt.Errorf("%w: requested %d bytes, %d remaining", ErrInvalidRead, n, s.Remaining())
	}
	buf := make([]byte, n)
	read, err := s.src.ReadAt(buf, s.offset)
	if err != nil && !(errors.Is(err, io.EOF) && read == n) {
		return nil, fmt.Errorf("bytestream: read at %d: %w", s.offset, err)
	}
	s.offset += int64(read)
	return buf[:read], nil
}

// Forward advances the current offset by n bytes without returning them.
// Every Stream source is ReaderAt-backed, so this only moves the offset: no
// bytes are read and no scratch buffer is allocated.
func (s *Stream) Forward(n int64) error {
	if n < 0 {
		return fmt.Errorf("bytestream: negative forward length %d", n)
	}
	if n > s.Remaining() {
		return fmt.Errorf("%w: forward %d bytes, %d remaining", ErrInvalidRead, n, s.Remaining())
	}
	s.offset += n
	return nil
}

// ReadUntil reads forward from the current offset until it finds the 4-byte
// little-endian tag (group, element), checking every second byte position
// (2-byte steps from the starting offset), and returns all bytes consumed up
// to (not including) that tag. The
// stream's offset is left pointing at the start of the matched tag. It is
// used to scan for delimiter items (e.g. the Sequence/Item Delimitation
// tags) inside runs of undefined length.
func (s *Stream) ReadUntil(group, element uint16) ([]byte, error) {
	start := s.offset
	scratch := make([]byte, 4)
	for {
		if s.Remaining() < 4 {
			s.offset = start
			return nil, fmt.Errorf("bytestream: delimiter (%04X,%04X) not found before end of stream", group, element)
		}
		n, err := s.src.ReadAt(scratch, s.offset)
		if err != nil && n < 4 {
			s.offset = start
			return nil, fmt.Errorf("bytestream: read at %d: %w", s.offset, err)
		}
		g := uint16(scratch[0]) | uint16(scratch[1])<<8
		e := uint16(scratch[2]) | uint16(scratch[3])<<8
		if g == group && e == element {
			result := make([]byte, s.offset-start)
			if _, err := s.src.ReadAt(result, start); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("bytestream: read at %d: %w", start, err)
			}
			return result, nil
		}
		s.offset += 2
	}
}

// Offset returns the current read position.
func (s *Stream) Offset() int64 { return s.offset }

// SeekTo moves the current offset to an absolute position.
func (s *Stream) SeekTo(offset int64) error {
	if offset < 0 || offset > s.Size() {
		return fmt.Errorf("bytestream: seek to %d out of range [0,%d]", offset, s.Size())
	}
	s.offset = offset
	return nil
}

// Size returns the total length of the underlying source.
func (s *Stream) Size() int64 { return s.src.Size() }

// Remaining returns the number of unread bytes from the current offset.
func (s *Stream) Remaining() int64 { return s.Size() - s.offset }

// ReadAt reads len(p) bytes starting at off without moving the current
// offset, satisfying io.ReaderAt for random-access frame lookups.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	return s.src.ReadAt(p, off)
}
