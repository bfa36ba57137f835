// Package dicom provides DICOM file parsing and manipulation.
//
// This package implements a DICOM file parser following the DICOM standard Part 10.
// https://dicom.nema.org/medical/dicom/current/output/html/part10.html
package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/radxtoolkit/radx/dicom/bytestream"
)

// Reader wraps a byte source and provides DICOM-specific binary reading
// operations. It supports both Little Endian and Big Endian byte ordering,
// which can be changed dynamically during parsing.
//
// Reader is normally backed by a *bytestream.Stream, which gives it offset
// tracking against the original file for free (needed by the frame index and
// by corrupted-dataset detection). WrapReader still accepts a bare io.Reader
// for the one case a Stream cannot serve: a raw DEFLATE decompressor over
// deflated transfer syntax, which is not seekable.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.3
type Reader struct {
	r         io.Reader
	stream    *bytestream.Stream
	byteOrder binary.ByteOrder
	position  int64 // Track bytes read for position tracking
}

// NewReader creates a new DICOM binary reader over a plain io.Reader with the
// specified byte order. Prefer NewReaderFromStream when the source can be
// offset-tracked.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.3
func NewReader(r io.Reader, byteOrder binary.ByteOrder) *Reader {
	return &Reader{
		r:         r,
		byteOrder: byteOrder,
	}
}

// NewReaderFromStream creates a new DICOM binary reader backed by a
// bytestream.Stream. Position counts the bytes read through this Reader;
// Stream gives access to the stream's own absolute offset.
func NewReaderFromStream(s *bytestream.Stream, byteOrder binary.ByteOrder) *Reader {
	return &Reader{
		stream:    s,
		byteOrder: byteOrder,
	}
}

// readN reads exactly n bytes, preferring the backing Stream when present.
func (r *Reader) readN(n int) ([]byte, error) {
	if r.stream != nil {
		buf, err := r.stream.Read(n)
		if err != nil {
			if errors.Is(err, bytestream.ErrInvalidRead) {
				if len(buf) == 0 && r.stream.Remaining() == 0 {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		r.position += int64(len(buf))
		return buf, nil
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(r.r, buf)
	if err != nil {
		if err == io.EOF && read == 0 {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF || (err == io.EOF && read > 0) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read %d bytes: %w", n, err)
	}

	r.position += int64(read)
	return buf[:read], nil
}

// ReadUint16 reads a 16-bit unsigned integer using the current byte order.
//
// Returns io.EOF if the end of the stream is reached.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1.2
func (r *Reader) ReadUint16() (uint16, error) {
	buf, err := r.readN(2)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read uint16: %w", err)
	}
	return r.byteOrder.Uint16(buf), nil
}

// ReadUint32 reads a 32-bit unsigned integer using the current byte order.
//
// Returns io.EOF if the end of the stream is reached.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1.2
func (r *Reader) ReadUint32() (uint32, error) {
	buf, err := r.readN(4)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read uint32: %w", err)
	}
	return r.byteOrder.Uint32(buf), nil
}

// ReadBytes reads exactly n bytes from the reader.
//
// Returns an error if fewer than n bytes are available.
// Returns an empty slice if n is 0.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1.2
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	return r.readN(n)
}

// ReadString reads exactly n bytes and returns them as a string.
//
// DICOM strings may contain null terminators or trailing spaces which are preserved.
// The caller is responsible for trimming if needed.
//
// Returns an error if fewer than n bytes are available.
// Returns an empty string if n is 0.
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_6.2
func (r *Reader) ReadString(n int) (string, error) {
	if n == 0 {
		return "", nil
	}

	buf, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}

	return string(buf), nil
}

// SetByteOrder changes the byte order for subsequent read operations.
//
// This is used when switching between File Meta Information (always Little Endian)
// and the main dataset (which may use Big Endian depending on Transfer Syntax).
//
// DICOM Standard Reference:
// https://dicom.nema.org/medical/dicom/current/output/html/part10.html#sect_7.1
func (r *Reader) SetByteOrder(order binary.ByteOrder) {
	r.byteOrder = order
}

// Position returns the current byte position in the stream.
//
// This tracks the total number of bytes read from the underlying reader,
// which is useful for parsing operations that need to know byte offsets.
func (r *Reader) Position() int64 {
	return r.position
}

// WrapReader replaces the underlying reader with a new one.
//
// This is used for applying transformations to the reader stream,
// such as wrapping it in a decompression reader for deflated transfer syntax.
// The position counter is preserved to maintain accurate position tracking
// relative to the original stream.
//
// Parameters:
//   - newReader: The new io.Reader to use for subsequent read operations
func (r *Reader) WrapReader(newReader io.Reader) {
	r.r = newReader
	r.stream = nil
}

// Stream returns the backing bytestream.Stream, or nil if the Reader was
// constructed over a plain io.Reader (e.g. after WrapReader applied
// decompression). Used by frameindex.Build to resolve absolute file offsets.
func (r *Reader) Stream() *bytestream.Stream {
	return r.stream
}

// Remaining reports the number of unread bytes, when backed by a Stream.
// Returns -1 when the size is unknown (plain io.Reader, e.g. a deflate
// decompressor).
func (r *Reader) Remaining() int64 {
	if r.stream == nil {
		return -1
	}
	return r.stream.Remaining()
}
