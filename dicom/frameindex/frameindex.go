// Package frameindex builds an O(1) per-frame (offset, length) lookup over
// a DICOM dataset's pixel data, without decoding or decompressing it.
//
// Build inspects (7FE0,0010) once, branching on whether the element carries
// native pixel data (fixed-size frames computed from Rows/Columns/Bits*) or
// encapsulated pixel data (frame boundaries read from the Basic Offset
// Table and fragment layout). The resulting Index resolves absolute file
// offsets so callers can seek/read a single frame without touching the rest
// of the dataset.
package frameindex

import (
	"errors"
	"fmt"

	"github.com/radxtoolkit/radx/dicom"
	"github.com/radxtoolkit/radx/dicom/bytestream"
	"github.com/radxtoolkit/radx/dicom/pixel"
	"github.com/radxtoolkit/radx/dicom/tag"
	"github.com/radxtoolkit/radx/dicom/value"
)

// ErrNoPixelData indicates the dataset has no (7FE0,0010) element.
var ErrNoPixelData = errors.New("frameindex: dataset has no PixelData element")

// ErrMissingRequiredTags indicates Rows, Columns, BitsAllocated or
// SamplesPerPixel could not be read. A missing NumberOfFrames is not an
// error; it defaults to 1.
var ErrMissingRequiredTags = errors.New("frameindex: missing required image attributes")

// ErrNoFramesFound indicates encapsulated pixel data contained no fragments.
var ErrNoFramesFound = errors.New("frameindex: no frames found in pixel data")

// FrameSizeMismatchError indicates a native frame's computed size disagrees
// with the PixelData element's actual length.
type FrameSizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *FrameSizeMismatchError) Error() string {
	return fmt.Sprintf("frameindex: frame size mismatch: expected %d bytes, dataset has %d", e.Expected, e.Actual)
}

// FrameInfo describes one frame's location within the backing stream.
type FrameInfo struct {
	// Offset is the absolute byte offset of the frame's data, measured
	// from the start of the stream Build was given.
	Offset int64
	// Length is the frame's byte length.
	Length int64
	// Encapsulated reports whether the frame's bytes are an encoded
	// (e.g. JPEG) bitstream rather than native pixel samples.
	Encapsulated bool
}

// Index is an immutable, process-local lookup from frame number to its
// location in a backing stream.
type Index struct {
	frames       []FrameInfo
	stream       *bytestream.Stream
	encapsulated bool
}

// Build inspects ds's pixel data and constructs a frame index.
// pixelDataOffset is the absolute offset, within stream, of the first byte
// of (7FE0,0010)'s value (i.e. immediately after its tag/VR/length header).
// stream may be nil; FrameBytes then requires callers to supply their own
// io.ReaderAt via Frame's offset/length instead.
func Build(ds *dicom.DataSet, stream *bytestream.Stream, pixelDataOffset int64) (*Index, error) {
	elem, err := ds.Get(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}

	bytesVal, ok := elem.Value().(*value.BytesValue)
	if !ok {
		return nil, fmt.Errorf("%w: PixelData value is %T, not bytes", ErrMissingRequiredTags, elem.Value())
	}
	raw := bytesVal.Bytes()

	rows, okRows := getUint16(ds, tag.Rows)
	columns, okCols := getUint16(ds, tag.Columns)
	bitsAllocated, okBits := getUint16(ds, tag.BitsAllocated)
	samplesPerPixel, okSamples := getUint16(ds, tag.SamplesPerPixel)
	if !okRows || !okCols || !okBits || !okSamples {
		return nil, ErrMissingRequiredTags
	}
	numberOfFrames := getIntWithDefault(ds, tag.NumberOfFrames, 1)

	if isEncapsulated(raw) {
		return buildEncapsulated(raw, stream, pixelDataOffset, numberOfFrames)
	}
	return buildNative(rows, columns, bitsAllocated, samplesPerPixel, numberOfFrames, int64(len(raw)), stream, pixelDataOffset)
}

// isEncapsulated reports whether a PixelData value's bytes look like the
// (FFFE,E000) item-framed encapsulated format rather than a flat pixel
// buffer: the first four bytes must be a well-formed Item tag.
func isEncapsulated(raw []byte) bool {
	if len(raw) < 8 {
		return false
	}
	group := uint16(raw[0]) | uint16(raw[1])<<8
	element := uint16(raw[2]) | uint16(raw[3])<<8
	return group == pixel.ItemTagGroup && element == pixel.ItemTag
}

func buildNative(rows, columns, bitsAllocated, samplesPerPixel uint16, numberOfFrames int, totalLength int64, stream *bytestream.Stream, pixelDataOffset int64) (*Index, error) {
	bytesPerSample := int64(bitsAllocated+7) / 8
	frameSize := int64(rows) * int64(columns) * int64(samplesPerPixel) * bytesPerSample
	if frameSize <= 0 {
		return nil, ErrMissingRequiredTags
	}

	expected := frameSize * int64(numberOfFrames)
	if expected != totalLength {
		return nil, &FrameSizeMismatchError{Expected: expected, Actual: totalLength}
	}

	frames := make([]FrameInfo, numberOfFrames)
	for i := 0; i < numberOfFrames; i++ {
		frames[i] = FrameInfo{
			Offset:       pixelDataOffset + int64(i)*frameSize,
			Length:       frameSize,
			Encapsulated: false,
		}
	}

	return &Index{frames: frames, stream: stream}, nil
}

func buildEncapsulated(raw []byte, stream *bytestream.Stream, pixelDataOffset int64, numberOfFrames int) (*Index, error) {
	encapsulated, err := pixel.ParseEncapsulatedPixelData(raw)
	if err != nil {
		return nil, fmt.Errorf("frameindex: parse encapsulated pixel data: %w", err)
	}

	numFrames := encapsulated.NumFrames()
	if numFrames == 0 {
		return nil, ErrNoFramesFound
	}
	// A Basic Offset Table with offsets is authoritative for frame
	// boundaries, so its offset count is the frame count. Without one, each
	// fragment is one frame and NumberOfFrames from the dataset (default 1)
	// gives the frame count.
	if encapsulated.BasicOffsetTable.Present && len(encapsulated.BasicOffsetTable.Offsets) > 0 {
		numFrames = len(encapsulated.BasicOffsetTable.Offsets)
	} else if numberOfFrames > 0 {
		numFrames = numberOfFrames
	}

	frames := make([]FrameInfo, numFrames)
	for i := 0; i < numFrames; i++ {
		fragments, err := encapsulated.GetFrameFragments(i)
		if err != nil {
			return nil, fmt.Errorf("frameindex: locate frame %d: %w", i, err)
		}
		if len(fragments) == 0 {
			return nil, ErrNoFramesFound
		}

		length := int64(0)
		for _, frag := range fragments {
			length += int64(len(frag.Data))
		}

		frames[i] = FrameInfo{
			Offset:       pixelDataOffset + int64(fragments[0].Offset),
			Length:       length,
			Encapsulated: true,
		}
	}

	return &Index{frames: frames, stream: stream, encapsulated: true}, nil
}

// NumFrames returns the number of frames in the index.
func (idx *Index) NumFrames() int {
	return len(idx.frames)
}

// Frame returns the location of frame i.
func (idx *Index) Frame(i int) (FrameInfo, error) {
	if i < 0 || i >= len(idx.frames) {
		return FrameInfo{}, fmt.Errorf("frameindex: frame index %d out of range (have %d frames)", i, len(idx.frames))
	}
	return idx.frames[i], nil
}

// FrameBytes reads frame i's bytes from the backing stream. For a
// memory-mapped stream this reads directly from the mapped pages rather
// than issuing a file read syscall; for a buffer- or file-backed stream it
// copies from the underlying source. Either way the returned slice is
// always a fresh copy, never aliasing the stream's internal state.
func (idx *Index) FrameBytes(i int) ([]byte, error) {
	info, err := idx.Frame(i)
	if err != nil {
		return nil, err
	}
	if idx.stream == nil {
		return nil, errors.New("frameindex: index has no backing stream; use Frame and read the source directly")
	}

	buf := make([]byte, info.Length)
	if _, err := idx.stream.ReadAt(buf, info.Offset); err != nil {
		return nil, fmt.Errorf("frameindex: read frame %d: %w", i, err)
	}
	return buf, nil
}

func getUint16(ds *dicom.DataSet, t tag.Tag) (uint16, bool) {
	elem, err := ds.Get(t)
	if err != nil {
		return 0, false
	}
	intVal, ok := elem.Value().(*value.IntValue)
	if !ok {
		return 0, false
	}
	ints := intVal.Ints()
	if len(ints) == 0 {
		return 0, false
	}
	if ints[0] < 0 || ints[0] > 65535 {
		return 0, false
	}
	return uint16(ints[0]), true
}

func getIntWithDefault(ds *dicom.DataSet, t tag.Tag, defaultVal int) int {
	elem, err := ds.Get(t)
	if err != nil {
		return defaultVal
	}
	switch v := elem.Value().(type) {
	case *value.IntValue:
		ints := v.Ints()
		if len(ints) == 0 {
			return defaultVal
		}
		return int(ints[0])
	case *value.StringValue:
		strs := v.Strings()
		if len(strs) == 0 {
			return defaultVal
		}
		var val int
		if _, err := fmt.Sscanf(strs[0], "%d", &val); err != nil {
			return defaultVal
		}
		return val
	default:
		return defaultVal
	}
}
