package dicom

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"

	"github.com/radxtoolkit/radx/dicom/bytestream"
)

// OpenOptions controls how much of a DICOM stream Open parses.
//
// These mirror the Dataset Codec's reading contract: callers choose how much
// work to do up front versus deferring pixel data, and whether random-access
// frame lookups should be backed by a memory-mapped file.
type OpenOptions struct {
	// HeaderOnly stops parsing once File Meta Information has been read;
	// DataSet carries only the File Meta elements.
	HeaderOnly bool
	// WithoutPixelData parses the full dataset but skips over (7FE0,0010)
	// without retaining its value.
	WithoutPixelData bool
	// StreamPixelData parses the full dataset but leaves pixel data
	// extraction to the caller via the pixel package or frameindex, rather
	// than materializing it eagerly. This is the default behavior of the
	// existing element codec and is a no-op placeholder for callers that
	// want to be explicit about intent.
	StreamPixelData bool
	// MemoryMapIfSafe requests a memory-mapped bytestream.Stream for
	// OpenFile; the file type is not checked, and OpenFile returns an error
	// if the path cannot be mapped. Open and OpenURL ignore it. Never the default:
	// mapping is an opt-in policy choice (large anonymous virtual memory
	// can surprise the host).
	MemoryMapIfSafe bool
}

// File is the result of Open/OpenFile/OpenURL: the parsed dataset plus the
// facts discovered while parsing it.
type File struct {
	// HasPreamble reports whether the 128-byte preamble + "DICM" magic was
	// present (false for the ACR-NEMA no-preamble fallback).
	HasPreamble bool
	// DataSet is the parsed dataset (File Meta merged with the main
	// dataset, matching ParseFile/ParseReader).
	DataSet *DataSet
	// Stream is the backing byte stream, retained so callers can build a
	// frame index (frameindex.Build) against absolute file offsets, or
	// inspect Remaining()/Size() after HeaderOnly/WithoutPixelData parses.
	// Callers that keep the File past their immediate use should Close it.
	Stream *bytestream.Stream
}

// Close releases the backing Stream's resources (file handle or mapping).
func (f *File) Close() error {
	if f.Stream == nil {
		return nil
	}
	return f.Stream.Close()
}

// OpenFile opens and parses a DICOM file from the filesystem, honoring opts.
func OpenFile(path string, opts OpenOptions) (*File, error) {
	stream, err := bytestream.Open(path, bytestream.Options{MemoryMap: opts.MemoryMapIfSafe})
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return open(stream, opts)
}

// Open parses a DICOM stream from an already-open io.Reader, honoring opts.
// The full stream is buffered in memory first so the preamble fallback (S1)
// can rewind; use OpenFile for large files to avoid that.
func Open(r io.Reader, opts OpenOptions) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return open(bytestream.NewFromBytes(data), opts)
}

// OpenURL fetches a DICOM stream over HTTP(S) and parses it, honoring opts.
// This is a thin convenience wrapper, not a DICOMweb (WADO-RS) client: it
// performs a single GET and buffers the response body.
func OpenURL(url string, opts OpenOptions) (*File, error) {
	resp, err := http.Get(url) //nolint:gosec // caller-provided URL by design
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %s", url, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", url, err)
	}

	return open(bytestream.NewFromBytes(data), opts)
}

func open(stream *bytestream.Stream, opts OpenOptions) (*File, error) {
	parser := &Parser{
		reader: NewReaderFromStream(stream, binary.LittleEndian),
		stream: stream,
	}

	if err := parser.readPreamble(); err != nil {
		return nil, err
	}

	metaInfo, err := parser.readFileMetaInformation()
	if err != nil {
		return nil, fmt.Errorf("failed to read File Meta Information: %w", err)
	}

	if opts.HeaderOnly {
		return &File{HasPreamble: parser.hasPreamble, DataSet: metaInfo, Stream: stream}, nil
	}

	ts, err := parser.detectTransferSyntax(metaInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to detect transfer syntax: %w", err)
	}
	parser.ts = ts
	parser.reader.SetByteOrder(ts.ByteOrder)

	if ts.Deflated {
		remaining, err := parser.stream.Read(int(parser.stream.Remaining()))
		if err != nil {
			return nil, fmt.Errorf("failed to read deflated dataset bytes: %w", err)
		}
		parser.reader = NewReader(flate.NewReader(bytes.NewReader(remaining)), ts.ByteOrder)
	}

	var mainDS *DataSet
	if opts.WithoutPixelData {
		mainDS, err = parser.readDatasetSkippingPixelData()
	} else {
		mainDS, err = parser.readDataset()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	for _, elem := range metaInfo.Elements() {
		mainDS.Add(elem)
	}

	return &File{HasPreamble: parser.hasPreamble, DataSet: mainDS, Stream: stream}, nil
}
