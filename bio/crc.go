// Package bio provides the aligned byte I/O primitives shared by the
// schema codecs and the two container file engines: a buffered/seekable
// reader and writer pair, a running CRC32 wrapper, and endianness-
// parameterized primitive packing.
package bio

import (
	"hash"
	"hash/crc32"
	"io"
)

// CRCReader wraps an io.Reader with a running CRC32 checksum over every
// byte relayed through it. Checksumming can be disabled (computeCRC is a
// hot-path toggle, not a correctness switch) and cleared to support
// re-entrant scopes, e.g. a chunk reader nested inside a file reader that
// also tracks the data-section CRC.
type CRCReader struct {
	r          io.Reader
	crc        hash.Hash32
	computeCRC bool
}

func NewCRCReader(r io.Reader, computeCRC bool) *CRCReader {
	return &CRCReader{r: r, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (r *CRCReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if r.computeCRC {
		_, _ = r.crc.Write(p[:n])
	}
	return n, err
}

func (r *CRCReader) Checksum() uint32 { return r.crc.Sum32() }

func (r *CRCReader) ClearCRC() { r.crc.Reset() }

// CRCWriter mirrors CRCReader for the write side.
type CRCWriter struct {
	w          io.Writer
	crc        hash.Hash32
	computeCRC bool
}

func NewCRCWriter(w io.Writer, computeCRC bool) *CRCWriter {
	return &CRCWriter{w: w, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (w *CRCWriter) Write(p []byte) (int, error) {
	if w.computeCRC {
		_, _ = w.crc.Write(p)
	}
	return w.w.Write(p)
}

func (w *CRCWriter) Checksum() uint32 { return w.crc.Sum32() }

func (w *CRCWriter) ClearCRC() { w.crc.Reset() }
