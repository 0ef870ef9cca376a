package mcap

import (
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ResettableWriteCloser implements io.WriteCloser and adds a Reset method,
// so a single compressor instance can be reused across chunk boundaries
// instead of being reallocated per chunk.
type ResettableWriteCloser interface {
	io.WriteCloser
	Reset(io.Writer)
}

// ResettableReader implements io.Reader and adds a Reset method, letting a
// decompressor be rebound to a new source between chunks.
type ResettableReader interface {
	io.Reader
	Reset(io.Reader)
}

type resettableWriteCloser interface {
	io.WriteCloser
	Reset(io.Writer)
}

// bufCloser adapts a bytes.Buffer to resettableWriteCloser for the
// uncompressed chunk path, where no real compressor is needed.
type bufCloser struct {
	b *bytes.Buffer
}

func (b bufCloser) Close() error { return nil }

func (b bufCloser) Write(p []byte) (int, error) { return b.b.Write(p) }

func (b bufCloser) Reset(_ io.Writer) { b.b.Reset() }

// crcReader wraps an io.Reader, optionally accumulating a running CRC-32
// over every byte read.
type crcReader struct {
	r          io.Reader
	crc        hash.Hash32
	computeCRC bool
}

func newCRCReader(r io.Reader, computeCRC bool) *crcReader {
	return &crcReader{r: r, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (r *crcReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if r.computeCRC {
		_, _ = r.crc.Write(p[:n])
	}
	return n, err
}

func (r *crcReader) Checksum() uint32 { return r.crc.Sum32() }

// crcWriter wraps an io.Writer, accumulating a running CRC-32 over every
// byte written.
type crcWriter struct {
	w   io.Writer
	crc hash.Hash32
}

func newCRCWriter(w io.Writer) *crcWriter {
	return &crcWriter{w: w, crc: crc32.NewIEEE()}
}

func (w *crcWriter) Write(p []byte) (int, error) {
	_, _ = w.crc.Write(p)
	return w.w.Write(p)
}

func (w *crcWriter) Checksum() uint32 { return w.crc.Sum32() }

func (w *crcWriter) Reset() { w.crc = crc32.NewIEEE() }

// countingCRCWriter wraps a resettableWriteCloser, tracking both the number
// of bytes written and (optionally) a running CRC-32, and exposes Reset so
// the chunk writer can recycle the underlying compressor between chunks.
type countingCRCWriter struct {
	w          resettableWriteCloser
	size       int64
	crc        hash.Hash32
	computeCRC bool
}

func newCountingCRCWriter(w resettableWriteCloser, computeCRC bool) *countingCRCWriter {
	return &countingCRCWriter{w: w, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (c *countingCRCWriter) Write(p []byte) (int, error) {
	c.size += int64(len(p))
	if c.computeCRC {
		_, _ = c.crc.Write(p)
	}
	return c.w.Write(p)
}

func (c *countingCRCWriter) Reset(w io.Writer) { c.w.Reset(w) }
func (c *countingCRCWriter) ResetCRC()          { c.crc.Reset() }
func (c *countingCRCWriter) ResetSize()         { c.size = 0 }
func (c *countingCRCWriter) CRC() uint32        { return c.crc.Sum32() }
func (c *countingCRCWriter) Size() int64        { return c.size }
func (c *countingCRCWriter) Close() error       { return c.w.Close() }

// writeSizer wraps a crcWriter, tracking the number of uncompressed bytes
// written to it. Used for the record-length prefix the writer patches in
// after a record's body has been serialized.
type writeSizer struct {
	w    *crcWriter
	size uint64
}

func newWriteSizer(w io.Writer) *writeSizer {
	return &writeSizer{w: newCRCWriter(w)}
}

func (w *writeSizer) Write(p []byte) (int, error) {
	w.size += uint64(len(p))
	return w.w.Write(p)
}

func (w *writeSizer) Size() uint64      { return w.size }
func (w *writeSizer) Checksum() uint32  { return w.w.Checksum() }
func (w *writeSizer) ResetCRC()         { w.w.crc = crc32.NewIEEE() }

// ChunkWriter accumulates one chunk's worth of records through the
// compressor selected by its CompressionFormat, tracking the uncompressed
// size, CRC and message time bounds needed to serialize the chunk record
// and its index once full.
type ChunkWriter struct {
	compressed        *bytes.Buffer
	compressedWriter  *countingCRCWriter
	compressionFormat CompressionFormat
	MessageIndexes    map[uint16]*MessageIndex

	ChunkStartTime uint64
	ChunkEndTime   uint64
}

func newChunkWriter(compression CompressionFormat, chunkSize int64, includeCRC bool) (*ChunkWriter, error) {
	var compressedWriter *countingCRCWriter
	compressed := &bytes.Buffer{}
	switch compression {
	case CompressionZSTD:
		zw, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, err
		}
		compressedWriter = newCountingCRCWriter(zw, includeCRC)
	case CompressionLZ4:
		compressedWriter = newCountingCRCWriter(lz4.NewWriter(compressed), includeCRC)
	case CompressionNone:
		compressedWriter = newCountingCRCWriter(bufCloser{compressed}, includeCRC)
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
	return &ChunkWriter{
		compressed:        compressed,
		compressedWriter:  compressedWriter,
		compressionFormat: compression,
		MessageIndexes:    make(map[uint16]*MessageIndex),
		ChunkStartTime:    math.MaxUint64,
		ChunkEndTime:      0,
	}, nil
}

func (cw *ChunkWriter) Write(buf []byte) (int, error) {
	return cw.compressedWriter.Write(buf)
}

func (cw *ChunkWriter) UncompressedLen() int64 {
	return cw.compressedWriter.Size()
}

func (cw *ChunkWriter) CompressedLen() int {
	return cw.compressed.Len()
}

func (cw *ChunkWriter) SerializedLen() int {
	return 8 + 8 + 8 + 4 + 4 + len(cw.compressionFormat) + 8 + cw.CompressedLen()
}

func (cw *ChunkWriter) SerializeTo(buf []byte) (int, error) {
	if len(buf) < cw.SerializedLen() {
		return 0, fmt.Errorf("chunk buffer too small to serialize")
	}
	offset := putUint64(buf, cw.ChunkStartTime)
	offset += putUint64(buf[offset:], cw.ChunkEndTime)
	offset += putUint64(buf[offset:], uint64(cw.UncompressedLen()))
	offset += putUint32(buf[offset:], cw.compressedWriter.CRC())
	offset += putPrefixedString(buf[offset:], string(cw.compressionFormat))
	offset += putUint64(buf[offset:], uint64(cw.CompressedLen()))
	offset += copy(buf[offset:], cw.compressed.Bytes())
	return offset, nil
}

func (cw *ChunkWriter) Close() error {
	return cw.compressedWriter.Close()
}

func (cw *ChunkWriter) Reset() {
	cw.compressed.Reset()
	cw.compressedWriter.Reset(cw.compressed)
	cw.compressedWriter.ResetCRC()
	cw.compressedWriter.ResetSize()
	cw.ChunkStartTime = math.MaxUint64
	cw.ChunkEndTime = 0
}
