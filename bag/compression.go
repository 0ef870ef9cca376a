package bag

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	dsnetbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/pierrec/lz4/v4"
)

// compressChunk compresses data with the given algorithm. The standard
// library's compress/bzip2 package is decode-only, so bz2 writing uses
// dsnet/compress/bzip2, the one pack-sourced library that supplies an
// encoder.
func compressChunk(compression Compression, data []byte) ([]byte, error) {
	switch compression {
	case CompressionNone, "":
		return data, nil
	case CompressionBZ2:
		var buf bytes.Buffer
		w := dsnetbzip2.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("bag: failed to bz2-compress chunk: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("bag: failed to finalize bz2 chunk: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("bag: failed to lz4-compress chunk: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("bag: failed to finalize lz4 chunk: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedComp, compression)
	}
}

func decompressChunk(compression Compression, data []byte, uncompressedSize uint32) ([]byte, error) {
	switch compression {
	case CompressionNone, "":
		return data, nil
	case CompressionBZ2:
		r := bzip2.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("bag: failed to bz2-decompress chunk: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, fmt.Errorf("bag: failed to lz4-decompress chunk: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedComp, compression)
	}
}
