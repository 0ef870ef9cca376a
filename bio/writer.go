package bio

import "bytes"

// Writer accumulates an encoded payload in memory, mirroring Reader's
// cursor shape. Align pads with zero bytes; Truncate supports rewriting
// a reserved header once the real values are known (the MCAP footer's
// fixed-size placeholder, the bag header's 4096-byte slot).
type Writer struct {
	buf         bytes.Buffer
	alignOrigin int
}

func NewWriter(alignOrigin int) *Writer {
	return &Writer{alignOrigin: alignOrigin}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *Writer) Tell() int { return w.buf.Len() }

func (w *Writer) Align(k int) error {
	if k <= 1 {
		return nil
	}
	rel := w.buf.Len() - w.alignOrigin
	pad := (k - rel%k) % k
	if pad == 0 {
		return nil
	}
	_, err := w.buf.Write(make([]byte, pad))
	return err
}

// Truncate cuts the accumulated payload back to pos, discarding
// everything written after it. Used for header-placeholder rewrites when
// the writer's payload is still fully in memory; seekable rewrites
// against an on-disk file are handled by the container writers directly
// via io.WriteSeeker.
func (w *Writer) Truncate(pos int) error {
	if pos < 0 || pos > w.buf.Len() {
		return ErrShortBuffer
	}
	b := w.buf.Bytes()[:pos]
	w.buf.Reset()
	_, err := w.buf.Write(b)
	return err
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// NoAlignWriter decorates Writer so Align is a no-op, matching rosmsg.
type NoAlignWriter struct {
	*Writer
}

func NewNoAlignWriter() *NoAlignWriter {
	return &NoAlignWriter{Writer: NewWriter(0)}
}

func (w *NoAlignWriter) Align(int) error { return nil }
