// Package codec binds the schema compiler (package schema) to concrete
// wire encodings: CDR (ROS 2), rosmsg (ROS 1), and JSON. Each codec
// implements schema.Encoder/schema.Decoder and exposes a common
// serialize/deserialize message surface through MessageCodec.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/foxglove-labs/logbag/bio"
	"github.com/foxglove-labs/logbag/schema"
)

// CDR message layout: 0x00, endian_flag, 0x00, 0x00, then the aligned
// payload with the encapsulation header as alignment origin.
const (
	cdrHeaderLen   = 4
	cdrFlagLittle  = 0x01
	cdrFlagBig     = 0x00
)

type cdrEncoder struct {
	w     *bio.Writer
	order binary.ByteOrder
}

// NewCDREncoder returns an Encoder that writes the 4-byte CDR
// encapsulation header up front, then aligns all subsequent writes
// relative to it.
func NewCDREncoder(littleEndian bool) *cdrEncoder {
	w := bio.NewWriter(cdrHeaderLen)
	flag := byte(cdrFlagBig)
	order := binary.ByteOrder(binary.BigEndian)
	if littleEndian {
		flag = cdrFlagLittle
		order = binary.LittleEndian
	}
	_, _ = w.Write([]byte{0x00, flag, 0x00, 0x00})
	return &cdrEncoder{w: w, order: order}
}

func (e *cdrEncoder) Order() binary.ByteOrder { return e.order }
func (e *cdrEncoder) Align(width int) error   { return e.w.Align(width) }
func (e *cdrEncoder) WriteBytes(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

func (e *cdrEncoder) WriteString(s string, wide bool) error {
	if wide {
		buf := make([]byte, bio.CDRWStringLen(s))
		bio.PutCDRWString(buf, e.order, s)
		return e.WriteBytes(buf)
	}
	if err := e.Align(4); err != nil {
		return err
	}
	buf := make([]byte, bio.CDRStringLen(s))
	bio.PutCDRString(buf, e.order, s)
	return e.WriteBytes(buf)
}

func (e *cdrEncoder) WriteSequenceLen(n uint32) error {
	if err := e.Align(4); err != nil {
		return err
	}
	buf := make([]byte, 4)
	e.order.PutUint32(buf, n)
	return e.WriteBytes(buf)
}

func (e *cdrEncoder) Bytes() []byte { return e.w.Bytes() }

type cdrDecoder struct {
	r     *bio.Reader
	order binary.ByteOrder
}

// NewCDRDecoder reads the 4-byte encapsulation header from buf and
// returns a Decoder positioned right after it, with alignment measured
// from that point.
func NewCDRDecoder(buf []byte) (*cdrDecoder, error) {
	if len(buf) < cdrHeaderLen {
		return nil, fmt.Errorf("codec: CDR payload shorter than encapsulation header")
	}
	order := binary.ByteOrder(binary.BigEndian)
	if buf[1] == cdrFlagLittle {
		order = binary.LittleEndian
	}
	r := bio.NewReader(buf, cdrHeaderLen)
	if err := r.Seek(cdrHeaderLen); err != nil {
		return nil, err
	}
	return &cdrDecoder{r: r, order: order}, nil
}

func (d *cdrDecoder) Order() binary.ByteOrder { return d.order }
func (d *cdrDecoder) Align(width int) error   { return d.r.Align(width) }
func (d *cdrDecoder) ReadBytes(n int) ([]byte, error) {
	return d.r.Read(n)
}

func (d *cdrDecoder) ReadString(wide bool) (string, error) {
	if wide {
		b, err := d.r.Peek(d.r.Len())
		if err != nil {
			return "", err
		}
		s, n, err := bio.GetCDRWString(b, d.order)
		if err != nil {
			return "", err
		}
		_, _ = d.r.Read(n)
		return s, nil
	}
	if err := d.Align(4); err != nil {
		return "", err
	}
	b, err := d.r.Peek(d.r.Len())
	if err != nil {
		return "", err
	}
	s, n, err := bio.GetCDRString(b, d.order)
	if err != nil {
		return "", err
	}
	_, _ = d.r.Read(n)
	return s, nil
}

func (d *cdrDecoder) ReadSequenceLen() (uint32, error) {
	if err := d.Align(4); err != nil {
		return 0, err
	}
	b, err := d.r.Read(4)
	if err != nil {
		return 0, err
	}
	return d.order.Uint32(b), nil
}

// CDRCodec implements the C5 message-codec surface for ROS 2: compiled
// schema caching keyed by schema name, plus whole-message serialize/
// deserialize entry points.
type CDRCodec struct {
	compiler     *schema.Compiler
	littleEndian bool
}

func NewCDRCodec(compiler *schema.Compiler, littleEndian bool) *CDRCodec {
	return &CDRCodec{compiler: compiler, littleEndian: littleEndian}
}

func (c *CDRCodec) SerializeMessage(sch *schema.Schema, rec *schema.Record) ([]byte, error) {
	cs, err := c.compiler.Compile(sch)
	if err != nil {
		return nil, err
	}
	enc := NewCDREncoder(c.littleEndian)
	if err := cs.Encode(enc, rec); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func (c *CDRCodec) DeserializeMessage(sch *schema.Schema, data []byte) (*schema.Record, error) {
	cs, err := c.compiler.Compile(sch)
	if err != nil {
		return nil, err
	}
	dec, err := NewCDRDecoder(data)
	if err != nil {
		return nil, err
	}
	return cs.Decode(dec)
}
