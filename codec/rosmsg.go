package codec

import (
	"encoding/binary"

	"github.com/foxglove-labs/logbag/bio"
	"github.com/foxglove-labs/logbag/schema"
)

// rosmsg message layout: the raw payload, no header, always
// little-endian, no alignment.
type rosEncoder struct {
	w *bio.NoAlignWriter
}

func NewRosEncoder() *rosEncoder {
	return &rosEncoder{w: bio.NewNoAlignWriter()}
}

func (e *rosEncoder) Order() binary.ByteOrder { return binary.LittleEndian }
func (e *rosEncoder) Align(int) error         { return nil }
func (e *rosEncoder) WriteBytes(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

func (e *rosEncoder) WriteString(s string, wide bool) error {
	buf := make([]byte, bio.RosStringLen(s))
	bio.PutRosString(buf, s)
	return e.WriteBytes(buf)
}

func (e *rosEncoder) WriteSequenceLen(n uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, n)
	return e.WriteBytes(buf)
}

func (e *rosEncoder) Bytes() []byte { return e.w.Bytes() }

type rosDecoder struct {
	r *bio.NoAlignReader
}

func NewRosDecoder(buf []byte) *rosDecoder {
	return &rosDecoder{r: bio.NewNoAlignReader(buf)}
}

func (d *rosDecoder) Order() binary.ByteOrder { return binary.LittleEndian }
func (d *rosDecoder) Align(int) error         { return nil }
func (d *rosDecoder) ReadBytes(n int) ([]byte, error) {
	return d.r.Read(n)
}

func (d *rosDecoder) ReadString(bool) (string, error) {
	b, err := d.r.Peek(d.r.Len())
	if err != nil {
		return "", err
	}
	s, n, err := bio.GetRosString(b)
	if err != nil {
		return "", err
	}
	_, _ = d.r.Read(n)
	return s, nil
}

func (d *rosDecoder) ReadSequenceLen() (uint32, error) {
	b, err := d.r.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// RosMsgCodec implements the C5 message-codec surface for ROS 1.
type RosMsgCodec struct {
	compiler *schema.Compiler
}

func NewRosMsgCodec(compiler *schema.Compiler) *RosMsgCodec {
	return &RosMsgCodec{compiler: compiler}
}

func (c *RosMsgCodec) SerializeMessage(sch *schema.Schema, rec *schema.Record) ([]byte, error) {
	cs, err := c.compiler.Compile(sch)
	if err != nil {
		return nil, err
	}
	enc := NewRosEncoder()
	if err := cs.Encode(enc, rec); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func (c *RosMsgCodec) DeserializeMessage(sch *schema.Schema, data []byte) (*schema.Record, error) {
	cs, err := c.compiler.Compile(sch)
	if err != nil {
		return nil, err
	}
	dec := NewRosDecoder(data)
	return cs.Decode(dec)
}
