package schema

import "encoding/binary"

// Encoder and Decoder are the narrow interfaces the compiled closures
// use to talk to a concrete wire encoding (CDR or rosmsg, implemented
// in package codec). Keeping the compiler encoding-agnostic is what
// lets one compiled schema serve both C5 codecs plus the translator.
type Encoder interface {
	Order() binary.ByteOrder
	Align(width int) error
	WriteBytes(b []byte) error
	WriteString(s string, wide bool) error
	WriteSequenceLen(n uint32) error
}

type Decoder interface {
	Order() binary.ByteOrder
	Align(width int) error
	ReadBytes(n int) ([]byte, error)
	ReadString(wide bool) (string, error)
	ReadSequenceLen() (uint32, error)
}
