package bio

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// Kind enumerates the primitive field types shared by ros1msg and
// ros2msg schemas (spec C2/C3). Width is the on-wire byte count; time
// and duration are ROS 1 only and always two uint32/int32 words.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindByte
	KindChar
	KindTime
	KindDuration
)

// Width returns the fixed on-wire byte width of k, or 0 if k has no
// fixed width (it never does for the kinds enumerated here).
func (k Kind) Width() int {
	switch k {
	case KindBool, KindInt8, KindUint8, KindByte, KindChar:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindUint64, KindFloat64, KindTime, KindDuration:
		return 8
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindUint8:
		return "uint8"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindByte:
		return "byte"
	case KindChar:
		return "char"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	}
	return "unknown"
}

// KindByName maps the ros1msg/ros2msg primitive spelling to a Kind.
func KindByName(name string) (Kind, bool) {
	switch name {
	case "bool":
		return KindBool, true
	case "int8":
		return KindInt8, true
	case "uint8":
		return KindUint8, true
	case "int16":
		return KindInt16, true
	case "uint16":
		return KindUint16, true
	case "int32":
		return KindInt32, true
	case "uint32":
		return KindUint32, true
	case "int64":
		return KindInt64, true
	case "uint64":
		return KindUint64, true
	case "float32":
		return KindFloat32, true
	case "float64":
		return KindFloat64, true
	case "byte":
		return KindByte, true
	case "char":
		return KindChar, true
	case "time":
		return KindTime, true
	case "duration":
		return KindDuration, true
	}
	return 0, false
}

// PutPrimitive packs v (one of bool/int8/.../float64/uint8 for
// byte/char) into buf using order, returning the number of bytes
// written. v for KindTime and KindDuration must be a [2]uint32; a
// duration's signed words are carried as their unsigned bit patterns.
func PutPrimitive(buf []byte, order binary.ByteOrder, k Kind, v any) (int, error) {
	switch k {
	case KindBool:
		b := byte(0)
		if v.(bool) {
			b = 1
		}
		buf[0] = b
		return 1, nil
	case KindInt8:
		buf[0] = byte(v.(int8))
		return 1, nil
	case KindUint8, KindByte, KindChar:
		buf[0] = v.(uint8)
		return 1, nil
	case KindInt16:
		order.PutUint16(buf, uint16(v.(int16)))
		return 2, nil
	case KindUint16:
		order.PutUint16(buf, v.(uint16))
		return 2, nil
	case KindInt32:
		order.PutUint32(buf, uint32(v.(int32)))
		return 4, nil
	case KindUint32:
		order.PutUint32(buf, v.(uint32))
		return 4, nil
	case KindInt64:
		order.PutUint64(buf, uint64(v.(int64)))
		return 8, nil
	case KindUint64:
		order.PutUint64(buf, v.(uint64))
		return 8, nil
	case KindFloat32:
		order.PutUint32(buf, math.Float32bits(v.(float32)))
		return 4, nil
	case KindFloat64:
		order.PutUint64(buf, math.Float64bits(v.(float64)))
		return 8, nil
	case KindTime, KindDuration:
		words := v.([2]uint32)
		order.PutUint32(buf[0:4], words[0])
		order.PutUint32(buf[4:8], words[1])
		return 8, nil
	}
	return 0, fmt.Errorf("bio: unknown primitive kind %v", k)
}

// GetPrimitive unpacks one value of kind k from buf using order.
func GetPrimitive(buf []byte, order binary.ByteOrder, k Kind) (any, int, error) {
	w := k.Width()
	if w == 0 || len(buf) < w {
		return nil, 0, ErrShortBuffer
	}
	switch k {
	case KindBool:
		return buf[0] != 0, 1, nil
	case KindInt8:
		return int8(buf[0]), 1, nil
	case KindUint8, KindByte, KindChar:
		return buf[0], 1, nil
	case KindInt16:
		return int16(order.Uint16(buf)), 2, nil
	case KindUint16:
		return order.Uint16(buf), 2, nil
	case KindInt32:
		return int32(order.Uint32(buf)), 4, nil
	case KindUint32:
		return order.Uint32(buf), 4, nil
	case KindInt64:
		return int64(order.Uint64(buf)), 8, nil
	case KindUint64:
		return order.Uint64(buf), 8, nil
	case KindFloat32:
		return math.Float32frombits(order.Uint32(buf)), 4, nil
	case KindFloat64:
		return math.Float64frombits(order.Uint64(buf)), 8, nil
	case KindTime, KindDuration:
		return [2]uint32{order.Uint32(buf[0:4]), order.Uint32(buf[4:8])}, 8, nil
	}
	return nil, 0, fmt.Errorf("bio: unknown primitive kind %v", k)
}

// --- string conventions ---

// PutCDRString writes a CDR string: uint32 length-including-null,
// utf-8 bytes, a trailing 0x00. Empty strings still write the null
// byte, so the minimum encoding is 5 bytes (length=1, then 0x00).
func PutCDRString(buf []byte, order binary.ByteOrder, s string) int {
	order.PutUint32(buf, uint32(len(s)+1))
	n := 4 + copy(buf[4:], s)
	buf[n] = 0
	return n + 1
}

func CDRStringLen(s string) int { return 4 + len(s) + 1 }

// GetCDRString reads a CDR string and returns the decoded string (with
// the null terminator stripped) and the number of bytes consumed.
func GetCDRString(buf []byte, order binary.ByteOrder) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, ErrShortBuffer
	}
	length := order.Uint32(buf)
	total := 4 + int(length)
	if len(buf) < total {
		return "", 0, ErrShortBuffer
	}
	if length == 0 {
		return "", 4, nil
	}
	return string(buf[4 : 4+length-1]), total, nil
}

// PutCDRWString writes a CDR wstring: uint32 code-unit count, UTF-16BE
// data, no terminator.
func PutCDRWString(buf []byte, order binary.ByteOrder, s string) int {
	units := utf16.Encode([]rune(s))
	order.PutUint32(buf, uint32(len(units)))
	off := 4
	for _, u := range units {
		binary.BigEndian.PutUint16(buf[off:], u)
		off += 2
	}
	return off
}

func CDRWStringLen(s string) int { return 4 + 2*len(utf16.Encode([]rune(s))) }

func GetCDRWString(buf []byte, order binary.ByteOrder) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, ErrShortBuffer
	}
	count := int(order.Uint32(buf))
	total := 4 + 2*count
	if len(buf) < total {
		return "", 0, ErrShortBuffer
	}
	units := make([]uint16, count)
	off := 4
	for i := 0; i < count; i++ {
		units[i] = binary.BigEndian.Uint16(buf[off:])
		off += 2
	}
	return string(utf16.Decode(units)), total, nil
}

// PutRosString writes a rosmsg string: uint32 length, utf-8 bytes, no
// terminator.
func PutRosString(buf []byte, s string) int {
	binary.LittleEndian.PutUint32(buf, uint32(len(s)))
	return 4 + copy(buf[4:], s)
}

func RosStringLen(s string) int { return 4 + len(s) }

func GetRosString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, ErrShortBuffer
	}
	length := binary.LittleEndian.Uint32(buf)
	total := 4 + int(length)
	if len(buf) < total {
		return "", 0, ErrShortBuffer
	}
	if length == 0 {
		return "", 4, nil
	}
	return string(buf[4:total]), total, nil
}
