package bag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

func sortedConnIDs(m map[uint32]uint32) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// headerField is one name=value entry of a record header, value being
// raw bytes rather than text (numeric fields are packed little-endian).
type headerField struct {
	name  string
	value []byte
}

func encodeHeaderField(name string, value []byte) []byte {
	body := make([]byte, 0, len(name)+1+len(value))
	body = append(body, name...)
	body = append(body, '=')
	body = append(body, value...)
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

func parseHeaderFields(buf []byte) (map[string][]byte, error) {
	fields := make(map[string][]byte)
	offset := 0
	for offset < len(buf) {
		if len(buf[offset:]) < 4 {
			return nil, fmt.Errorf("bag: truncated header field length")
		}
		fieldLen := binary.LittleEndian.Uint32(buf[offset:])
		offset += 4
		if offset+int(fieldLen) > len(buf) {
			return nil, fmt.Errorf("bag: truncated header field body")
		}
		field := buf[offset : offset+int(fieldLen)]
		offset += int(fieldLen)
		sep := bytes.IndexByte(field, '=')
		if sep < 0 {
			return nil, fmt.Errorf("bag: header field missing '=' separator")
		}
		fields[string(field[:sep])] = field[sep+1:]
	}
	return fields, nil
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// recordWriter emits framed bag records (header_len|header|data_len|data)
// onto an underlying io.Writer, tracking the byte offset for callers
// that need chunk- or record-relative positions.
type recordWriter struct {
	w      io.Writer
	offset uint64
}

func newRecordWriter(w io.Writer) *recordWriter {
	return &recordWriter{w: w}
}

func (rw *recordWriter) write(p []byte) error {
	n, err := rw.w.Write(p)
	rw.offset += uint64(n)
	if err != nil {
		return err
	}
	return nil
}

func (rw *recordWriter) writeRecord(op RecordOp, fields []headerField, data []byte) error {
	header := encodeHeaderField("op", []byte{byte(op)})
	for _, f := range fields {
		header = append(header, encodeHeaderField(f.name, f.value)...)
	}
	if err := rw.write(le32(uint32(len(header)))); err != nil {
		return err
	}
	if err := rw.write(header); err != nil {
		return err
	}
	if err := rw.write(le32(uint32(len(data)))); err != nil {
		return err
	}
	return rw.write(data)
}

func (rw *recordWriter) writeBagHeader(h Header) error {
	fields := []headerField{
		{"index_pos", le64(h.IndexPos)},
		{"conn_count", le32(h.ConnCount)},
		{"chunk_count", le32(h.ChunkCount)},
	}
	padding := bytes.Repeat([]byte{' '}, headerPadding)
	return rw.writeRecord(OpBagHeader, fields, padding)
}

func (rw *recordWriter) writeConnection(c *Connection) error {
	fields := []headerField{
		{"conn", le32(c.ID)},
		{"topic", []byte(c.Topic)},
	}
	var data []byte
	data = append(data, encodeHeaderField("type", []byte(c.Type))...)
	data = append(data, encodeHeaderField("md5sum", []byte(c.MD5Sum))...)
	data = append(data, encodeHeaderField("message_definition", []byte(c.MessageDefinition))...)
	if c.CallerID != "" {
		data = append(data, encodeHeaderField("callerid", []byte(c.CallerID))...)
	}
	if c.Latching != "" {
		data = append(data, encodeHeaderField("latching", []byte(c.Latching))...)
	}
	return rw.writeRecord(OpConnection, fields, data)
}

func (rw *recordWriter) writeMessageData(connID uint32, logTime uint64, data []byte) error {
	sec, nsec := nanosToROSTime(logTime)
	fields := []headerField{
		{"conn", le32(connID)},
		{"time", append(le32(sec), le32(nsec)...)},
	}
	return rw.writeRecord(OpMessageData, fields, data)
}

func (rw *recordWriter) writeChunk(compression Compression, uncompressedSize uint32, compressed []byte) error {
	fields := []headerField{
		{"compression", []byte(compression)},
		{"size", le32(uncompressedSize)},
	}
	return rw.writeRecord(OpChunk, fields, compressed)
}

func (rw *recordWriter) writeIndexData(connID uint32, entries []IndexEntry) error {
	fields := []headerField{
		{"ver", le32(1)},
		{"conn", le32(connID)},
		{"count", le32(uint32(len(entries)))},
	}
	data := make([]byte, 0, len(entries)*12)
	for _, e := range entries {
		sec, nsec := nanosToROSTime(e.Time)
		data = append(data, le32(sec)...)
		data = append(data, le32(nsec)...)
		data = append(data, le32(e.Offset)...)
	}
	return rw.writeRecord(OpIndexData, fields, data)
}

func (rw *recordWriter) writeChunkInfo(ci *ChunkInfo) error {
	startSec, startNsec := nanosToROSTime(ci.StartTime)
	endSec, endNsec := nanosToROSTime(ci.EndTime)
	fields := []headerField{
		{"ver", le32(ci.Version)},
		{"chunk_pos", le64(ci.ChunkPos)},
		{"start_time", append(le32(startSec), le32(startNsec)...)},
		{"end_time", append(le32(endSec), le32(endNsec)...)},
		{"count", le32(uint32(len(ci.ConnectionCounts)))},
	}
	data := make([]byte, 0, len(ci.ConnectionCounts)*8)
	for _, connID := range sortedConnIDs(ci.ConnectionCounts) {
		data = append(data, le32(connID)...)
		data = append(data, le32(ci.ConnectionCounts[connID])...)
	}
	return rw.writeRecord(OpChunkInfo, fields, data)
}
