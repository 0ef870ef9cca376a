package bag

import (
	"encoding/binary"
	"fmt"
	"io"
)

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readHeaderFields(r io.Reader) (map[string][]byte, error) {
	headerLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("bag: failed to read header: %w", err)
	}
	return parseHeaderFields(buf)
}

func readData(r io.Reader) ([]byte, error) {
	dataLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, dataLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("bag: failed to read data: %w", err)
	}
	return buf, nil
}

func requireField(fields map[string][]byte, name string) ([]byte, error) {
	v, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return v, nil
}

// rawRecord is a record's parsed header fields, op, and raw data,
// unresolved into a concrete Go type.
type rawRecord struct {
	op     RecordOp
	fields map[string][]byte
	data   []byte
}

// readRecord reads one complete record (header plus data section) from
// r. It returns io.EOF unmodified when r is exhausted before a record
// begins, matching the teacher's lexer convention of signaling normal
// end-of-stream the same way mid-record truncation would be an error.
func readRecord(r io.Reader) (*rawRecord, error) {
	fields, err := readHeaderFields(r)
	if err != nil {
		return nil, err
	}
	data, err := readData(r)
	if err != nil {
		return nil, fmt.Errorf("bag: truncated record: %w", err)
	}
	opBytes, err := requireField(fields, "op")
	if err != nil {
		return nil, ErrMissingOp
	}
	return &rawRecord{op: RecordOp(opBytes[0]), fields: fields, data: data}, nil
}

func parseBagHeader(rec *rawRecord) (*Header, error) {
	indexPos, err := requireField(rec.fields, "index_pos")
	if err != nil {
		return nil, err
	}
	connCount, err := requireField(rec.fields, "conn_count")
	if err != nil {
		return nil, err
	}
	chunkCount, err := requireField(rec.fields, "chunk_count")
	if err != nil {
		return nil, err
	}
	return &Header{
		IndexPos:   binary.LittleEndian.Uint64(indexPos),
		ConnCount:  binary.LittleEndian.Uint32(connCount),
		ChunkCount: binary.LittleEndian.Uint32(chunkCount),
	}, nil
}

func parseConnection(rec *rawRecord) (*Connection, error) {
	connID, err := requireField(rec.fields, "conn")
	if err != nil {
		return nil, err
	}
	topic, err := requireField(rec.fields, "topic")
	if err != nil {
		return nil, err
	}
	dataFields, err := parseHeaderFields(rec.data)
	if err != nil {
		return nil, fmt.Errorf("bag: failed to parse connection data: %w", err)
	}
	msgType, err := requireField(dataFields, "type")
	if err != nil {
		return nil, err
	}
	md5sum, err := requireField(dataFields, "md5sum")
	if err != nil {
		return nil, err
	}
	conn := &Connection{
		ID:                binary.LittleEndian.Uint32(connID),
		Topic:             string(topic),
		Type:              string(msgType),
		MD5Sum:            string(md5sum),
		MessageDefinition: string(dataFields["message_definition"]),
	}
	if callerID, ok := dataFields["callerid"]; ok {
		conn.CallerID = string(callerID)
	}
	if latching, ok := dataFields["latching"]; ok {
		conn.Latching = string(latching)
	}
	return conn, nil
}

func parseMessageData(rec *rawRecord) (*Message, error) {
	connID, err := requireField(rec.fields, "conn")
	if err != nil {
		return nil, err
	}
	timeField, err := requireField(rec.fields, "time")
	if err != nil {
		return nil, err
	}
	sec := binary.LittleEndian.Uint32(timeField[0:4])
	nsec := binary.LittleEndian.Uint32(timeField[4:8])
	return &Message{
		ConnID: binary.LittleEndian.Uint32(connID),
		Time:   rosTimeToNanos(sec, nsec),
		Data:   rec.data,
	}, nil
}

func parseIndexData(rec *rawRecord) (uint32, []IndexEntry, error) {
	connID, err := requireField(rec.fields, "conn")
	if err != nil {
		return 0, nil, err
	}
	count, err := requireField(rec.fields, "count")
	if err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(count)
	entries := make([]IndexEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		off := i * 12
		if int(off+12) > len(rec.data) {
			return 0, nil, fmt.Errorf("bag: truncated index data entry")
		}
		sec := binary.LittleEndian.Uint32(rec.data[off : off+4])
		nsec := binary.LittleEndian.Uint32(rec.data[off+4 : off+8])
		offset := binary.LittleEndian.Uint32(rec.data[off+8 : off+12])
		entries = append(entries, IndexEntry{Time: rosTimeToNanos(sec, nsec), Offset: offset})
	}
	return binary.LittleEndian.Uint32(connID), entries, nil
}

func parseChunkInfo(rec *rawRecord) (*ChunkInfo, error) {
	ver, err := requireField(rec.fields, "ver")
	if err != nil {
		return nil, err
	}
	chunkPos, err := requireField(rec.fields, "chunk_pos")
	if err != nil {
		return nil, err
	}
	startTime, err := requireField(rec.fields, "start_time")
	if err != nil {
		return nil, err
	}
	endTime, err := requireField(rec.fields, "end_time")
	if err != nil {
		return nil, err
	}
	counts := make(map[uint32]uint32)
	for off := 0; off+8 <= len(rec.data); off += 8 {
		connID := binary.LittleEndian.Uint32(rec.data[off : off+4])
		count := binary.LittleEndian.Uint32(rec.data[off+4 : off+8])
		counts[connID] = count
	}
	return &ChunkInfo{
		Version:          binary.LittleEndian.Uint32(ver),
		ChunkPos:         binary.LittleEndian.Uint64(chunkPos),
		StartTime:        rosTimeToNanos(binary.LittleEndian.Uint32(startTime[0:4]), binary.LittleEndian.Uint32(startTime[4:8])),
		EndTime:          rosTimeToNanos(binary.LittleEndian.Uint32(endTime[0:4]), binary.LittleEndian.Uint32(endTime[4:8])),
		ConnectionCounts: counts,
	}, nil
}

func parseChunkHeader(rec *rawRecord) (compression Compression, uncompressedSize uint32, err error) {
	comp, err := requireField(rec.fields, "compression")
	if err != nil {
		return "", 0, err
	}
	size, err := requireField(rec.fields, "size")
	if err != nil {
		return "", 0, err
	}
	return Compression(comp), binary.LittleEndian.Uint32(size), nil
}
