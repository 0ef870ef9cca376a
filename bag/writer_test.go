package bag

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seekBuffer struct {
	bytes.Buffer
	pos int64
}

func (s *seekBuffer) WriteAt(p []byte, off int64) (int, error) {
	b := s.Bytes()
	if off+int64(len(p)) > int64(len(b)) {
		return 0, fmt.Errorf("write past end")
	}
	copy(b[off:], p)
	return len(p), nil
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos < int64(s.Len()) {
		n, err := s.WriteAt(p, s.pos)
		s.pos += int64(n)
		return n, err
	}
	n, err := s.Buffer.Write(p)
	s.pos += int64(n)
	return n, err
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = offset
	case 1:
		s.pos += offset
	case 2:
		s.pos = int64(s.Len()) + offset
	}
	return s.pos, nil
}

func writeSampleBag(t *testing.T, opts *WriterOptions) *seekBuffer {
	t.Helper()
	buf := &seekBuffer{}
	w, err := NewWriter(buf, opts)
	require.NoError(t, err)

	for i, ts := range []uint64{100, 200, 300, 400, 500} {
		topic := "/odom"
		if i%2 == 0 {
			topic = "/scan"
		}
		err := w.WriteMessage(topic, "std_msgs/Empty", "d41d8cd98f00b204e9800998ecf8427e", "", ts, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf
}

func TestWriterRoundTripsMessages(t *testing.T) {
	buf := writeSampleBag(t, &WriterOptions{Compression: CompressionNone, ChunkSize: 1})

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, r.Connections(), 2)

	var topics []string
	var times []uint64
	err = r.Messages(ReadOptions{}, func(msg DecodedMessage) error {
		topics = append(topics, msg.Topic)
		times = append(times, msg.LogTime)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200, 300, 400, 500}, times)
	assert.Equal(t, []string{"/scan", "/odom", "/scan", "/odom", "/scan"}, topics)
}

func TestWriterRoundTripsWithCompression(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionBZ2, CompressionLZ4} {
		t.Run(string(compression), func(t *testing.T) {
			buf := writeSampleBag(t, &WriterOptions{Compression: compression, ChunkSize: 64})

			r, err := NewReader(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)

			var data [][]byte
			err = r.Messages(ReadOptions{}, func(msg DecodedMessage) error {
				data = append(data, msg.Data)
				return nil
			})
			require.NoError(t, err)
			require.Len(t, data, 5)
			for i, d := range data {
				assert.Equal(t, []byte{byte(i)}, d)
			}
		})
	}
}

func TestWriterFiltersTopicsAndTimeRange(t *testing.T) {
	buf := writeSampleBag(t, &WriterOptions{Compression: CompressionNone, ChunkSize: 1})
	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var topics []string
	err = r.Messages(ReadOptions{Topics: []string{"/odom"}}, func(msg DecodedMessage) error {
		topics = append(topics, msg.Topic)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/odom", "/odom"}, topics)

	var times []uint64
	err = r.Messages(ReadOptions{StartTime: 200, EndTime: 400}, func(msg DecodedMessage) error {
		times = append(times, msg.LogTime)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{200, 300, 400}, times)
}

func TestWriterHeaderRewriteAfterClose(t *testing.T) {
	buf := writeSampleBag(t, &WriterOptions{Compression: CompressionNone, ChunkSize: 1})
	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	header := r.Header()
	assert.Equal(t, uint32(2), header.ConnCount)
	assert.Greater(t, header.IndexPos, uint64(0))
	assert.Greater(t, header.ChunkCount, uint32(0))
}
