package bag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReaderRejectsBadVersion(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("not a bag file")))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestMessagesInOrderAcrossChunks(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, &WriterOptions{Compression: CompressionNone, ChunkSize: 1})
	require.NoError(t, err)

	// Write three out-of-order messages on one topic into separate
	// chunks (ChunkSize: 1 forces a flush after every message) so the
	// chunks' on-disk order differs from log-time order, exercising
	// InOrder's cross-chunk merge.
	for _, ts := range []uint64{300, 100, 200} {
		require.NoError(t, w.WriteMessage("/a", "std_msgs/Empty", "", "", ts, []byte{byte(ts)}))
	}
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var times []uint64
	err = r.Messages(ReadOptions{InOrder: true}, func(msg DecodedMessage) error {
		times = append(times, msg.LogTime)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200, 300}, times)
}

func TestMessagesStopsOnCallbackError(t *testing.T) {
	buf := writeSampleBag(t, &WriterOptions{Compression: CompressionNone, ChunkSize: 1})
	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	boom := assert.AnError
	count := 0
	err = r.Messages(ReadOptions{}, func(msg DecodedMessage) error {
		count++
		if count == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, count)
}
