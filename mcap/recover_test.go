package mcap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRecoverableFile(t *testing.T, messageCount int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, &WriterOptions{Compression: CompressionNone, Chunked: true})
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&Header{Profile: "x-test"}))
	require.NoError(t, w.WriteSchema(&Schema{ID: 1, Name: "std_msgs/Empty", Encoding: "ros1msg", Data: []byte{}}))
	require.NoError(t, w.WriteChannel(&Channel{ID: 1, SchemaID: 1, Topic: "/a", MessageEncoding: "ros1"}))
	for i := 0; i < messageCount; i++ {
		require.NoError(t, w.WriteMessage(&Message{
			ChannelID: 1, Sequence: uint32(i), LogTime: uint64(i), PublishTime: uint64(i), Data: []byte{byte(i)},
		}))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRecoverCleanFileRoundTrips(t *testing.T) {
	in := buildRecoverableFile(t, 5)
	out := &bytes.Buffer{}
	result, err := Recover(out, bytes.NewReader(in), &RecoverOptions{Compression: CompressionNone})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.MessageCount)
	assert.Nil(t, result.StoppedAt)

	reader, err := NewReader(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	info, err := reader.Info()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.Statistics.MessageCount)
}

func TestRecoverStopsCleanlyOnTruncation(t *testing.T) {
	in := buildRecoverableFile(t, 20)
	truncated := in[:len(in)-37] // cut mid-stream, after some messages were written

	out := &bytes.Buffer{}
	result, err := Recover(out, bytes.NewReader(truncated), &RecoverOptions{Compression: CompressionNone})
	require.NoError(t, err)
	assert.Less(t, result.MessageCount, uint64(20))

	reader, err := NewReader(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	info, err := reader.Info()
	require.NoError(t, err)
	assert.Equal(t, result.MessageCount, info.Statistics.MessageCount)
}

func TestRecoverRejectsInputWithoutHeader(t *testing.T) {
	out := &bytes.Buffer{}
	_, err := Recover(out, bytes.NewReader(Magic), &RecoverOptions{})
	require.Error(t, err)
}
