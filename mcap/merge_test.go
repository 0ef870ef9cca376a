package mcap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSingleChannelFile(t *testing.T, topic string, times []uint64) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, &WriterOptions{Compression: CompressionNone, Chunked: true})
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&Header{Profile: "x-test"}))
	require.NoError(t, w.WriteSchema(&Schema{ID: 1, Name: "std_msgs/Empty", Encoding: "ros1msg", Data: []byte{}}))
	require.NoError(t, w.WriteChannel(&Channel{ID: 1, SchemaID: 1, Topic: topic, MessageEncoding: "ros1"}))
	for i, ts := range times {
		require.NoError(t, w.WriteMessage(&Message{
			ChannelID: 1, Sequence: uint32(i), LogTime: ts, PublishTime: ts, Data: []byte{byte(i)},
		}))
	}
	require.NoError(t, w.Close())
	return buf
}

func TestMergeOrdersMessagesByLogTime(t *testing.T) {
	a := buildSingleChannelFile(t, "/a", []uint64{10, 30, 50})
	b := buildSingleChannelFile(t, "/b", []uint64{20, 40})

	out := &bytes.Buffer{}
	err := Merge(out, []MergeInput{
		{Name: "a.mcap", Reader: bytes.NewReader(a.Bytes())},
		{Name: "b.mcap", Reader: bytes.NewReader(b.Bytes())},
	}, MergeOptions{Compression: CompressionNone, Chunked: true, Coalescing: CoalesceAuto})
	require.NoError(t, err)

	reader, err := NewReader(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	it, err := reader.Content(WithAllMessages())
	require.NoError(t, err)

	var times []uint64
	var topics []string
	for {
		rec, err := it.Next(nil)
		if err != nil {
			break
		}
		msg := rec.AsMessage()
		require.NotNil(t, msg)
		times = append(times, msg.LogTime)
		topics = append(topics, msg.Channel.Topic)
	}
	assert.Equal(t, []uint64{10, 20, 30, 40, 50}, times)
	assert.Equal(t, []string{"/a", "/b", "/a", "/b", "/a"}, topics)
}

func TestMergeDeduplicatesIdenticalSchemas(t *testing.T) {
	a := buildSingleChannelFile(t, "/a", []uint64{1})
	b := buildSingleChannelFile(t, "/a", []uint64{2})

	out := &bytes.Buffer{}
	err := Merge(out, []MergeInput{
		{Name: "a.mcap", Reader: bytes.NewReader(a.Bytes())},
		{Name: "b.mcap", Reader: bytes.NewReader(b.Bytes())},
	}, MergeOptions{Compression: CompressionNone, Chunked: true, Coalescing: CoalesceAuto})
	require.NoError(t, err)

	reader, err := NewReader(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	info, err := reader.Info()
	require.NoError(t, err)
	assert.Len(t, info.Schemas, 1)
	assert.Len(t, info.Channels, 1)
}

func TestMergeRejectsDuplicateMetadataNameByDefault(t *testing.T) {
	build := func(name string) *bytes.Buffer {
		buf := &bytes.Buffer{}
		w, err := NewWriter(buf, &WriterOptions{Compression: CompressionNone})
		require.NoError(t, err)
		require.NoError(t, w.WriteHeader(&Header{}))
		require.NoError(t, w.WriteMetadata(&Metadata{Name: name, Metadata: map[string]string{"k": "v1"}}))
		require.NoError(t, w.Close())
		return buf
	}
	a := build("calibration")
	b := &bytes.Buffer{}
	w, err := NewWriter(b, &WriterOptions{Compression: CompressionNone})
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&Header{}))
	require.NoError(t, w.WriteMetadata(&Metadata{Name: "calibration", Metadata: map[string]string{"k": "v2"}}))
	require.NoError(t, w.Close())

	out := &bytes.Buffer{}
	err = Merge(out, []MergeInput{
		{Name: "a.mcap", Reader: bytes.NewReader(a.Bytes())},
		{Name: "b.mcap", Reader: bytes.NewReader(b.Bytes())},
	}, MergeOptions{Compression: CompressionNone})
	require.Error(t, err)
	assert.ErrorIs(t, err, &ErrDuplicateMetadataName{})
}
