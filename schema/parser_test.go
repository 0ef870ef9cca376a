package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePointSchema(t *testing.T) {
	root, subs, err := ParseMessageDefinition(DialectROS2, "geometry_msgs/msg/Point", "float64 x\nfloat64 y\nfloat64 z\n")
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Len(t, root.Fields(), 3)
	for i, name := range []string{"x", "y", "z"} {
		assert.Equal(t, name, root.Fields()[i].Name)
		assert.NotNil(t, root.Fields()[i].Type.Primitive)
	}
}

func TestParseConstant(t *testing.T) {
	root, _, err := ParseMessageDefinition(DialectROS1, "my_pkg/Status", "uint8 OK=0\nuint8 WARN=1\nuint8 status\n")
	require.NoError(t, err)
	require.Len(t, root.Entries, 3)
	assert.True(t, root.Entries[0].IsConstant)
	assert.Equal(t, "OK", root.Entries[0].Name)
	assert.False(t, root.Entries[2].IsConstant)
}

func TestParseLowercaseConstantRejected(t *testing.T) {
	_, _, err := ParseMessageDefinition(DialectROS1, "my_pkg/Status", "uint8 ok=0\n")
	require.Error(t, err)
}

func TestParseSubSchemaSeparator(t *testing.T) {
	text := "std_msgs/Header header\nstring data\n" +
		"================================================================================\n" +
		"MSG: std_msgs/Header\n" +
		"uint32 seq\ntime stamp\nstring frame_id\n"
	root, subs, err := ParseMessageDefinition(DialectROS1, "my_pkg/Tagged", text)
	require.NoError(t, err)
	require.Len(t, root.Fields(), 2)
	assert.Equal(t, "std_msgs/Header", root.Fields()[0].Type.Complex.Name)
	header, ok := subs["std_msgs/Header"]
	require.True(t, ok)
	assert.Len(t, header.Fields(), 3)
}

func TestParseToleratesFortyEqualsSeparator(t *testing.T) {
	text := "std_msgs/Header header\n" +
		"========================================\n" +
		"MSG: std_msgs/Header\n" +
		"uint32 seq\n"
	_, subs, err := ParseMessageDefinition(DialectROS1, "my_pkg/Tagged", text)
	require.NoError(t, err)
	assert.Contains(t, subs, "std_msgs/Header")
}

func TestParseRejectsCircularReference(t *testing.T) {
	text := "my_pkg/A a\n" +
		"================================================================================\n" +
		"MSG: my_pkg/A\n" +
		"my_pkg/Tagged back\n"
	_, _, err := ParseMessageDefinition(DialectROS1, "my_pkg/Tagged", text)
	require.Error(t, err)
}

func TestParseRejectsTimeUnderROS2(t *testing.T) {
	_, _, err := ParseMessageDefinition(DialectROS2, "my_pkg/msg/Clock", "time stamp\n")
	require.Error(t, err)
}

func TestParseArrayAndSequence(t *testing.T) {
	root, _, err := ParseMessageDefinition(DialectROS2, "my_pkg/msg/Grid", "float64[36] covariance\nint32[] indices\n")
	require.NoError(t, err)
	cov := root.Fields()[0]
	require.NotNil(t, cov.Type.Array)
	assert.Equal(t, uint(36), cov.Type.Array.Length)
	idx := root.Fields()[1]
	require.NotNil(t, idx.Type.Sequence)
}
