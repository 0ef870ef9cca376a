package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxglove-labs/logbag/schema"
)

// TestTranslateTime checks that a ROS 1 `time` field round-trips to a
// ROS 2 builtin_interfaces/Time record and back with the same
// (seconds, nanoseconds) value.
func TestTranslateTime(t *testing.T) {
	root, subs, err := schema.ParseMessageDefinition(schema.DialectROS1, "my_pkg/Stamped", "time stamp\n")
	require.NoError(t, err)

	rec := schema.NewRecord(root.Name)
	rec.Set("stamp", [2]uint32{1234567890, 123456789})

	ros2, err := MessageROS1ToROS2(root, subs, rec)
	require.NoError(t, err)
	stamp, ok := ros2.Get("stamp")
	require.True(t, ok)
	stampRec := stamp.(*schema.Record)
	sec, _ := stampRec.Get("sec")
	nanosec, _ := stampRec.Get("nanosec")
	assert.Equal(t, int32(1234567890), sec)
	assert.Equal(t, uint32(123456789), nanosec)

	ros2Schema, ros2Subs := SchemaROS1ToROS2(root, subs)
	back, err := MessageROS2ToROS1(ros2Schema, ros2Subs, ros2)
	require.NoError(t, err)
	backStamp, _ := back.Get("stamp")
	assert.Equal(t, [2]uint32{1234567890, 123456789}, backStamp)
}

func TestSchemaROS1ToROS2RenamesRoot(t *testing.T) {
	root, subs, err := schema.ParseMessageDefinition(schema.DialectROS1, "my_pkg/Stamped", "time stamp\n")
	require.NoError(t, err)
	ros2Schema, ros2Subs := SchemaROS1ToROS2(root, subs)
	assert.Equal(t, "my_pkg/msg/Stamped", ros2Schema.Name)
	_, ok := ros2Subs["builtin_interfaces/Time"]
	assert.True(t, ok)
}

func TestSchemaROS2ToROS1DropsBuiltinSubSchema(t *testing.T) {
	root, subs, err := schema.ParseMessageDefinition(schema.DialectROS1, "my_pkg/Stamped", "time stamp\n")
	require.NoError(t, err)
	ros2Schema, ros2Subs := SchemaROS1ToROS2(root, subs)
	back, backSubs := SchemaROS2ToROS1(ros2Schema, ros2Subs)
	assert.Equal(t, "my_pkg/Stamped", back.Name)
	_, ok := backSubs["builtin_interfaces/Time"]
	assert.False(t, ok)
}
