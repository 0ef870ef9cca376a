package mcap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlicemapGetSetAt(t *testing.T) {
	var s []*string
	val := "hello"
	assert.Empty(t, s)

	// setting the first value expands the slice enough to fit it
	s = SetAt(s, 0, &val)
	assert.Equal(t, &val, GetAt(s, 0))
	assert.Len(t, s, 1)

	// setting another higher expands the slice enough to fit it
	s = SetAt(s, 5, &val)
	assert.Equal(t, &val, GetAt(s, 5))
	assert.Len(t, s, 6)

	// setting a value <= len does not expand the slice
	s = SetAt(s, 1, &val)
	assert.Equal(t, &val, GetAt(s, 1))
	assert.Len(t, s, 6)

	// getting a value > len does not expand the slice
	assert.Nil(t, GetAt(s, 10))
	assert.Len(t, s, 6)
}
