package astimpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappingCounter(t *testing.T) {
	c := newWrappingCounter(15)
	assert.Equal(t, 0, c.inc())
	for i := 1; i < 16; i++ {
		assert.Equal(t, i, c.inc())
	}
	assert.Equal(t, 0, c.inc())
	assert.True(t, c.follows(1))
	assert.False(t, c.follows(0))

	c.value = 15
	assert.True(t, c.follows(0))

	v := newWrappingCounter(31)
	assert.True(t, v.follows(0))
	assert.Equal(t, 0, v.inc())
}
