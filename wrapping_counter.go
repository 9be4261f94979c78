package astimpeg

// wrappingCounter counts from 0 to wrapAt included, then starts over. Continuity counters wrap at 15, table
// versions at 31.
type wrappingCounter struct {
	value  int
	wrapAt int
}

// newWrappingCounter returns a counter whose first inc returns 0
func newWrappingCounter(wrapAt int) wrappingCounter {
	return wrappingCounter{
		value:  wrapAt,
		wrapAt: wrapAt,
	}
}

func (c *wrappingCounter) get() int {
	return c.value
}

func (c *wrappingCounter) inc() int {
	c.value++
	if c.value > c.wrapAt {
		c.value = 0
	}
	return c.value
}

// follows checks whether v is the value coming right after the current one
func (c *wrappingCounter) follows(v int) bool {
	next := c.value + 1
	if next > c.wrapAt {
		next = 0
	}
	return v == next
}
