package traverse

// Cursor is a bounded position over an ordered key list. The zero value is an
// empty cursor with no current item.
type Cursor struct {
	keys []string
	pos  int
}

// Reset installs a new order and moves to the first item. Used whenever the
// image or split changes.
func (c *Cursor) Reset(keys []string) {
	c.keys = append(c.keys[:0:0], keys...)
	c.pos = 0
}

// Refresh installs a recomputed order for the same split and clamps the
// position to min(pos, len-1).
func (c *Cursor) Refresh(keys []string) {
	c.keys = append(c.keys[:0:0], keys...)
	c.clamp()
}

// Seek moves to pos, clamped into range.
func (c *Cursor) Seek(pos int) {
	c.pos = pos
	c.clamp()
}

// Next advances by one unless already at the last item.
func (c *Cursor) Next() bool {
	if c.pos+1 >= len(c.keys) {
		return false
	}
	c.pos++
	return true
}

// Prev steps back by one unless already at the first item.
func (c *Cursor) Prev() bool {
	if c.pos <= 0 || len(c.keys) == 0 {
		return false
	}
	c.pos--
	return true
}

// Current returns the key under the cursor; false when the order is empty.
func (c *Cursor) Current() (string, bool) {
	if len(c.keys) == 0 {
		return "", false
	}
	return c.keys[c.pos], true
}

// Position is the 0-based index of the current item.
func (c *Cursor) Position() int { return c.pos }

// Len is the length of the installed order.
func (c *Cursor) Len() int { return len(c.keys) }

// Keys returns a copy of the installed order.
func (c *Cursor) Keys() []string { return append([]string(nil), c.keys...) }

func (c *Cursor) clamp() {
	switch {
	case len(c.keys) == 0:
		c.pos = 0
	case c.pos >= len(c.keys):
		c.pos = len(c.keys) - 1
	case c.pos < 0:
		c.pos = 0
	}
}
