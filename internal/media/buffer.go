package media

// Buffer is a growable byte region backing a frame payload. It carries no
// ownership information of its own: a frame records whether it owns the
// Buffer it points to or shares it with another frame, and copies before
// mutating a shared one.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty Buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// NewBufferFrom returns a Buffer holding a copy of data.
func NewBufferFrom(data []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(data))}
	copy(b.data, data)
	return b
}

// Bytes returns the buffer contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes stored.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the allocated capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Alloc ensures the buffer can hold at least n bytes without reallocating.
func (b *Buffer) Alloc(n int) {
	if n <= cap(b.data) {
		return
	}
	grown := make([]byte, len(b.data), n)
	copy(grown, b.data)
	b.data = grown
}

// SetSize truncates or zero-extends the buffer to n bytes.
func (b *Buffer) SetSize(n int) {
	if n <= len(b.data) {
		b.data = b.data[:n]
		return
	}
	b.Alloc(n)
	old := len(b.data)
	b.data = b.data[:n]
	clear(b.data[old:])
}

// SetData replaces the contents with a copy of data.
func (b *Buffer) SetData(data []byte) {
	b.data = append(b.data[:0], data...)
}

// Append copies data onto the end of the buffer.
func (b *Buffer) Append(data []byte) {
	b.data = append(b.data, data...)
}
