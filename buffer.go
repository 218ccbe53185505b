package msicfb

import "io"

// Buffer is a minimal in-memory io.WriteSeeker: Write grows it as needed and
// Seek may leave a gap, which reads back as zero bytes, matching how Write's
// header pass seeks back to offset 0 only after every later sector has
// already been appended past it.
type Buffer struct {
	data []byte
	pos  int64
}

// NewBuffer returns an empty Buffer ready to be passed to Write.
func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, invalidArgument("unknown seek whence %d", whence)
	}
	if abs < 0 {
		return 0, invalidArgument("negative seek position %d", abs)
	}
	b.pos = abs
	return abs, nil
}

// Bytes returns the buffer's current contents. The slice is shared with the
// Buffer's internal storage and must not be retained across further writes.
func (b *Buffer) Bytes() []byte { return b.data }
