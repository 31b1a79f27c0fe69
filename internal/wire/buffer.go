package wire

// Buffer is a request or response under construction: an ordered list of
// byte chunks that are sent back to back. Appending never copies, so a fixed
// header and a caller's trailer can go out without being joined first.
type Buffer struct {
	chunks [][]byte
	total  int
}

// Append adds p to the end of the buffer. The buffer keeps a reference to p;
// callers must not modify it afterwards.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.chunks = append(b.chunks, p)
	b.total += len(p)
}

func (b *Buffer) TotalLength() int { return b.total }

// Bytes flattens the buffer into a fresh slice.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Iterator walks the chunks of b from the start.
func (b *Buffer) Iterator() *Iterator {
	return &Iterator{chunks: b.chunks, total: b.total}
}

// Iterator hands a Buffer to a transport one contiguous chunk at a time.
//
//	for it := buf.Iterator(); !it.IsDone(); it.Next() {
//	    conn.Write(it.Data())
//	}
type Iterator struct {
	chunks [][]byte
	pos    int
	total  int
}

func (it *Iterator) IsDone() bool { return it.pos >= len(it.chunks) }

// Data returns the current chunk. It must not be called once IsDone.
func (it *Iterator) Data() []byte { return it.chunks[it.pos] }

func (it *Iterator) Length() int { return len(it.chunks[it.pos]) }

func (it *Iterator) Next() { it.pos++ }

// TotalLength is the size of the whole buffer, independent of position.
func (it *Iterator) TotalLength() int { return it.total }

// Collect copies the remaining chunks into one slice.
func (it *Iterator) Collect() []byte {
	out := make([]byte, 0, it.total)
	for ; !it.IsDone(); it.Next() {
		out = append(out, it.Data()...)
	}
	return out
}
