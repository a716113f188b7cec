package audio

// Chunker cuts a byte stream into fixed-size chunks.
type Chunker struct {
	size int
	buf  []byte
}

func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = ChunkBytes(DefaultChunkDuration)
	}
	return &Chunker{size: size, buf: make([]byte, 0, size)}
}

// Write buffers p and returns every chunk completed by it.
func (c *Chunker) Write(p []byte) [][]byte {
	var chunks [][]byte
	for len(p) > 0 {
		n := c.size - len(c.buf)
		if n > len(p) {
			n = len(p)
		}
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		if len(c.buf) == c.size {
			chunks = append(chunks, c.buf)
			c.buf = make([]byte, 0, c.size)
		}
	}
	return chunks
}

// Flush returns the buffered partial chunk, or nil if there is none.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	out := c.buf
	c.buf = make([]byte, 0, c.size)
	return out
}

func (c *Chunker) Size() int {
	return c.size
}
