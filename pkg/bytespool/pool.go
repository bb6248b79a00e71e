// Package bytespool pools the chunks used while streaming transfer payloads
// and the scratch buffers used while rendering output.
package bytespool

import (
	"errors"
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// DefaultSize is the chunk size of a streaming read.
const DefaultSize = 32 * 1024

var chunks = sync.Pool{
	New: func() any {
		bs := make([]byte, DefaultSize)
		return &bs
	},
}

// GetBytes returns a DefaultSize chunk. Return it with PutBytes.
func GetBytes() *[]byte {
	return chunks.Get().(*[]byte)
}

// PutBytes returns a chunk from GetBytes to the pool.
func PutBytes(b *[]byte) {
	if b == nil || cap(*b) < DefaultSize {
		return
	}
	*b = (*b)[:DefaultSize]
	chunks.Put(b)
}

// GetBuffer returns a growable scratch buffer. Return it with PutBuffer.
func GetBuffer() *bytebufferpool.ByteBuffer {
	return bytebufferpool.Get()
}

// PutBuffer returns a buffer from GetBuffer to the pool.
func PutBuffer(b *bytebufferpool.ByteBuffer) {
	bytebufferpool.Put(b)
}

// WriteError wraps a failure of the destination during Copy.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "write destination: " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// Copy streams r into w one pooled chunk at a time and calls progress with
// the running total after every successful write. It returns nil at EOF.
// Destination failures come back as *WriteError; anything else is a read
// failure of r.
func Copy(w io.Writer, r io.Reader, progress func(int64)) (int64, error) {
	buf := GetBytes()
	defer PutBytes(buf)

	var n int64
	for {
		nr, rerr := r.Read(*buf)
		if nr > 0 {
			nw, werr := w.Write((*buf)[:nr])
			n += int64(nw)
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return n, &WriteError{Err: werr}
			}
			if progress != nil {
				progress(n)
			}
		}

		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}
