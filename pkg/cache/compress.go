package cache

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
)

// compressThreshold is the body size above which payloads are stored
// brotli-compressed. State payloads for a metro area run to tens of KB.
const compressThreshold = 4 << 10

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// SetBody stores body, compressing it when large enough to be worth it.
func (e *CacheEntry) SetBody(body []byte) {
	if len(body) < compressThreshold {
		e.Data, e.Compressed = body, false
		return
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := brotli.NewWriterLevel(buf, brotli.DefaultCompression)
	if _, err := w.Write(body); err != nil {
		e.Data, e.Compressed = body, false
		return
	}
	if err := w.Close(); err != nil {
		e.Data, e.Compressed = body, false
		return
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	e.Data, e.Compressed = out, true
}

// Body returns the decoded payload.
func (e *CacheEntry) Body() ([]byte, error) {
	if !e.Compressed {
		return e.Data, nil
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(e.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrInvalidEntry, err)
	}
	return out, nil
}
