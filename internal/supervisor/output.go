package supervisor

import (
	"io"
	"sync"
)

// captureBuffer is a bounded in-memory byte sink for subprocess output.
// Writes beyond the cap are discarded from memory but still reach the
// durable sink and any registered chunk subscriber, so the cap bounds
// memory growth without losing the full stream.
type captureBuffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
	// durable receives every byte; owned and closed by the caller.
	durable io.Writer
	sink    func(chunk []byte)
}

func newCaptureBuffer(max int, durable io.Writer, sink func([]byte)) *captureBuffer {
	return &captureBuffer{max: max, durable: durable, sink: sink}
}

// Write implements io.Writer. It never returns an error: output capture
// must not fail the subprocess.
func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.durable != nil {
		b.durable.Write(p)
	}
	if b.sink != nil {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		b.sink(chunk)
	}

	if remaining := b.max - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

// Bytes returns a copy of the captured prefix.
func (b *captureBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Truncated reports whether output exceeded the in-memory cap.
func (b *captureBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
