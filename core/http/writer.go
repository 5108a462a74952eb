package http

import "io"

// BufferWriter is a growable output buffer with explicit cursor control.
// Composition routines either write through Write/WriteString or reserve a
// span with Ensure, fill it, and Advance past the bytes they produced.
// Commit hands everything written so far to the stream.
type BufferWriter struct {
	buf []byte
}

// NewBufferWriter wraps buf, typically a pooled zero-length slice.
func NewBufferWriter(buf []byte) *BufferWriter {
	return &BufferWriter{buf: buf[:0]}
}

// Ensure returns the free span after the written bytes, growing the buffer
// so it holds at least n bytes.
func (w *BufferWriter) Ensure(n int) []byte {
	if cap(w.buf)-len(w.buf) < n {
		w.grow(n)
	}
	return w.buf[len(w.buf):cap(w.buf)]
}

func (w *BufferWriter) grow(n int) {
	nb := make([]byte, len(w.buf), 2*cap(w.buf)+n)
	copy(nb, w.buf)
	w.buf = nb
}

// Advance marks n bytes of the span returned by Ensure as written.
func (w *BufferWriter) Advance(n int) {
	if n < 0 || len(w.buf)+n > cap(w.buf) {
		panic("http: BufferWriter.Advance past the ensured span")
	}
	w.buf = w.buf[:len(w.buf)+n]
}

// Write appends p. It never fails.
func (w *BufferWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteString appends s. It never fails.
func (w *BufferWriter) WriteString(s string) (int, error) {
	w.buf = append(w.buf, s...)
	return len(s), nil
}

// WriteByte appends c. It never fails.
func (w *BufferWriter) WriteByte(c byte) error {
	w.buf = append(w.buf, c)
	return nil
}

// WriteNumeric appends the decimal form of v without intermediate strings.
func (w *BufferWriter) WriteNumeric(v uint64) {
	span := w.Ensure(maxUint64Digits)
	w.Advance(len(AppendUint(span[:0], v)))
}

// Len returns the number of uncommitted bytes.
func (w *BufferWriter) Len() int { return len(w.buf) }

// Bytes returns the uncommitted bytes. The slice is valid until the next write.
func (w *BufferWriter) Bytes() []byte { return w.buf }

// Reset drops uncommitted bytes and keeps the capacity.
func (w *BufferWriter) Reset() { w.buf = w.buf[:0] }

// Commit writes the buffered bytes to out in one call and resets the buffer.
func (w *BufferWriter) Commit(out io.Writer) error {
	if len(w.buf) == 0 {
		return nil
	}
	_, err := out.Write(w.buf)
	w.buf = w.buf[:0]
	return err
}

// detach returns the underlying slice for return to a pool.
func (w *BufferWriter) detach() []byte {
	b := w.buf[:0]
	w.buf = nil
	return b
}

const maxUint64Digits = 20

// AppendUint appends the decimal representation of v to dst.
func AppendUint(dst []byte, v uint64) []byte {
	var digits [maxUint64Digits]byte
	i := len(digits)
	for v >= 10 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	i--
	digits[i] = byte('0' + v)
	return append(dst, digits[i:]...)
}
