package wire

import (
	"encoding/binary"
)

// reader decodes little-endian fields. The first underflow is sticky:
// every later read returns zero values and err stays ErrShortBuffer.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.remaining() < n {
		r.err = ErrShortBuffer
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u16be() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int32 {
	return int32(r.u32())
}

// bytes returns a view into the underlying buffer.
func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return v
}

// copyBytes returns a copy that does not alias the packet buffer.
func (r *reader) copyBytes(n int) []byte {
	v := r.bytes(n)
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

func (r *reader) read(dst []byte) {
	copy(dst, r.bytes(len(dst)))
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.off += n
	}
}

// sub splits off the next n bytes into a bounded reader.
func (r *reader) sub(n int) *reader {
	return newReader(r.bytes(n))
}

func (r *reader) rest() []byte {
	return r.bytes(r.remaining())
}

// writer appends little-endian fields.
type writer struct {
	buf []byte
}

func (w *writer) len() int {
	return len(w.buf)
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u16be(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) i32(v int32) {
	w.u32(uint32(v))
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) zeros(n int) {
	for range n {
		w.buf = append(w.buf, 0)
	}
}

// pad aligns the total length to a multiple of four relative to start.
func (w *writer) pad(start int) int {
	n := padding(w.len() - start)
	w.zeros(n)
	return n
}

func (w *writer) putU16At(off int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[off:], v)
}

func padding(n int) int {
	return (4 - n%4) % 4
}
