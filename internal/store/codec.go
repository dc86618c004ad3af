package store

import (
	"encoding/binary"
	"errors"
)

// Writer builds a length-prefixed little-endian record: fixed-width
// integers are written directly, and variable-length fields (strings,
// byte slices) are preceded by a uint32 length.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
}

func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }
func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

func (w *Writer) PutBytes(b []byte) {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) PutString(s string) { w.PutBytes([]byte(s)) }

// Reader walks a record produced by Writer.
type Reader struct {
	buf []byte
	off int
}

var ErrShortRecord = errors.New("store: short record during decode")

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return ErrShortRecord
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	return v != 0, err
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return b, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	return string(b), err
}

func (r *Reader) Done() bool { return r.off >= len(r.buf) }
