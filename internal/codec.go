package internal

import (
	"encoding/binary"
	"fmt"
)

const (
	boolLen   = 1
	uint16Len = 2
	int32Len  = 4

	// MaxStringSize is the largest string that fits in the uint16 length
	// prefix.
	MaxStringSize = 0xffff
)

// encoder appends big-endian primitives to a buffer.
type encoder struct {
	buf []byte
}

func newEncoder(size int) *encoder {
	return &encoder{
		buf: make([]byte, 0, size),
	}
}

func (e *encoder) encodeInt32(n int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(n))
}

func (e *encoder) encodeBool(b bool) {
	if b {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) encodeString(s string) error {
	if len(s) > MaxStringSize {
		return fmt.Errorf("string too large; cannot exceed %d bytes", MaxStringSize)
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *encoder) encodeBytes(b []byte) {
	e.encodeInt32(int32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) Bytes() []byte {
	return e.buf
}

// decoder reads big-endian primitives from a buffer. Every read is bounds
// checked so a truncated or corrupt buffer returns an error rather than
// panicking.
type decoder struct {
	buf    []byte
	offset int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{
		buf: buf,
	}
}

func (d *decoder) Offset() int {
	return d.offset
}

func (d *decoder) Remaining() int {
	return len(d.buf) - d.offset
}

// need reserves n bytes and returns the offset they start at.
func (d *decoder) need(n int) (int, error) {
	if n < 0 {
		return 0, ErrNegativeLength
	}
	if d.Remaining() < n {
		return 0, ErrTruncated
	}
	off := d.offset
	d.offset += n
	return off, nil
}

func (d *decoder) decodeInt32() (int32, error) {
	off, err := d.need(int32Len)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(d.buf[off:])), nil
}

func (d *decoder) decodeLength() (int, error) {
	n, err := d.decodeInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrNegativeLength
	}
	return int(n), nil
}

func (d *decoder) decodeBool() (bool, error) {
	off, err := d.need(boolLen)
	if err != nil {
		return false, err
	}
	return d.buf[off] != 0, nil
}

func (d *decoder) decodeString() (string, error) {
	off, err := d.need(uint16Len)
	if err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(d.buf[off:]))
	off, err = d.need(n)
	if err != nil {
		return "", err
	}
	return string(d.buf[off : off+n]), nil
}

// decodeRaw returns a copy of the next n bytes.
func (d *decoder) decodeRaw(n int) ([]byte, error) {
	off, err := d.need(n)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.buf[off:off+n])
	return b, nil
}

func (d *decoder) decodeBytes() ([]byte, error) {
	n, err := d.decodeLength()
	if err != nil {
		return nil, err
	}
	return d.decodeRaw(n)
}

func (d *decoder) done() error {
	if d.Remaining() != 0 {
		return ErrTrailingBytes
	}
	return nil
}
