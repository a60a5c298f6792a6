// Package codec implements the deterministic canonical encoding every
// hashed or signed structure is serialized with. It writes
// little-endian integers, 32-bit-length-prefixed byte strings, ascending
// map keys, and enum values as their stable string name. Floats are
// rejected outright: they are permitted only for metrics/confidence
// scores, which are never hashed or signed.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrFloatInSignedPayload is returned when Encoder encounters a float32
// or float64 value; floats are forbidden inside hashed/signed payloads.
var ErrFloatInSignedPayload = errors.New("codec: float value not permitted in signed payload")

// Encoder accumulates a canonical byte stream. Zero value is ready to use.
type Encoder struct {
	buf []byte
	err error
}

// Bytes returns the accumulated canonical encoding, or a non-nil error if
// any Put call failed (e.g. a float was written).
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// MustBytes panics if encoding failed. Reserved for call sites that have
// already validated their inputs cannot contain floats (struct literals
// built entirely from ints/strings/byte slices).
func (e *Encoder) MustBytes() []byte {
	b, err := e.Bytes()
	if err != nil {
		panic(err)
	}
	return b
}

// PutUint8 writes a single byte.
func (e *Encoder) PutUint8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

// PutUint16 writes v little-endian.
func (e *Encoder) PutUint16(v uint16) *Encoder {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// PutUint32 writes v little-endian.
func (e *Encoder) PutUint32(v uint32) *Encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// PutUint64 writes v little-endian.
func (e *Encoder) PutUint64(v uint64) *Encoder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// PutInt64 writes v little-endian as its unsigned bit pattern.
func (e *Encoder) PutInt64(v int64) *Encoder {
	return e.PutUint64(uint64(v))
}

// PutBool writes a single 0/1 byte.
func (e *Encoder) PutBool(v bool) *Encoder {
	if v {
		return e.PutUint8(1)
	}
	return e.PutUint8(0)
}

// PutBytes writes a 32-bit-LE length prefix followed by data.
func (e *Encoder) PutBytes(data []byte) *Encoder {
	e.PutUint32(uint32(len(data)))
	e.buf = append(e.buf, data...)
	return e
}

// PutFixedBytes writes data with no length prefix; used for fixed-size
// hash fields (32 bytes) where the length is already implied by the field.
func (e *Encoder) PutFixedBytes(data []byte) *Encoder {
	e.buf = append(e.buf, data...)
	return e
}

// PutString writes a UTF-8 string as a length-prefixed byte string.
func (e *Encoder) PutString(s string) *Encoder {
	return e.PutBytes([]byte(s))
}

// PutEnum writes an enum value by its stable string name.
func (e *Encoder) PutEnum(name string) *Encoder {
	return e.PutString(name)
}

// PutFloat marks the encoding as invalid: floats are never permitted
// inside a hashed/signed payload.
func (e *Encoder) PutFloat(_ float64) *Encoder {
	if e.err == nil {
		e.err = ErrFloatInSignedPayload
	}
	return e
}

// PutStringSlice writes a 32-bit-LE count followed by each length-prefixed
// string in the given order (array order is preserved, not sorted).
func (e *Encoder) PutStringSlice(ss []string) *Encoder {
	e.PutUint32(uint32(len(ss)))
	for _, s := range ss {
		e.PutString(s)
	}
	return e
}

// PutBytesSlice writes a 32-bit-LE count followed by each length-prefixed
// byte string in order.
func (e *Encoder) PutBytesSlice(bs [][]byte) *Encoder {
	e.PutUint32(uint32(len(bs)))
	for _, b := range bs {
		e.PutBytes(b)
	}
	return e
}

// PutStringMap writes a map[string]string in ascending key order, per the
// canonical encoding's "maps serialized by ascending key" rule.
func (e *Encoder) PutStringMap(m map[string]string) *Encoder {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.PutUint32(uint32(len(keys)))
	for _, k := range keys {
		e.PutString(k)
		e.PutString(m[k])
	}
	return e
}

// Encodable is implemented by any struct with a deterministic canonical
// encoding. EncodeCanonical must never branch on map iteration order.
type Encodable interface {
	EncodeCanonical(e *Encoder)
}

// Encode runs v's EncodeCanonical against a fresh Encoder and returns the
// resulting bytes.
func Encode(v Encodable) ([]byte, error) {
	e := &Encoder{}
	v.EncodeCanonical(e)
	b, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return b, nil
}

// ErrShortBuffer is returned when a Decoder read runs past the end of buf.
var ErrShortBuffer = errors.New("codec: buffer too short")

// Decoder reads a canonical byte stream produced by Encoder, in the same
// field order it was written. Decodable types must read fields in the
// exact order their EncodeCanonical wrote them.
type Decoder struct {
	buf []byte
	pos int
	err error
}

// NewDecoder wraps buf for sequential canonical reads.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Err returns the first error encountered during decoding, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) need(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.pos+n > len(d.buf) {
		d.err = ErrShortBuffer
		return nil
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out
}

// Uint8 reads a single byte.
func (d *Decoder) Uint8() uint8 {
	b := d.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads a little-endian uint16.
func (d *Decoder) Uint16() uint16 {
	b := d.need(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a little-endian uint32.
func (d *Decoder) Uint32() uint32 {
	b := d.need(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Uint64 reads a little-endian uint64.
func (d *Decoder) Uint64() uint64 {
	b := d.need(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Int64 reads a little-endian int64.
func (d *Decoder) Int64() int64 {
	return int64(d.Uint64())
}

// Bool reads a single 0/1 byte.
func (d *Decoder) Bool() bool {
	return d.Uint8() != 0
}

// Bytes reads a 32-bit-LE length-prefixed byte string.
func (d *Decoder) Bytes() []byte {
	n := d.Uint32()
	b := d.need(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// FixedBytes reads exactly n bytes with no length prefix.
func (d *Decoder) FixedBytes(n int) []byte {
	b := d.need(n)
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String reads a length-prefixed UTF-8 string.
func (d *Decoder) String() string {
	return string(d.Bytes())
}

// Enum reads an enum's stable string name.
func (d *Decoder) Enum() string {
	return d.String()
}

// StringSlice reads a count-prefixed sequence of strings in written order.
func (d *Decoder) StringSlice() []string {
	n := d.Uint32()
	if d.err != nil {
		return nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.String())
	}
	return out
}

// BytesSlice reads a count-prefixed sequence of byte strings in written order.
func (d *Decoder) BytesSlice() [][]byte {
	n := d.Uint32()
	if d.err != nil {
		return nil
	}
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.Bytes())
	}
	return out
}

// StringMap reads a map[string]string written in ascending key order.
func (d *Decoder) StringMap() map[string]string {
	n := d.Uint32()
	if d.err != nil {
		return nil
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k := d.String()
		v := d.String()
		out[k] = v
	}
	return out
}

// Decodable is implemented by any struct that can reconstruct itself from a
// canonical byte stream, in exactly the field order EncodeCanonical wrote.
type Decodable interface {
	DecodeCanonical(d *Decoder) error
}

// Decode wraps buf in a Decoder and runs v's DecodeCanonical against it,
// returning any short-buffer or field-level error encountered.
func Decode(buf []byte, v Decodable) error {
	d := NewDecoder(buf)
	if err := v.DecodeCanonical(d); err != nil {
		return fmt.Errorf("canonical decode: %w", err)
	}
	if d.err != nil {
		return fmt.Errorf("canonical decode: %w", d.err)
	}
	return nil
}
