package executor

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/schema"
)

// Archive is the little-endian serialization sink for executor programs.
// The same envelope carries log records: a class id followed by the
// class's own payload.
type Archive struct {
	buf bytes.Buffer
}

func (a *Archive) Bytes() []byte { return a.buf.Bytes() }

func (a *Archive) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.buf.Write(b[:])
}

func (a *Archive) WriteInt(v int) { a.WriteUint32(uint32(int32(v))) }

func (a *Archive) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.buf.Write(b[:])
}

func (a *Archive) WriteBool(v bool) {
	if v {
		a.WriteUint32(1)
	} else {
		a.WriteUint32(0)
	}
}

func (a *Archive) WriteBytes(b []byte) {
	a.WriteUint32(uint32(len(b)))
	a.buf.Write(b)
}

func (a *Archive) WriteString(s string) { a.WriteBytes([]byte(s)) }

// WriteValue writes a typed field value with a null flag.
func (a *Archive) WriteValue(v btree.Value) {
	a.WriteUint32(uint32(v.Type))
	a.WriteBool(v.Null)
	if v.Null {
		return
	}
	switch v.Type {
	case schema.FieldFloat64:
		a.WriteUint64(math.Float64bits(v.Float))
	case schema.FieldString, schema.FieldBytes:
		a.WriteBytes(v.Bytes)
	default:
		a.WriteUint64(uint64(v.Int))
	}
}

// Reader is the matching deserialization source.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fault.New(fault.KindUnexpected, moduleName, "archive truncated at offset %d", r.off)
	}
	return nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) ReadInt() (int, error) {
	v, err := r.ReadUint32()
	return int(int32(v)), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint32()
	return v != 0, err
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return b, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

// ReadValue reads a typed field value.
func (r *Reader) ReadValue() (btree.Value, error) {
	var v btree.Value
	t, err := r.ReadUint32()
	if err != nil {
		return v, err
	}
	v.Type = schema.FieldType(t)
	if v.Null, err = r.ReadBool(); err != nil {
		return v, err
	}
	if v.Null {
		return v, nil
	}
	switch v.Type {
	case schema.FieldFloat64:
		bits, err := r.ReadUint64()
		if err != nil {
			return v, err
		}
		v.Float = math.Float64frombits(bits)
	case schema.FieldString, schema.FieldBytes:
		if v.Bytes, err = r.ReadBytes(); err != nil {
			return v, err
		}
	default:
		bits, err := r.ReadUint64()
		if err != nil {
			return v, err
		}
		v.Int = int64(bits)
	}
	return v, nil
}
