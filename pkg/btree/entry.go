package btree

import (
	"encoding/binary"
	"math"

	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/schema"
)

func floatBits(f float64) uint64 { return math.Float64bits(f) }
func floatFrom(b uint64) float64 { return math.Float64frombits(b) }

// Entries are packed little-endian u32 arrays. With a header, word 0 is
// the NULL bitmap (bit i set means field i is NULL). Fixed-size fields
// occupy one word (int32, uint32) or two (int64, float64); variable
// length fields carry an internal length prefix word followed by the
// payload padded to a word boundary. NULL fields occupy no payload words.

const wordSize = 4

func wordsFor(n int) int { return (n + wordSize - 1) / wordSize }

// Encode packs a tuple according to the comparator's layout.
func (c *Compare) Encode(vals []Value) ([]byte, error) {
	if len(vals) < len(c.types) {
		return nil, fault.New(fault.KindBadArgument, moduleName, "entry has %d fields, comparator declares %d", len(vals), len(c.types))
	}

	size := 0
	if c.hasHeader {
		size += wordSize
	}
	for i, t := range c.types {
		if vals[i].Null {
			if !c.hasHeader {
				return nil, fault.New(fault.KindBadArgument, moduleName, "null field %d in a headerless entry", i)
			}
			continue
		}
		switch t {
		case schema.FieldInt32, schema.FieldUint32:
			size += wordSize
		case schema.FieldInt64, schema.FieldFloat64:
			size += 2 * wordSize
		default:
			size += wordSize + wordsFor(len(vals[i].Bytes))*wordSize
		}
	}

	buf := make([]byte, size)
	off := 0
	if c.hasHeader {
		var bitmap uint32
		for i := range c.types {
			if vals[i].Null {
				bitmap |= 1 << uint(i)
			}
		}
		binary.LittleEndian.PutUint32(buf[off:], bitmap)
		off += wordSize
	}
	for i, t := range c.types {
		if vals[i].Null {
			continue
		}
		switch t {
		case schema.FieldInt32, schema.FieldUint32:
			binary.LittleEndian.PutUint32(buf[off:], uint32(vals[i].Int))
			off += wordSize
		case schema.FieldInt64:
			binary.LittleEndian.PutUint64(buf[off:], uint64(vals[i].Int))
			off += 2 * wordSize
		case schema.FieldFloat64:
			binary.LittleEndian.PutUint64(buf[off:], uint64(floatBits(vals[i].Float)))
			off += 2 * wordSize
		default:
			b := vals[i].Bytes
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
			off += wordSize
			copy(buf[off:], b)
			off += wordsFor(len(b)) * wordSize
		}
	}
	return buf, nil
}

// Decode unpacks a tuple. It never reads past the declared field count.
func (c *Compare) Decode(buf []byte) ([]Value, error) {
	vals := make([]Value, len(c.types))
	off := 0
	var bitmap uint32
	if c.hasHeader {
		if len(buf) < wordSize {
			return nil, fault.New(fault.KindUnexpected, moduleName, "entry shorter than its header")
		}
		bitmap = binary.LittleEndian.Uint32(buf)
		off += wordSize
	}
	for i, t := range c.types {
		vals[i].Type = t
		if bitmap&(1<<uint(i)) != 0 {
			vals[i].Null = true
			continue
		}
		switch t {
		case schema.FieldInt32:
			if off+wordSize > len(buf) {
				return nil, truncated(i)
			}
			vals[i].Int = int64(int32(binary.LittleEndian.Uint32(buf[off:])))
			off += wordSize
		case schema.FieldUint32:
			if off+wordSize > len(buf) {
				return nil, truncated(i)
			}
			vals[i].Int = int64(binary.LittleEndian.Uint32(buf[off:]))
			off += wordSize
		case schema.FieldInt64:
			if off+2*wordSize > len(buf) {
				return nil, truncated(i)
			}
			vals[i].Int = int64(binary.LittleEndian.Uint64(buf[off:]))
			off += 2 * wordSize
		case schema.FieldFloat64:
			if off+2*wordSize > len(buf) {
				return nil, truncated(i)
			}
			vals[i].Float = floatFrom(binary.LittleEndian.Uint64(buf[off:]))
			off += 2 * wordSize
		default:
			if off+wordSize > len(buf) {
				return nil, truncated(i)
			}
			n := int(binary.LittleEndian.Uint32(buf[off:]))
			off += wordSize
			if off+n > len(buf) {
				return nil, truncated(i)
			}
			vals[i].Bytes = append([]byte(nil), buf[off:off+n]...)
			off += wordsFor(n) * wordSize
		}
	}
	return vals, nil
}

func truncated(field int) error {
	return fault.New(fault.KindUnexpected, moduleName, "entry truncated at field %d", field)
}
