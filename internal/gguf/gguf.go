// Package gguf writes and reads the subset of the GGUF v3 container used to
// export sparse autoencoder weights.
package gguf

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// GGUF Constants
const (
	Magic   = 0x46554747 // "GGUF" in little-endian
	Version = 3

	// DefaultAlignment is the alignment of the tensor data section and of every tensor in it.
	DefaultAlignment = 32
)

// ValueType is the type tag of a metadata value.
type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

// GGMLType is the storage type of a tensor.
type GGMLType uint32

const (
	GGMLTypeF32 GGMLType = 0
	GGMLTypeF16 GGMLType = 1
)

// String implements fmt.Stringer.
func (t GGMLType) String() string {
	switch t {
	case GGMLTypeF32:
		return "F32"
	case GGMLTypeF16:
		return "F16"
	default:
		return "unknown"
	}
}

// ElementSize returns the size in bytes of one element, or 0 for unsupported types.
func (t GGMLType) ElementSize() int {
	switch t {
	case GGMLTypeF32:
		return 4
	case GGMLTypeF16:
		return 2
	default:
		return 0
	}
}

// Writer writes a GGUF stream. It tracks the number of bytes written so that
// it can pad to the alignment boundary.
type Writer struct {
	w         io.Writer
	n         uint64
	alignment uint64
}

// NewWriter creates a Writer with the default alignment.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:         w,
		alignment: DefaultAlignment,
	}
}

func (gw *Writer) write(v any) error {
	if err := binary.Write(gw.w, binary.LittleEndian, v); err != nil {
		return err
	}
	gw.n += uint64(binary.Size(v))
	return nil
}

// Offset returns the number of bytes written so far.
func (gw *Writer) Offset() uint64 {
	return gw.n
}

// WriteHeader writes magic, version and counts.
func (gw *Writer) WriteHeader(kvCount, tensorCount uint64) error {
	if err := gw.write(uint32(Magic)); err != nil {
		return err
	}
	if err := gw.write(uint32(Version)); err != nil {
		return err
	}
	if err := gw.write(tensorCount); err != nil {
		return err
	}
	return gw.write(kvCount)
}

// WriteString writes a length-prefixed string.
func (gw *Writer) WriteString(s string) error {
	if err := gw.write(uint64(len(s))); err != nil {
		return err
	}
	n, err := io.WriteString(gw.w, s)
	gw.n += uint64(n)
	return err
}

// WriteKV writes one metadata key/value pair. Arrays are not supported.
func (gw *Writer) WriteKV(key string, valType ValueType, value any) error {
	if err := gw.WriteString(key); err != nil {
		return err
	}
	if err := gw.write(uint32(valType)); err != nil {
		return err
	}

	switch valType {
	case TypeUint8:
		return gw.write(value.(uint8))
	case TypeInt8:
		return gw.write(value.(int8))
	case TypeUint16:
		return gw.write(value.(uint16))
	case TypeInt16:
		return gw.write(value.(int16))
	case TypeUint32:
		return gw.write(value.(uint32))
	case TypeInt32:
		return gw.write(value.(int32))
	case TypeFloat32:
		return gw.write(value.(float32))
	case TypeUint64:
		return gw.write(value.(uint64))
	case TypeInt64:
		return gw.write(value.(int64))
	case TypeFloat64:
		return gw.write(value.(float64))
	case TypeBool:
		var b uint8
		if value.(bool) {
			b = 1
		}
		return gw.write(b)
	case TypeString:
		return gw.WriteString(value.(string))
	default:
		return errors.Errorf("unsupported GGUF value type: %d", valType)
	}
}

// WriteTensorInfo writes a tensor descriptor. shape is given outermost first,
// as in gonum; GGUF stores dimensions innermost first.
func (gw *Writer) WriteTensorInfo(name string, shape []uint64, ggmlType GGMLType, offset uint64) error {
	if err := gw.WriteString(name); err != nil {
		return err
	}
	rank := len(shape)
	if err := gw.write(uint32(rank)); err != nil {
		return err
	}
	for i := rank - 1; i >= 0; i-- {
		if err := gw.write(shape[i]); err != nil {
			return err
		}
	}
	if err := gw.write(uint32(ggmlType)); err != nil {
		return err
	}
	return gw.write(offset)
}

// Pad writes zero bytes up to the next alignment boundary.
func (gw *Writer) Pad() error {
	pad := padding(gw.n, gw.alignment)
	if pad == 0 {
		return nil
	}
	n, err := gw.w.Write(make([]byte, pad))
	gw.n += uint64(n)
	return err
}

// WriteTensorData writes values converted to ggmlType.
func (gw *Writer) WriteTensorData(values []float64, ggmlType GGMLType) error {
	switch ggmlType {
	case GGMLTypeF32:
		buf := make([]float32, len(values))
		for i, v := range values {
			buf[i] = float32(v)
		}
		return gw.write(buf)
	case GGMLTypeF16:
		buf := make([]uint16, len(values))
		for i, v := range values {
			buf[i] = float16Bits(v)
		}
		return gw.write(buf)
	default:
		return errors.Errorf("unsupported tensor type: %s", ggmlType)
	}
}

func padding(offset, alignment uint64) uint64 {
	return (alignment - offset%alignment) % alignment
}

// alignedSize returns the bytes one tensor occupies in the data section, padding included.
func alignedSize(elements uint64, ggmlType GGMLType, alignment uint64) uint64 {
	size := elements * uint64(ggmlType.ElementSize())
	return size + padding(size, alignment)
}

func float16Bits(v float64) uint16 {
	return float16.Fromfloat32(float32(v)).Bits()
}

func fromFloat16Bits(b uint16) float64 {
	return float64(float16.Frombits(b).Float32())
}
