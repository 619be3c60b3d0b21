package gguf

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// TensorInfo describes one tensor of a GGUF file.
type TensorInfo struct {
	Name string
	// Shape is outermost first.
	Shape  []uint64
	Type   GGMLType
	Offset uint64
}

// Elements returns the number of elements of the tensor.
func (ti TensorInfo) Elements() uint64 {
	n := uint64(1)
	for _, d := range ti.Shape {
		n *= d
	}
	return n
}

// File is a decoded GGUF file with its tensor data held in memory.
type File struct {
	Version  uint32
	Metadata map[string]any
	Tensors  []TensorInfo
	data     []byte
}

// ReadFile reads a GGUF file from disk.
func ReadFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	f, err := Read(file)
	return f, errors.WithMessagef(err, "failed to read %s", path)
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += uint64(n)
	return n, err
}

func (cr *countingReader) read(v any) error {
	return binary.Read(cr, binary.LittleEndian, v)
}

func (cr *countingReader) readString() (string, error) {
	var n uint64
	if err := cr.read(&n); err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", errors.Errorf("string of %d bytes is too long", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(cr, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Read decodes a GGUF stream. Array metadata is not supported.
func Read(r io.Reader) (*File, error) {
	cr := &countingReader{r: r}

	var magic, version uint32
	var tensorCount, kvCount uint64
	if err := cr.read(&magic); err != nil {
		return nil, errors.Wrap(err, "failed to read magic")
	}
	if magic != Magic {
		return nil, errors.Errorf("bad magic 0x%08x", magic)
	}
	if err := cr.read(&version); err != nil {
		return nil, errors.Wrap(err, "failed to read version")
	}
	if err := cr.read(&tensorCount); err != nil {
		return nil, errors.Wrap(err, "failed to read tensor count")
	}
	if err := cr.read(&kvCount); err != nil {
		return nil, errors.Wrap(err, "failed to read metadata count")
	}

	f := &File{
		Version:  version,
		Metadata: make(map[string]any, kvCount),
	}
	for i := uint64(0); i < kvCount; i++ {
		key, value, err := readKV(cr)
		if err != nil {
			return nil, errors.WithMessagef(err, "metadata %d", i)
		}
		f.Metadata[key] = value
	}

	for i := uint64(0); i < tensorCount; i++ {
		ti, err := readTensorInfo(cr)
		if err != nil {
			return nil, errors.WithMessagef(err, "tensor info %d", i)
		}
		f.Tensors = append(f.Tensors, ti)
	}

	alignment := uint64(DefaultAlignment)
	if a, ok := f.Metadata["general.alignment"].(uint32); ok && a > 0 {
		alignment = uint64(a)
	}
	if _, err := io.CopyN(io.Discard, cr, int64(padding(cr.n, alignment))); err != nil {
		return nil, errors.Wrap(err, "failed to skip padding")
	}

	data, err := io.ReadAll(cr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tensor data")
	}
	f.data = data
	return f, nil
}

func readKV(cr *countingReader) (string, any, error) {
	key, err := cr.readString()
	if err != nil {
		return "", nil, err
	}
	var t uint32
	if err := cr.read(&t); err != nil {
		return "", nil, err
	}

	var value any
	switch ValueType(t) {
	case TypeUint8:
		var v uint8
		err = cr.read(&v)
		value = v
	case TypeInt8:
		var v int8
		err = cr.read(&v)
		value = v
	case TypeUint16:
		var v uint16
		err = cr.read(&v)
		value = v
	case TypeInt16:
		var v int16
		err = cr.read(&v)
		value = v
	case TypeUint32:
		var v uint32
		err = cr.read(&v)
		value = v
	case TypeInt32:
		var v int32
		err = cr.read(&v)
		value = v
	case TypeFloat32:
		var v float32
		err = cr.read(&v)
		value = v
	case TypeUint64:
		var v uint64
		err = cr.read(&v)
		value = v
	case TypeInt64:
		var v int64
		err = cr.read(&v)
		value = v
	case TypeFloat64:
		var v float64
		err = cr.read(&v)
		value = v
	case TypeBool:
		var v uint8
		err = cr.read(&v)
		value = v != 0
	case TypeString:
		value, err = cr.readString()
	default:
		return "", nil, errors.Errorf("key %q: unsupported value type %d", key, t)
	}
	if err != nil {
		return "", nil, errors.Wrapf(err, "key %q", key)
	}
	return key, value, nil
}

func readTensorInfo(cr *countingReader) (TensorInfo, error) {
	var ti TensorInfo
	name, err := cr.readString()
	if err != nil {
		return ti, err
	}
	ti.Name = name

	var rank uint32
	if err := cr.read(&rank); err != nil {
		return ti, err
	}
	if rank > 4 {
		return ti, errors.Errorf("tensor %q has rank %d", name, rank)
	}
	ti.Shape = make([]uint64, rank)
	for i := int(rank) - 1; i >= 0; i-- {
		if err := cr.read(&ti.Shape[i]); err != nil {
			return ti, err
		}
	}

	var t uint32
	if err := cr.read(&t); err != nil {
		return ti, err
	}
	ti.Type = GGMLType(t)
	if err := cr.read(&ti.Offset); err != nil {
		return ti, err
	}
	return ti, nil
}

// Lookup returns the descriptor of the named tensor.
func (f *File) Lookup(name string) (TensorInfo, bool) {
	for _, ti := range f.Tensors {
		if ti.Name == name {
			return ti, true
		}
	}
	return TensorInfo{}, false
}

// Tensor decodes the named tensor into float64 values in row-major order.
func (f *File) Tensor(name string) ([]float64, error) {
	ti, ok := f.Lookup(name)
	if !ok {
		return nil, errors.Errorf("tensor %q not found", name)
	}
	size := ti.Type.ElementSize()
	if size == 0 {
		return nil, errors.Errorf("tensor %q: unsupported type %s", name, ti.Type)
	}
	n := ti.Elements()
	end := ti.Offset + n*uint64(size)
	if end > uint64(len(f.data)) {
		return nil, errors.Errorf("tensor %q: data ends at %d, section has %d bytes", name, end, len(f.data))
	}

	raw := f.data[ti.Offset:end]
	values := make([]float64, n)
	for i := range values {
		switch ti.Type {
		case GGMLTypeF32:
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		case GGMLTypeF16:
			values[i] = fromFloat16Bits(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	}
	return values, nil
}
