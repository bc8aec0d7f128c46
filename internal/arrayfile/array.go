package arrayfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
)

// Array is an in-memory homogeneous array: Shape[0] is the leading (row)
// dimension and Data holds the elements row-major, little-endian.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// New packs values into an Array. Without a shape the array is
// one-dimensional; otherwise the product of shape must equal len(values).
func New[T Number](values []T, shape ...int) (Array, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	if err := validateShape(shape); err != nil {
		return Array{}, err
	}
	if product(shape) != len(values) {
		return Array{}, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, shape, product(shape), len(values))
	}
	data, err := binary.Append(make([]byte, 0, len(values)*dtypeOf[T]().Size()), binary.LittleEndian, values)
	if err != nil {
		return Array{}, fmt.Errorf("encode %s: %w", dtypeOf[T](), err)
	}
	return Array{
		DType: dtypeOf[T](),
		Shape: slices.Clone(shape),
		Data:  data,
	}, nil
}

// MustNew is New for literals in tests and fixtures.
func MustNew[T Number](values []T, shape ...int) Array {
	a, err := New(values, shape...)
	if err != nil {
		panic(err)
	}
	return a
}

// Values unpacks the elements of a as T. T must match a.DType.
func Values[T Number](a Array) ([]T, error) {
	if want := dtypeOf[T](); want != a.DType {
		return nil, fmt.Errorf("%w: array is %s, requested %s", ErrDTypeMismatch, a.DType, want)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	out := make([]T, len(a.Data)/a.DType.Size())
	if _, err := binary.Decode(a.Data, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", a.DType, err)
	}
	return out, nil
}

// Any returns the elements as a typed slice ([]int64, []float32, ...).
func (a Array) Any() (any, error) {
	switch a.DType {
	case Int8:
		return Values[int8](a)
	case Int16:
		return Values[int16](a)
	case Int32:
		return Values[int32](a)
	case Int64:
		return Values[int64](a)
	case Uint8:
		return Values[uint8](a)
	case Uint16:
		return Values[uint16](a)
	case Uint32:
		return Values[uint32](a)
	case Uint64:
		return Values[uint64](a)
	case Float32:
		return Values[float32](a)
	case Float64:
		return Values[float64](a)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, a.DType)
}

// Rows returns the leading dimension.
func (a Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Trailing returns the fixed dimensions after the leading one.
func (a Array) Trailing() []int {
	if len(a.Shape) <= 1 {
		return nil
	}
	return a.Shape[1:]
}

// RowBytes returns the byte width of one leading-dimension row.
func (a Array) RowBytes() int {
	return product(a.Trailing()) * a.DType.Size()
}

// Equal reports whether a and b have the same type, shape and contents.
func (a Array) Equal(b Array) bool {
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

// Concat joins arrays along the leading dimension.
func Concat(parts ...Array) (Array, error) {
	if len(parts) == 0 {
		return Array{}, fmt.Errorf("%w: nothing to concatenate", ErrShapeMismatch)
	}
	first := parts[0]
	rows := 0
	size := 0
	for _, p := range parts {
		if err := p.validate(); err != nil {
			return Array{}, err
		}
		if p.DType != first.DType {
			return Array{}, fmt.Errorf("%w: %s vs %s", ErrDTypeMismatch, p.DType, first.DType)
		}
		if !slices.Equal(p.Trailing(), first.Trailing()) {
			return Array{}, fmt.Errorf("%w: trailing %v vs %v", ErrShapeMismatch, p.Trailing(), first.Trailing())
		}
		rows += p.Rows()
		size += len(p.Data)
	}
	data := make([]byte, 0, size)
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	shape := append([]int{rows}, first.Trailing()...)
	return Array{DType: first.DType, Shape: shape, Data: data}, nil
}

func (a Array) validate() error {
	if !a.DType.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, a.DType)
	}
	if err := validateShape(a.Shape); err != nil {
		return err
	}
	if want := product(a.Shape) * a.DType.Size(); want != len(a.Data) {
		return fmt.Errorf("%w: shape %v needs %d bytes, got %d", ErrShapeMismatch, a.Shape, want, len(a.Data))
	}
	return nil
}

// validateShape requires at least one dimension, a non-negative leading
// dimension and positive trailing dimensions.
func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	if len(shape) > maxDims {
		return fmt.Errorf("%w: %d dimensions exceeds %d", ErrShapeMismatch, len(shape), maxDims)
	}
	if shape[0] < 0 {
		return fmt.Errorf("%w: negative leading dimension %d", ErrShapeMismatch, shape[0])
	}
	for _, d := range shape[1:] {
		if d <= 0 {
			return fmt.Errorf("%w: trailing dimension %d must be positive", ErrShapeMismatch, d)
		}
	}
	return nil
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
