package tensor

import (
	"fmt"
	"unsafe"
)

// Device tags where a tensor's computation should run. Data always lives
// in host memory; the WebGPU path uploads on entry and reads back on exit.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// Tensor is a dense row-major buffer with shape, dtype and device tags.
type Tensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// New creates a zero-initialized tensor with the given shape and type.
func New(shape Shape, dtype DataType, device Device) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &Tensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromSlice creates a tensor on the given device from a flat slice.
// The element count must match the shape.
func FromSlice[T DType](data []T, shape Shape, device Device) (*Tensor, error) {
	t, err := New(shape, typeOf[T](), device)
	if err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %s (%d elements)",
			len(data), shape, shape.NumElements())
	}
	if len(data) > 0 {
		copy(unsafe.Slice((*T)(unsafe.Pointer(&t.data[0])), len(data)), data)
	}
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Strides returns the tensor's memory strides.
func (t *Tensor) Strides() []int {
	return t.stride
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// Device returns the tensor's compute device.
func (t *Tensor) Device() Device {
	return t.device
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// IsContiguous reports whether strides match the dense row-major layout.
// Tensors built by this package always are; the check exists for the
// input-certification boundary.
func (t *Tensor) IsContiguous() bool {
	want := t.shape.ComputeStrides()
	for i := range want {
		if t.stride[i] != want[i] {
			return false
		}
	}
	return true
}

// Data returns the raw byte buffer.
func (t *Tensor) Data() []byte {
	return t.data
}

// AsFloat32 interprets the buffer as []float32.
// Panics if the dtype is not Float32.
func (t *Tensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", t.dtype))
	}
	return as[float32](t)
}

// AsFloat64 interprets the buffer as []float64.
// Panics if the dtype is not Float64.
func (t *Tensor) AsFloat64() []float64 {
	if t.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", t.dtype))
	}
	return as[float64](t)
}

// AsInt32 interprets the buffer as []int32.
// Panics if the dtype is not Int32.
func (t *Tensor) AsInt32() []int32 {
	if t.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", t.dtype))
	}
	return as[int32](t)
}

func as[T DType](t *Tensor) []T {
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // zero-copy reinterpretation, length derived from the buffer
	return unsafe.Slice((*T)(unsafe.Pointer(&t.data[0])), t.NumElements())
}
