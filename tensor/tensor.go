// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor data model consumed by the
// transducer loss: dense row-major buffers with runtime dtype and device
// tags. The caller owns allocation and device placement; the loss kernels
// read score tensors and write result tensors of these types.
//
// Example:
//
//	emissions, err := tensor.FromSlice(scores, tensor.Shape{b, t, v}, tensor.CPU)
package tensor

import (
	"github.com/born-ml/transducer/internal/tensor"
)

// DType is a constraint for supported element types.
type DType = tensor.DType

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
)

// Device tags where a tensor's computation runs.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Tensor is a dense row-major buffer with shape, dtype and device tags.
type Tensor = tensor.Tensor

// New creates a zero-initialized tensor with the given shape and type.
func New(shape Shape, dtype DataType, device Device) (*Tensor, error) {
	return tensor.New(shape, dtype, device)
}

// FromSlice creates a tensor on the given device from a flat slice.
func FromSlice[T DType](data []T, shape Shape, device Device) (*Tensor, error) {
	return tensor.FromSlice(data, shape, device)
}
