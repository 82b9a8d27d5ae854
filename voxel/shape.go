package voxel

import (
	"gorgonia.org/tensor"
)

// Dims is the decomposed shape of a voxel tensor [batch, x, y, z, channel].
type Dims struct {
	Batch, X, Y, Z, Channels int
}

// Cells returns the number of spatial cells in one batch element.
func (d Dims) Cells() int { return d.X * d.Y * d.Z }

// Shape returns the dims as a tensor.Shape.
func (d Dims) Shape() tensor.Shape { return tensor.Shape{d.Batch, d.X, d.Y, d.Z, d.Channels} }

// Cube returns the dims of a cubic grid.
func Cube(batch, n, channels int) Dims {
	return Dims{Batch: batch, X: n, Y: n, Z: n, Channels: channels}
}

// DimsOf checks that t is a 5-axis float32 tensor and returns its dims.
func DimsOf(t *tensor.Dense) (Dims, error) {
	if t == nil {
		return Dims{}, shapeErr("nil voxel tensor")
	}
	if t.Dtype() != tensor.Float32 {
		return Dims{}, shapeErr("voxel tensors are float32, got %v", t.Dtype())
	}
	s := t.Shape()
	if s.Dims() != 5 {
		return Dims{}, shapeErr("voxel tensor must be [batch,x,y,z,channel], got %v", s)
	}
	return Dims{Batch: s[0], X: s[1], Y: s[2], Z: s[3], Channels: s[4]}, nil
}

// CheckCubic returns the dims of t and fails unless its spatial axes are equal.
func CheckCubic(t *tensor.Dense) (Dims, error) {
	d, err := DimsOf(t)
	if err != nil {
		return d, err
	}
	if d.X != d.Y || d.Y != d.Z {
		return d, shapeErr("voxel grid is not cubic: %v", t.Shape())
	}
	return d, nil
}

// New returns a zero-filled voxel tensor.
func New(d Dims) *tensor.Dense {
	return tensor.New(tensor.WithShape(d.Batch, d.X, d.Y, d.Z, d.Channels), tensor.Of(tensor.Float32))
}

// FromBacking wraps data as a voxel tensor, checking its length.
func FromBacking(d Dims, data []float32) (*tensor.Dense, error) {
	if len(data) != d.Shape().TotalSize() {
		return nil, shapeErr("backing of %d values cannot be shaped %v", len(data), d.Shape())
	}
	return tensor.New(tensor.WithShape(d.Batch, d.X, d.Y, d.Z, d.Channels), tensor.WithBacking(data)), nil
}

// Float32s returns the backing slice of t.
func Float32s(t *tensor.Dense) []float32 { return t.Data().([]float32) }

func sameShape(a, b *tensor.Dense) error {
	if a == nil || b == nil {
		return shapeErr("nil operand")
	}
	if !a.Shape().Eq(b.Shape()) {
		return shapeErr("%v vs %v", a.Shape(), b.Shape())
	}
	return nil
}
