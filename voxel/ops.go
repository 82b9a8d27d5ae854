package voxel

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Relu returns a new tensor with negative values clamped to zero.
func Relu(t *tensor.Dense) (*tensor.Dense, error) {
	if _, err := DimsOf(t); err != nil {
		return nil, err
	}
	retVal := t.Clone().(*tensor.Dense)
	data := Float32s(retVal)
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
	return retVal, nil
}

// Unpool doubles every spatial axis of t. Each input voxel (b,x,y,z) is
// written to (b,2x,2y,2z); the remaining seven positions of every 2x2x2 output
// block are zero.
//
// The tensor is viewed as [batch*x, y, z, channel], a zero block is
// concatenated along axes 3, 2 and 1 in turn, and the result is reshaped to
// [batch, 2x, 2y, 2z, channel], which interleaves the zeros with the values.
func Unpool(t *tensor.Dense) (*tensor.Dense, error) {
	d, err := DimsOf(t)
	if err != nil {
		return nil, err
	}
	out := t.Clone().(*tensor.Dense)
	if err = out.Reshape(d.Batch*d.X, d.Y, d.Z, d.Channels); err != nil {
		return nil, errors.Wrap(err, "unpool: flatten batch and x")
	}
	for axis := 3; axis > 0; axis-- {
		zeros := tensor.New(tensor.WithShape(out.Shape().Clone()...), tensor.Of(tensor.Float32))
		if out, err = out.Concat(axis, zeros); err != nil {
			return nil, errors.Wrapf(err, "unpool: concat along axis %d", axis)
		}
	}
	if err = out.Reshape(d.Batch, 2*d.X, 2*d.Y, 2*d.Z, d.Channels); err != nil {
		return nil, errors.Wrap(err, "unpool: restore voxel shape")
	}
	return out, nil
}

// Add returns a+b. Both operands must share a shape.
func Add(a, b *tensor.Dense) (*tensor.Dense, error) {
	if err := sameShape(a, b); err != nil {
		return nil, errors.WithMessage(err, "add")
	}
	retVal := a.Clone().(*tensor.Dense)
	vecf32.Add(Float32s(retVal), Float32s(b))
	return retVal, nil
}

// Mul returns the elementwise product a⊙b. Both operands must share a shape.
func Mul(a, b *tensor.Dense) (*tensor.Dense, error) {
	if err := sameShape(a, b); err != nil {
		return nil, errors.WithMessage(err, "hadamard product")
	}
	retVal := a.Clone().(*tensor.Dense)
	vecf32.Mul(Float32s(retVal), Float32s(b))
	return retVal, nil
}

// Maebe chains voxel operations, keeping the first error and skipping
// everything after it.
type Maebe struct {
	Err error
}

// Do runs f unless an earlier step failed.
func (m *Maebe) Do(f func() (*tensor.Dense, error)) (retVal *tensor.Dense) {
	if m.Err != nil {
		return nil
	}
	if retVal, m.Err = f(); m.Err != nil {
		m.Err = errors.WithStack(m.Err)
	}
	return
}

func (m *Maebe) Relu(t *tensor.Dense) *tensor.Dense {
	return m.Do(func() (*tensor.Dense, error) { return Relu(t) })
}

func (m *Maebe) Unpool(t *tensor.Dense) *tensor.Dense {
	return m.Do(func() (*tensor.Dense, error) { return Unpool(t) })
}

func (m *Maebe) Add(a, b *tensor.Dense) *tensor.Dense {
	return m.Do(func() (*tensor.Dense, error) { return Add(a, b) })
}

func (m *Maebe) Mul(a, b *tensor.Dense) *tensor.Dense {
	return m.Do(func() (*tensor.Dense, error) { return Mul(a, b) })
}

func (m *Maebe) Conv(c *Conv, t *tensor.Dense) *tensor.Dense {
	return m.Do(func() (*tensor.Dense, error) { return c.Forward(t) })
}
