package r2n2

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/r2n2/voxel"
)

// Occupied is the class index of a filled voxel in the logits.
const Occupied = 1

// Batch stacks per-example feature vectors into a [len(features), n] tensor.
func Batch(features ...[]float32) (*tensor.Dense, error) {
	if len(features) == 0 {
		return nil, errors.Wrap(voxel.ErrInvalidConfiguration, "no features to batch")
	}
	n := len(features[0])
	backing := make([]float32, 0, n*len(features))
	for i, f := range features {
		if len(f) != n {
			return nil, errors.Wrapf(voxel.ErrShapeMismatch, "feature vector %d has %d values, want %d", i, len(f), n)
		}
		backing = append(backing, f...)
	}
	return tensor.New(tensor.WithShape(len(features), n), tensor.WithBacking(backing)), nil
}

// Occupancy applies a softmax over the class axis of logits and returns the
// probability of the occupied class as a [batch, x, y, z] tensor, along with
// the fraction of voxels whose probability exceeds threshold.
func Occupancy(logits *tensor.Dense, threshold float32) (*tensor.Dense, float32, error) {
	d, err := voxel.DimsOf(logits)
	if err != nil {
		return nil, 0, err
	}
	if d.Channels <= Occupied {
		return nil, 0, errors.Wrapf(voxel.ErrShapeMismatch, "logits have %d classes, need at least %d", d.Channels, Occupied+1)
	}
	in := voxel.Float32s(logits)
	cells := d.Batch * d.Cells()
	probs := make([]float32, cells)
	scratch := make([]float32, d.Channels)
	var filled int
	for i := 0; i < cells; i++ {
		copy(scratch, in[i*d.Channels:(i+1)*d.Channels])
		top := vecf32.MaxOf(scratch)
		var sum float32
		for j, v := range scratch {
			scratch[j] = math32.Exp(v - top)
			sum += scratch[j]
		}
		probs[i] = scratch[Occupied] / sum
		if probs[i] > threshold {
			filled++
		}
	}
	retVal := tensor.New(tensor.WithShape(d.Batch, d.X, d.Y, d.Z), tensor.WithBacking(probs))
	return retVal, float32(filled) / float32(cells), nil
}

// Slices cuts batch element b of a [batch, x, y, z] grid into x frames of
// z×y values, ready for diag.Tile.
func Slices(grid *tensor.Dense, b int) ([][]float32, error) {
	s := grid.Shape()
	if s.Dims() != 4 || b < 0 || b >= s[0] {
		return nil, errors.Wrapf(voxel.ErrShapeMismatch, "cannot slice element %d of %v", b, s)
	}
	data, ok := grid.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(voxel.ErrShapeMismatch, "grid is %v, want float32", grid.Dtype())
	}
	plane := s[2] * s[3]
	start := b * s[1] * plane
	retVal := make([][]float32, s[1])
	for x := range retVal {
		retVal[x] = data[start+x*plane : start+(x+1)*plane]
	}
	return retVal, nil
}
