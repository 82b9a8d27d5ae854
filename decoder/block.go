package decoder

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gorgonia/r2n2/voxel"
)

// block is one decoding stage.
type block interface {
	forward(x *tensor.Dense) (*tensor.Dense, error)
	convs() []*voxel.Conv
	stage() Stage
}

// simpleBlock is conv, then unpool if requested, then relu.
type simpleBlock struct {
	name     string
	conv     *voxel.Conv
	upsample bool
}

func newSimpleBlock(name string, in, out, k, dilation int, upsample bool, copts []voxel.ConvOpt) (*simpleBlock, error) {
	opts := append([]voxel.ConvOpt{voxel.WithKernelSize(k), voxel.WithDilation(dilation)}, copts...)
	opts = append(opts, voxel.WithName(name+"/conv"))
	c, err := voxel.NewConv(in, out, opts...)
	if err != nil {
		return nil, err
	}
	return &simpleBlock{name: name, conv: c, upsample: upsample}, nil
}

func (b *simpleBlock) forward(x *tensor.Dense) (*tensor.Dense, error) {
	var m voxel.Maebe
	out := m.Conv(b.conv, x)
	if b.upsample {
		out = m.Unpool(out)
	}
	out = m.Relu(out)
	return out, errors.WithMessage(m.Err, b.name)
}

func (b *simpleBlock) convs() []*voxel.Conv { return []*voxel.Conv{b.conv} }

func (b *simpleBlock) stage() Stage {
	return Stage{
		Name:     b.name,
		Op:       "simple",
		In:       b.conv.In,
		Out:      b.conv.Out,
		Upsample: b.upsample,
		Dilation: b.conv.Dilation,
		Kernels:  []int{b.conv.K},
	}
}

// residualBlock runs up to three convolutions. conv1 and conv2 are followed
// by relu; conv3 is added to the running tensor it was applied to. A nil
// convolution is skipped. The sum is not activated.
type residualBlock struct {
	name     string
	in, out  int
	conv     [3]*voxel.Conv
	upsample bool
}

func newResidualBlock(name string, in, out int, kernels [3]int, dilation int, upsample bool, copts []voxel.ConvOpt) (*residualBlock, error) {
	b := &residualBlock{name: name, in: in, out: out, upsample: upsample}
	ch := in
	for i, k := range kernels {
		if k == 0 {
			continue
		}
		if i == 2 && ch != out {
			return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "%s: skip connection of %d channels cannot join %d", name, ch, out)
		}
		opts := append([]voxel.ConvOpt{voxel.WithKernelSize(k), voxel.WithDilation(dilation)}, copts...)
		opts = append(opts, voxel.WithName(fmt.Sprintf("%s/conv%d", name, i+1)))
		c, err := voxel.NewConv(ch, out, opts...)
		if err != nil {
			return nil, err
		}
		b.conv[i] = c
		ch = out
	}
	if ch != out {
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "%s: every convolution is skipped but %d channels must become %d", name, in, out)
	}
	return b, nil
}

func (b *residualBlock) forward(x *tensor.Dense) (*tensor.Dense, error) {
	var m voxel.Maebe
	cur := x
	for _, c := range b.conv[:2] {
		if c != nil {
			cur = m.Relu(m.Conv(c, cur))
		}
	}
	if c := b.conv[2]; c != nil {
		cur = m.Add(m.Conv(c, cur), cur)
	}
	if b.upsample {
		cur = m.Unpool(cur)
	}
	return cur, errors.WithMessage(m.Err, b.name)
}

func (b *residualBlock) convs() []*voxel.Conv {
	var retVal []*voxel.Conv
	for _, c := range b.conv {
		if c != nil {
			retVal = append(retVal, c)
		}
	}
	return retVal
}

func (b *residualBlock) stage() Stage {
	s := Stage{
		Name:     b.name,
		Op:       "residual",
		In:       b.in,
		Out:      b.out,
		Upsample: b.upsample,
		Dilation: 1,
	}
	for _, c := range b.conv {
		k := 0
		if c != nil {
			k = c.K
			s.Dilation = c.Dilation
		}
		s.Kernels = append(s.Kernels, k)
	}
	return s
}
