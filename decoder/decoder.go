// Package decoder turns the hidden grid of a recurrent cell into voxel
// occupancy logits.
//
// Every network has the same skeleton: an unpool, block 0 from the hidden
// channels to Schedule[0], one block per remaining schedule transition and a
// bare convolution producing Schedule[len-1] logits. The networks differ in
// their blocks and in which blocks upsample.
package decoder

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/r2n2/diag"
	"github.com/gorgonia/r2n2/voxel"
)

// Decoder maps a hidden grid to logits.
type Decoder interface {
	Decode(hidden *tensor.Dense) (*tensor.Dense, error)
	Stages() []Stage
	ToDot() string
}

// Stage describes one step of a network.
type Stage struct {
	Name     string
	Op       string // unpool, simple, residual or conv
	In, Out  int
	Upsample bool
	Dilation int
	Kernels  []int
}

// upsamplePolicy decides whether block i doubles the resolution.
type upsamplePolicy func(i int) bool

// The residual network refines at a fixed resolution in blocks 1 to 3 before
// growing again. Block 0 keeps the residual block's default of upsampling.
func residualPolicy(i int) bool { return i == 0 || i > 3 }

// The simple and dilated networks upsample in blocks 1 and 2 only.
func simplePolicy(i int) bool { return i > 0 && i < 3 }

// Policy returns the upsampling decision of every block (not counting the
// leading unpool or the final convolution) for a network of kind with a
// schedule of n entries.
func Policy(kind Kind, n int) ([]bool, error) {
	p, err := policyOf(kind)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "schedule of %d stages", n)
	}
	retVal := make([]bool, n-1)
	for i := range retVal {
		retVal[i] = p(i)
	}
	return retVal, nil
}

func policyOf(kind Kind) (upsamplePolicy, error) {
	switch kind {
	case Residual:
		return residualPolicy, nil
	case Simple, Dilated:
		return simplePolicy, nil
	}
	return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "unknown decoder kind %q", kind)
}

type options struct {
	init     G.InitWFn
	convOpts []voxel.ConvOpt
	logger   *zap.Logger
}

// Opt configures a network.
type Opt func(*options)

// WithInit sets the initialiser of every kernel and bias.
func WithInit(fn G.InitWFn) Opt { return func(o *options) { o.init = fn } }

// WithConvOpts passes options to every convolution of the network.
func WithConvOpts(opts ...voxel.ConvOpt) Opt {
	return func(o *options) { o.convOpts = append(o.convOpts, opts...) }
}

// WithDiagnostics records diagnostics of every convolution to sink.
func WithDiagnostics(sink diag.Sink, vis diag.Flags) Opt {
	return WithConvOpts(voxel.WithDiagnostics(sink, vis))
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Opt { return func(o *options) { o.logger = l } }

// Network is a decoder network. Its parameters are created at construction
// and owned by its blocks.
type Network struct {
	Kind Kind
	Config

	blocks []block
	final  *voxel.Conv
	logger *zap.Logger
}

// New builds a network of the given kind.
func New(kind Kind, conf Config, opts ...Opt) (Decoder, error) {
	return NewNetwork(kind, conf, opts...)
}

// NewNetwork is New returning the concrete type.
func NewNetwork(kind Kind, conf Config, opts ...Opt) (*Network, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	policy, err := Policy(kind, len(conf.Schedule))
	if err != nil {
		return nil, err
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	var copts []voxel.ConvOpt
	if o.init != nil {
		copts = append(copts, voxel.WithInit(o.init))
	}
	copts = append(copts, o.convOpts...)

	n := &Network{Kind: kind, Config: conf, logger: o.logger}
	sched := conf.Schedule
	for i := 0; i < len(sched)-1; i++ {
		in := conf.InChannels
		if i > 0 {
			in = sched[i-1]
		}
		name := fmt.Sprintf("%s/block%d", kind, i)
		var b block
		switch kind {
		case Residual:
			b, err = newResidualBlock(name, in, sched[i], conf.ResidualKernels, 1, policy[i], copts)
		case Dilated:
			b, err = newSimpleBlock(name, in, sched[i], conf.KernelSize, conf.Dilation, policy[i], copts)
		default:
			b, err = newSimpleBlock(name, in, sched[i], conf.KernelSize, 1, policy[i], copts)
		}
		if err != nil {
			return nil, err
		}
		n.blocks = append(n.blocks, b)
	}

	last := len(sched) - 1
	fopts := append([]voxel.ConvOpt{voxel.WithKernelSize(conf.KernelSize)}, copts...)
	fopts = append(fopts, voxel.WithName(fmt.Sprintf("%s/out", kind)))
	if n.final, err = voxel.NewConv(sched[last-1], sched[last], fopts...); err != nil {
		return nil, err
	}
	n.logger.Debug("decoder built",
		zap.String("kind", string(kind)),
		zap.Ints("schedule", sched),
		zap.Int("blocks", len(n.blocks)))
	return n, nil
}

// Decode runs hidden ([batch, N, N, N, InChannels]) through the network.
func (n *Network) Decode(hidden *tensor.Dense) (*tensor.Dense, error) {
	d, err := voxel.CheckCubic(hidden)
	if err != nil {
		return nil, err
	}
	if d.Channels != n.InChannels {
		return nil, errors.Wrapf(voxel.ErrShapeMismatch, "hidden grid has %d channels, decoder expects %d", d.Channels, n.InChannels)
	}

	var m voxel.Maebe
	cur := m.Unpool(hidden)
	for _, b := range n.blocks {
		cur = m.Do(func() (*tensor.Dense, error) { return b.forward(cur) })
		if m.Err == nil {
			n.logger.Debug("decoder stage", zap.String("stage", b.stage().Name), zap.Ints("shape", cur.Shape()))
		}
	}
	cur = m.Conv(n.final, cur)
	if m.Err != nil {
		return nil, m.Err
	}
	return cur, nil
}

// Stages lists the steps of the network in order.
func (n *Network) Stages() []Stage {
	retVal := []Stage{{Name: "unpool", Op: "unpool", In: n.InChannels, Out: n.InChannels, Upsample: true}}
	for _, b := range n.blocks {
		retVal = append(retVal, b.stage())
	}
	return append(retVal, Stage{
		Name:     n.final.Name,
		Op:       "conv",
		In:       n.final.In,
		Out:      n.final.Out,
		Dilation: n.final.Dilation,
		Kernels:  []int{n.final.K},
	})
}

// Convs returns every convolution in forward order.
func (n *Network) Convs() []*voxel.Conv {
	var retVal []*voxel.Conv
	for _, b := range n.blocks {
		retVal = append(retVal, b.convs()...)
	}
	return append(retVal, n.final)
}

// Params returns every learnable tensor in forward order.
func (n *Network) Params() []*tensor.Dense {
	var retVal []*tensor.Dense
	for _, c := range n.Convs() {
		retVal = append(retVal, c.Params()...)
	}
	return retVal
}

// OutputDims infers the logits' dims for a hidden grid of dims d without
// running the network.
func (n *Network) OutputDims(d voxel.Dims) voxel.Dims {
	scale := 2
	for _, b := range n.blocks {
		if b.stage().Upsample {
			scale *= 2
		}
	}
	last := n.Schedule[len(n.Schedule)-1]
	return voxel.Dims{Batch: d.Batch, X: d.X * scale, Y: d.Y * scale, Z: d.Z * scale, Channels: last}
}
