// Package recurrent implements recurrent cells whose hidden state is a 3D grid.
// A cell is a pure function of (input, previous state); the state is threaded
// explicitly from step to step.
package recurrent

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/r2n2/voxel"
)

// State is the value threaded between steps.
type State interface {
	// Hidden is the externally visible hidden grid.
	Hidden() *tensor.Dense
}

// Cell is a recurrent grid cell.
type Cell interface {
	Step(x *tensor.Dense, prev State) (State, error)
	InitialState(batch int) State
}

// GRUState is the hidden grid of a ConvGRUGrid.
type GRUState struct {
	H *tensor.Dense
}

func (s GRUState) Hidden() *tensor.Dense { return s.H }

// LSTMState is the (cell, hidden) pair of a ConvLSTMGrid. Both share a shape.
type LSTMState struct {
	C, H *tensor.Dense
}

func (s LSTMState) Hidden() *tensor.Dense { return s.H }

type options struct {
	init     G.InitWFn
	convOpts []voxel.ConvOpt
	logger   *zap.Logger
}

// Opt configures a cell.
type Opt func(*options)

// WithRecurrenceInit sets the initialiser of the hidden-to-hidden kernels.
func WithRecurrenceInit(fn G.InitWFn) Opt { return func(o *options) { o.init = fn } }

// WithConvOpts passes options to every recurrence convolution.
func WithConvOpts(opts ...voxel.ConvOpt) Opt {
	return func(o *options) { o.convOpts = append(o.convOpts, opts...) }
}

// WithLogger sets the logger used by Run.
func WithLogger(l *zap.Logger) Opt { return func(o *options) { o.logger = l } }

func buildOpts(opts []Opt) options {
	o := options{init: G.GlorotU(1.0), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// gate is one gate of a cell: a grid projection of the input plus a
// convolution of the hidden grid.
type gate struct {
	proj *WeightGrid
	rec  *voxel.Conv
}

func newGate(name string, conf Config, p WeightProvider, o options) (gate, error) {
	proj, err := p.Grid(name, conf.GridSize, conf.NInput, conf.NHidden)
	if err != nil {
		return gate{}, errors.WithMessagef(err, "gate %q", name)
	}
	if proj == nil {
		return gate{}, errors.Wrapf(voxel.ErrMissingCollaborator, "gate %q: provider returned no weights", name)
	}
	if proj.N != conf.GridSize || proj.NInput != conf.NInput || proj.NHidden != conf.NHidden {
		return gate{}, errors.Wrapf(voxel.ErrShapeMismatch, "gate %q: weights for grid %d [%d,%d], want grid %d [%d,%d]",
			name, proj.N, proj.NInput, proj.NHidden, conf.GridSize, conf.NInput, conf.NHidden)
	}
	copts := append([]voxel.ConvOpt{
		voxel.WithKernelSize(conf.KernelSize),
		voxel.WithoutBias(),
		voxel.WithInit(o.init),
	}, o.convOpts...)
	copts = append(copts, voxel.WithName(name))
	rec, err := voxel.NewConv(conf.NHidden, conf.NHidden, copts...)
	if err != nil {
		return gate{}, err
	}
	return gate{proj: proj, rec: rec}, nil
}

// pre computes Wx + b + U*h.
func (g gate) pre(x, h *tensor.Dense) (*tensor.Dense, error) {
	wx, err := g.proj.Multiply(x)
	if err != nil {
		return nil, err
	}
	g.proj.addBias(wx)
	uh, err := g.rec.Forward(h)
	if err != nil {
		return nil, err
	}
	return voxel.Add(wx, uh)
}

func sigmoid(t *tensor.Dense) *tensor.Dense {
	data := voxel.Float32s(t)
	for i, v := range data {
		data[i] = 1 / (1 + math32.Exp(-v))
	}
	return t
}

func tanh(t *tensor.Dense) *tensor.Dense {
	data := voxel.Float32s(t)
	for i, v := range data {
		data[i] = math32.Tanh(v)
	}
	return t
}

// checkStep validates x against the configuration and h, returning the batch size.
func checkStep(conf Config, x, h *tensor.Dense) (int, error) {
	if x == nil || x.Shape().Dims() != 2 {
		var s tensor.Shape
		if x != nil {
			s = x.Shape()
		}
		return 0, errors.Wrapf(voxel.ErrShapeMismatch, "input %v, want [batch, %d]", s, conf.NInput)
	}
	d, err := voxel.DimsOf(h)
	if err != nil {
		return 0, err
	}
	if want := conf.Cube(x.Shape()[0]); d != want {
		return 0, errors.Wrapf(voxel.ErrShapeMismatch, "hidden grid %v, want %v", h.Shape(), want.Shape())
	}
	return d.Batch, nil
}

// Run threads state through xs and returns the final state. A nil init starts
// from the cell's initial state.
func Run(cell Cell, xs []*tensor.Dense, init State) (State, error) {
	if cell == nil {
		return nil, errors.Wrap(voxel.ErrMissingCollaborator, "no recurrent cell")
	}
	if len(xs) == 0 {
		return nil, errors.Wrap(voxel.ErrInvalidConfiguration, "empty input sequence")
	}
	logger := zap.NewNop()
	if l, ok := cell.(interface{ log() *zap.Logger }); ok {
		logger = l.log()
	}
	state := init
	if state == nil {
		if xs[0] == nil || xs[0].Shape().Dims() != 2 {
			return nil, errors.Wrap(voxel.ErrShapeMismatch, "first input is not [batch, features]")
		}
		state = cell.InitialState(xs[0].Shape()[0])
	}
	for i, x := range xs {
		var err error
		if state, err = cell.Step(x, state); err != nil {
			return nil, errors.WithMessagef(err, "step %d", i)
		}
		logger.Debug("recurrent step", zap.Int("step", i), zap.Int("of", len(xs)))
	}
	return state, nil
}
