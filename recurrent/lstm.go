package recurrent

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/r2n2/voxel"
)

// ConvLSTMGrid is an LSTM whose cell and hidden states are
// [batch, N, N, N, NHidden] grids.
type ConvLSTMGrid struct {
	Config
	F, I, O, C gate

	logger *zap.Logger
}

// NewConvLSTMGrid fetches the forget, input, output and candidate projections
// from p and creates the recurrence kernels.
func NewConvLSTMGrid(conf Config, p WeightProvider, opts ...Opt) (*ConvLSTMGrid, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Wrap(voxel.ErrMissingCollaborator, "LSTM grid needs a weight provider")
	}
	o := buildOpts(opts)
	retVal := &ConvLSTMGrid{Config: conf, logger: o.logger}
	for _, g := range []struct {
		name string
		dst  *gate
	}{
		{"lstm/forget", &retVal.F},
		{"lstm/input", &retVal.I},
		{"lstm/output", &retVal.O},
		{"lstm/candidate", &retVal.C},
	} {
		var err error
		if *g.dst, err = newGate(g.name, conf, p, o); err != nil {
			return nil, err
		}
	}
	return retVal, nil
}

func (c *ConvLSTMGrid) log() *zap.Logger { return c.logger }

// InitialState is a pair of zero grids.
func (c *ConvLSTMGrid) InitialState(batch int) State {
	return LSTMState{C: voxel.New(c.Cube(batch)), H: voxel.New(c.Cube(batch))}
}

// StepLSTM computes
//
//	c' = f⊙c + i⊙tanh(pre_c)
//	h' = o⊙tanh(c')
//
// and returns h' along with the new pair. The four gate pre-activations are
// computed concurrently.
func (c *ConvLSTMGrid) StepLSTM(x *tensor.Dense, prev LSTMState) (*tensor.Dense, LSTMState, error) {
	if prev.C == nil || prev.H == nil {
		return nil, LSTMState{}, errors.Wrap(voxel.ErrShapeMismatch, "LSTM state is missing a grid")
	}
	if !prev.C.Shape().Eq(prev.H.Shape()) {
		return nil, LSTMState{}, errors.Wrapf(voxel.ErrShapeMismatch, "cell state %v and hidden state %v differ", prev.C.Shape(), prev.H.Shape())
	}
	if _, err := checkStep(c.Config, x, prev.H); err != nil {
		return nil, LSTMState{}, err
	}

	var f, i, o, g *tensor.Dense
	var eg errgroup.Group
	eg.Go(func() (err error) {
		if f, err = c.F.pre(x, prev.H); err == nil {
			sigmoid(f)
		}
		return
	})
	eg.Go(func() (err error) {
		if i, err = c.I.pre(x, prev.H); err == nil {
			sigmoid(i)
		}
		return
	})
	eg.Go(func() (err error) {
		if o, err = c.O.pre(x, prev.H); err == nil {
			sigmoid(o)
		}
		return
	})
	eg.Go(func() (err error) {
		if g, err = c.C.pre(x, prev.H); err == nil {
			tanh(g)
		}
		return
	})
	if err := eg.Wait(); err != nil {
		return nil, LSTMState{}, err
	}

	// c' = f⊙c + i⊙g, built in f's buffer
	cd := voxel.Float32s(f)
	vecf32.Mul(cd, voxel.Float32s(prev.C))
	gd := voxel.Float32s(g)
	vecf32.Mul(gd, voxel.Float32s(i))
	vecf32.Add(cd, gd)

	// h' = o⊙tanh(c')
	h := f.Clone().(*tensor.Dense)
	tanh(h)
	vecf32.Mul(voxel.Float32s(h), voxel.Float32s(o))

	next := LSTMState{C: f, H: h}
	return h, next, nil
}

// Step is StepLSTM behind the Cell interface.
func (c *ConvLSTMGrid) Step(x *tensor.Dense, prev State) (State, error) {
	var s LSTMState
	switch p := prev.(type) {
	case nil:
		if x == nil || x.Shape().Dims() != 2 {
			return nil, errors.Wrap(voxel.ErrShapeMismatch, "LSTM input is not [batch, features]")
		}
		s = c.InitialState(x.Shape()[0]).(LSTMState)
	case LSTMState:
		s = p
	case *LSTMState:
		if p == nil {
			return nil, errors.Wrap(voxel.ErrInvalidConfiguration, "LSTM grid cannot step a nil *LSTMState")
		}
		s = *p
	default:
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "LSTM grid cannot step a %T", prev)
	}
	_, next, err := c.StepLSTM(x, s)
	if err != nil {
		return nil, err
	}
	return next, nil
}
