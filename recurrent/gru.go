package recurrent

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/r2n2/voxel"
)

// ConvGRUGrid is a GRU whose hidden state is a [batch, N, N, N, NHidden] grid.
// Each gate projects the input through a WeightGrid and convolves the hidden
// grid with a bias-free recurrence kernel.
type ConvGRUGrid struct {
	Config
	U, R, H gate

	logger *zap.Logger
}

// NewConvGRUGrid fetches the u, r and h projections from p and creates the
// recurrence kernels.
func NewConvGRUGrid(conf Config, p WeightProvider, opts ...Opt) (*ConvGRUGrid, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Wrap(voxel.ErrMissingCollaborator, "GRU grid needs a weight provider")
	}
	o := buildOpts(opts)
	retVal := &ConvGRUGrid{Config: conf, logger: o.logger}
	var err error
	if retVal.U, err = newGate("gru/update", conf, p, o); err != nil {
		return nil, err
	}
	if retVal.R, err = newGate("gru/reset", conf, p, o); err != nil {
		return nil, err
	}
	if retVal.H, err = newGate("gru/candidate", conf, p, o); err != nil {
		return nil, err
	}
	return retVal, nil
}

func (c *ConvGRUGrid) log() *zap.Logger { return c.logger }

// InitialState is a zero hidden grid.
func (c *ConvGRUGrid) InitialState(batch int) State {
	return GRUState{H: voxel.New(c.Cube(batch))}
}

// Gates returns the update gate, the reset gate and the candidate state for
// input x and hidden grid h. The update and reset pre-activations are
// independent and computed concurrently.
func (c *ConvGRUGrid) Gates(x, h *tensor.Dense) (u, r, cand *tensor.Dense, err error) {
	if _, err = checkStep(c.Config, x, h); err != nil {
		return nil, nil, nil, err
	}
	var eg errgroup.Group
	eg.Go(func() (err error) {
		if u, err = c.U.pre(x, h); err == nil {
			sigmoid(u)
		}
		return
	})
	eg.Go(func() (err error) {
		if r, err = c.R.pre(x, h); err == nil {
			sigmoid(r)
		}
		return
	})
	if err = eg.Wait(); err != nil {
		return nil, nil, nil, err
	}

	var m voxel.Maebe
	rh := m.Mul(r, h)
	cand = m.Do(func() (*tensor.Dense, error) { return c.H.pre(x, rh) })
	if m.Err != nil {
		return nil, nil, nil, m.Err
	}
	return u, r, tanh(cand), nil
}

// Step computes h' = (1-u)⊙h + u⊙candidate. The result has the shape of h.
func (c *ConvGRUGrid) Step(x *tensor.Dense, prev State) (State, error) {
	var h *tensor.Dense
	switch s := prev.(type) {
	case nil:
		if x == nil || x.Shape().Dims() != 2 {
			return nil, errors.Wrap(voxel.ErrShapeMismatch, "GRU input is not [batch, features]")
		}
		h = c.InitialState(x.Shape()[0]).Hidden()
	case GRUState:
		h = s.H
	case *GRUState:
		if s == nil {
			return nil, errors.Wrap(voxel.ErrInvalidConfiguration, "GRU grid cannot step a nil *GRUState")
		}
		h = s.H
	default:
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "GRU grid cannot step a %T", prev)
	}
	u, _, cand, err := c.Gates(x, h)
	if err != nil {
		return nil, err
	}

	ud := voxel.Float32s(u)
	keep := make([]float32, len(ud))
	for i, v := range ud {
		keep[i] = 1 - v
	}
	vecf32.Mul(keep, voxel.Float32s(h))
	next := voxel.Float32s(cand)
	vecf32.Mul(next, ud)
	vecf32.Add(next, keep)
	return GRUState{H: cand}, nil
}
