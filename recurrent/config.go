package recurrent

import (
	"github.com/pkg/errors"

	"github.com/gorgonia/r2n2/voxel"
)

// Kind selects a recurrent cell.
type Kind string

const (
	GRU  Kind = "gru"
	LSTM Kind = "lstm"
)

// Config configures a recurrent grid cell.
type Config struct {
	GridSize   int `koanf:"grid_size"`   // N of the N×N×N hidden grid
	NInput     int `koanf:"n_input"`     // length of the feature vector fed per step
	NHidden    int `koanf:"n_hidden"`    // channels per hidden cell
	KernelSize int `koanf:"kernel_size"` // cubic size of the recurrence kernels
}

// DefaultConf is the 4×4×4 grid of 128 channels fed by 1024 features.
func DefaultConf() Config {
	return Config{
		GridSize:   4,
		NInput:     1024,
		NHidden:    128,
		KernelSize: 3,
	}
}

func (conf Config) IsValid() bool {
	return conf.GridSize >= 1 &&
		conf.NInput >= 1 &&
		conf.NHidden >= 1 &&
		conf.KernelSize >= 1
}

// Validate is IsValid with a reason.
func (conf Config) Validate() error {
	if !conf.IsValid() {
		return errors.Wrapf(voxel.ErrInvalidConfiguration, "cell config %+v", conf)
	}
	return nil
}

// Cube returns the dims of a hidden grid of this configuration.
func (conf Config) Cube(batch int) voxel.Dims {
	return voxel.Cube(batch, conf.GridSize, conf.NHidden)
}

// New builds a cell of the given kind.
func New(kind Kind, conf Config, p WeightProvider, opts ...Opt) (Cell, error) {
	switch kind {
	case GRU:
		return NewConvGRUGrid(conf, p, opts...)
	case LSTM:
		return NewConvLSTMGrid(conf, p, opts...)
	}
	return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "unknown cell kind %q", kind)
}
