package decoder

import (
	"github.com/pkg/errors"

	"github.com/gorgonia/r2n2/voxel"
)

// Kind selects a decoder network.
type Kind string

const (
	Simple   Kind = "simple"
	Residual Kind = "residual"
	Dilated  Kind = "dilated"
)

// Config configures a decoder network.
type Config struct {
	InChannels int   `koanf:"in_channels"` // channels of the hidden grid
	Schedule   []int `koanf:"schedule"`    // output channels per stage, the last entry is the class count

	KernelSize      int    `koanf:"kernel_size"`      // kernel of the simple blocks and the final convolution
	Dilation        int    `koanf:"dilation"`         // dilation of the Dilated network's blocks
	ResidualKernels [3]int `koanf:"residual_kernels"` // kernels of the three residual convolutions, 0 skips one
}

// DefaultConf decodes a hidden grid of in channels into two classes.
func DefaultConf(in int) Config {
	return Config{
		InChannels:      in,
		Schedule:        []int{128, 128, 128, 64, 32, 2},
		KernelSize:      3,
		Dilation:        2,
		ResidualKernels: [3]int{3, 3, 1},
	}
}

func (conf Config) IsValid() bool { return conf.Validate() == nil }

// Validate reports the first problem with the configuration.
func (conf Config) Validate() error {
	switch {
	case len(conf.Schedule) < 2:
		return errors.Wrapf(voxel.ErrInvalidConfiguration, "schedule %v needs at least 2 stages", conf.Schedule)
	case conf.InChannels <= 0:
		return errors.Wrapf(voxel.ErrInvalidConfiguration, "input channels %d", conf.InChannels)
	case conf.KernelSize <= 0:
		return errors.Wrapf(voxel.ErrInvalidConfiguration, "unsupported kernel size %d", conf.KernelSize)
	case conf.Dilation <= 0:
		return errors.Wrapf(voxel.ErrInvalidConfiguration, "dilation %d", conf.Dilation)
	}
	for i, c := range conf.Schedule {
		if c <= 0 {
			return errors.Wrapf(voxel.ErrInvalidConfiguration, "stage %d has %d channels", i, c)
		}
	}
	for i, k := range conf.ResidualKernels {
		if k < 0 {
			return errors.Wrapf(voxel.ErrInvalidConfiguration, "residual kernel %d is %d", i+1, k)
		}
	}
	return nil
}
