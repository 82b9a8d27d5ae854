package r2n2

import (
	"github.com/gorgonia/r2n2/decoder"
	"github.com/gorgonia/r2n2/diag"
	"github.com/gorgonia/r2n2/recurrent"
)

// Config configures a Reconstructor.
type Config struct {
	Name    string        `koanf:"name"`
	Cell    CellConfig    `koanf:"cell"`
	Decoder DecoderConfig `koanf:"decoder"`
	VIS     diag.Flags    `koanf:"vis"`

	// Threshold is the occupancy probability above which a voxel counts as filled.
	Threshold float32 `koanf:"threshold"`
}

// CellConfig selects and configures the recurrent cell.
type CellConfig struct {
	Kind             recurrent.Kind `koanf:"kind"`
	recurrent.Config `koanf:",squash"`
}

// DecoderConfig selects and configures the decoder network. InChannels may be
// left zero; it then follows the cell's hidden channels.
type DecoderConfig struct {
	Kind           decoder.Kind `koanf:"kind"`
	decoder.Config `koanf:",squash"`
}

// DefaultConfig is a GRU grid feeding a residual decoder.
func DefaultConfig() Config {
	cell := recurrent.DefaultConf()
	return Config{
		Name:      "r2n2",
		Cell:      CellConfig{Kind: recurrent.GRU, Config: cell},
		Decoder:   DecoderConfig{Kind: decoder.Residual, Config: decoder.DefaultConf(cell.NHidden)},
		Threshold: 0.4,
	}
}

func (conf Config) IsValid() bool {
	return conf.Cell.IsValid() &&
		conf.Decoder.IsValid() &&
		conf.Decoder.InChannels == conf.Cell.NHidden &&
		conf.Threshold > 0 && conf.Threshold < 1
}

// Encoder turns one view into the flat feature vector fed to the recurrent cell.
type Encoder interface {
	Encode(view []float32) ([]float32, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(view []float32) ([]float32, error)

func (f EncoderFunc) Encode(view []float32) ([]float32, error) { return f(view) }
