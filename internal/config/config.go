// Package config loads the r2n2 command's configuration.
//
// Precedence, highest first:
//  1. Environment variables prefixed with R2N2_ (R2N2_CELL_N_HIDDEN -> cell.n_hidden)
//  2. The YAML config file
//  3. r2n2.DefaultConfig and logging.DefaultConfig
//
// List values given through the environment are comma separated
// (R2N2_DECODER_SCHEDULE=128,64,2).
package config

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/gorgonia/r2n2"
	"github.com/gorgonia/r2n2/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "R2N2_"

const maxConfigFileSize = 1 << 20

// lists are the keys whose environment values are split on commas.
var lists = []string{"decoder.schedule", "decoder.residual_kernels"}

// File is the full configuration of the command.
type File struct {
	r2n2.Config `koanf:",squash"`
	Log         logging.Config `koanf:"log"`
}

// Default is the configuration used when nothing overrides it.
func Default() *File {
	return &File{Config: r2n2.DefaultConfig(), Log: logging.DefaultConfig()}
}

// Load reads the YAML file at path, if path is not empty, then applies the
// environment overrides.
func Load(path string) (*File, error) {
	var content []byte
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open config file")
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return nil, errors.Wrap(err, "stat config file")
		}
		if info.Size() > maxConfigFileSize {
			return nil, errors.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), maxConfigFileSize)
		}
		if content, err = io.ReadAll(f); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}
	cfg, err := LoadBytes(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "config %s", path)
	}
	return cfg, nil
}

// LoadBytes is Load with the YAML document already in memory.
func LoadBytes(content []byte) (*File, error) {
	k := koanf.New(".")
	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "parse yaml")
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}
	for _, key := range lists {
		if err := splitList(k, key); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	// slices decode element-wise onto existing values, so drop the defaults first
	if k.Exists("decoder.schedule") {
		cfg.Decoder.Schedule = nil
	}
	if !k.Exists("decoder.in_channels") {
		cfg.Decoder.InChannels = 0
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if cfg.Decoder.InChannels == 0 {
		cfg.Decoder.InChannels = cfg.Cell.NHidden
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps R2N2_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func splitList(k *koanf.Koanf, key string) error {
	s, ok := k.Get(key).(string)
	if !ok {
		return nil
	}
	fields := strings.Split(s, ",")
	vals := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return errors.Wrapf(err, "%s: %q", key, s)
		}
		vals = append(vals, v)
	}
	return errors.Wrap(k.Set(key, vals), key)
}

// Validate checks the reconstructor and the logging configuration.
func (f *File) Validate() error {
	if !f.Config.IsValid() {
		return errors.Errorf("invalid configuration: cell %+v, decoder %+v, threshold %v",
			f.Cell, f.Decoder, f.Threshold)
	}
	return f.Log.Validate()
}

// YAML renders the effective configuration.
func (f *File) YAML() ([]byte, error) {
	k := koanf.New(".")
	rk := f.Decoder.ResidualKernels
	for key, v := range map[string]interface{}{
		"name":                     f.Name,
		"threshold":                f.Threshold,
		"cell.kind":                string(f.Cell.Kind),
		"cell.grid_size":           f.Cell.GridSize,
		"cell.n_input":             f.Cell.NInput,
		"cell.n_hidden":            f.Cell.NHidden,
		"cell.kernel_size":         f.Cell.KernelSize,
		"decoder.kind":             string(f.Decoder.Kind),
		"decoder.in_channels":      f.Decoder.InChannels,
		"decoder.schedule":         f.Decoder.Schedule,
		"decoder.kernel_size":      f.Decoder.KernelSize,
		"decoder.dilation":         f.Decoder.Dilation,
		"decoder.residual_kernels": []int{rk[0], rk[1], rk[2]},
		"vis.kernels":              f.VIS.Kernels,
		"vis.feature_maps":         f.VIS.FeatureMaps,
		"vis.histograms":           f.VIS.Histograms,
		"log.level":                f.Log.Level,
		"log.format":               f.Log.Format,
	} {
		if err := k.Set(key, v); err != nil {
			return nil, errors.Wrap(err, key)
		}
	}
	return k.Marshal(yaml.Parser())
}
