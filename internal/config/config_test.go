package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorgonia/r2n2/decoder"
	"github.com/gorgonia/r2n2/recurrent"
)

const sample = `
name: chairs
threshold: 0.5
cell:
  kind: lstm
  grid_size: 2
  n_hidden: 16
decoder:
  kind: dilated
  schedule: [16, 8, 2]
  dilation: 3
vis:
  feature_maps: true
log:
  level: debug
  format: json
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults differ (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r2n2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "chairs", cfg.Name)
	assert.Equal(t, float32(0.5), cfg.Threshold)
	assert.Equal(t, recurrent.LSTM, cfg.Cell.Kind)
	assert.Equal(t, 2, cfg.Cell.GridSize)
	assert.Equal(t, 16, cfg.Cell.NHidden)
	assert.Equal(t, 1024, cfg.Cell.NInput, "unset keys keep their defaults")
	assert.Equal(t, decoder.Dilated, cfg.Decoder.Kind)
	assert.Equal(t, []int{16, 8, 2}, cfg.Decoder.Schedule)
	assert.Equal(t, 16, cfg.Decoder.InChannels, "in_channels follows n_hidden")
	assert.Equal(t, 3, cfg.Decoder.Dilation)
	assert.Equal(t, [3]int{3, 3, 1}, cfg.Decoder.ResidualKernels)
	assert.True(t, cfg.VIS.FeatureMaps)
	assert.False(t, cfg.VIS.Kernels)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("R2N2_DECODER_SCHEDULE", "32, 4,2")
	t.Setenv("R2N2_DECODER_RESIDUAL_KERNELS", "3,0,1")
	t.Setenv("R2N2_CELL_N_HIDDEN", "32")
	t.Setenv("R2N2_VIS_HISTOGRAMS", "true")
	t.Setenv("R2N2_LOG_LEVEL", "warn")

	cfg, err := LoadBytes([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, []int{32, 4, 2}, cfg.Decoder.Schedule)
	assert.Equal(t, [3]int{3, 0, 1}, cfg.Decoder.ResidualKernels)
	assert.Equal(t, 32, cfg.Cell.NHidden)
	assert.Equal(t, 32, cfg.Decoder.InChannels)
	assert.True(t, cfg.VIS.Histograms)
	assert.True(t, cfg.VIS.FeatureMaps)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "chairs", cfg.Name)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadBytes([]byte("cell: [unclosed"))
	assert.Error(t, err)

	_, err = LoadBytes([]byte("threshold: 2"))
	assert.Error(t, err)

	_, err = LoadBytes([]byte("log:\n  format: xml"))
	assert.Error(t, err)

	t.Setenv("R2N2_DECODER_SCHEDULE", "8,x")
	_, err = LoadBytes(nil)
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	for in, want := range map[string]string{
		"R2N2_CELL_N_HIDDEN": "cell.n_hidden",
		"R2N2_VIS_KERNELS":   "vis.kernels",
		"R2N2_THRESHOLD":     "threshold",
		"R2N2_DECODER_KIND":  "decoder.kind",
		"R2N2_LOG_FORMAT":    "log.format",
	} {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg, err := LoadBytes([]byte(sample))
	require.NoError(t, err)
	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "feature_maps: true")

	again, err := LoadBytes(out)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, again); diff != "" {
		t.Errorf("rendered config does not load back (-want +got):\n%s", diff)
	}
}
