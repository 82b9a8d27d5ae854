// Package diag holds the diagnostics collaborators of the reconstruction core:
// the VIS flags that gate them and the sinks that receive kernel images,
// feature maps and histograms. Recording is observational only; nothing here
// feeds back into a forward pass.
package diag

import (
	"image"
	"sync"
)

// Names of the configuration flags that gate diagnostics.
const (
	KernelsFlag     = "VIS.KERNELS"
	FeatureMapsFlag = "VIS.FEATURE_MAPS"
	HistogramsFlag  = "VIS.HISTOGRAMS"
)

// Flags selects which diagnostics a layer records.
type Flags struct {
	Kernels     bool `koanf:"kernels"`
	FeatureMaps bool `koanf:"feature_maps"`
	Histograms  bool `koanf:"histograms"`
}

// Any reports whether at least one diagnostic is switched on.
func (f Flags) Any() bool { return f.Kernels || f.FeatureMaps || f.Histograms }

// Get looks a flag up by its configuration name.
func (f Flags) Get(name string) (v, ok bool) {
	switch name {
	case KernelsFlag:
		return f.Kernels, true
	case FeatureMapsFlag:
		return f.FeatureMaps, true
	case HistogramsFlag:
		return f.Histograms, true
	}
	return false, false
}

// Sink receives diagnostics records.
type Sink interface {
	RecordImage(name string, img image.Image) error
	RecordHistogram(name string, values []float32) error
	RecordSummary(name string, value float64) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordImage(string, image.Image) error   { return nil }
func (Nop) RecordHistogram(string, []float32) error { return nil }
func (Nop) RecordSummary(string, float64) error     { return nil }

// Memory keeps every record in memory. It is safe for concurrent use.
type Memory struct {
	sync.Mutex
	Images     map[string][]image.Image
	Histograms map[string][][]float32
	Summaries  map[string][]float64
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		Images:     make(map[string][]image.Image),
		Histograms: make(map[string][][]float32),
		Summaries:  make(map[string][]float64),
	}
}

func (m *Memory) RecordImage(name string, img image.Image) error {
	m.Lock()
	m.Images[name] = append(m.Images[name], img)
	m.Unlock()
	return nil
}

func (m *Memory) RecordHistogram(name string, values []float32) error {
	cp := make([]float32, len(values))
	copy(cp, values)
	m.Lock()
	m.Histograms[name] = append(m.Histograms[name], cp)
	m.Unlock()
	return nil
}

func (m *Memory) RecordSummary(name string, value float64) error {
	m.Lock()
	m.Summaries[name] = append(m.Summaries[name], value)
	m.Unlock()
	return nil
}

// Count returns the total number of records held.
func (m *Memory) Count() (images, histograms, summaries int) {
	m.Lock()
	defer m.Unlock()
	for _, v := range m.Images {
		images += len(v)
	}
	for _, v := range m.Histograms {
		histograms += len(v)
	}
	for _, v := range m.Summaries {
		summaries += len(v)
	}
	return
}
