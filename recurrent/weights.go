package recurrent

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/r2n2/voxel"
)

// WeightProvider hands out the grid-indexed projection weights of one gate.
type WeightProvider interface {
	Grid(gate string, n, nInput, nHidden int) (*WeightGrid, error)
}

// WeightGrid is a dense set of per-cell linear transforms over an N×N×N grid.
// Cell c = (x*N+y)*N+z owns the [NInput, NHidden] weight matrix at
// W[c*NInput*NHidden:] and the NHidden biases at B[c*NHidden:]. This is the
// same order the hidden grid uses, so a projection lands where the recurrence
// convolution expects it.
type WeightGrid struct {
	Gate            string
	N               int
	NInput, NHidden int

	W []float32
	B []float32
}

// NewWeightGrid checks the lengths of w and b against the grid dimensions.
func NewWeightGrid(gate string, n, nInput, nHidden int, w, b []float32) (*WeightGrid, error) {
	if n <= 0 || nInput <= 0 || nHidden <= 0 {
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "gate %q: grid %d, input %d, hidden %d", gate, n, nInput, nHidden)
	}
	cells := n * n * n
	if len(w) != cells*nInput*nHidden {
		return nil, errors.Wrapf(voxel.ErrShapeMismatch, "gate %q: %d weights for %d cells of [%d,%d]", gate, len(w), cells, nInput, nHidden)
	}
	if len(b) != cells*nHidden {
		return nil, errors.Wrapf(voxel.ErrShapeMismatch, "gate %q: %d biases for %d cells of %d", gate, len(b), cells, nHidden)
	}
	return &WeightGrid{Gate: gate, N: n, NInput: nInput, NHidden: nHidden, W: w, B: b}, nil
}

// Cells is the number of spatial cells.
func (g *WeightGrid) Cells() int { return g.N * g.N * g.N }

// Cell returns the weight matrix (row-major [NInput, NHidden]) and the bias of cell i.
func (g *WeightGrid) Cell(i int) (w, b []float32) {
	wsz := g.NInput * g.NHidden
	return g.W[i*wsz : (i+1)*wsz], g.B[i*g.NHidden : (i+1)*g.NHidden]
}

// Multiply projects x ([batch, NInput]) through every cell's weights and
// assembles the results as a [batch, N, N, N, NHidden] grid. Biases are not
// added.
func (g *WeightGrid) Multiply(x *tensor.Dense) (*tensor.Dense, error) {
	if x == nil || x.Dtype() != tensor.Float32 || x.Shape().Dims() != 2 || x.Shape()[1] != g.NInput {
		var s tensor.Shape
		if x != nil {
			s = x.Shape()
		}
		return nil, errors.Wrapf(voxel.ErrShapeMismatch, "gate %q: input %v, want [batch, %d]", g.Gate, s, g.NInput)
	}
	batch := x.Shape()[0]
	cells := g.Cells()
	retVal := voxel.New(voxel.Cube(batch, g.N, g.NHidden))
	out := voxel.Float32s(retVal)
	a := blas32.General{Rows: batch, Cols: g.NInput, Stride: g.NInput, Data: x.Data().([]float32)}

	// each cell fills a disjoint column band of the batch rows
	workers := runtime.NumCPU()
	chunk := (cells + workers - 1) / workers
	var eg errgroup.Group
	for start := 0; start < cells; start += chunk {
		end := start + chunk
		if end > cells {
			end = cells
		}
		eg.Go(func() error {
			for c := start; c < end; c++ {
				w, _ := g.Cell(c)
				wm := blas32.General{Rows: g.NInput, Cols: g.NHidden, Stride: g.NHidden, Data: w}
				dst := blas32.General{Rows: batch, Cols: g.NHidden, Stride: cells * g.NHidden, Data: out[c*g.NHidden:]}
				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, wm, 0, dst)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return retVal, nil
}

// addBias adds the grid biases to every batch element of t in place.
func (g *WeightGrid) addBias(t *tensor.Dense) {
	data := voxel.Float32s(t)
	n := len(g.B)
	for off := 0; off+n <= len(data); off += n {
		vecf32.Add(data[off:off+n], g.B)
	}
}

// InitProvider draws fresh weights with gorgonia initialisers.
type InitProvider struct {
	W, B G.InitWFn
}

// DefaultProvider uses Glorot uniform initialisation for weights and biases.
func DefaultProvider() InitProvider {
	return InitProvider{W: G.GlorotU(1.0), B: G.GlorotU(1.0)}
}

func (p InitProvider) Grid(gate string, n, nInput, nHidden int) (*WeightGrid, error) {
	wfn, bfn := p.W, p.B
	if wfn == nil {
		wfn = G.GlorotU(1.0)
	}
	if bfn == nil {
		bfn = G.Zeroes()
	}
	if n <= 0 || nInput <= 0 || nHidden <= 0 {
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "gate %q: grid %d, input %d, hidden %d", gate, n, nInput, nHidden)
	}
	cells := n * n * n
	w, ok := wfn(tensor.Float32, cells, nInput, nHidden).([]float32)
	if !ok {
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "gate %q: weight initialiser did not produce []float32", gate)
	}
	b, ok := bfn(tensor.Float32, cells, nHidden).([]float32)
	if !ok {
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "gate %q: bias initialiser did not produce []float32", gate)
	}
	return NewWeightGrid(gate, n, nInput, nHidden, w, b)
}
