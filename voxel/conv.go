package voxel

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/r2n2/diag"
)

// Padding is the padding mode of a convolution.
type Padding int

const (
	// Same pads so that a stride 1 convolution keeps the spatial size.
	Same Padding = iota
	// Valid does not pad.
	Valid
)

func (p Padding) String() string {
	switch p {
	case Same:
		return "SAME"
	case Valid:
		return "VALID"
	}
	return fmt.Sprintf("Padding(%d)", int(p))
}

// Conv is a 3D convolution over voxel tensors with a cubic kernel of shape
// [K, K, K, In, Out] and an optional per-output-channel bias.
type Conv struct {
	Name     string
	In, Out  int
	K        int
	Stride   int
	Dilation int
	Padding  Padding

	Kernel *tensor.Dense
	Bias   *tensor.Dense // nil when the convolution has no bias

	kernelInit, biasInit G.InitWFn
	noBias               bool
	workers              int

	sink diag.Sink
	vis  diag.Flags
}

// ConvOpt configures a Conv at construction.
type ConvOpt func(*Conv)

// WithKernelSize sets the cubic kernel size K.
func WithKernelSize(k int) ConvOpt { return func(c *Conv) { c.K = k } }

// WithStride sets the stride along each spatial axis.
func WithStride(s int) ConvOpt { return func(c *Conv) { c.Stride = s } }

// WithDilation sets the dilation rate along each spatial axis.
func WithDilation(d int) ConvOpt { return func(c *Conv) { c.Dilation = d } }

// WithPadding sets the padding mode.
func WithPadding(p Padding) ConvOpt { return func(c *Conv) { c.Padding = p } }

// WithInit sets the initialiser of both kernel and bias.
func WithInit(fn G.InitWFn) ConvOpt {
	return func(c *Conv) {
		if fn != nil {
			c.kernelInit = fn
			c.biasInit = fn
		}
	}
}

// WithoutBias drops the bias term.
func WithoutBias() ConvOpt { return func(c *Conv) { c.noBias = true } }

// WithName names the convolution in diagnostics and errors.
func WithName(name string) ConvOpt { return func(c *Conv) { c.Name = name } }

// WithWorkers bounds the number of slices convolved concurrently.
func WithWorkers(n int) ConvOpt { return func(c *Conv) { c.workers = n } }

// WithDiagnostics attaches a diagnostics sink and the flags gating it.
func WithDiagnostics(sink diag.Sink, vis diag.Flags) ConvOpt {
	return func(c *Conv) {
		c.sink = sink
		c.vis = vis
	}
}

// NewConv creates a convolution from in to out channels. Parameters are
// allocated immediately; unless WithInit is given they are drawn with
// gorgonia's Glorot uniform ("Xavier") initialiser.
func NewConv(in, out int, opts ...ConvOpt) (*Conv, error) {
	c := &Conv{
		Name:       "conv",
		In:         in,
		Out:        out,
		K:          3,
		Stride:     1,
		Dilation:   1,
		Padding:    Same,
		kernelInit: G.GlorotU(1.0),
		biasInit:   G.GlorotU(1.0),
		workers:    runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.In <= 0 || c.Out <= 0:
		return nil, configErr("%s: channel counts must be positive, got %d -> %d", c.Name, c.In, c.Out)
	case c.K <= 0:
		return nil, configErr("%s: unsupported kernel size %d", c.Name, c.K)
	case c.Stride <= 0 || c.Dilation <= 0:
		return nil, configErr("%s: stride %d and dilation %d must be positive", c.Name, c.Stride, c.Dilation)
	case c.Padding != Same && c.Padding != Valid:
		return nil, configErr("%s: unknown padding %v", c.Name, c.Padding)
	}
	if c.workers < 1 {
		c.workers = 1
	}

	kdata, err := initF32(c.kernelInit, c.K, c.K, c.K, c.In, c.Out)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: kernel", c.Name)
	}
	c.Kernel = tensor.New(tensor.WithShape(c.K, c.K, c.K, c.In, c.Out), tensor.WithBacking(kdata))
	if !c.noBias {
		bdata, err := initF32(c.biasInit, c.Out)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: bias", c.Name)
		}
		c.Bias = tensor.New(tensor.WithShape(c.Out), tensor.WithBacking(bdata))
	}
	return c, nil
}

func initF32(fn G.InitWFn, s ...int) ([]float32, error) {
	data, ok := fn(tensor.Float32, s...).([]float32)
	if !ok {
		return nil, configErr("initialiser did not produce []float32")
	}
	if len(data) != tensor.Shape(s).TotalSize() {
		return nil, configErr("initialiser produced %d values for shape %v", len(data), s)
	}
	return data, nil
}

// SetParams overwrites the kernel and bias values. bias is ignored when the
// convolution has none.
func (c *Conv) SetParams(kernel, bias []float32) error {
	kd := Float32s(c.Kernel)
	if len(kernel) != len(kd) {
		return shapeErr("%s: kernel of %d values, want %d", c.Name, len(kernel), len(kd))
	}
	copy(kd, kernel)
	if c.Bias == nil {
		return nil
	}
	bd := Float32s(c.Bias)
	if len(bias) != len(bd) {
		return shapeErr("%s: bias of %d values, want %d", c.Name, len(bias), len(bd))
	}
	copy(bd, bias)
	return nil
}

// Params returns the learnable tensors of the convolution.
func (c *Conv) Params() []*tensor.Dense {
	if c.Bias == nil {
		return []*tensor.Dense{c.Kernel}
	}
	return []*tensor.Dense{c.Kernel, c.Bias}
}

// span is the extent of the dilated kernel along one axis.
func (c *Conv) span() int { return (c.K-1)*c.Dilation + 1 }

// outSize returns the output size and the leading pad along one axis.
func (c *Conv) outSize(in int) (out, pad int) {
	eff := c.span()
	switch c.Padding {
	case Valid:
		if in < eff {
			return 0, 0
		}
		return (in-eff)/c.Stride + 1, 0
	default:
		out = (in + c.Stride - 1) / c.Stride
		total := (out-1)*c.Stride + eff - in
		if total < 0 {
			total = 0
		}
		return out, total / 2
	}
}

// OutputDims infers the output dims of the convolution for an input of dims d.
func (c *Conv) OutputDims(d Dims) (Dims, error) {
	if d.Channels != c.In {
		return Dims{}, shapeErr("%s: input has %d channels, kernel expects %d", c.Name, d.Channels, c.In)
	}
	ox, _ := c.outSize(d.X)
	oy, _ := c.outSize(d.Y)
	oz, _ := c.outSize(d.Z)
	if ox <= 0 || oy <= 0 || oz <= 0 {
		return Dims{}, shapeErr("%s: kernel span %d does not fit input %v", c.Name, c.span(), d.Shape())
	}
	return Dims{Batch: d.Batch, X: ox, Y: oy, Z: oz, Channels: c.Out}, nil
}

// Forward convolves x ([batch, x, y, z, In]) and adds the bias. Every
// (batch, output-x) slice is an independent work unit: its receptive fields
// are gathered into a column buffer and multiplied by the kernel matrix.
func (c *Conv) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	d, err := DimsOf(x)
	if err != nil {
		return nil, errors.WithMessage(err, c.Name)
	}
	od, err := c.OutputDims(d)
	if err != nil {
		return nil, err
	}
	_, padX := c.outSize(d.X)
	_, padY := c.outSize(d.Y)
	_, padZ := c.outSize(d.Z)

	retVal := New(od)
	in := Float32s(x)
	out := Float32s(retVal)
	k := c.K
	colW := k * k * k * c.In
	rows := od.Y * od.Z
	kmat := blas32.General{Rows: colW, Cols: c.Out, Stride: c.Out, Data: Float32s(c.Kernel)}
	var bias []float32
	if c.Bias != nil {
		bias = Float32s(c.Bias)
	}

	var g errgroup.Group
	g.SetLimit(c.workers)
	for unit := 0; unit < d.Batch*od.X; unit++ {
		b, i := unit/od.X, unit%od.X
		g.Go(func() error {
			col := borrowF32(rows * colW)
			defer returnF32(col)
			for j := 0; j < od.Y; j++ {
				for l := 0; l < od.Z; l++ {
					row := col[(j*od.Z+l)*colW:]
					for kx := 0; kx < k; kx++ {
						ix := i*c.Stride - padX + kx*c.Dilation
						if ix < 0 || ix >= d.X {
							continue
						}
						for ky := 0; ky < k; ky++ {
							iy := j*c.Stride - padY + ky*c.Dilation
							if iy < 0 || iy >= d.Y {
								continue
							}
							for kz := 0; kz < k; kz++ {
								iz := l*c.Stride - padZ + kz*c.Dilation
								if iz < 0 || iz >= d.Z {
									continue
								}
								src := (((b*d.X+ix)*d.Y+iy)*d.Z + iz) * c.In
								dst := ((kx*k+ky)*k + kz) * c.In
								copy(row[dst:dst+c.In], in[src:src+c.In])
							}
						}
					}
				}
			}
			start := (b*od.X + i) * rows * c.Out
			dst := blas32.General{Rows: rows, Cols: c.Out, Stride: c.Out, Data: out[start : start+rows*c.Out]}
			a := blas32.General{Rows: rows, Cols: colW, Stride: colW, Data: col}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, kmat, 0, dst)
			if bias != nil {
				for r := 0; r < rows; r++ {
					vecf32.Add(dst.Data[r*c.Out:(r+1)*c.Out], bias)
				}
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	if err = c.record(retVal, od); err != nil {
		return nil, err
	}
	return retVal, nil
}

// record sends the diagnostics selected by the VIS flags to the sink.
func (c *Conv) record(out *tensor.Dense, od Dims) error {
	if !c.vis.Any() {
		return nil
	}
	if c.sink == nil {
		return errors.Wrapf(ErrMissingCollaborator, "%s: diagnostics enabled without a sink", c.Name)
	}
	on := func(flag string) bool { v, _ := c.vis.Get(flag); return v }
	kernel := Float32s(c.Kernel)
	if on(diag.KernelsFlag) {
		// one K×K frame per output channel through the middle z plane of input channel 0
		k := c.K
		frames := make([][]float32, 0, diag.MaxTiles)
		for o := 0; o < c.Out && o < diag.MaxTiles; o++ {
			f := make([]float32, k*k)
			for kx := 0; kx < k; kx++ {
				for ky := 0; ky < k; ky++ {
					f[kx*k+ky] = kernel[((kx*k+ky)*k+k/2)*c.In*c.Out+o]
				}
			}
			frames = append(frames, f)
		}
		if err := c.sink.RecordImage(c.Name+"/kernel", diag.Tile(frames, k, k)); err != nil {
			return errors.Wrapf(err, "%s: record kernel", c.Name)
		}
	}
	if on(diag.FeatureMapsFlag) {
		// out[0, 0, :, :, ch] for each channel
		data := Float32s(out)
		frames := make([][]float32, 0, diag.MaxTiles)
		for ch := 0; ch < od.Channels && ch < diag.MaxTiles; ch++ {
			f := make([]float32, od.Y*od.Z)
			for j := range f {
				f[j] = data[j*od.Channels+ch]
			}
			frames = append(frames, f)
		}
		if err := c.sink.RecordImage(c.Name+"/feature_map", diag.Tile(frames, od.Z, od.Y)); err != nil {
			return errors.Wrapf(err, "%s: record feature map", c.Name)
		}
	}
	if on(diag.HistogramsFlag) {
		if err := c.sink.RecordHistogram(c.Name+"/kernel", kernel); err != nil {
			return errors.Wrapf(err, "%s: record kernel histogram", c.Name)
		}
		if c.Bias != nil {
			if err := c.sink.RecordHistogram(c.Name+"/bias", Float32s(c.Bias)); err != nil {
				return errors.Wrapf(err, "%s: record bias histogram", c.Name)
			}
		}
	}
	return nil
}
