package voxel

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/r2n2/diag"
)

// seqInit fills parameters with a fixed repeating pattern.
func seqInit(scale float32) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		data := make([]float32, tensor.Shape(s).TotalSize())
		for i := range data {
			data[i] = scale * float32((i*7)%11-5)
		}
		return data
	}
}

// naiveConv is the direct six-loop convolution used as reference.
func naiveConv(c *Conv, x *tensor.Dense) []float32 {
	d, _ := DimsOf(x)
	od, _ := c.OutputDims(d)
	_, px := c.outSize(d.X)
	_, py := c.outSize(d.Y)
	_, pz := c.outSize(d.Z)
	in := Float32s(x)
	w := Float32s(c.Kernel)
	out := make([]float32, od.Shape().TotalSize())
	k := c.K
	for b := 0; b < od.Batch; b++ {
		for i := 0; i < od.X; i++ {
			for j := 0; j < od.Y; j++ {
				for l := 0; l < od.Z; l++ {
					for o := 0; o < c.Out; o++ {
						var acc float32
						for kx := 0; kx < k; kx++ {
							for ky := 0; ky < k; ky++ {
								for kz := 0; kz < k; kz++ {
									ix := i*c.Stride - px + kx*c.Dilation
									iy := j*c.Stride - py + ky*c.Dilation
									iz := l*c.Stride - pz + kz*c.Dilation
									if ix < 0 || iy < 0 || iz < 0 || ix >= d.X || iy >= d.Y || iz >= d.Z {
										continue
									}
									for ci := 0; ci < c.In; ci++ {
										acc += in[(((b*d.X+ix)*d.Y+iy)*d.Z+iz)*c.In+ci] *
											w[(((kx*k+ky)*k+kz)*c.In+ci)*c.Out+o]
									}
								}
							}
						}
						if c.Bias != nil {
							acc += Float32s(c.Bias)[o]
						}
						out[(((b*od.X+i)*od.Y+j)*od.Z+l)*c.Out+o] = acc
					}
				}
			}
		}
	}
	return out
}

func TestConvMatchesReference(t *testing.T) {
	cases := []struct {
		name string
		opts []ConvOpt
		in   Dims
		out  tensor.Shape
	}{
		{"same k3", nil, Cube(2, 4, 3), tensor.Shape{2, 4, 4, 4, 5}},
		{"same k1", []ConvOpt{WithKernelSize(1)}, Cube(1, 3, 3), tensor.Shape{1, 3, 3, 3, 5}},
		{"dilated", []ConvOpt{WithDilation(2)}, Cube(1, 5, 2), tensor.Shape{1, 5, 5, 5, 5}},
		{"strided", []ConvOpt{WithStride(2)}, Cube(1, 5, 2), tensor.Shape{1, 3, 3, 3, 5}},
		{"valid", []ConvOpt{WithPadding(Valid)}, Cube(1, 4, 2), tensor.Shape{1, 2, 2, 2, 5}},
		{"no bias", []ConvOpt{WithoutBias()}, Cube(1, 3, 2), tensor.Shape{1, 3, 3, 3, 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := append([]ConvOpt{WithInit(seqInit(0.1)), WithWorkers(3)}, tc.opts...)
			c, err := NewConv(tc.in.Channels, 5, opts...)
			require.NoError(t, err)
			x := rangeTensor(tc.in)
			y, err := c.Forward(x)
			require.NoError(t, err)
			assert.Equal(t, tc.out, y.Shape())
			assert.InDeltaSlice(t, naiveConv(c, x), Float32s(y), 0.1)
		})
	}
}

func TestConvIdentityKernel(t *testing.T) {
	c, err := NewConv(2, 2, WithInit(G.Zeroes()))
	require.NoError(t, err)
	kernel := make([]float32, 3*3*3*2*2)
	center := ((1*3+1)*3 + 1) * 2 * 2
	kernel[center+0*2+0] = 1
	kernel[center+1*2+1] = 1
	require.NoError(t, c.SetParams(kernel, []float32{0.5, -0.5}))

	x := rangeTensor(Cube(1, 3, 2))
	y, err := c.Forward(x)
	require.NoError(t, err)
	in := Float32s(x)
	for i, v := range Float32s(y) {
		want := in[i] + 0.5
		if i%2 == 1 {
			want = in[i] - 0.5
		}
		if v != want {
			t.Fatalf("index %d: got %v want %v", i, v, want)
		}
	}
}

func TestConvErrors(t *testing.T) {
	_, err := NewConv(0, 3)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	_, err = NewConv(3, 3, WithKernelSize(0))
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	_, err = NewConv(3, 3, WithDilation(0))
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	c, err := NewConv(3, 3)
	require.NoError(t, err)
	_, err = c.Forward(New(Cube(1, 2, 4)))
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	v, err := NewConv(1, 1, WithKernelSize(3), WithPadding(Valid))
	require.NoError(t, err)
	_, err = v.Forward(New(Cube(1, 2, 1)))
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	assert.True(t, errors.Is(c.SetParams(make([]float32, 2), nil), ErrShapeMismatch))
}

func TestConvDiagnostics(t *testing.T) {
	vis := diag.Flags{Kernels: true, FeatureMaps: true, Histograms: true}

	c, err := NewConv(2, 3, WithName("enc1"), WithDiagnostics(nil, vis))
	require.NoError(t, err)
	_, err = c.Forward(New(Cube(1, 2, 2)))
	assert.True(t, errors.Is(err, ErrMissingCollaborator))

	sink := diag.NewMemory()
	c, err = NewConv(2, 3, WithName("enc1"), WithInit(seqInit(1)), WithDiagnostics(sink, vis))
	require.NoError(t, err)
	x := rangeTensor(Cube(1, 2, 2))
	y, err := c.Forward(x)
	require.NoError(t, err)

	images, hists, _ := sink.Count()
	assert.Equal(t, 2, images)
	assert.Equal(t, 2, hists)
	assert.Len(t, sink.Images["enc1/kernel"], 1)
	assert.Len(t, sink.Images["enc1/feature_map"], 1)
	assert.Equal(t, Float32s(c.Kernel), sink.Histograms["enc1/kernel"][0])

	// diagnostics never change the numbers
	quiet, err := NewConv(2, 3, WithInit(seqInit(1)))
	require.NoError(t, err)
	y2, err := quiet.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, Float32s(y2), Float32s(y))

	// each flag gates its own records
	only := diag.NewMemory()
	c, err = NewConv(2, 3, WithName("enc2"), WithDiagnostics(only, diag.Flags{Histograms: true}))
	require.NoError(t, err)
	_, err = c.Forward(x)
	require.NoError(t, err)
	images, hists, _ = only.Count()
	assert.Equal(t, 0, images)
	assert.Equal(t, 2, hists)

	// a diverged parameter is still recorded and does not fail the pass
	gif := diag.NewGIFSink(nil)
	c, err = NewConv(2, 3, WithName("enc3"), WithDiagnostics(gif, diag.Flags{Histograms: true}))
	require.NoError(t, err)
	Float32s(c.Kernel)[0] = math32.NaN()
	_, err = c.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, 2, gif.Frames())
}

func TestPoolReturnsZeroedBuffers(t *testing.T) {
	buf := borrowF32(16)
	for i := range buf {
		buf[i] = 1
	}
	returnF32(buf)
	again := borrowF32(16)
	assert.Equal(t, make([]float32, 16), again)
}
