package decoder

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/r2n2/diag"
	"github.com/gorgonia/r2n2/voxel"
)

func seqInit(dt tensor.Dtype, s ...int) interface{} {
	data := make([]float32, tensor.Shape(s).TotalSize())
	for i := range data {
		data[i] = 0.05 * float32((i*7)%11-5)
	}
	return data
}

var _ G.InitWFn = seqInit

func hiddenGrid(d voxel.Dims) *tensor.Dense {
	data := make([]float32, d.Shape().TotalSize())
	for i := range data {
		data[i] = float32(i%13-6) / 6
	}
	t, _ := voxel.FromBacking(d, data)
	return t
}

func smallConf() Config {
	conf := DefaultConf(8)
	conf.Schedule = []int{8, 8, 8, 4, 4, 2}
	return conf
}

func TestPolicy(t *testing.T) {
	res, err := Policy(Residual, 6)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, true}, res)

	for _, k := range []Kind{Simple, Dilated} {
		p, err := Policy(k, 6)
		require.NoError(t, err)
		assert.Equal(t, []bool{false, true, true, false, false}, p, "%s", k)
	}

	p, err := Policy(Residual, 8)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, true, true, true}, p)

	_, err = Policy("unet", 6)
	assert.True(t, errors.Is(err, voxel.ErrInvalidConfiguration))
	_, err = Policy(Simple, 1)
	assert.True(t, errors.Is(err, voxel.ErrInvalidConfiguration))
}

func TestScenarioShapes(t *testing.T) {
	for _, kind := range []Kind{Residual, Simple, Dilated} {
		t.Run(string(kind), func(t *testing.T) {
			n, err := NewNetwork(kind, smallConf(), WithInit(seqInit))
			require.NoError(t, err)
			hidden := hiddenGrid(voxel.Cube(1, 4, 8))
			out, err := n.Decode(hidden)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{1, 32, 32, 32, 2}, out.Shape())
			assert.Equal(t, voxel.Cube(1, 32, 2), n.OutputDims(voxel.Cube(1, 4, 8)))
		})
	}
}

func TestScenarioFullWidth(t *testing.T) {
	if testing.Short() {
		t.Skip("full width decoders are slow")
	}
	for _, kind := range []Kind{Residual, Simple, Dilated} {
		dec, err := New(kind, DefaultConf(128))
		require.NoError(t, err)
		out, err := dec.Decode(voxel.New(voxel.Cube(1, 4, 128)))
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{1, 32, 32, 32, 2}, out.Shape(), "%s", kind)
	}
}

func TestResidualBlockShapes(t *testing.T) {
	x := hiddenGrid(voxel.Cube(2, 4, 3))
	for _, kernels := range [][3]int{{3, 3, 1}, {0, 3, 1}, {3, 0, 1}, {3, 3, 0}, {1, 0, 0}} {
		for _, up := range []bool{false, true} {
			b, err := newResidualBlock("res", 3, 5, kernels, 1, up, []voxel.ConvOpt{voxel.WithInit(seqInit)})
			require.NoError(t, err, "%v", kernels)
			out, err := b.forward(x)
			require.NoError(t, err, "%v", kernels)
			want := tensor.Shape{2, 4, 4, 4, 5}
			if up {
				want = tensor.Shape{2, 8, 8, 8, 5}
			}
			assert.Equal(t, want, out.Shape(), "kernels %v upsample %v", kernels, up)
		}
	}

	_, err := newResidualBlock("res", 3, 5, [3]int{}, 1, false, nil)
	assert.True(t, errors.Is(err, voxel.ErrInvalidConfiguration))
	_, err = newResidualBlock("res", 3, 5, [3]int{0, 0, 1}, 1, false, nil)
	assert.True(t, errors.Is(err, voxel.ErrInvalidConfiguration))
	b, err := newResidualBlock("res", 3, 3, [3]int{0, 0, 1}, 1, true, []voxel.ConvOpt{voxel.WithInit(seqInit)})
	require.NoError(t, err)
	out, err := b.forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 8, 8, 8, 3}, out.Shape())

	// nothing to run and nothing to convert: the block passes its input on
	b, err = newResidualBlock("res", 3, 3, [3]int{}, 1, false, nil)
	require.NoError(t, err)
	out, err = b.forward(x)
	require.NoError(t, err)
	assert.Equal(t, voxel.Float32s(x), voxel.Float32s(out))
}

func TestResidualSkipTopology(t *testing.T) {
	b, err := newResidualBlock("res", 2, 3, [3]int{3, 3, 1}, 1, false, []voxel.ConvOpt{voxel.WithInit(seqInit)})
	require.NoError(t, err)
	x := hiddenGrid(voxel.Cube(1, 3, 2))

	// the skip carries relu(conv2(relu(conv1(x)))), not x
	r1, err := voxel.Relu(mustForward(t, b.conv[0], x))
	require.NoError(t, err)
	r2, err := voxel.Relu(mustForward(t, b.conv[1], r1))
	require.NoError(t, err)
	want, err := voxel.Add(mustForward(t, b.conv[2], r2), r2)
	require.NoError(t, err)

	out, err := b.forward(x)
	require.NoError(t, err)
	assert.Equal(t, voxel.Float32s(want), voxel.Float32s(out))

	// with conv3 zeroed the block returns the skip target unchanged
	require.NoError(t, b.conv[2].SetParams(make([]float32, 3*3), make([]float32, 3)))
	out, err = b.forward(x)
	require.NoError(t, err)
	assert.Equal(t, voxel.Float32s(r2), voxel.Float32s(out))
}

func TestResidualSkipWithoutConv2(t *testing.T) {
	b, err := newResidualBlock("res", 2, 3, [3]int{3, 0, 1}, 1, false, []voxel.ConvOpt{voxel.WithInit(seqInit)})
	require.NoError(t, err)
	x := hiddenGrid(voxel.Cube(1, 3, 2))
	r1, err := voxel.Relu(mustForward(t, b.conv[0], x))
	require.NoError(t, err)
	want, err := voxel.Add(mustForward(t, b.conv[2], r1), r1)
	require.NoError(t, err)
	out, err := b.forward(x)
	require.NoError(t, err)
	assert.Equal(t, voxel.Float32s(want), voxel.Float32s(out))
}

func TestSimpleBlock(t *testing.T) {
	b, err := newSimpleBlock("simple", 2, 4, 3, 1, true, []voxel.ConvOpt{voxel.WithInit(seqInit)})
	require.NoError(t, err)
	x := hiddenGrid(voxel.Cube(1, 3, 2))
	up, err := voxel.Unpool(mustForward(t, b.conv, x))
	require.NoError(t, err)
	want, err := voxel.Relu(up)
	require.NoError(t, err)

	out, err := b.forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 6, 6, 6, 4}, out.Shape())
	assert.Equal(t, voxel.Float32s(want), voxel.Float32s(out))
	for _, v := range voxel.Float32s(out) {
		assert.GreaterOrEqual(t, v, float32(0))
	}
}

func TestDilatedWithUnitDilationMatchesSimple(t *testing.T) {
	conf := smallConf()
	conf.Dilation = 1
	simple, err := NewNetwork(Simple, conf, WithInit(seqInit))
	require.NoError(t, err)
	dilated, err := NewNetwork(Dilated, conf)
	require.NoError(t, err)

	src, dst := simple.Convs(), dilated.Convs()
	require.Len(t, dst, len(src))
	for i := range src {
		require.NoError(t, dst[i].SetParams(voxel.Float32s(src[i].Kernel), voxel.Float32s(src[i].Bias)))
	}

	hidden := hiddenGrid(voxel.Cube(1, 4, 8))
	a, err := simple.Decode(hidden)
	require.NoError(t, err)
	b, err := dilated.Decode(hidden)
	require.NoError(t, err)
	assert.Equal(t, voxel.Float32s(a), voxel.Float32s(b))

	conf.Dilation = 2
	wide, err := NewNetwork(Dilated, conf, WithInit(seqInit))
	require.NoError(t, err)
	c, err := wide.Decode(hidden)
	require.NoError(t, err)
	assert.Equal(t, a.Shape(), c.Shape())
	assert.NotEqual(t, voxel.Float32s(a), voxel.Float32s(c))
}

func TestStages(t *testing.T) {
	n, err := NewNetwork(Dilated, smallConf(), WithInit(seqInit))
	require.NoError(t, err)
	got := n.Stages()
	want := []Stage{
		{Name: "unpool", Op: "unpool", In: 8, Out: 8, Upsample: true},
		{Name: "dilated/block0", Op: "simple", In: 8, Out: 8, Dilation: 2, Kernels: []int{3}},
		{Name: "dilated/block1", Op: "simple", In: 8, Out: 8, Upsample: true, Dilation: 2, Kernels: []int{3}},
		{Name: "dilated/block2", Op: "simple", In: 8, Out: 8, Upsample: true, Dilation: 2, Kernels: []int{3}},
		{Name: "dilated/block3", Op: "simple", In: 8, Out: 4, Dilation: 2, Kernels: []int{3}},
		{Name: "dilated/block4", Op: "simple", In: 4, Out: 4, Dilation: 2, Kernels: []int{3}},
		{Name: "dilated/out", Op: "conv", In: 4, Out: 2, Dilation: 1, Kernels: []int{3}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	r, err := NewNetwork(Residual, smallConf(), WithInit(seqInit))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, r.Stages()[1].Kernels)
	assert.Len(t, r.Convs(), 5*3+1)
	assert.Len(t, r.Params(), 2*(5*3+1))

	dot := r.ToDot()
	assert.True(t, strings.HasPrefix(strings.TrimSpace(dot), "digraph G"), dot)
	assert.Contains(t, dot, "residual/block4")
	assert.Contains(t, dot, "5->6")
}

func TestDecoderErrors(t *testing.T) {
	conf := smallConf()
	conf.Schedule = []int{2}
	_, err := New(Simple, conf)
	assert.True(t, errors.Is(err, voxel.ErrInvalidConfiguration))

	conf = smallConf()
	conf.KernelSize = 0
	_, err = New(Simple, conf)
	assert.True(t, errors.Is(err, voxel.ErrInvalidConfiguration))
	assert.False(t, conf.IsValid())

	_, err = New("unet", smallConf())
	assert.True(t, errors.Is(err, voxel.ErrInvalidConfiguration))

	dec, err := New(Simple, smallConf(), WithInit(seqInit))
	require.NoError(t, err)
	_, err = dec.Decode(voxel.New(voxel.Cube(1, 4, 3)))
	assert.True(t, errors.Is(err, voxel.ErrShapeMismatch))
	_, err = dec.Decode(voxel.New(voxel.Dims{Batch: 1, X: 4, Y: 2, Z: 4, Channels: 8}))
	assert.True(t, errors.Is(err, voxel.ErrShapeMismatch))
}

func TestDecoderDiagnostics(t *testing.T) {
	sink := diag.NewMemory()
	conf := DefaultConf(4)
	conf.Schedule = []int{4, 2}
	dec, err := NewNetwork(Simple, conf, WithInit(seqInit), WithDiagnostics(sink, diag.Flags{Histograms: true}))
	require.NoError(t, err)
	_, err = dec.Decode(hiddenGrid(voxel.Cube(1, 2, 4)))
	require.NoError(t, err)
	_, hists, _ := sink.Count()
	assert.Equal(t, 2*len(dec.Convs()), hists)

	dec, err = NewNetwork(Simple, conf, WithDiagnostics(nil, diag.Flags{Kernels: true}))
	require.NoError(t, err)
	_, err = dec.Decode(hiddenGrid(voxel.Cube(1, 2, 4)))
	assert.True(t, errors.Is(err, voxel.ErrMissingCollaborator))
}

func mustForward(t *testing.T, c *voxel.Conv, x *tensor.Dense) *tensor.Dense {
	t.Helper()
	y, err := c.Forward(x)
	require.NoError(t, err)
	return y
}
