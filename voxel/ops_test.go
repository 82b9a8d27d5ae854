package voxel

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func rangeTensor(d Dims) *tensor.Dense {
	data := make([]float32, d.Shape().TotalSize())
	for i := range data {
		data[i] = float32(i + 1)
	}
	t, _ := FromBacking(d, data)
	return t
}

func TestRelu(t *testing.T) {
	x, err := FromBacking(Cube(1, 1, 4), []float32{-2, -0.5, 0, 3})
	require.NoError(t, err)
	r, err := Relu(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 3}, Float32s(r))
	assert.Equal(t, []float32{-2, -0.5, 0, 3}, Float32s(x), "input must not be modified")
}

func TestUnpoolShape(t *testing.T) {
	d := Dims{Batch: 2, X: 3, Y: 3, Z: 3, Channels: 4}
	x := rangeTensor(d)
	u, err := Unpool(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 6, 6, 6, 4}, u.Shape())

	in := Float32s(x)
	out := Float32s(u)
	var zeros int
	for b := 0; b < 2; b++ {
		for i := 0; i < 6; i++ {
			for j := 0; j < 6; j++ {
				for k := 0; k < 6; k++ {
					for c := 0; c < 4; c++ {
						v := out[((((b*6+i)*6+j)*6+k)*4)+c]
						if i%2 == 0 && j%2 == 0 && k%2 == 0 {
							want := in[((((b*3+i/2)*3+j/2)*3+k/2)*4)+c]
							if v != want {
								t.Errorf("(%d,%d,%d,%d,%d): got %v want %v", b, i, j, k, c, v, want)
							}
							continue
						}
						if v != 0 {
							t.Errorf("(%d,%d,%d,%d,%d) should be zero, got %v", b, i, j, k, c, v)
						}
						zeros++
					}
				}
			}
		}
	}
	assert.Equal(t, len(out)*7/8, zeros)
}

func TestUnpoolPlacement(t *testing.T) {
	for _, idx := range [][3]int{{0, 0, 0}, {1, 2, 3}, {3, 3, 3}, {2, 0, 1}} {
		x := New(Cube(1, 4, 1))
		require.NoError(t, x.SetAt(float32(7), 0, idx[0], idx[1], idx[2], 0))
		u, err := Unpool(x)
		require.NoError(t, err)
		for dx := 0; dx < 2; dx++ {
			for dy := 0; dy < 2; dy++ {
				for dz := 0; dz < 2; dz++ {
					v, err := u.At(0, 2*idx[0]+dx, 2*idx[1]+dy, 2*idx[2]+dz, 0)
					require.NoError(t, err)
					if dx == 0 && dy == 0 && dz == 0 {
						assert.Equal(t, float32(7), v, "value belongs in the leading corner for %v", idx)
					} else {
						assert.Equal(t, float32(0), v, "offset (%d,%d,%d) of %v", dx, dy, dz, idx)
					}
				}
			}
		}
	}
}

func TestUnpoolRejectsNonVoxel(t *testing.T) {
	x := tensor.New(tensor.WithShape(2, 2), tensor.Of(tensor.Float32))
	_, err := Unpool(x)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestAddMul(t *testing.T) {
	a, _ := FromBacking(Cube(1, 1, 3), []float32{1, 2, 3})
	b, _ := FromBacking(Cube(1, 1, 3), []float32{4, 5, 6})
	sum, err := Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 7, 9}, Float32s(sum))
	prod, err := Mul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 10, 18}, Float32s(prod))

	c := New(Cube(1, 1, 2))
	_, err = Add(a, c)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	_, err = Mul(a, c)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestMaebeStopsAtFirstError(t *testing.T) {
	var m Maebe
	a := New(Cube(1, 2, 1))
	b := New(Cube(1, 2, 3))
	called := false
	m.Add(a, b)
	m.Do(func() (*tensor.Dense, error) {
		called = true
		return a, nil
	})
	assert.False(t, called)
	assert.True(t, errors.Is(m.Err, ErrShapeMismatch))
}

func TestCheckCubic(t *testing.T) {
	x := New(Dims{Batch: 1, X: 2, Y: 3, Z: 2, Channels: 1})
	_, err := CheckCubic(x)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	d, err := CheckCubic(New(Cube(2, 4, 8)))
	require.NoError(t, err)
	assert.Equal(t, 64, d.Cells())
}
