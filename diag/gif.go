package diag

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"sync"

	"github.com/chewxy/math32"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

const (
	dpi        = 144.0
	fontsize   = 8.0
	lineheight = 1.2
	histBins   = 64
	histHeight = 64
)

var regular *truetype.Font

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// GIFSink renders every record as one captioned frame of an animated GIF.
// Images are scaled up by Scale, histograms are drawn as bar charts and
// summaries as a line of text. Flush writes the animation to the Writer.
type GIFSink struct {
	io.Writer
	Scale int // nearest-neighbour magnification of recorded images
	Delay int // per-frame delay in 100ths of a second

	mu   sync.Mutex
	out  *gif.GIF
	face font.Face

	// emit replaces appending to out when set.
	emit func(*image.Paletted) error
}

// NewGIFSink returns a sink that writes to w on Flush.
func NewGIFSink(w io.Writer) *GIFSink {
	return &GIFSink{
		Writer: w,
		Scale:  4,
		Delay:  50,
		out:    &gif.GIF{LoopCount: 0},
		face: truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		}),
	}
}

func (s *GIFSink) captionHeight() int {
	return int(math.Ceil(fontsize * lineheight * dpi / 72))
}

// frame allocates a white frame with room for a caption and draws it.
func (s *GIFSink) frame(caption string, w, h int) *image.Paletted {
	dy := s.captionHeight()
	capW := font.MeasureString(s.face, caption).Ceil()
	if capW > w {
		w = capW
	}
	im := image.NewPaletted(image.Rect(0, 0, w, h+dy), grayPalette)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
	d := font.Drawer{
		Dst:  im,
		Src:  image.Black,
		Face: s.face,
		Dot:  fixed.P(0, dy*4/5),
	}
	d.DrawString(caption)
	return im
}

func (s *GIFSink) push(im *image.Paletted) error {
	if s.emit != nil {
		return s.emit(im)
	}
	s.out.Image = append(s.out.Image, im)
	s.out.Delay = append(s.out.Delay, s.Delay)
	return nil
}

func (s *GIFSink) RecordImage(name string, img image.Image) error {
	if img == nil {
		return errors.Errorf("nil image recorded as %q", name)
	}
	scale := s.Scale
	if scale < 1 {
		scale = 1
	}
	b := img.Bounds()
	s.mu.Lock()
	defer s.mu.Unlock()
	im := s.frame(name, b.Dx()*scale, b.Dy()*scale)
	dy := s.captionHeight()
	for y := 0; y < b.Dy()*scale; y++ {
		for x := 0; x < b.Dx()*scale; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x/scale, b.Min.Y+y/scale)).(color.Gray)
			im.SetColorIndex(x, y+dy, c.Y)
		}
	}
	return s.push(im)
}

func (s *GIFSink) RecordHistogram(name string, values []float32) error {
	counts, lo, hi := histogram(values, histBins)
	var peak int
	for _, c := range counts {
		if c > peak {
			peak = c
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	caption := fmt.Sprintf("%s [%.3g, %.3g]", name, lo, hi)
	im := s.frame(caption, histBins*2, histHeight)
	dy := s.captionHeight()
	for i, c := range counts {
		if peak == 0 {
			break
		}
		bar := c * histHeight / peak
		for y := histHeight - bar; y < histHeight; y++ {
			im.SetColorIndex(2*i, y+dy, 0)
			im.SetColorIndex(2*i+1, y+dy, 0)
		}
	}
	return s.push(im)
}

func (s *GIFSink) RecordSummary(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push(s.frame(fmt.Sprintf("%s = %g", name, value), 1, 0))
}

// Frames returns the number of frames recorded so far.
func (s *GIFSink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out.Image)
}

// Flush writes the gif into the writer. GIF frames must share the size of the
// first one, so every frame is padded onto a common canvas first.
func (s *GIFSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out.Image) == 0 {
		return nil
	}
	var w, h int
	for _, im := range s.out.Image {
		if b := im.Bounds(); b.Dx() > w {
			w = b.Dx()
		}
		if b := im.Bounds(); b.Dy() > h {
			h = b.Dy()
		}
	}
	for i, im := range s.out.Image {
		if im.Bounds().Dx() == w && im.Bounds().Dy() == h {
			continue
		}
		canvas := image.NewPaletted(image.Rect(0, 0, w, h), grayPalette)
		draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(canvas, im.Bounds(), im, image.Point{}, draw.Src)
		s.out.Image[i] = canvas
	}
	return errors.WithStack(gif.EncodeAll(s.Writer, s.out))
}

// histogram buckets values into n equal-width bins over [min, max].
func histogram(values []float32, n int) (counts []int, lo, hi float32) {
	counts = make([]int, n)
	var seen bool
	for _, v := range values {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			continue
		}
		if !seen || v < lo {
			lo = v
		}
		if !seen || v > hi {
			hi = v
		}
		seen = true
	}
	span := hi - lo
	for _, v := range values {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			continue
		}
		var i int
		if span > 0 {
			i = int((v - lo) / span * float32(n))
		}
		switch {
		case i < 0:
			i = 0
		case i >= n:
			i = n - 1
		}
		counts[i]++
	}
	return counts, lo, hi
}
