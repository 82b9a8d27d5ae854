package diag

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"sync/atomic"

	"github.com/mattn/go-mjpeg"
	"github.com/pkg/errors"
)

// MJPEGSink streams every record as a captioned JPEG frame over HTTP. Frames
// are rendered the same way GIFSink renders them; only the latest frame is
// kept.
type MJPEGSink struct {
	*GIFSink
	Quality int

	stream *mjpeg.Stream
	frames int64
}

// NewMJPEGSink returns a sink that serves its frames as a motion JPEG stream.
func NewMJPEGSink() *MJPEGSink {
	s := &MJPEGSink{
		GIFSink: NewGIFSink(nil),
		Quality: jpeg.DefaultQuality,
		stream:  mjpeg.NewStream(),
	}
	s.GIFSink.emit = s.update
	return s
}

func (s *MJPEGSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.stream.ServeHTTP(w, r)
}

func (s *MJPEGSink) update(im *image.Paletted) error {
	var b bytes.Buffer
	if err := jpeg.Encode(&b, im, &jpeg.Options{Quality: s.Quality}); err != nil {
		return errors.Wrap(err, "encode frame")
	}
	if err := s.stream.Update(b.Bytes()); err != nil {
		return errors.Wrap(err, "update stream")
	}
	atomic.AddInt64(&s.frames, 1)
	return nil
}

// Frames returns the number of frames streamed so far.
func (s *MJPEGSink) Frames() int { return int(atomic.LoadInt64(&s.frames)) }

// Flush is a no-op; frames are streamed as they are recorded.
func (s *MJPEGSink) Flush() error { return nil }
