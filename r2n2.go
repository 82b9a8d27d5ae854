// Package r2n2 reconstructs a voxel occupancy grid from a sequence of views.
// Each view is encoded into a feature vector, the vectors are folded into a
// 3D hidden grid by a recurrent cell and the final grid is decoded into
// per-voxel class logits.
package r2n2

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/r2n2/decoder"
	"github.com/gorgonia/r2n2/diag"
	"github.com/gorgonia/r2n2/recurrent"
	"github.com/gorgonia/r2n2/voxel"
)

// Reconstructor is the top level structure and the entry point of the API.
// It composes an Encoder, a recurrent grid cell and a decoder network.
type Reconstructor struct {
	Statistics
	conf Config

	enc    Encoder
	cell   recurrent.Cell
	dec    *decoder.Network
	sink   diag.Sink
	logger *zap.Logger
}

type options struct {
	enc    Encoder
	sink   diag.Sink
	logger *zap.Logger
	init   G.InitWFn
}

// Opt configures a Reconstructor.
type Opt func(*options)

// WithEncoder sets the view encoder.
func WithEncoder(e Encoder) Opt { return func(o *options) { o.enc = e } }

// WithSink sets the diagnostics sink. Convolutions only record to it when
// the configuration's VIS flags ask for it.
func WithSink(s diag.Sink) Opt { return func(o *options) { o.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Opt { return func(o *options) { o.logger = l } }

// WithInit sets the initialiser of every convolution.
func WithInit(fn G.InitWFn) Opt { return func(o *options) { o.init = fn } }

// New builds the cell and the decoder described by conf. p provides the
// cell's grid-indexed projection weights.
func New(conf Config, p recurrent.WeightProvider, opts ...Opt) (*Reconstructor, error) {
	if conf.Decoder.InChannels == 0 {
		conf.Decoder.InChannels = conf.Cell.NHidden
	}
	if !conf.IsValid() {
		return nil, errors.Wrapf(voxel.ErrInvalidConfiguration, "%s: invalid configuration %+v", conf.Name, conf)
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named(conf.Name)

	var copts []voxel.ConvOpt
	if conf.VIS.Any() {
		copts = append(copts, voxel.WithDiagnostics(o.sink, conf.VIS))
	}
	cellOpts := []recurrent.Opt{recurrent.WithConvOpts(copts...), recurrent.WithLogger(logger.Named("cell"))}
	decOpts := []decoder.Opt{decoder.WithConvOpts(copts...), decoder.WithLogger(logger.Named("decoder"))}
	if o.init != nil {
		cellOpts = append(cellOpts, recurrent.WithRecurrenceInit(o.init))
		decOpts = append(decOpts, decoder.WithInit(o.init))
	}

	cell, err := recurrent.New(conf.Cell.Kind, conf.Cell.Config, p, cellOpts...)
	if err != nil {
		return nil, errors.WithMessage(err, "recurrent cell")
	}
	dec, err := decoder.NewNetwork(conf.Decoder.Kind, conf.Decoder.Config, decOpts...)
	if err != nil {
		return nil, errors.WithMessage(err, "decoder")
	}
	logger.Info("reconstructor ready",
		zap.String("cell", string(conf.Cell.Kind)),
		zap.Int("grid", conf.Cell.GridSize),
		zap.String("decoder", string(conf.Decoder.Kind)),
		zap.Ints("schedule", conf.Decoder.Schedule))

	return &Reconstructor{
		Statistics: makeStatistics(),
		conf:       conf,
		enc:        o.enc,
		cell:       cell,
		dec:        dec,
		sink:       o.sink,
		logger:     logger,
	}, nil
}

// Config returns the configuration the Reconstructor was built with.
func (r *Reconstructor) Config() Config { return r.conf }

// Decoder returns the decoder network.
func (r *Reconstructor) Decoder() *decoder.Network { return r.dec }

// Reconstruct encodes every view in order and returns the voxel logits
// ([1, X, Y, Z, classes]) of the reconstruction.
func (r *Reconstructor) Reconstruct(views [][]float32) (*tensor.Dense, error) {
	if r.enc == nil {
		return nil, errors.Wrap(voxel.ErrMissingCollaborator, "no view encoder")
	}
	if len(views) == 0 {
		return nil, errors.Wrap(voxel.ErrInvalidConfiguration, "no views")
	}
	xs := make([]*tensor.Dense, 0, len(views))
	for i, v := range views {
		f, err := r.enc.Encode(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "encode view %d", i)
		}
		x, err := Batch(f)
		if err != nil {
			return nil, errors.WithMessagef(err, "view %d", i)
		}
		xs = append(xs, x)
	}
	return r.Run(xs)
}

// Run folds already encoded features ([batch, NInput] each) into the hidden
// grid and decodes it.
func (r *Reconstructor) Run(xs []*tensor.Dense) (*tensor.Dense, error) {
	start := time.Now()
	state, err := recurrent.Run(r.cell, xs, nil)
	if err != nil {
		return nil, err
	}
	logits, err := r.dec.Decode(state.Hidden())
	if err != nil {
		return nil, err
	}
	probs, frac, err := Occupancy(logits, r.conf.Threshold)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	r.update(len(xs), frac, elapsed)
	if err = r.record(probs, frac); err != nil {
		return nil, err
	}
	r.logger.Info("reconstructed",
		zap.Int("views", len(xs)),
		zap.Ints("shape", logits.Shape()),
		zap.Float32("occupied", frac),
		zap.Duration("elapsed", elapsed))
	return logits, nil
}

// record sends the occupied fraction and, with VIS.FEATURE_MAPS, the x slices
// of the first reconstruction to the sink.
func (r *Reconstructor) record(probs *tensor.Dense, frac float32) error {
	if r.sink == nil {
		return nil
	}
	if err := r.sink.RecordSummary(r.conf.Name+"/occupied", float64(frac)); err != nil {
		return errors.Wrap(err, "record occupancy")
	}
	if !r.conf.VIS.FeatureMaps {
		return nil
	}
	frames, err := Slices(probs, 0)
	if err != nil {
		return err
	}
	s := probs.Shape()
	return errors.Wrap(r.sink.RecordImage(r.conf.Name+"/occupancy", diag.Tile(frames, s[3], s[2])), "record occupancy slices")
}
