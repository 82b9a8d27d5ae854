package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gorgonia/r2n2"
	"github.com/gorgonia/r2n2/diag"
	"github.com/gorgonia/r2n2/recurrent"
)

var (
	views       int
	viewSize    int
	gifPath     string
	metricsPath string
	statsPath   string
	serveAddr   string
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Reconstruct a voxel grid from synthetic views",
	Long: `Reconstruct feeds --views synthetic views through a stand-in encoder and the
configured network, and reports the occupied fraction of the result.

Examples:
  # Five views, default network
  r2n2 reconstruct --views 5

  # Record feature maps into an animated GIF
  R2N2_VIS_FEATURE_MAPS=true r2n2 reconstruct --gif maps.gif

  # Export diagnostics as Prometheus metrics and the run statistics as CSV
  r2n2 reconstruct --metrics metrics.prom --stats stats.csv

  # Stream diagnostics as motion JPEG at http://localhost:8080/diag until interrupted
  R2N2_VIS_KERNELS=true r2n2 reconstruct --serve :8080`,
	Args: cobra.NoArgs,
	RunE: runReconstruct,
}

func init() {
	f := reconstructCmd.Flags()
	f.IntVarP(&views, "views", "n", 3, "number of views")
	f.IntVar(&viewSize, "view-size", 32*32, "values per synthetic view")
	f.StringVar(&gifPath, "gif", "", "write diagnostics to this animated GIF")
	f.StringVar(&metricsPath, "metrics", "", "write diagnostics as Prometheus text to this file")
	f.StringVar(&statsPath, "stats", "", "write run statistics as CSV to this file")
	f.StringVar(&serveAddr, "serve", "", "stream diagnostics as motion JPEG on this address until interrupted")
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var sinks diag.Multi
	var gifSink *diag.GIFSink
	if gifPath != "" {
		f, err := os.Create(gifPath)
		if err != nil {
			return errors.Wrap(err, "create gif")
		}
		defer f.Close()
		gifSink = diag.NewGIFSink(f)
		sinks = append(sinks, gifSink)
	}
	var srv *http.Server
	if serveAddr != "" {
		stream := diag.NewMJPEGSink()
		sinks = append(sinks, stream)
		mux := http.NewServeMux()
		mux.Handle("/diag", stream)
		srv = &http.Server{Addr: serveAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("diagnostics server", zap.Error(err))
			}
		}()
		logger.Info("streaming diagnostics", zap.String("addr", serveAddr), zap.String("path", "/diag"))
	}
	reg := prometheus.NewRegistry()
	if metricsPath != "" {
		sinks = append(sinks, diag.NewPromSink(reg))
	}

	opts := []r2n2.Opt{
		r2n2.WithEncoder(r2n2.DummyEncoder{Size: cfg.Cell.NInput}),
		r2n2.WithLogger(logger),
	}
	if len(sinks) > 0 {
		opts = append(opts, r2n2.WithSink(sinks))
	}
	r, err := r2n2.New(cfg.Config, recurrent.DefaultProvider(), opts...)
	if err != nil {
		return err
	}

	logits, err := r.Reconstruct(syntheticViews(views, viewSize))
	if err != nil {
		return err
	}
	_, frac, err := r2n2.Occupancy(logits, r.Config().Threshold)
	if err != nil {
		return err
	}
	var params int
	for _, p := range r.Decoder().Params() {
		params += p.Shape().TotalSize()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reconstructed %v from %d views: %.1f%% occupied\n", []int(logits.Shape()), views, 100*frac)
	logger.Debug("decoder", zap.String("kind", string(r.Config().Decoder.Kind)), zap.Int("parameters", params))

	if gifSink != nil {
		if err := gifSink.Flush(); err != nil {
			return errors.WithMessage(err, "write gif")
		}
		logger.Info("wrote gif", zap.String("path", gifPath), zap.Int("frames", gifSink.Frames()))
	}
	if metricsPath != "" {
		if err := prometheus.WriteToTextfile(metricsPath, reg); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	if statsPath != "" {
		if err := r.Dump(statsPath); err != nil {
			return errors.Wrap(err, "write statistics")
		}
	}
	if srv != nil {
		<-cmd.Context().Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

// syntheticViews returns n deterministic views that drift in phase so every
// step feeds the cell something different.
func syntheticViews(n, size int) [][]float32 {
	retVal := make([][]float32, n)
	for i := range retVal {
		v := make([]float32, size)
		phase := float32(i) * 0.7
		for j := range v {
			v[j] = math32.Sin(float32(j)*0.05 + phase)
		}
		retVal[i] = v
	}
	return retVal
}
