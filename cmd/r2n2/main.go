// Command r2n2 runs the voxel reconstruction network on synthetic views and
// inspects its configuration.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gorgonia/r2n2/internal/config"
	"github.com/gorgonia/r2n2/internal/logging"
)

var (
	// configPath is the YAML config file, empty for defaults and environment only.
	configPath string
	version    = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "r2n2",
	Short: "Recurrent 3D reconstruction from a sequence of views",
	Long: `r2n2 folds a sequence of encoded views into a hidden voxel grid with a
convolutional GRU or LSTM grid cell and decodes the grid into occupancy logits.

Configuration comes from the YAML file given with --config, overridden by
R2N2_ prefixed environment variables (R2N2_CELL_KIND=lstm).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.AddCommand(reconstructCmd)
	rootCmd.AddCommand(dotCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads the configuration and builds the logger it describes.
func setup() (*config.File, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
