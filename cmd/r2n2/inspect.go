package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gorgonia/r2n2/decoder"
)

var dotCmd = &cobra.Command{
	Use:   "dot",
	Short: "Print the decoder stages as a Graphviz digraph",
	Long: `Print the configured decoder as a Graphviz digraph.

Examples:
  r2n2 dot | dot -Tsvg > decoder.svg
  R2N2_DECODER_KIND=dilated r2n2 dot`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		dec, err := decoder.New(cfg.Decoder.Kind, cfg.Decoder.Config)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), dec.ToDot())
		return err
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
