package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SebastianDall/epimetheus"
	"github.com/SebastianDall/epimetheus/bgzf"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "epimetheus",
		Short:         "Block-compress pileup files and query them by contig",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCompressCmd(), newExtractCmd())
	return root
}

func newCompressCmd() *cobra.Command {
	var (
		output string
		keep   bool
		force  bool
		level  int
	)
	cmd := &cobra.Command{
		Use:   "compress <input.bed>",
		Short: "Compress a pileup into an indexed .gz container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []epimetheus.Option{epimetheus.WithCompressionLevel(level)}
			if keep {
				opts = append(opts, epimetheus.WithKeep())
			}
			if force {
				opts = append(opts, epimetheus.WithForce())
			}
			return epimetheus.Compress(cmd.Context(), args[0], output, opts...)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output container path (default: <input>.gz)")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the original uncompressed file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the output if it exists")
	cmd.Flags().IntVar(&level, "level", bgzf.DefaultCompressionLevel, "deflate compression level")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var (
		output  string
		contigs []string
		ls      bool
	)
	cmd := &cobra.Command{
		Use:   "extract <input.bed.gz>",
		Short: "Extract records of selected contigs back to text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ls {
				names, err := epimetheus.ListContigs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return epimetheus.Extract(cmd.Context(), args[0], contigs, w)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: stdout)")
	cmd.Flags().StringSliceVar(&contigs, "contigs", nil, "contig names to extract (default: all)")
	cmd.Flags().BoolVar(&ls, "ls", false, "list contig names instead of extracting")
	return cmd
}
