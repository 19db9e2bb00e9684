package cmd

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/device"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	// Global output flags
	verbose      bool
	quiet        bool
	outputFormat string

	// Global volume flags
	cfgFile       string
	blockSizeFlag uint32

	cfg    *device.Config
	appCtx *app.Context
)

var rootCmd = &cobra.Command{
	Use:   "fvm",
	Short: "Manage Fuchsia Volume Manager images",
	Long: `fvm creates and maintains FVM volumes on disk images and raw block devices.

An FVM volume carves a single device into fixed-size slices and hands them out
to virtual partitions on demand. Every change is committed as a new metadata
generation to the inactive of two copies, so an interrupted update never
loses the previous state.

Commands:
  format      Write an empty volume
  info        Show volume geometry and usage
  list        List partitions
  create      Allocate a partition
  extend      Back virtual slices of a partition
  shrink      Release virtual slices of a partition
  destroy     Remove a partition
  activate    Commit an upgraded partition
  query       Report allocated and free runs of virtual slices
  check       Validate both metadata copies
  read        Copy blocks out of a partition
  write       Copy blocks into a partition`,
	Version:           "0.1.0-dev",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(app.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", app.FormatTable, "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./fvm-config.yaml, $HOME/.fvm, /etc/fvm)")
	rootCmd.PersistentFlags().Uint32Var(&blockSizeFlag, "block-size", 0, "device block size in bytes (overrides block_size from config)")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// glog's -v clashes with --verbose/-v; its level is driven by --verbose and
	// log_verbosity instead.
	flag.Set("logtostderr", "true")
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		if f.Name == "v" {
			return
		}
		rootCmd.PersistentFlags().AddGoFlag(f)
	})
}

// setup loads configuration and builds the application context shared by every command
func setup(cmd *cobra.Command, args []string) error {
	if err := app.ValidateFormat(outputFormat); err != nil {
		return err
	}

	c, err := device.LoadConfig(cfgFile)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "failed to load configuration", err)
	}
	if blockSizeFlag != 0 {
		c.BlockSize = blockSizeFlag
	}
	cfg = c

	level := cfg.LogVerbosity
	if verbose && level < 1 {
		level = 1
	}
	if err := flag.Set("v", strconv.Itoa(level)); err != nil {
		return err
	}
	if !flag.Parsed() {
		if err := flag.CommandLine.Parse(nil); err != nil {
			return err
		}
	}

	appCtx = app.NewContext()
	appCtx.OutputFormat = outputFormat
	appCtx.Verbose = verbose
	appCtx.Quiet = quiet
	appCtx.Out = cmd.OutOrStdout()
	appCtx.ErrOut = cmd.ErrOrStderr()
	appCtx.SetProgress(func(u app.ProgressUpdate) {
		appCtx.Log("%s: %d%% of %s (%s/s)", u.Message, u.Percent(),
			humanize.IBytes(uint64(u.Total)), humanize.IBytes(uint64(u.Rate())))
	})
	return nil
}
