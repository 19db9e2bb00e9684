package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/device"
	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var checkCmd = &cobra.Command{
	Use:   "check <image>",
	Short: "Validate both metadata copies",
	Long: `Validate the header, hash and table coherence of both metadata copies
without modifying the image. The command fails when neither copy can be
mounted or when a copy with a valid hash has inconsistent tables.

Examples:
  fvm check disk.img
  fvm check disk.img -o json`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(args[0])
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(path string) error {
	dev, err := device.OpenFile(path, cfg.BlockSize, true)
	if err != nil {
		return app.NewError(app.ErrCodeVolumeAccess, "cannot open image", err)
	}
	defer dev.Close()

	ctx, cancel := appCtx.WithTimeout(appCtx.DefaultTimeout)
	defer cancel()

	checker := &services.Checker{Device: dev, BlockSize: cfg.BlockSize}
	report, err := checker.Validate(ctx)
	if err != nil {
		return err
	}
	if err := appCtx.Render(newCheckResult(path, report)); err != nil {
		return err
	}
	if !report.OK() {
		return app.NewError(app.ErrCodeCheckFailed, path+" failed validation", nil)
	}
	return nil
}
