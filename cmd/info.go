package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
)

var infoCmd = &cobra.Command{
	Use:   "info <image>",
	Short: "Show volume geometry and usage",
	Long: `Show the slice size, slice counts and metadata generation of a volume.

Examples:
  fvm info disk.img
  fvm info disk.img -o json`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args[0])
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(path string) error {
	return withVolume(path, true, func(vm *services.VolumeManager) error {
		info, err := vm.GetVolumeInfo()
		if err != nil {
			return err
		}
		return appCtx.Render(newVolumeReport(path, info))
	})
}
