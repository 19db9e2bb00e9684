package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var destroyTarget app.PartitionTarget

var destroyCmd = &cobra.Command{
	Use:   "destroy <image>",
	Short: "Remove a partition",
	Long: `Free every slice of a partition and remove it from the partition table.

Examples:
  fvm destroy disk.img --name scratch
  fvm destroy disk.img --instance 5c5e1b3a-2f0e-4c59-9d1b-3e0c3b6a8f11`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDestroy(args[0])
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	addTargetFlags(destroyCmd, &destroyTarget)
}

func runDestroy(path string) error {
	return withVolume(path, false, func(vm *services.VolumeManager) error {
		p, info, err := openTarget(vm, &destroyTarget)
		if err != nil {
			return err
		}
		if err := p.Destroy(); err != nil {
			return err
		}
		vi, err := vm.GetVolumeInfo()
		if err != nil {
			return err
		}
		appCtx.Log("Destroyed partition %d (%s), %d slices released", info.Index, info.Name, info.Slices)
		return appCtx.Render(newVolumeReport(path, vi))
	})
}
