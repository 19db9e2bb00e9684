package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/internal/types"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	activateOld string
	activateNew string
)

var activateCmd = &cobra.Command{
	Use:   "activate <image>",
	Short: "Commit an upgraded partition",
	Long: `Mark the partition with instance --new active. When --old names a different
partition, that partition is destroyed in the same metadata generation, so a
crash leaves either the old or the new partition in place, never both or
neither.

Examples:
  # Replace system-a with the freshly written system-b
  fvm activate disk.img --old <system-a instance> --new <system-b instance>

  # Activate a partition without replacing anything
  fvm activate disk.img --new <instance>`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runActivate(args[0])
	},
}

func init() {
	rootCmd.AddCommand(activateCmd)

	activateCmd.Flags().StringVar(&activateOld, "old", "", "instance GUID of the partition to replace (default same as --new)")
	activateCmd.Flags().StringVar(&activateNew, "new", "", "instance GUID of the partition to activate")
	activateCmd.MarkFlagRequired("new")
}

func runActivate(path string) error {
	newGUID, err := types.ParseGUID(activateNew)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "bad --new", err)
	}
	oldGUID := newGUID
	if activateOld != "" {
		if oldGUID, err = types.ParseGUID(activateOld); err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "bad --old", err)
		}
	}

	return withVolume(path, false, func(vm *services.VolumeManager) error {
		if err := vm.Activate(oldGUID, newGUID); err != nil {
			return err
		}
		vi, err := vm.GetVolumeInfo()
		if err != nil {
			return err
		}
		parts, err := vm.ListPartitions()
		if err != nil {
			return err
		}
		list := partitionList{}
		for _, p := range parts {
			if p.Instance == newGUID {
				list = append(list, newPartitionRow(p, vi.SliceSize))
			}
		}
		appCtx.Log("Activated %s at generation %d", newGUID, vi.Generation)
		return appCtx.Render(list)
	})
}
