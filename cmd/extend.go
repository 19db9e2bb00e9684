package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	extendTarget app.PartitionTarget
	extendStart  uint64
	extendLength uint64
)

var extendCmd = &cobra.Command{
	Use:   "extend <image>",
	Short: "Back virtual slices of a partition",
	Long: `Back the virtual slices [start, start+length) of a partition with free
physical slices. Either every slice in the range is allocated or none is.

Examples:
  # Grow a partition by four slices starting at virtual slice 1
  fvm extend disk.img --name blobfs --start 1 --length 4

  # Allocate a sparse slice far into the virtual address space
  fvm extend disk.img --index 2 --start 4096 --length 1`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResize(args[0], &extendTarget, "Extended", func(p *services.VirtualPartition) error {
			return p.Extend(extendStart, extendLength)
		})
	},
}

func init() {
	rootCmd.AddCommand(extendCmd)

	addTargetFlags(extendCmd, &extendTarget)
	extendCmd.Flags().Uint64Var(&extendStart, "start", 0, "first virtual slice")
	extendCmd.Flags().Uint64Var(&extendLength, "length", 1, "number of virtual slices")
}

// runResize applies op to the selected partition and renders its new state
func runResize(path string, target *app.PartitionTarget, verb string, op func(p *services.VirtualPartition) error) error {
	return withVolume(path, false, func(vm *services.VolumeManager) error {
		p, _, err := openTarget(vm, target)
		if err != nil {
			return err
		}
		if err := op(p); err != nil {
			return err
		}
		info, err := p.Info()
		if err != nil {
			return err
		}
		vi, err := vm.GetVolumeInfo()
		if err != nil {
			return err
		}
		appCtx.Log("%s partition %d, now %d slices at generation %d", verb, info.Index, info.Slices, vi.Generation)
		return appCtx.Render(partitionList{newPartitionRow(info, vi.SliceSize)})
	})
}
