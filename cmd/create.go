package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/internal/types"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	createName     string
	createType     string
	createInstance string
	createSlices   uint64
	createInactive bool
)

var createCmd = &cobra.Command{
	Use:   "create <image>",
	Short: "Allocate a partition",
	Long: `Allocate a partition and back its first slices.

A partition created with --inactive stays invisible to readers until it is
activated, and is reclaimed the next time the volume is opened for writing
unless reclaim_inactive is disabled in the configuration.

Examples:
  fvm create disk.img --name blobfs --type blob --slices 16
  fvm create disk.img --name system-b --type system --inactive`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreate(args[0])
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createName, "name", "", "partition name")
	createCmd.Flags().StringVar(&createType, "type", "data", "partition type (GUID or data, blob, system, default)")
	createCmd.Flags().StringVar(&createInstance, "instance", "", "instance GUID (default random)")
	createCmd.Flags().Uint64Var(&createSlices, "slices", 1, "number of slices to allocate")
	createCmd.Flags().BoolVar(&createInactive, "inactive", false, "create the partition inactive")
	createCmd.MarkFlagRequired("name")
}

func runCreate(path string) error {
	typeGUID, err := parseType(createType)
	if err != nil {
		return err
	}
	instance := types.NewGUID()
	if createInstance != "" {
		if instance, err = types.ParseGUID(createInstance); err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "bad --instance", err)
		}
	}

	req := interfaces.AllocateRequest{
		Type:     typeGUID,
		Instance: instance,
		Name:     createName,
		Slices:   createSlices,
		Inactive: createInactive,
	}
	return withVolume(path, false, func(vm *services.VolumeManager) error {
		p, err := vm.AllocatePartition(req)
		if err != nil {
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
		appCtx.Log("Created partition %d at generation %d", info.Index, vi.Generation)
		return appCtx.Render(partitionList{newPartitionRow(info, vi.SliceSize)})
	})
}
