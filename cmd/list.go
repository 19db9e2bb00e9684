package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

var (
	// Filters (list command only)
	listType       string
	listActiveOnly bool
)

var listCmd = &cobra.Command{
	Use:   "list <image>",
	Short: "List partitions",
	Long: `List the partitions of a volume in partition table order.

Examples:
  # List every partition
  fvm list disk.img

  # List active blob partitions as YAML
  fvm list disk.img --type blob --active -o yaml`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(args[0])
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listType, "type", "", "only list partitions of this type (GUID or data, blob, system, default)")
	listCmd.Flags().BoolVar(&listActiveOnly, "active", false, "only list active partitions")
}

func runList(path string) error {
	var filter types.GUID
	if listType != "" {
		g, err := parseType(listType)
		if err != nil {
			return err
		}
		filter = g
	}

	return withVolume(path, true, func(vm *services.VolumeManager) error {
		info, err := vm.GetVolumeInfo()
		if err != nil {
			return err
		}
		parts, err := vm.ListPartitions()
		if err != nil {
			return err
		}

		list := partitionList{}
		for _, p := range parts {
			if !filter.IsNil() && p.Type != filter {
				continue
			}
			if listActiveOnly && !p.Active {
				continue
			}
			list = append(list, newPartitionRow(p, info.SliceSize))
		}
		appCtx.Log("%d of %d partitions shown", len(list), len(parts))
		return appCtx.Render(list)
	})
}
