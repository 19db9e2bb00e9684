package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	shrinkTarget app.PartitionTarget
	shrinkStart  uint64
	shrinkLength uint64
)

var shrinkCmd = &cobra.Command{
	Use:   "shrink <image>",
	Short: "Release virtual slices of a partition",
	Long: `Release the allocated virtual slices of a partition within
[start, start+length). Unallocated slices in the range are skipped; virtual
slice 0 can never be released.

Examples:
  fvm shrink disk.img --name blobfs --start 3 --length 2`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResize(args[0], &shrinkTarget, "Shrunk", func(p *services.VirtualPartition) error {
			return p.Shrink(shrinkStart, shrinkLength)
		})
	},
}

func init() {
	rootCmd.AddCommand(shrinkCmd)

	addTargetFlags(shrinkCmd, &shrinkTarget)
	shrinkCmd.Flags().Uint64Var(&shrinkStart, "start", 1, "first virtual slice")
	shrinkCmd.Flags().Uint64Var(&shrinkLength, "length", 1, "number of virtual slices")
}
