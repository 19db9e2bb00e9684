package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var queryTarget app.PartitionTarget

var queryCmd = &cobra.Command{
	Use:   "query <image> [vslice...]",
	Short: "Report allocated and free runs of virtual slices",
	Long: `For each given virtual slice, report the run of consecutive virtual slices
starting there that share its allocation state. Up to 16 slices may be
queried at once; with none, virtual slice 0 is queried.

Examples:
  fvm query disk.img --name blobfs 0 5 4096`,

	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)

	addTargetFlags(queryCmd, &queryTarget)
}

func runQuery(path string, args []string) error {
	starts := []uint64{0}
	if len(args) > 0 {
		starts = make([]uint64, len(args))
		for i, a := range args {
			v, err := strconv.ParseUint(a, 0, 64)
			if err != nil {
				return app.NewError(app.ErrCodeInvalidInput, "bad virtual slice "+a, err)
			}
			starts[i] = v
		}
	}

	return withVolume(path, true, func(vm *services.VolumeManager) error {
		p, _, err := openTarget(vm, &queryTarget)
		if err != nil {
			return err
		}
		ranges, err := p.Query(starts)
		if err != nil {
			return err
		}
		return appCtx.Render(newQueryResult(starts, ranges))
	})
}
