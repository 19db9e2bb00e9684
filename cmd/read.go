package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	readTarget  app.PartitionTarget
	readBlock   uint64
	readCount   uint64
	readOutput  string
	readTimeout time.Duration
)

var readCmd = &cobra.Command{
	Use:   "read <image>",
	Short: "Copy blocks out of a partition",
	Long: `Copy blocks starting at a virtual block of a partition to a file or to
standard output. Every virtual slice touched must be allocated.

Examples:
  # Dump the first 64 blocks of blobfs
  fvm read disk.img --name blobfs --count 64 --out head.bin`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRead(args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(readCmd)

	addTargetFlags(readCmd, &readTarget)
	readCmd.Flags().Uint64Var(&readBlock, "block", 0, "first virtual block")
	readCmd.Flags().Uint64Var(&readCount, "count", 1, "number of blocks")
	readCmd.Flags().StringVar(&readOutput, "out", "", "output file (default standard output)")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 0, "abort the transfer after this long")
}

func runRead(path string, stdout io.Writer) error {
	w := stdout
	if readOutput != "" {
		f, err := os.Create(readOutput)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "cannot create output", err)
		}
		defer f.Close()
		w = f
	}

	ctx, cancel := transferContext(readTimeout)
	defer cancel()

	return withVolume(path, true, func(vm *services.VolumeManager) error {
		p, _, err := openTarget(vm, &readTarget)
		if err != nil {
			return err
		}
		return transferBlocks(ctx, vm, p, "read", readBlock, readCount, func(vbn uint64, buf []byte) error {
			if err := p.ReadBlocks(ctx, vbn, buf); err != nil {
				return err
			}
			_, err := w.Write(buf)
			return err
		})
	})
}

func transferContext(timeout time.Duration) (*app.Context, context.CancelFunc) {
	if timeout > 0 {
		return appCtx.WithTimeout(timeout)
	}
	return appCtx.WithCancel()
}

// transferBlocks walks count blocks from vbn in chunks of at most one slice, calling fn for
// each chunk and reporting progress
func transferBlocks(ctx *app.Context, vm *services.VolumeManager, p *services.VirtualPartition,
	op string, vbn, count uint64, fn func(vbn uint64, buf []byte) error) error {
	bi, err := p.GetInfo()
	if err != nil {
		return err
	}
	vi, err := vm.GetVolumeInfo()
	if err != nil {
		return err
	}
	bs := uint64(bi.BlockSize)
	chunk := vi.SliceSize / bs

	update := app.ProgressUpdate{Message: op, Total: int64(count * bs), StartedAt: time.Now()}
	buf := make([]byte, chunk*bs)
	for done := uint64(0); done < count; {
		n := min(chunk, count-done)
		if err := fn(vbn+done, buf[:n*bs]); err != nil {
			return err
		}
		done += n
		update.Completed = int64(done * bs)
		update.ElapsedTime = time.Since(update.StartedAt)
		ctx.Progress(update)
	}
	return nil
}
