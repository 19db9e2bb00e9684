package cmd

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	writeTarget  app.PartitionTarget
	writeBlock   uint64
	writeInput   string
	writeTimeout time.Duration
)

var writeCmd = &cobra.Command{
	Use:   "write <image>",
	Short: "Copy blocks into a partition",
	Long: `Copy a file or standard input into a partition starting at a virtual block.
The data is padded with zeros to a whole number of blocks, and every virtual
slice touched must be allocated.

Examples:
  fvm write disk.img --name blobfs --block 128 --in payload.bin
  cat payload.bin | fvm write disk.img --index 1`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWrite(args[0], cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)

	addTargetFlags(writeCmd, &writeTarget)
	writeCmd.Flags().Uint64Var(&writeBlock, "block", 0, "first virtual block")
	writeCmd.Flags().StringVar(&writeInput, "in", "", "input file (default standard input)")
	writeCmd.Flags().DurationVar(&writeTimeout, "timeout", 0, "abort the transfer after this long")
}

func runWrite(path string, stdin io.Reader) error {
	r := stdin
	if writeInput != "" {
		f, err := os.Open(writeInput)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "cannot open input", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "cannot read input", err)
	}

	ctx, cancel := transferContext(writeTimeout)
	defer cancel()

	return withVolume(path, false, func(vm *services.VolumeManager) error {
		p, _, err := openTarget(vm, &writeTarget)
		if err != nil {
			return err
		}
		bi, err := p.GetInfo()
		if err != nil {
			return err
		}
		bs := uint64(bi.BlockSize)
		count := (uint64(len(data)) + bs - 1) / bs
		padded := make([]byte, count*bs)
		copy(padded, data)

		err = transferBlocks(ctx, vm, p, "write", writeBlock, count, func(vbn uint64, buf []byte) error {
			off := (vbn - writeBlock) * bs
			copy(buf, padded[off:off+uint64(len(buf))])
			return p.WriteBlocks(ctx, vbn, buf)
		})
		if err != nil {
			return err
		}
		appCtx.Log("Wrote %d blocks at block %d", count, writeBlock)
		return p.Flush()
	})
}
