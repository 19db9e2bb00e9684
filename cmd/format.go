package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/device"
	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

var (
	formatSize      string
	formatSliceSize string
)

var formatCmd = &cobra.Command{
	Use:   "format <image>",
	Short: "Write an empty volume",
	Long: `Write fresh metadata for an empty volume to both copies of an image.

With --size the image file is created (or truncated) first; otherwise the
existing file or block device is formatted in place. All data on it is lost.

Examples:
  # Create a 1GiB sparse image with 1MiB slices
  fvm format disk.img --size 1GiB --slice-size 1MiB

  # Format an existing device using the configured slice size
  fvm format /dev/sdb`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormat(args[0])
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)

	formatCmd.Flags().StringVar(&formatSize, "size", "", "create the image with this size (e.g. 512MiB)")
	formatCmd.Flags().StringVar(&formatSliceSize, "slice-size", "", "slice size (default slice_size from config)")
}

func runFormat(path string) error {
	sliceSize, err := cfg.SliceSizeBytes()
	if formatSliceSize != "" {
		sliceSize, err = device.ParseSize(formatSliceSize)
	}
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "bad slice size", err)
	}

	var dev *device.FileDevice
	if formatSize != "" {
		size, err := device.ParseSize(formatSize)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "bad image size", err)
		}
		dev, err = device.CreateFile(path, int64(size), cfg.BlockSize)
		if err != nil {
			return app.NewError(app.ErrCodeVolumeAccess, "cannot create image", err)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return app.NewError(app.ErrCodeVolumeAccess, "cannot format image", err)
		}
		dev, err = device.OpenFile(path, cfg.BlockSize, false)
		if err != nil {
			return app.NewError(app.ErrCodeVolumeAccess, "cannot open image", err)
		}
	}

	appCtx.Log("Formatting %s with %s slices", path, device.FormatSize(sliceSize))
	vm, err := services.Format(dev, sliceSize, volumeOptions(false))
	if err != nil {
		dev.Close()
		return err
	}
	info, err := vm.GetVolumeInfo()
	if cerr := vm.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return appCtx.Render(newVolumeReport(path, info))
}
