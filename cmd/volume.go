package cmd

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-fvm/internal/device"
	"github.com/deploymenttheory/go-fvm/internal/services"
	"github.com/deploymenttheory/go-fvm/internal/types"
	"github.com/deploymenttheory/go-fvm/pkg/app"
)

// volumeOptions builds volume manager options from the loaded configuration. Read-only
// access never reclaims, since reclaiming persists a new generation.
func volumeOptions(readOnly bool) services.Options {
	opts := services.DefaultOptions()
	opts.Store.VerifyWrites = cfg.VerifyWrites
	opts.ReclaimInactive = cfg.ReclaimInactive && !readOnly
	return opts
}

// withVolume opens the volume on the image at path, runs fn and closes the volume again
func withVolume(path string, readOnly bool, fn func(vm *services.VolumeManager) error) error {
	dev, err := device.OpenFile(path, cfg.BlockSize, readOnly)
	if err != nil {
		return app.NewError(app.ErrCodeVolumeAccess, "cannot open image", err)
	}
	vm, err := services.Open(dev, volumeOptions(readOnly))
	if err != nil {
		dev.Close()
		return err
	}
	glog.V(1).Infof("opened %s (block size %d, read-only %v)", path, cfg.BlockSize, readOnly)

	err = fn(vm)
	if cerr := vm.Close(); err == nil {
		err = cerr
	}
	return err
}

// addTargetFlags registers the partition selector flags on cmd
func addTargetFlags(cmd *cobra.Command, t *app.PartitionTarget) {
	cmd.Flags().Uint64Var(&t.Index, "index", 0, "partition table index")
	cmd.Flags().StringVar(&t.Instance, "instance", "", "partition instance GUID")
	cmd.Flags().StringVar(&t.Name, "name", "", "partition name")
	cmd.MarkFlagsMutuallyExclusive("index", "instance", "name")
}

// openTarget returns a handle to the active partition selected by t. The lowest index wins
// when a name is shared.
func openTarget(vm *services.VolumeManager, t *app.PartitionTarget) (*services.VirtualPartition, types.PartitionInfo, error) {
	if err := t.Validate(); err != nil {
		return nil, types.PartitionInfo{}, err
	}
	parts, err := vm.ListPartitions()
	if err != nil {
		return nil, types.PartitionInfo{}, err
	}
	for _, info := range parts {
		if !t.Matches(info) {
			continue
		}
		p, err := vm.OpenPartition(info.Instance)
		if err != nil {
			return nil, info, err
		}
		return p, info, nil
	}
	return nil, types.PartitionInfo{}, app.NewError(app.ErrCodePartitionNotFound, t.String()+" does not exist", nil)
}

var typeAliases = map[string]types.GUID{
	"data":    types.TypeGUIDData,
	"blob":    types.TypeGUIDBlob,
	"system":  types.TypeGUIDSystem,
	"default": types.TypeGUIDDefault,
}

// parseType accepts a GUID or one of the well known type aliases
func parseType(s string) (types.GUID, error) {
	if g, ok := typeAliases[strings.ToLower(s)]; ok {
		return g, nil
	}
	g, err := types.ParseGUID(s)
	if err != nil {
		return types.NilGUID, app.NewError(app.ErrCodeInvalidInput,
			fmt.Sprintf("type must be a GUID or one of data, blob, system, default; got %q", s), nil)
	}
	return g, nil
}

// typeName renders a type GUID, preferring its alias
func typeName(g types.GUID) string {
	for name, alias := range typeAliases {
		if alias == g {
			return name
		}
	}
	return g.String()
}
