package metadata

import (
	"fmt"

	"go.uber.org/multierr"

	mdparser "github.com/deploymenttheory/go-fvm/internal/parsers/metadata"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// Validate checks the superblock bounds of md against a device of deviceSize bytes and the
// coherence of its tables. All problems found are combined into the returned error.
func Validate(md *types.Metadata, deviceSize uint64) error {
	if err := mdparser.CheckSuperblockBounds(&md.Superblock, deviceSize); err != nil {
		return err
	}
	return multierr.Combine(CheckCoherence(md)...)
}

// CheckCoherence verifies that the partition and allocation tables agree with each other:
// no virtual slice is claimed twice, every owned slice belongs to a live partition, the
// per-partition slice counts match the allocation table and every live partition still
// holds virtual slice 0.
func CheckCoherence(md *types.Metadata) []error {
	var problems []error
	sb := &md.Superblock

	if uint64(len(md.Slices)) != sb.PSliceCount+1 {
		problems = append(problems, fmt.Errorf("allocation table holds %d entries, superblock declares %d slices",
			len(md.Slices), sb.PSliceCount))
	}
	if len(md.Partitions) != types.MaxVPartitions {
		return append(problems, fmt.Errorf("partition table holds %d entries, want %d",
			len(md.Partitions), types.MaxVPartitions))
	}
	if md.Partitions[0] != (types.VPartitionEntry{}) {
		problems = append(problems, fmt.Errorf("reserved partition entry 0 is not empty"))
	}
	if len(md.Slices) > 0 && md.Slices[0] != 0 {
		problems = append(problems, fmt.Errorf("reserved slice entry 0 is not empty"))
	}

	type key struct{ vpart, vslice uint64 }
	owners := make(map[key]uint64)
	counts := make([]uint64, types.MaxVPartitions)

	for p := 1; p < len(md.Slices); p++ {
		e := md.Slices[p]
		if e.Reserved() {
			problems = append(problems, fmt.Errorf("pslice %d: reserved bits set in entry 0x%x", p, uint64(e)))
		}
		if e.IsFree() {
			continue
		}
		vpart := e.VPartition()
		if vpart >= types.MaxVPartitions {
			problems = append(problems, fmt.Errorf("pslice %d: partition index %d out of range", p, vpart))
			continue
		}
		if md.Partitions[vpart].IsFree() {
			problems = append(problems, fmt.Errorf("pslice %d: owned by free partition %d", p, vpart))
		}
		k := key{vpart, e.VSlice()}
		if prev, ok := owners[k]; ok {
			problems = append(problems, fmt.Errorf("pslice %d and %d both claim vslice %d of partition %d",
				prev, p, k.vslice, vpart))
			continue
		}
		owners[k] = uint64(p)
		counts[vpart]++
	}

	instances := make(map[types.GUID]int)
	for i := 1; i < len(md.Partitions); i++ {
		e := &md.Partitions[i]
		if e.IsFree() {
			if counts[i] != 0 {
				problems = append(problems, fmt.Errorf("partition %d: free slot owns %d slices", i, counts[i]))
			}
			continue
		}
		if uint64(e.Slices) != counts[i] {
			problems = append(problems, fmt.Errorf("partition %d: declares %d slices, allocation table holds %d",
				i, e.Slices, counts[i]))
		}
		if e.Instance.IsNil() {
			problems = append(problems, fmt.Errorf("partition %d: nil instance guid", i))
		} else if prev, ok := instances[e.Instance]; ok {
			problems = append(problems, fmt.Errorf("partitions %d and %d share instance guid %s", prev, i, e.Instance))
		} else {
			instances[e.Instance] = i
		}
		if e.Flags&^types.VPartitionFlagMask != 0 {
			problems = append(problems, fmt.Errorf("partition %d: unknown flags 0x%x", i, e.Flags))
		}
		if _, ok := owners[key{uint64(i), 0}]; !ok {
			problems = append(problems, fmt.Errorf("partition %d: vslice 0 is not allocated", i))
		}
	}

	return problems
}

// ValidateCopy decodes one raw metadata copy and checks it in isolation. A nil metadata is
// returned when the copy cannot be decoded; otherwise the returned error combines every
// coherence problem found.
func ValidateCopy(raw []byte, deviceSize uint64) (*types.Metadata, error) {
	md, err := mdparser.ParseMetadata(raw, deviceSize)
	if err != nil {
		return nil, err
	}
	return md, multierr.Combine(CheckCoherence(md)...)
}
