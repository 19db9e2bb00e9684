package cmd

import (
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-fvm/internal/interfaces"
	"github.com/deploymenttheory/go-fvm/internal/types"
)

// volumeReport is the rendered form of types.VolumeInfo
type volumeReport struct {
	Image           string `json:"image" yaml:"image"`
	SliceSize       uint64 `json:"slice_size" yaml:"slice_size"`
	VSliceMax       uint64 `json:"vslice_max" yaml:"vslice_max"`
	PSliceTotal     uint64 `json:"pslice_total" yaml:"pslice_total"`
	PSliceAllocated uint64 `json:"pslice_allocated" yaml:"pslice_allocated"`
	PSliceFree      uint64 `json:"pslice_free" yaml:"pslice_free"`
	Generation      uint64 `json:"generation" yaml:"generation"`
}

func newVolumeReport(image string, info types.VolumeInfo) volumeReport {
	return volumeReport{
		Image:           image,
		SliceSize:       info.SliceSize,
		VSliceMax:       info.VSliceMax,
		PSliceTotal:     info.PSliceTotal,
		PSliceAllocated: info.PSliceAllocated,
		PSliceFree:      info.PSliceTotal - info.PSliceAllocated,
		Generation:      info.Generation,
	}
}

func (r volumeReport) Header() []string {
	return []string{"FIELD", "VALUE"}
}

func (r volumeReport) Rows() [][]string {
	return [][]string{
		{"image", r.Image},
		{"slice size", humanize.IBytes(r.SliceSize)},
		{"vslice max", strconv.FormatUint(r.VSliceMax, 10)},
		{"pslices", strconv.FormatUint(r.PSliceTotal, 10)},
		{"allocated", strconv.FormatUint(r.PSliceAllocated, 10)},
		{"free", humanize.IBytes(r.PSliceFree * r.SliceSize)},
		{"generation", strconv.FormatUint(r.Generation, 10)},
	}
}

// partitionRow is the rendered form of types.PartitionInfo
type partitionRow struct {
	Index    uint64 `json:"index" yaml:"index"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Instance string `json:"instance" yaml:"instance"`
	Slices   uint64 `json:"slices" yaml:"slices"`
	Size     uint64 `json:"size" yaml:"size"`
	Active   bool   `json:"active" yaml:"active"`
}

func newPartitionRow(info types.PartitionInfo, sliceSize uint64) partitionRow {
	return partitionRow{
		Index:    info.Index,
		Name:     info.Name,
		Type:     typeName(info.Type),
		Instance: info.Instance.String(),
		Slices:   info.Slices,
		Size:     info.Slices * sliceSize,
		Active:   info.Active,
	}
}

type partitionList []partitionRow

func (l partitionList) Header() []string {
	return []string{"INDEX", "NAME", "TYPE", "INSTANCE", "SLICES", "SIZE", "STATE"}
}

func (l partitionList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		state := "active"
		if !p.Active {
			state = "inactive"
		}
		rows = append(rows, []string{
			strconv.FormatUint(p.Index, 10),
			p.Name,
			p.Type,
			p.Instance,
			strconv.FormatUint(p.Slices, 10),
			humanize.IBytes(p.Size),
			state,
		})
	}
	return rows
}

// sliceRun is one entry of a query result
type sliceRun struct {
	Start     uint64 `json:"start" yaml:"start"`
	Count     uint64 `json:"count" yaml:"count"`
	Allocated bool   `json:"allocated" yaml:"allocated"`
}

type queryResult []sliceRun

func newQueryResult(starts []uint64, ranges []types.VSliceRange) queryResult {
	q := make(queryResult, len(ranges))
	for i, r := range ranges {
		q[i] = sliceRun{Start: starts[i], Count: r.Count, Allocated: r.Allocated}
	}
	return q
}

func (q queryResult) Header() []string {
	return []string{"START", "COUNT", "STATE"}
}

func (q queryResult) Rows() [][]string {
	rows := make([][]string, 0, len(q))
	for _, r := range q {
		state := "free"
		if r.Allocated {
			state = "allocated"
		}
		rows = append(rows, []string{strconv.FormatUint(r.Start, 10), strconv.FormatUint(r.Count, 10), state})
	}
	return rows
}

// copyResult is the rendered form of interfaces.CopyReport
type copyResult struct {
	Copy       string   `json:"copy" yaml:"copy"`
	Offset     uint64   `json:"offset" yaml:"offset"`
	Generation uint64   `json:"generation" yaml:"generation"`
	Valid      bool     `json:"valid" yaml:"valid"`
	Active     bool     `json:"active" yaml:"active"`
	Problems   []string `json:"problems,omitempty" yaml:"problems,omitempty"`
}

type checkResult struct {
	OK     bool          `json:"ok" yaml:"ok"`
	Copies []copyResult  `json:"copies" yaml:"copies"`
	Volume *volumeReport `json:"volume,omitempty" yaml:"volume,omitempty"`
}

func newCheckResult(image string, r *interfaces.CheckReport) checkResult {
	res := checkResult{OK: r.OK()}
	for i, c := range []interfaces.CopyReport{r.Primary, r.Backup} {
		cr := copyResult{
			Copy:       []string{"primary", "backup"}[i],
			Offset:     c.Offset,
			Generation: c.Generation,
			Valid:      c.Valid,
			Active:     r.Active == i,
		}
		for _, p := range c.Problems {
			cr.Problems = append(cr.Problems, p.Error())
		}
		res.Copies = append(res.Copies, cr)
	}
	if r.Active >= 0 {
		v := newVolumeReport(image, r.Info)
		res.Volume = &v
	}
	return res
}

func (c checkResult) Header() []string {
	return []string{"COPY", "OFFSET", "GENERATION", "STATE", "PROBLEMS"}
}

func (c checkResult) Rows() [][]string {
	var rows [][]string
	for _, cp := range c.Copies {
		state := "invalid"
		switch {
		case cp.Active:
			state = "active"
		case cp.Valid:
			state = "valid"
		}
		problems := "-"
		if len(cp.Problems) > 0 {
			problems = cp.Problems[0]
		}
		rows = append(rows, []string{cp.Copy, strconv.FormatUint(cp.Offset, 10),
			strconv.FormatUint(cp.Generation, 10), state, problems})
		for _, p := range cp.Problems[min(1, len(cp.Problems)):] {
			rows = append(rows, []string{"", "", "", "", p})
		}
	}
	return rows
}
