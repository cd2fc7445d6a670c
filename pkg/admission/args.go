package admission

import (
	"strconv"

	"github.com/3leaps/plotherd/pkg/job"
)

// PlotParams are the worker settings shared by every spawned plot.
type PlotParams struct {
	Executable   string
	K            int
	Threads      int
	Buckets      int
	BufferMiB    int
	NoBitfield   bool
	FarmerPK     string
	PoolPK       string
	PoolContract string
	ExtraArgs    []string
}

// BuildArgs returns the full worker argv:
//
//	<exe> plots create -k K -r T -u B -b M -t TMP [-2 TMP2] -d DST [-e]
//	  [-f FARMER] [-p POOL | -c CONTRACT] [extra...]
//
// Numeric flags are omitted when not positive so the worker's own default
// applies. A pool contract address takes precedence over a pool key.
func BuildArgs(p PlotParams, tmp, tmp2, dst string) []string {
	exe := p.Executable
	if exe == "" {
		exe = job.DefaultExecutable
	}
	argv := []string{exe, "plots", "create"}

	intFlag := func(flag string, v int) {
		if v > 0 {
			argv = append(argv, flag, strconv.Itoa(v))
		}
	}
	intFlag("-k", p.K)
	intFlag("-r", p.Threads)
	intFlag("-u", p.Buckets)
	intFlag("-b", p.BufferMiB)

	argv = append(argv, "-t", tmp)
	if tmp2 != "" {
		argv = append(argv, "-2", tmp2)
	}
	argv = append(argv, "-d", dst)
	if p.NoBitfield {
		argv = append(argv, "-e")
	}
	if p.FarmerPK != "" {
		argv = append(argv, "-f", p.FarmerPK)
	}
	switch {
	case p.PoolContract != "":
		argv = append(argv, "-c", p.PoolContract)
	case p.PoolPK != "":
		argv = append(argv, "-p", p.PoolPK)
	}
	return append(argv, p.ExtraArgs...)
}
