package archive

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// Space is the capacity of the filesystem holding a path.
type Space struct {
	Path  string `json:"path"`
	Total uint64 `json:"total_bytes"`
	Free  uint64 `json:"free_bytes"`
}

// FreePct returns free space as a percentage of total; 0 for an empty
// filesystem.
func (s Space) FreePct() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Free) / float64(s.Total) * 100
}

// SpaceQuerier reports free and total bytes for a path.
type SpaceQuerier interface {
	Space(ctx context.Context, path string) (Space, error)
}

// DiskSpace queries the local filesystem.
type DiskSpace struct{}

func (DiskSpace) Space(ctx context.Context, path string) (Space, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Space{}, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return Space{Path: path, Total: u.Total, Free: u.Free}, nil
}
