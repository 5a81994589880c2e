package system

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskStats describes the filesystem holding the storage root.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"totalBytes"`
	FreeBytes   uint64  `json:"freeBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// Disk returns usage of the filesystem containing path.
func Disk(ctx context.Context, path string) (DiskStats, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskStats{}, fmt.Errorf("disk usage of %s: %w", path, err)
	}
	return DiskStats{
		Path:        path,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}
