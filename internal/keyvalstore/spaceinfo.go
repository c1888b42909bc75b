package keyvalstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/disk"
)

// calculateDirectorySize calculates the total size of files within a directory
func calculateDirectorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// logDiskUsage logs the disk usage information for the store's data paths.
func (s *Store) logDiskUsage(paths []string) error {
	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			s.log.Error("error retrieving disk usage stats", "path", path, "error", err)
			return err
		}

		pathSize, err := calculateDirectorySize(path)
		if err != nil {
			s.log.Error("error calculating directory size", "path", path, "error", err)
			return err
		}

		s.log.Info("disk usage",
			"path", path,
			"total_gb", fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
			"used_gb", fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
			"free_gb", fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
			"db_gb", fmt.Sprintf("%.2f", float64(pathSize)/1e9),
		)
	}

	return nil
}
