package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// SysHealth represents real-time system metrics.
type SysHealth struct {
	AllocMB       uint64 `json:"allocMb"`
	TotalAllocMB  uint64 `json:"totalAllocMb"`
	SysMB         uint64 `json:"sysMb"`
	NumGC         uint32 `json:"numGc"`
	Goroutines    int    `json:"goroutines"`
	DataDiskSize  string `json:"documentsSize"`
	DocumentCount int    `json:"documentCount"`
}

// GetSysHealth collects real-time health data. dataPath is the local
// document directory; it may not exist when documents go to object storage.
func GetSysHealth(dataPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	size, docs := scanDir(dataPath)
	return SysHealth{
		AllocMB:       m.Alloc / 1024 / 1024,
		TotalAllocMB:  m.TotalAlloc / 1024 / 1024,
		SysMB:         m.Sys / 1024 / 1024,
		NumGC:         m.NumGC,
		Goroutines:    runtime.NumGoroutine(),
		DataDiskSize:  formatSize(size),
		DocumentCount: docs,
	}
}

func scanDir(path string) (int64, int) {
	var size int64
	var docs int
	_ = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
			if strings.EqualFold(filepath.Ext(p), ".pdf") {
				docs++
			}
		}
		return nil
	})
	return size, docs
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
