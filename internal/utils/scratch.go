package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ScratchDirs are the transient working directories of the server. Nothing
// in them outlives a request except by accident; the janitor removes leftovers.
type ScratchDirs struct {
	Uploads string
	Outputs string
	Temp    string
}

// All returns the directories in creation order.
func (s ScratchDirs) All() []string {
	return []string{s.Uploads, s.Outputs, s.Temp}
}

// NewScratchDirs lays out the scratch directories under base.
func NewScratchDirs(base string) ScratchDirs {
	return ScratchDirs{
		Uploads: filepath.Join(base, "uploads"),
		Outputs: filepath.Join(base, "outputs"),
		Temp:    filepath.Join(base, "temp"),
	}
}

// EnsureScratchDirs creates every scratch directory world-writable so that
// containers running under arbitrary UIDs can share the volume.
func EnsureScratchDirs(s ScratchDirs) error {
	for _, dir := range s.All() {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return fmt.Errorf("create scratch dir %s: %w", dir, err)
		}
		// MkdirAll is subject to umask.
		if err := os.Chmod(dir, 0o777); err != nil {
			return fmt.Errorf("chmod scratch dir %s: %w", dir, err)
		}
	}
	return nil
}

// SweepScratch removes regular files older than maxAge from every scratch
// directory and returns how many were removed.
func SweepScratch(s ScratchDirs, maxAge time.Duration, now time.Time) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range s.All() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < maxAge {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// SweepScratchPeriodically runs SweepScratch every interval until stop is closed.
func SweepScratchPeriodically(s ScratchDirs, maxAge, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := SweepScratch(s, maxAge, time.Now())
			if err != nil {
				Warn("Scratch sweep incomplete", "error", err)
			}
			if n > 0 {
				Info("Scratch sweep removed stale files", "count", n)
			}
		case <-stop:
			return
		}
	}
}
