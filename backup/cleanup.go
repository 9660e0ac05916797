package backup

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// CleanupReport summarises a retention pass.
type CleanupReport struct {
	Deleted []*Record
	Kept    []*Record
	Errors  []error
	DryRun  bool
}

// Cleanup keeps the maxCount most recent records that are younger than
// maxAgeHours and deletes the rest, copies and sidecars included. Each
// deletion is attempted on its own; failures are collected, not fatal.
// With dryRun nothing is removed and Deleted lists what would go.
func (s *Store) Cleanup(maxAgeHours, maxCount int, dryRun bool) CleanupReport {
	report := CleanupReport{DryRun: dryRun}

	records := s.List()
	now := s.now()
	maxAge := time.Duration(maxAgeHours) * time.Hour

	var doomed []*Record
	for i, rec := range records {
		if i < maxCount && rec.Age(now) < maxAge {
			report.Kept = append(report.Kept, rec)
			continue
		}
		doomed = append(doomed, rec)
	}

	if dryRun {
		report.Deleted = doomed
		return report
	}

	for _, rec := range doomed {
		if err := s.remove(rec); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Deleted = append(report.Deleted, rec)
	}

	s.logger.Info("backup cleanup finished",
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("kept", len(report.Kept)),
		zap.Int("errors", len(report.Errors)))
	return report
}

// remove deletes one record's copy and sidecar. The index entry goes only
// once the copy is gone, so a record whose copy could not be deleted stays
// restorable.
func (s *Store) remove(rec *Record) error {
	if err := s.fs.RemoveAll(rec.BackupPath); err != nil {
		return fmt.Errorf("backup %s: failed to delete copy: %w", rec.ID, err)
	}

	s.mu.Lock()
	delete(s.records, rec.ID)
	s.mu.Unlock()

	if err := s.fs.Remove(sidecarPath(rec)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backup %s: failed to delete metadata: %w", rec.ID, err)
	}
	return nil
}
