// Package backup keeps checksummed copies of files and directory trees taken
// just before they are mutated, and restores them on demand.
//
// Copies live under <workspace>/.agent-backups/<sessionID>/ next to a JSON
// sidecar per record, so a later process can list and clean them up.
package backup

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"fsagent/errs"
	"fsagent/fsops"
	"fsagent/internal/logging"
)

const sidecarSuffix = ".meta.json"

// Record describes one stored copy. Records are never modified after creation.
type Record struct {
	ID              string      `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	SourcePath      string      `json:"source_path"`
	BackupPath      string      `json:"backup_path"`
	Checksum        string      `json:"checksum"`
	SizeBytes       int64       `json:"size_bytes"`
	OriginalExisted bool        `json:"original_existed"`
	IsDirectory     bool        `json:"is_directory"`
	Mode            os.FileMode `json:"mode"`
}

// Age returns how long ago the record was created.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// Store owns one session's backup directory and its in-memory index.
type Store struct {
	fs        afero.Fs
	dir       string
	sessionID string
	logger    *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
	entropy io.Reader
	now     func() time.Time
}

// NewStore creates the session directory under backupsRoot and returns an
// empty store.
func NewStore(fs afero.Fs, backupsRoot, sessionID string, logger *zap.Logger) (*Store, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	dir := filepath.Join(backupsRoot, sessionID)
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Store{
		fs:        fs,
		dir:       dir,
		sessionID: sessionID,
		logger:    logging.OrNop(logger).Named("backup"),
		records:   make(map[string]*Record),
		entropy:   ulid.Monotonic(rand.Reader, 0),
		now:       time.Now,
	}, nil
}

// Open loads an existing session directory by reading its sidecars.
// Sidecars that cannot be parsed are skipped and logged.
func Open(fs afero.Fs, backupsRoot, sessionID string, logger *zap.Logger) (*Store, error) {
	s, err := NewStore(fs, backupsRoot, sessionID, logger)
	if err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sidecarSuffix) {
			continue
		}

		sidecar := filepath.Join(s.dir, entry.Name())
		data, err := afero.ReadFile(fs, sidecar)
		if err != nil {
			s.logger.Warn("unreadable backup sidecar", zap.String("path", sidecar), zap.Error(err))
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.ID == "" {
			s.logger.Warn("corrupt backup sidecar", zap.String("path", sidecar), zap.Error(err))
			continue
		}
		s.records[rec.ID] = &rec
	}

	return s, nil
}

// Sessions lists the session directories under backupsRoot.
func Sessions(fs afero.Fs, backupsRoot string) ([]string, error) {
	entries, err := afero.ReadDir(fs, backupsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			sessions = append(sessions, entry.Name())
		}
	}
	return sessions, nil
}

// Dir returns the session backup directory.
func (s *Store) Dir() string {
	return s.dir
}

// SessionID returns the session the store belongs to.
func (s *Store) SessionID() string {
	return s.sessionID
}

// CreateBackup copies a regular file into the session area. The checksum is
// computed over the copy, not the original, so a bad copy is caught at
// restore time.
func (s *Store) CreateBackup(path string) (*Record, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, errs.Classify("backup", err).WithPath(path)
	}
	if info.IsDir() {
		return nil, errs.New(errs.ValidationFailure, "backup", "path is a directory").WithPath(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0700); err != nil {
		return nil, errs.Wrap(errs.IOFailure, "backup", err, "failed to create backup directory")
	}

	rec := s.newRecord(path, info)
	if _, err := fsops.CopyFile(s.fs, path, rec.BackupPath, 0600); err != nil {
		s.discard(rec.BackupPath)
		return nil, errs.Wrap(errs.IOFailure, "backup", err, "failed to copy file").WithPath(path)
	}

	sum, size, err := fileChecksum(s.fs, rec.BackupPath)
	if err != nil {
		s.discard(rec.BackupPath)
		return nil, errs.Wrap(errs.IOFailure, "backup", err, "failed to checksum backup").WithPath(path)
	}
	rec.Checksum = sum
	rec.SizeBytes = size

	if err := s.commit(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateDirectoryBackup recursively copies a directory into the session area.
func (s *Store) CreateDirectoryBackup(path string) (*Record, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, errs.Classify("backup", err).WithPath(path)
	}
	if !info.IsDir() {
		return nil, errs.New(errs.ValidationFailure, "backup", "path is not a directory").WithPath(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0700); err != nil {
		return nil, errs.Wrap(errs.IOFailure, "backup", err, "failed to create backup directory")
	}

	rec := s.newRecord(path, info)
	rec.IsDirectory = true

	if err := copyTree(s.fs, path, rec.BackupPath); err != nil {
		s.discard(rec.BackupPath)
		return nil, errs.Wrap(errs.IOFailure, "backup", err, "failed to copy directory").WithPath(path)
	}

	sum, size, err := treeChecksum(s.fs, rec.BackupPath)
	if err != nil {
		s.discard(rec.BackupPath)
		return nil, errs.Wrap(errs.IOFailure, "backup", err, "failed to checksum backup").WithPath(path)
	}
	rec.Checksum = sum
	rec.SizeBytes = size

	if err := s.commit(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RestoreBackup verifies the stored copy and writes it back to targetPath, or
// to the record's source path when targetPath is empty. A checksum mismatch
// leaves the target untouched.
func (s *Store) RestoreBackup(id, targetPath string) error {
	rec, ok := s.Get(id)
	if !ok {
		return errs.Newf(errs.NotFound, "restore", "backup %s not found", id)
	}
	if targetPath == "" {
		targetPath = rec.SourcePath
	}

	if err := s.Verify(rec); err != nil {
		s.logger.Error("refusing to restore backup",
			zap.String("id", rec.ID),
			zap.String("target", targetPath),
			zap.Error(err))
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return errs.Classify("restore", err).WithPath(targetPath)
	}

	if rec.IsDirectory {
		if err := s.restoreTree(rec, targetPath); err != nil {
			return errs.Classify("restore", err).WithPath(targetPath)
		}
	} else if err := s.restoreFile(rec, targetPath); err != nil {
		return errs.Classify("restore", err).WithPath(targetPath)
	}

	s.logger.Debug("restored backup", zap.String("id", rec.ID), zap.String("target", targetPath))
	return nil
}

// Verify recomputes a record's checksum from the stored copy.
func (s *Store) Verify(rec *Record) error {
	var (
		sum string
		err error
	)
	if rec.IsDirectory {
		sum, _, err = treeChecksum(s.fs, rec.BackupPath)
	} else {
		sum, _, err = fileChecksum(s.fs, rec.BackupPath)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Wrap(errs.NotFound, "restore", err, "backup copy is missing").WithPath(rec.BackupPath)
		}
		return errs.Wrap(errs.IOFailure, "restore", err, "failed to read backup copy").WithPath(rec.BackupPath)
	}
	if sum != rec.Checksum {
		return errs.Newf(errs.IntegrityFailure, "restore", "backup %s failed its checksum; the copy was altered after it was taken", rec.ID).
			WithSuggestions("the original content cannot be recovered safely from this backup")
	}
	return nil
}

// Get returns a record by id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List returns all records, newest first.
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	return out
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) newRecord(path string, info os.FileInfo) *Record {
	now := s.now()
	id := ulid.MustNew(ulid.Timestamp(now), s.entropy).String()

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if info.IsDir() {
		ext = ""
	}
	name := fmt.Sprintf("%s_%s%s", strings.TrimSuffix(base, ext), id, ext)

	return &Record{
		ID:              id,
		Timestamp:       now,
		SourcePath:      path,
		BackupPath:      filepath.Join(s.dir, name),
		OriginalExisted: true,
		Mode:            info.Mode(),
	}
}

// commit writes the sidecar and indexes the record. Caller holds s.mu.
func (s *Store) commit(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.discard(rec.BackupPath)
		return errs.Wrap(errs.IOFailure, "backup", err, "failed to encode backup metadata")
	}
	if err := afero.WriteFile(s.fs, sidecarPath(rec), data, 0600); err != nil {
		s.discard(rec.BackupPath)
		return errs.Wrap(errs.IOFailure, "backup", err, "failed to write backup metadata")
	}

	s.records[rec.ID] = rec
	s.logger.Debug("created backup",
		zap.String("id", rec.ID),
		zap.String("source", rec.SourcePath),
		zap.Int64("size", rec.SizeBytes),
		zap.Bool("directory", rec.IsDirectory))
	return nil
}

func (s *Store) discard(path string) {
	if err := s.fs.RemoveAll(path); err != nil {
		s.logger.Warn("failed to remove partial backup", zap.String("path", path), zap.Error(err))
	}
}

// restoreFile writes the copy next to the target and renames it into place.
func (s *Store) restoreFile(rec *Record, target string) error {
	if info, err := s.fs.Stat(target); err == nil && info.IsDir() {
		return errs.New(errs.AlreadyExists, "restore", "a directory now occupies the backup's path").WithPath(target)
	}

	f, err := afero.TempFile(s.fs, filepath.Dir(target), restorePattern(target))
	if err != nil {
		return err
	}
	tmp := f.Name()
	f.Close()
	if _, err := fsops.CopyFile(s.fs, rec.BackupPath, tmp, rec.Mode.Perm()); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	return s.fs.Chmod(target, rec.Mode.Perm())
}

// restoreTree rebuilds the directory beside the target, then swaps it in.
func (s *Store) restoreTree(rec *Record, target string) error {
	tmp, err := afero.TempDir(s.fs, filepath.Dir(target), restorePattern(target))
	if err != nil {
		return err
	}
	if err := copyTree(s.fs, rec.BackupPath, tmp); err != nil {
		s.fs.RemoveAll(tmp)
		return err
	}
	if info, err := s.fs.Stat(rec.BackupPath); err == nil {
		s.fs.Chmod(tmp, info.Mode().Perm())
	}
	if err := s.fs.RemoveAll(target); err != nil {
		s.fs.RemoveAll(tmp)
		return err
	}
	return s.fs.Rename(tmp, target)
}

// restorePattern names a hidden, uniquely suffixed sibling of target.
func restorePattern(target string) string {
	return "." + filepath.Base(target) + ".restore-*"
}

func sidecarPath(rec *Record) string {
	return rec.BackupPath + sidecarSuffix
}

func sortNewestFirst(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID > records[j].ID
		}
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

func fileChecksum(fs afero.Fs, path string) (string, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// treeChecksum hashes the sorted list of relative paths and per-file
// checksums, so both content and shape of the tree are covered.
func treeChecksum(fs afero.Fs, root string) (string, int64, error) {
	if _, err := fs.Stat(root); err != nil {
		return "", 0, err
	}

	var lines []string
	var total int64
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			lines = append(lines, rel+"/")
			return nil
		}

		sum, n, err := fileChecksum(fs, p)
		if err != nil {
			return err
		}
		total += n
		lines = append(lines, rel+"\x00"+sum)
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	sort.Strings(lines)
	h := sha256.New()
	for _, line := range lines {
		io.WriteString(h, line)
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

func copyTree(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return fs.MkdirAll(target, info.Mode().Perm()|0700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		_, err = fsops.CopyFile(fs, p, target, info.Mode().Perm())
		return err
	})
}
