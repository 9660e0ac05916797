package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// BackupsDirName holds per-session backup copies inside the workspace.
	BackupsDirName = ".agent-backups"
	// ConfigDirName holds the workspace-local configuration.
	ConfigDirName = ".fsagent"
)

// reservedNames are top-level workspace entries owned by fsagent itself.
var reservedNames = []string{BackupsDirName, ConfigDirName}

// ProjectPaths provides access to all fsagent directories for a workspace
type ProjectPaths struct {
	workspacePath string
}

// NewProjectPaths creates a new ProjectPaths instance for the given workspace
func NewProjectPaths(workspacePath string) (*ProjectPaths, error) {
	absPath, err := filepath.Abs(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute workspace path: %w", err)
	}

	// Backups and sandbox checks compare resolved paths, so resolve symlinks
	// in the root once here (macOS /var -> /private/var, for instance).
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	return &ProjectPaths{workspacePath: absPath}, nil
}

// GetUserDir returns the user-level fsagent directory (~/.fsagent)
func GetUserDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ConfigDirName), nil
}

// GetGlobalConfigPath returns the path to the global config file
func GetGlobalConfigPath() (string, error) {
	userDir, err := GetUserDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(userDir, "config.json"), nil
}

// WorkspacePath returns the absolute workspace root
func (p *ProjectPaths) WorkspacePath() string {
	return p.workspacePath
}

// ConfigDir returns the workspace-local config directory
func (p *ProjectPaths) ConfigDir() string {
	return filepath.Join(p.workspacePath, ConfigDirName)
}

// ConfigPath returns the path to the workspace-local config file
func (p *ProjectPaths) ConfigPath() string {
	return filepath.Join(p.ConfigDir(), "config.json")
}

// BackupsDir returns the root of all session backup directories
func (p *ProjectPaths) BackupsDir() string {
	return filepath.Join(p.workspacePath, BackupsDirName)
}

// SessionBackupDir returns the backup directory for one session
func (p *ProjectPaths) SessionBackupDir(sessionID string) string {
	return filepath.Join(p.BackupsDir(), sessionID)
}

// EnsureConfigDir creates the workspace-local config directory
func (p *ProjectPaths) EnsureConfigDir() error {
	if err := os.MkdirAll(p.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p.ConfigDir(), err)
	}
	return nil
}

// IsReserved reports whether a workspace-relative path points into one of
// the directories fsagent keeps for its own bookkeeping.
func IsReserved(relPath string) bool {
	clean := filepath.ToSlash(filepath.Clean(relPath))
	clean = strings.TrimPrefix(clean, "./")
	first, _, _ := strings.Cut(clean, "/")
	for _, name := range reservedNames {
		if first == name {
			return true
		}
	}
	return false
}
