package workspace

import (
	"os"
	"path/filepath"
)

// DetectWorkspace detects the workspace root directory.
// It walks up looking for an existing .fsagent directory, then a Git
// repository root, and otherwise uses the current directory.
func DetectWorkspace() (string, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if root := findMarker(pwd, ".fsagent"); root != "" {
		return root, nil
	}

	if gitRoot := findMarker(pwd, ".git"); gitRoot != "" {
		return gitRoot, nil
	}

	return pwd, nil
}

// findMarker walks up the directory tree looking for a directory entry named marker
func findMarker(startPath, marker string) string {
	currentPath := startPath

	for {
		if _, err := os.Stat(filepath.Join(currentPath, marker)); err == nil {
			return currentPath
		}

		parentPath := filepath.Dir(currentPath)
		if parentPath == currentPath {
			break
		}
		currentPath = parentPath
	}

	return ""
}
