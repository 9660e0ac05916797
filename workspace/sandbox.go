package workspace

import (
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"fsagent/errs"
	"fsagent/paths"
)

// Sandbox confines every operation path to a single workspace root.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at the (absolute, symlink-resolved)
// workspace path.
func NewSandbox(root string) *Sandbox {
	return &Sandbox{root: filepath.Clean(root)}
}

// Root returns the workspace root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve turns a user-supplied path into an absolute path inside the
// workspace. Paths that climb out of the root, or that point into fsagent's
// own bookkeeping directories, are rejected rather than clamped.
func (s *Sandbox) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errs.New(errs.ValidationFailure, "resolve", "path is required")
	}
	if strings.ContainsRune(path, 0) {
		return "", errs.New(errs.PathRejected, "resolve", "path contains a NUL byte")
	}

	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(s.root, filepath.Clean(path))
		if err != nil {
			return "", errs.Wrap(errs.PathRejected, "resolve", err, "path is outside the workspace").WithPath(path)
		}
		rel = r
	}

	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.PathRejected, "resolve", "path is outside the workspace").
			WithPath(path).
			WithSuggestions("use a path relative to the workspace root")
	}

	// SecureJoin evaluates symlinks as if the root were "/", so a link that
	// points outside can never escape.
	full, err := securejoin.SecureJoin(s.root, rel)
	if err != nil {
		return "", errs.Wrap(errs.PathRejected, "resolve", err, "path could not be resolved safely").WithPath(path)
	}

	if s.IsReserved(full) {
		return "", errs.New(errs.PathRejected, "resolve", "path is reserved for internal bookkeeping").WithPath(path)
	}

	return full, nil
}

// IsReserved reports whether an absolute path lies in a bookkeeping directory.
func (s *Sandbox) IsReserved(abs string) bool {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return paths.IsReserved(rel)
}

// Rel returns abs relative to the workspace root for display.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// String implements fmt.Stringer.
func (s *Sandbox) String() string {
	return fmt.Sprintf("sandbox(%s)", s.root)
}
