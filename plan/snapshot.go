package plan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"fsagent/intent"
)

// previewLimit caps how much of a file is loaded to build content previews.
const previewLimit = 64 * 1024

// Stater is the read-only filesystem view a snapshot is built from.
type Stater interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

// AferoStater adapts an afero.Fs to Stater.
type AferoStater struct {
	Fs afero.Fs
}

func (s AferoStater) Stat(path string) (os.FileInfo, error) { return s.Fs.Stat(path) }

func (s AferoStater) ReadDir(path string) ([]os.FileInfo, error) { return afero.ReadDir(s.Fs, path) }

func (s AferoStater) ReadFile(path string) ([]byte, error) { return afero.ReadFile(s.Fs, path) }

// PathState is what the simulator knows about one path.
type PathState struct {
	Exists   bool     `json:"exists"`
	IsDir    bool     `json:"is_dir"`
	Size     int64    `json:"size"`
	Children []string `json:"children,omitempty"`
	// Descendants counts every entry below a directory, when it was walked.
	Descendants int `json:"descendants,omitempty"`

	content    string
	hasContent bool
}

func (p PathState) clone() PathState {
	p.Children = append([]string(nil), p.Children...)
	return p
}

// Snapshot maps absolute paths to their state.
type Snapshot struct {
	states map[string]PathState
}

func newSnapshot() Snapshot {
	return Snapshot{states: make(map[string]PathState)}
}

// Get returns the state of path; unknown paths are reported as absent.
func (s Snapshot) Get(path string) PathState {
	return s.states[filepath.Clean(path)]
}

// Paths lists the snapshotted paths in order.
func (s Snapshot) Paths() []string {
	out := make([]string, 0, len(s.states))
	for p := range s.states {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s Snapshot) clone() Snapshot {
	c := newSnapshot()
	for p, st := range s.states {
		c.states[p] = st.clone()
	}
	return c
}

// set records st for path and makes every ancestor an existing directory
// that lists its child.
func (s Snapshot) set(path string, st PathState) {
	path = filepath.Clean(path)
	s.states[path] = st

	child := path
	for {
		parent := filepath.Dir(child)
		if parent == child {
			return
		}
		ps, known := s.states[parent]
		if known && ps.Exists && ps.IsDir {
			ps = ps.clone()
			ps.Children = addName(ps.Children, filepath.Base(child))
			s.states[parent] = ps
			return
		}
		s.states[parent] = PathState{Exists: true, IsDir: true, Children: []string{filepath.Base(child)}}
		child = parent
	}
}

// remove marks path and everything below it absent.
func (s Snapshot) remove(path string) {
	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)
	for p := range s.states {
		if strings.HasPrefix(p, prefix) {
			s.states[p] = PathState{}
		}
	}
	s.states[path] = PathState{}

	parent := filepath.Dir(path)
	if ps, ok := s.states[parent]; ok && parent != path {
		ps = ps.clone()
		ps.Children = removeName(ps.Children, filepath.Base(path))
		s.states[parent] = ps
	}
}

// move relocates the state of src and its known descendants to dst.
func (s Snapshot) move(src, dst string) {
	src, dst = filepath.Clean(src), filepath.Clean(dst)
	moved := map[string]PathState{}
	prefix := src + string(filepath.Separator)
	for p, st := range s.states {
		if strings.HasPrefix(p, prefix) && st.Exists {
			moved[dst+p[len(src):]] = st
		}
	}
	st := s.states[src]
	s.remove(src)
	s.remove(dst)
	s.set(dst, st)
	for p, cst := range moved {
		s.states[p] = cst
	}
}

func addName(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	names = append(names, name)
	sort.Strings(names)
	return names
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// TakeSnapshot stats every path the steps reference, plus their ancestors,
// exactly once. It never writes.
func TakeSnapshot(st Stater, steps []Step) Snapshot {
	snap := newSnapshot()
	seen := map[string]bool{}

	visit := func(path string, deep, withContent bool) {
		if path == "" {
			return
		}
		path = filepath.Clean(path)
		if !seen[path] {
			seen[path] = true
			snap.states[path] = statPath(st, path)
		}
		ps := snap.states[path]
		if deep && ps.Exists && ps.IsDir && ps.Descendants == 0 {
			ps.Descendants = countDescendants(st, path)
			snap.states[path] = ps
		}
		if withContent && ps.Exists && !ps.IsDir && !ps.hasContent && ps.Size <= previewLimit {
			if data, err := st.ReadFile(path); err == nil {
				ps.content = string(data)
				ps.hasContent = true
				snap.states[path] = ps
			}
		}
	}

	for _, step := range steps {
		if step.Err != nil {
			continue
		}
		_, isDirDelete := step.Intent.(intent.DeleteDirectory)
		visit(step.Target, isDirDelete, wantsContent(step.Intent))
		visit(step.Source, false, false)

		for _, p := range []string{step.Target, step.Source} {
			if p == "" {
				continue
			}
			for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
				visit(dir, false, false)
				if filepath.Dir(dir) == dir {
					break
				}
			}
		}
	}
	return snap
}

func wantsContent(in intent.Intent) bool {
	switch v := in.(type) {
	case intent.WriteFile, intent.ModifyFile, intent.TruncateFile:
		return true
	case intent.CreateFile:
		return v.Overwrite
	}
	return false
}

func statPath(st Stater, path string) PathState {
	info, err := st.Stat(path)
	if err != nil {
		return PathState{}
	}
	ps := PathState{Exists: true, IsDir: info.IsDir(), Size: info.Size()}
	if ps.IsDir {
		ps.Size = 0
		if entries, err := st.ReadDir(path); err == nil {
			for _, e := range entries {
				ps.Children = append(ps.Children, e.Name())
			}
			sort.Strings(ps.Children)
		}
	}
	return ps
}

func countDescendants(st Stater, dir string) int {
	entries, err := st.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		n++
		if e.IsDir() {
			n += countDescendants(st, filepath.Join(dir, e.Name()))
		}
	}
	return n
}
