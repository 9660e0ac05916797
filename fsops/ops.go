// Package fsops holds the raw file and directory primitives. Every call
// returns the same Result envelope; callers never look past it.
package fsops

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"fsagent/errs"
)

// Result is the uniform outcome of a primitive.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`

	// Output carries file content or a listing for read operations.
	Output string `json:"output,omitempty"`
	// Entries is the structured form of a listing.
	Entries []Entry `json:"entries,omitempty"`

	// Err is the classified error behind Error.
	Err error `json:"-"`
}

// Entry is one line of a directory listing.
type Entry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Ops executes primitives against a filesystem. Paths are absolute and have
// already passed the sandbox.
type Ops struct {
	fs          afero.Fs
	maxFileSize int64
	// Hidden reports whether a path must be left out of listings.
	Hidden func(path string) bool
}

// New creates primitives over fs.
func New(fs afero.Fs, maxFileSize int64) *Ops {
	return &Ops{fs: fs, maxFileSize: maxFileSize}
}

// Fs returns the underlying filesystem.
func (o *Ops) Fs() afero.Fs {
	return o.fs
}

func ok(path, format string, args ...any) Result {
	return Result{Success: true, Path: path, Message: fmt.Sprintf(format, args...)}
}

func fail(path string, err error) Result {
	return Result{
		Success: false,
		Path:    path,
		Message: errs.Message(err),
		Error:   err.Error(),
		Err:     err,
	}
}

// CreateFile creates a new file. An existing file is only replaced when
// overwrite is set.
func (o *Ops) CreateFile(path, content string, overwrite bool) Result {
	info, err := o.fs.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return fail(path, errs.New(errs.ValidationFailure, "create_file", "path is a directory").WithPath(path))
	case err == nil && !overwrite:
		return fail(path, errs.New(errs.AlreadyExists, "create_file", "file already exists").WithPath(path).
			WithSuggestions("ask to overwrite it, or use write_file to replace its content"))
	case err != nil && !os.IsNotExist(err):
		return fail(path, errs.Classify("create_file", err))
	}

	if err := o.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fail(path, errs.Classify("create_file", err))
	}
	if err := afero.WriteFile(o.fs, path, []byte(content), 0644); err != nil {
		return fail(path, errs.Classify("create_file", err))
	}
	return ok(path, "created file (%d bytes)", len(content))
}

// CreateDirectory creates a directory and any missing parents.
func (o *Ops) CreateDirectory(path string) Result {
	if info, err := o.fs.Stat(path); err == nil {
		if info.IsDir() {
			return fail(path, errs.New(errs.AlreadyExists, "create_directory", "directory already exists").WithPath(path))
		}
		return fail(path, errs.New(errs.AlreadyExists, "create_directory", "a file with that name exists").WithPath(path))
	}
	if err := o.fs.MkdirAll(path, 0755); err != nil {
		return fail(path, errs.Classify("create_directory", err))
	}
	return ok(path, "created directory")
}

// ReadFile returns a text file's content. Binary and oversized files are refused.
func (o *Ops) ReadFile(path string) Result {
	info, err := o.fs.Stat(path)
	if err != nil {
		return fail(path, errs.Classify("read_file", err).WithPath(path))
	}
	if info.IsDir() {
		return fail(path, errs.New(errs.ValidationFailure, "read_file", "path is a directory").WithPath(path).
			WithSuggestions("use list_directory to see its contents"))
	}
	if info.Size() > o.maxFileSize {
		return fail(path, errs.Newf(errs.ValidationFailure, "read_file", "file too large (%.2f MB > %.2f MB)",
			float64(info.Size())/1024/1024, float64(o.maxFileSize)/1024/1024).WithPath(path))
	}

	data, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return fail(path, errs.Classify("read_file", err))
	}
	if !isText(data) {
		return fail(path, errs.New(errs.Unsupported, "read_file", "cannot display binary file").WithPath(path))
	}

	res := ok(path, "read %d bytes", len(data))
	res.Output = string(data)
	return res
}

// WriteFile replaces or appends to a file, creating it when missing.
func (o *Ops) WriteFile(path, content string, appendMode bool) Result {
	if info, err := o.fs.Stat(path); err == nil && info.IsDir() {
		return fail(path, errs.New(errs.ValidationFailure, "write_file", "path is a directory").WithPath(path))
	}
	if err := o.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fail(path, errs.Classify("write_file", err))
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	verb := "wrote"
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		verb = "appended"
	}

	f, err := o.fs.OpenFile(path, flags, 0644)
	if err != nil {
		return fail(path, errs.Classify("write_file", err))
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		return fail(path, errs.Classify("write_file", err))
	}
	if err := f.Close(); err != nil {
		return fail(path, errs.Classify("write_file", err))
	}
	return ok(path, "%s %d bytes", verb, len(content))
}

// ReplaceInFile replaces occurrences of find with replace; count 0 means all.
func (o *Ops) ReplaceInFile(path, find, replace string, count int) Result {
	info, err := o.fs.Stat(path)
	if err != nil {
		return fail(path, errs.Classify("modify_file", err).WithPath(path))
	}
	if info.IsDir() {
		return fail(path, errs.New(errs.ValidationFailure, "modify_file", "path is a directory").WithPath(path))
	}

	data, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return fail(path, errs.Classify("modify_file", err))
	}

	found := strings.Count(string(data), find)
	if found == 0 {
		return fail(path, errs.Newf(errs.NotFound, "modify_file", "text %q not found", find).WithPath(path))
	}

	n := -1
	if count > 0 {
		n = count
	}
	updated := strings.Replace(string(data), find, replace, n)
	if err := afero.WriteFile(o.fs, path, []byte(updated), info.Mode().Perm()); err != nil {
		return fail(path, errs.Classify("modify_file", err))
	}

	replaced := found
	if count > 0 && count < found {
		replaced = count
	}
	return ok(path, "replaced %d occurrence(s)", replaced)
}

// Truncate shrinks or extends a file to size bytes.
func (o *Ops) Truncate(path string, size int64) Result {
	info, err := o.fs.Stat(path)
	if err != nil {
		return fail(path, errs.Classify("truncate_file", err).WithPath(path))
	}
	if info.IsDir() {
		return fail(path, errs.New(errs.ValidationFailure, "truncate_file", "path is a directory").WithPath(path))
	}

	f, err := o.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fail(path, errs.Classify("truncate_file", err))
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fail(path, errs.Classify("truncate_file", err))
	}
	return ok(path, "truncated to %d bytes", size)
}

// DeleteFile removes a single file.
func (o *Ops) DeleteFile(path string) Result {
	info, err := o.fs.Stat(path)
	if err != nil {
		return fail(path, errs.Classify("delete_file", err).WithPath(path))
	}
	if info.IsDir() {
		return fail(path, errs.New(errs.ValidationFailure, "delete_file", "path is a directory").WithPath(path).
			WithSuggestions("use delete_directory instead"))
	}
	if err := o.fs.Remove(path); err != nil {
		return fail(path, errs.Classify("delete_file", err))
	}
	return ok(path, "deleted file")
}

// DeleteDirectory removes a directory; non-empty ones need recursive.
func (o *Ops) DeleteDirectory(path string, recursive bool) Result {
	info, err := o.fs.Stat(path)
	if err != nil {
		return fail(path, errs.Classify("delete_directory", err).WithPath(path))
	}
	if !info.IsDir() {
		return fail(path, errs.New(errs.ValidationFailure, "delete_directory", "path is not a directory").WithPath(path))
	}

	children, err := afero.ReadDir(o.fs, path)
	if err != nil {
		return fail(path, errs.Classify("delete_directory", err))
	}
	if len(children) > 0 && !recursive {
		return fail(path, errs.Newf(errs.ValidationFailure, "delete_directory", "directory is not empty (%d entries)", len(children)).
			WithPath(path).
			WithSuggestions("ask for a recursive delete to remove its contents too"))
	}

	if err := o.fs.RemoveAll(path); err != nil {
		return fail(path, errs.Classify("delete_directory", err))
	}
	return ok(path, "deleted directory")
}

// Move renames src to dst, creating dst's parent directory. The message
// leaves the source out; callers add it in the form they display.
func (o *Ops) Move(src, dst string, overwrite bool) Result {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return fail(dst, errs.New(errs.ValidationFailure, "move_file", "source and destination are the same").WithPath(dst))
	}
	srcInfo, err := o.fs.Stat(src)
	if err != nil {
		return fail(src, errs.Classify("move_file", err).WithPath(src))
	}
	if dstInfo, err := o.fs.Stat(dst); err == nil {
		if !overwrite {
			return fail(dst, errs.New(errs.AlreadyExists, "move_file", "destination already exists").WithPath(dst).
				WithSuggestions("ask to overwrite the destination"))
		}
		if dstInfo.IsDir() != srcInfo.IsDir() {
			return fail(dst, errs.New(errs.ValidationFailure, "move_file", "cannot replace a file with a directory or vice versa").WithPath(dst))
		}
		if err := o.fs.RemoveAll(dst); err != nil {
			return fail(dst, errs.Classify("move_file", err))
		}
	}

	if err := o.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fail(dst, errs.Classify("move_file", err))
	}
	if err := o.fs.Rename(src, dst); err != nil {
		return fail(dst, errs.Classify("move_file", err))
	}
	return ok(dst, "moved")
}

// Copy copies a regular file.
func (o *Ops) Copy(src, dst string, overwrite bool) Result {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return fail(dst, errs.New(errs.ValidationFailure, "copy_file", "source and destination are the same").WithPath(dst))
	}
	srcInfo, err := o.fs.Stat(src)
	if err != nil {
		return fail(src, errs.Classify("copy_file", err).WithPath(src))
	}
	if srcInfo.IsDir() {
		return fail(src, errs.New(errs.Unsupported, "copy_file", "copying directories is not supported").WithPath(src))
	}
	if dstInfo, err := o.fs.Stat(dst); err == nil {
		if dstInfo.IsDir() {
			return fail(dst, errs.New(errs.ValidationFailure, "copy_file", "destination is a directory").WithPath(dst))
		}
		if !overwrite {
			return fail(dst, errs.New(errs.AlreadyExists, "copy_file", "destination already exists").WithPath(dst).
				WithSuggestions("ask to overwrite the destination"))
		}
	}

	if err := o.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fail(dst, errs.Classify("copy_file", err))
	}
	n, err := CopyFile(o.fs, src, dst, srcInfo.Mode().Perm())
	if err != nil {
		return fail(dst, errs.Classify("copy_file", err))
	}
	return ok(dst, "copied %d bytes", n)
}

// List returns the entries under dir. Without recursive (or a ** pattern)
// only direct children are returned. Pattern matches workspace-style
// slash-separated paths relative to dir.
func (o *Ops) List(dir, pattern string, recursive bool) Result {
	info, err := o.fs.Stat(dir)
	if err != nil {
		return fail(dir, errs.Classify("list_directory", err).WithPath(dir))
	}
	if !info.IsDir() {
		return fail(dir, errs.New(errs.ValidationFailure, "list_directory", "path is not a directory").WithPath(dir))
	}
	if strings.Contains(pattern, "**") {
		recursive = true
	}

	var entries []Entry
	err = afero.Walk(o.fs, dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if p == dir {
			return nil
		}
		if o.Hidden != nil && o.Hidden(p) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		include := true
		if pattern != "" {
			matched, err := doublestar.Match(pattern, rel)
			include = err == nil && matched
		}
		if include {
			entries = append(entries, Entry{Path: rel, IsDir: fi.IsDir(), Size: fi.Size()})
		}

		if fi.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return fail(dir, errs.Classify("list_directory", err))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var out strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&out, "%s/\n", e.Path)
		} else {
			fmt.Fprintf(&out, "%s (%s)\n", e.Path, FormatSize(e.Size))
		}
	}

	res := ok(dir, "%d entries", len(entries))
	res.Entries = entries
	res.Output = out.String()
	return res
}

// CopyFile streams src to dst on fs and returns the number of bytes copied.
func CopyFile(fs afero.Fs, src, dst string, perm os.FileMode) (int64, error) {
	in, err := fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}

// FormatSize formats a byte count for display.
func FormatSize(size int64) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	} else if size < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(size)/1024/1024)
}

// isText reports whether data looks like text. Empty files count as text.
func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		return false
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
