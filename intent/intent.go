// Package intent defines the structured commands the interpreter produces
// and the dispatcher executes. Each operation kind is its own type carrying
// exactly the fields it needs; Intent is a closed set of those types.
package intent

import "fmt"

// Kind names an operation.
type Kind string

const (
	KindCreateFile      Kind = "create_file"
	KindCreateDirectory Kind = "create_directory"
	KindReadFile        Kind = "read_file"
	KindWriteFile       Kind = "write_file"
	KindModifyFile      Kind = "modify_file"
	KindTruncateFile    Kind = "truncate_file"
	KindDeleteFile      Kind = "delete_file"
	KindDeleteDirectory Kind = "delete_directory"
	KindMoveFile        Kind = "move_file"
	KindRenameFile      Kind = "rename_file"
	KindCopyFile        Kind = "copy_file"
	KindListDirectory   Kind = "list_directory"
)

// Kinds lists every known kind, in the order used by help output.
var Kinds = []Kind{
	KindCreateFile,
	KindCreateDirectory,
	KindReadFile,
	KindWriteFile,
	KindModifyFile,
	KindTruncateFile,
	KindDeleteFile,
	KindDeleteDirectory,
	KindMoveFile,
	KindRenameFile,
	KindCopyFile,
	KindListDirectory,
}

// Intent is one validated filesystem command.
type Intent interface {
	Kind() Kind
	// Target is the path the command acts on; for moves and copies it is
	// the destination.
	Target() string
	// Why is the interpreter's explanation, shown to the user.
	Why() string
	// Mutating reports whether executing the intent can change the workspace.
	Mutating() bool

	sealed()
}

// Base carries the field every intent shares.
type Base struct {
	Reasoning string `json:"reasoning,omitempty"`
}

func (b Base) Why() string { return b.Reasoning }
func (Base) sealed()       {}

type CreateFile struct {
	Base
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

type CreateDirectory struct {
	Base
	Path string `json:"path"`
}

type ReadFile struct {
	Base
	Path string `json:"path"`
}

// WriteFile replaces (or with Append, extends) a file's content, creating
// the file when it does not exist.
type WriteFile struct {
	Base
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

// ModifyFile replaces occurrences of Find with Replace. Zero Count means all.
type ModifyFile struct {
	Base
	Path    string `json:"path"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
	Count   int    `json:"count,omitempty"`
}

type TruncateFile struct {
	Base
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
}

type DeleteFile struct {
	Base
	Path    string `json:"path"`
	Confirm bool   `json:"confirm,omitempty"`
}

type DeleteDirectory struct {
	Base
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
	Confirm   bool   `json:"confirm,omitempty"`
}

type MoveFile struct {
	Base
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Overwrite   bool   `json:"overwrite,omitempty"`
}

// RenameFile renames an entry within its current directory.
type RenameFile struct {
	Base
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

type CopyFile struct {
	Base
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Overwrite   bool   `json:"overwrite,omitempty"`
}

type ListDirectory struct {
	Base
	Path      string `json:"path,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (CreateFile) Kind() Kind      { return KindCreateFile }
func (CreateDirectory) Kind() Kind { return KindCreateDirectory }
func (ReadFile) Kind() Kind        { return KindReadFile }
func (WriteFile) Kind() Kind       { return KindWriteFile }
func (ModifyFile) Kind() Kind      { return KindModifyFile }
func (TruncateFile) Kind() Kind    { return KindTruncateFile }
func (DeleteFile) Kind() Kind      { return KindDeleteFile }
func (DeleteDirectory) Kind() Kind { return KindDeleteDirectory }
func (MoveFile) Kind() Kind        { return KindMoveFile }
func (RenameFile) Kind() Kind      { return KindRenameFile }
func (CopyFile) Kind() Kind        { return KindCopyFile }
func (ListDirectory) Kind() Kind   { return KindListDirectory }

func (i CreateFile) Target() string      { return i.Path }
func (i CreateDirectory) Target() string { return i.Path }
func (i ReadFile) Target() string        { return i.Path }
func (i WriteFile) Target() string       { return i.Path }
func (i ModifyFile) Target() string      { return i.Path }
func (i TruncateFile) Target() string    { return i.Path }
func (i DeleteFile) Target() string      { return i.Path }
func (i DeleteDirectory) Target() string { return i.Path }
func (i MoveFile) Target() string        { return i.Destination }
func (i RenameFile) Target() string      { return RenamedPath(i.Path, i.NewName) }
func (i CopyFile) Target() string        { return i.Destination }
func (i ListDirectory) Target() string {
	if i.Path == "" {
		return "."
	}
	return i.Path
}

func (CreateFile) Mutating() bool      { return true }
func (CreateDirectory) Mutating() bool { return true }
func (ReadFile) Mutating() bool        { return false }
func (WriteFile) Mutating() bool       { return true }
func (ModifyFile) Mutating() bool      { return true }
func (TruncateFile) Mutating() bool    { return true }
func (DeleteFile) Mutating() bool      { return true }
func (DeleteDirectory) Mutating() bool { return true }
func (MoveFile) Mutating() bool        { return true }
func (RenameFile) Mutating() bool      { return true }
func (CopyFile) Mutating() bool        { return true }
func (ListDirectory) Mutating() bool   { return false }

// Source returns the path an intent reads from before writing its target,
// for moves, renames and copies. Other kinds return "".
func Source(i Intent) string {
	switch v := i.(type) {
	case MoveFile:
		return v.Source
	case CopyFile:
		return v.Source
	case RenameFile:
		return v.Path
	}
	return ""
}

// Describe renders a one-line human description of an intent.
func Describe(i Intent) string {
	switch v := i.(type) {
	case CreateFile:
		return fmt.Sprintf("create file %s", v.Path)
	case CreateDirectory:
		return fmt.Sprintf("create directory %s", v.Path)
	case ReadFile:
		return fmt.Sprintf("read %s", v.Path)
	case WriteFile:
		if v.Append {
			return fmt.Sprintf("append to %s", v.Path)
		}
		return fmt.Sprintf("write %s", v.Path)
	case ModifyFile:
		return fmt.Sprintf("replace %q with %q in %s", v.Find, v.Replace, v.Path)
	case TruncateFile:
		return fmt.Sprintf("truncate %s to %d bytes", v.Path, v.Size)
	case DeleteFile:
		return fmt.Sprintf("delete file %s", v.Path)
	case DeleteDirectory:
		if v.Recursive {
			return fmt.Sprintf("delete directory %s recursively", v.Path)
		}
		return fmt.Sprintf("delete directory %s", v.Path)
	case MoveFile:
		return fmt.Sprintf("move %s to %s", v.Source, v.Destination)
	case RenameFile:
		return fmt.Sprintf("rename %s to %s", v.Path, v.NewName)
	case CopyFile:
		return fmt.Sprintf("copy %s to %s", v.Source, v.Destination)
	case ListDirectory:
		return fmt.Sprintf("list %s", v.Target())
	}
	return string(i.Kind())
}

// Destructive reports whether an intent deletes or overwrites existing data
// and therefore warrants a confirmation prompt.
func Destructive(i Intent) bool {
	switch v := i.(type) {
	case DeleteFile, DeleteDirectory, TruncateFile:
		return true
	case CreateFile:
		return v.Overwrite
	case MoveFile:
		return v.Overwrite
	case CopyFile:
		return v.Overwrite
	}
	return false
}
