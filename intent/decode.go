package intent

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"fsagent/errs"
)

type envelope struct {
	Type string `json:"type"`
}

// Decode parses the interpreter's JSON object into an Intent. A missing or
// unknown type, or a missing required field, is a ValidationFailure.
func Decode(data []byte) (Intent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.Wrap(errs.ValidationFailure, "decode", err, "command could not be understood").
			WithSuggestions("rephrase the command, e.g. \"create a file notes.txt containing hello\"")
	}
	if env.Type == "" {
		return nil, errs.New(errs.ValidationFailure, "decode", "command has no operation type")
	}

	var (
		in  Intent
		err error
	)
	switch Kind(env.Type) {
	case KindCreateFile:
		in, err = decodeAs[CreateFile](data)
	case KindCreateDirectory:
		in, err = decodeAs[CreateDirectory](data)
	case KindReadFile:
		in, err = decodeAs[ReadFile](data)
	case KindWriteFile:
		in, err = decodeAs[WriteFile](data)
	case KindModifyFile:
		in, err = decodeAs[ModifyFile](data)
	case KindTruncateFile:
		in, err = decodeAs[TruncateFile](data)
	case KindDeleteFile:
		in, err = decodeAs[DeleteFile](data)
	case KindDeleteDirectory:
		in, err = decodeAs[DeleteDirectory](data)
	case KindMoveFile:
		in, err = decodeAs[MoveFile](data)
	case KindRenameFile:
		in, err = decodeAs[RenameFile](data)
	case KindCopyFile:
		in, err = decodeAs[CopyFile](data)
	case KindListDirectory:
		in, err = decodeAs[ListDirectory](data)
	default:
		return nil, errs.Newf(errs.ValidationFailure, "decode", "unknown operation type %q", env.Type).
			WithSuggestions(fmt.Sprintf("supported operations: %s", joinKinds()))
	}
	if err != nil {
		return nil, errs.Wrap(errs.ValidationFailure, "decode", err, "command fields are malformed")
	}

	if err := Validate(in); err != nil {
		return nil, err
	}
	return in, nil
}

func decodeAs[T Intent](data []byte) (Intent, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode renders an intent back into the interpreter's JSON shape.
func Encode(i Intent) ([]byte, error) {
	body, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = string(i.Kind())
	return json.Marshal(fields)
}

// Validate checks that every required field is present.
func Validate(i Intent) error {
	missing := func(field string) error {
		return errs.Newf(errs.ValidationFailure, string(i.Kind()), "missing required field %q", field)
	}

	switch v := i.(type) {
	case CreateFile:
		if v.Path == "" {
			return missing("path")
		}
	case CreateDirectory:
		if v.Path == "" {
			return missing("path")
		}
	case ReadFile:
		if v.Path == "" {
			return missing("path")
		}
	case WriteFile:
		if v.Path == "" {
			return missing("path")
		}
	case ModifyFile:
		if v.Path == "" {
			return missing("path")
		}
		if v.Find == "" {
			return missing("find")
		}
		if v.Count < 0 {
			return errs.New(errs.ValidationFailure, string(v.Kind()), "count must not be negative")
		}
	case TruncateFile:
		if v.Path == "" {
			return missing("path")
		}
		if v.Size < 0 {
			return errs.New(errs.ValidationFailure, string(v.Kind()), "size must not be negative")
		}
	case DeleteFile:
		if v.Path == "" {
			return missing("path")
		}
	case DeleteDirectory:
		if v.Path == "" {
			return missing("path")
		}
	case MoveFile:
		if v.Source == "" {
			return missing("source")
		}
		if v.Destination == "" {
			return missing("destination")
		}
	case RenameFile:
		if v.Path == "" {
			return missing("path")
		}
		if v.NewName == "" {
			return missing("new_name")
		}
		if strings.ContainsAny(v.NewName, `/\`) {
			return errs.New(errs.ValidationFailure, string(v.Kind()), "new_name must be a plain file name").
				WithSuggestions("use move_file to change directories")
		}
	case CopyFile:
		if v.Source == "" {
			return missing("source")
		}
		if v.Destination == "" {
			return missing("destination")
		}
	case ListDirectory:
		if v.Pattern != "" && !doublestar.ValidatePattern(v.Pattern) {
			return errs.Newf(errs.ValidationFailure, string(v.Kind()), "invalid pattern %q", v.Pattern)
		}
	case nil:
		return errs.New(errs.ValidationFailure, "validate", "no command")
	}
	return nil
}

// RenamedPath returns the path p would have after renaming its last element.
func RenamedPath(p, newName string) string {
	dir := filepath.Dir(p)
	if dir == "." {
		return newName
	}
	return filepath.Join(dir, newName)
}

func joinKinds() string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
