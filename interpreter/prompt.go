package interpreter

import (
	"strings"

	"fsagent/intent"
)

// fieldHelp documents the fields each operation takes.
var fieldHelp = map[intent.Kind]string{
	intent.KindCreateFile:      `path, content, overwrite (bool)`,
	intent.KindCreateDirectory: `path`,
	intent.KindReadFile:        `path`,
	intent.KindWriteFile:       `path, content, append (bool)`,
	intent.KindModifyFile:      `path, find, replace, count (0 = all occurrences)`,
	intent.KindTruncateFile:    `path, size (bytes to keep)`,
	intent.KindDeleteFile:      `path, confirm (bool)`,
	intent.KindDeleteDirectory: `path, recursive (bool), confirm (bool)`,
	intent.KindMoveFile:        `source, destination, overwrite (bool)`,
	intent.KindRenameFile:      `path, new_name (file name only)`,
	intent.KindCopyFile:        `source, destination, overwrite (bool)`,
	intent.KindListDirectory:   `path (default "."), pattern (glob, ** allowed), recursive (bool)`,
}

// SystemPrompt describes the JSON shape the model must answer with.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You translate a user's filesystem request into exactly one JSON object.\n")
	b.WriteString("Reply with JSON only, no prose and no code fences.\n\n")
	b.WriteString("The object must have a \"type\" field naming the operation, the operation's fields, ")
	b.WriteString("and a short \"reasoning\" string explaining your interpretation.\n\n")
	b.WriteString("Operations and their fields:\n")
	for _, k := range intent.Kinds {
		b.WriteString("- ")
		b.WriteString(string(k))
		b.WriteString(": ")
		b.WriteString(fieldHelp[k])
		b.WriteString("\n")
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Paths are relative to the workspace root. Never use absolute paths or \"..\".\n")
	b.WriteString("- Only set overwrite, recursive or append when the user clearly asks for it.\n")
	b.WriteString("- Replacing text inside an existing file is modify_file, not write_file.\n")
	b.WriteString("\nExample: \"make a file notes.txt that says hello\" ->\n")
	b.WriteString(`{"type":"create_file","path":"notes.txt","content":"hello","reasoning":"user wants a new file with text"}`)
	b.WriteString("\n")
	return b.String()
}
