package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsagent/errs"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Intent
	}{
		{
			name: "create file",
			json: `{"type":"create_file","path":"a.txt","content":"hello","reasoning":"user asked"}`,
			want: CreateFile{Base: Base{Reasoning: "user asked"}, Path: "a.txt", Content: "hello"},
		},
		{
			name: "modify file",
			json: `{"type":"modify_file","path":"a.txt","find":"hello","replace":"world"}`,
			want: ModifyFile{Path: "a.txt", Find: "hello", Replace: "world"},
		},
		{
			name: "delete directory",
			json: `{"type":"delete_directory","path":"build","recursive":true}`,
			want: DeleteDirectory{Path: "build", Recursive: true},
		},
		{
			name: "move",
			json: `{"type":"move_file","source":"a.txt","destination":"b/a.txt"}`,
			want: MoveFile{Source: "a.txt", Destination: "b/a.txt"},
		},
		{
			name: "list defaults to root",
			json: `{"type":"list_directory","pattern":"**/*.go"}`,
			want: ListDirectory{Pattern: "**/*.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `create a file`},
		{"missing type", `{"path":"a.txt"}`},
		{"unknown type", `{"type":"launch_rocket"}`},
		{"missing path", `{"type":"read_file"}`},
		{"missing find", `{"type":"modify_file","path":"a.txt"}`},
		{"rename with slash", `{"type":"rename_file","path":"a.txt","new_name":"x/b.txt"}`},
		{"wrong field type", `{"type":"delete_directory","path":"d","recursive":"yes"}`},
		{"bad pattern", `{"type":"list_directory","pattern":"[a-"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.json))
			require.Error(t, err)
			assert.Equal(t, errs.ValidationFailure, errs.KindOf(err))
		})
	}
}

func TestEncodeIncludesType(t *testing.T) {
	in := CopyFile{Source: "a.txt", Destination: "b.txt", Overwrite: true}

	data, err := Encode(in)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestTargetsAndSources(t *testing.T) {
	r := RenameFile{Path: "docs/old.md", NewName: "new.md"}
	assert.Equal(t, "docs/new.md", r.Target())
	assert.Equal(t, "docs/old.md", Source(r))

	assert.Equal(t, "new.md", RenameFile{Path: "old.md", NewName: "new.md"}.Target())
	assert.Equal(t, ".", ListDirectory{}.Target())
	assert.Equal(t, "", Source(CreateFile{Path: "x"}))
}

func TestDestructive(t *testing.T) {
	assert.True(t, Destructive(DeleteFile{Path: "a"}))
	assert.True(t, Destructive(CreateFile{Path: "a", Overwrite: true}))
	assert.False(t, Destructive(CreateFile{Path: "a"}))
	assert.False(t, Destructive(ReadFile{Path: "a"}))
	assert.True(t, Destructive(TruncateFile{Path: "a"}))
}
