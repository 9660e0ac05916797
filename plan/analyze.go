package plan

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"fsagent/errs"
	"fsagent/intent"
)

// ImpactType classifies what a step does to its target.
type ImpactType string

const (
	ImpactCreate ImpactType = "create"
	ImpactModify ImpactType = "modify"
	ImpactDelete ImpactType = "delete"
	ImpactMove   ImpactType = "move"
	ImpactRead   ImpactType = "read"
)

// Step is an intent with its paths resolved against the workspace. Err is
// set when resolution failed; such a step is reported as a conflict.
type Step struct {
	Intent intent.Intent
	Target string
	Source string
	Err    error
}

// Impact is the simulated effect of one step.
type Impact struct {
	Index       int           `json:"index"`
	Intent      intent.Intent `json:"-"`
	Description string        `json:"description"`
	TargetPath  string        `json:"target_path"`
	SourcePath  string        `json:"source_path,omitempty"`
	Type        ImpactType    `json:"impact_type"`
	Conflicts   []string      `json:"conflicts,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Before      PathState     `json:"before"`
	After       PathState     `json:"after"`
	Preview     string        `json:"preview,omitempty"`
}

// Counts aggregates impacts by type.
type Counts struct {
	Creates  int `json:"creates"`
	Modifies int `json:"modifies"`
	Deletes  int `json:"deletes"`
	Moves    int `json:"moves"`
	Reads    int `json:"reads"`
}

func (c *Counts) add(t ImpactType) {
	switch t {
	case ImpactCreate:
		c.Creates++
	case ImpactModify:
		c.Modifies++
	case ImpactDelete:
		c.Deletes++
	case ImpactMove:
		c.Moves++
	case ImpactRead:
		c.Reads++
	}
}

// Analysis is the result of simulating a whole plan.
type Analysis struct {
	Impacts []Impact `json:"impacts"`
	// Conflicts holds every per-step conflict followed by the global ones.
	Conflicts       []string `json:"conflicts"`
	GlobalConflicts []string `json:"global_conflicts"`
	Warnings        []string `json:"warnings"`
	Counts          Counts   `json:"counts"`
}

// HasConflicts reports whether executing the plan as-is is unsafe.
func (a Analysis) HasConflicts() bool {
	return len(a.Conflicts) > 0
}

// Analyze simulates steps in order against before. It is pure: the real
// filesystem is never consulted.
func Analyze(before Snapshot, steps []Step) Analysis {
	after := before.clone()
	var analysis Analysis

	for i, step := range steps {
		imp := analyzeStep(after, step)
		imp.Index = i + 1

		for _, c := range imp.Conflicts {
			analysis.Conflicts = append(analysis.Conflicts, fmt.Sprintf("step %d: %s", imp.Index, c))
		}
		for _, w := range imp.Warnings {
			analysis.Warnings = append(analysis.Warnings, fmt.Sprintf("step %d: %s", imp.Index, w))
		}
		analysis.Counts.add(imp.Type)
		analysis.Impacts = append(analysis.Impacts, imp)
	}

	analysis.GlobalConflicts = globalConflicts(analysis.Impacts)
	analysis.Conflicts = append(analysis.Conflicts, analysis.GlobalConflicts...)
	return analysis
}

// globalConflicts flags every path touched by more than one step.
func globalConflicts(impacts []Impact) []string {
	refs := map[string][]int{}
	for _, imp := range impacts {
		seen := map[string]bool{}
		for _, p := range []string{imp.TargetPath, imp.SourcePath} {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			refs[p] = append(refs[p], imp.Index)
		}
	}

	paths := make([]string, 0, len(refs))
	for p, idx := range refs {
		if len(idx) > 1 {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var out []string
	for _, p := range paths {
		idx := refs[p]
		steps := make([]string, len(idx))
		for i, n := range idx {
			steps[i] = fmt.Sprintf("%d (%s)", n, impacts[n-1].Intent.Kind())
		}
		out = append(out, fmt.Sprintf("%s is touched by steps %s; the result depends on their order",
			p, strings.Join(steps, ", ")))
	}
	return out
}

func analyzeStep(after Snapshot, step Step) Impact {
	imp := Impact{
		Intent:      step.Intent,
		Description: intent.Describe(step.Intent),
		TargetPath:  step.Target,
		SourcePath:  step.Source,
		Type:        impactOf(step.Intent),
	}
	if step.Err != nil {
		imp.Conflicts = append(imp.Conflicts, errs.Message(step.Err))
		return imp
	}

	conflict := func(format string, args ...any) {
		imp.Conflicts = append(imp.Conflicts, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		imp.Warnings = append(imp.Warnings, fmt.Sprintf(format, args...))
	}

	target := after.Get(step.Target)
	imp.Before = target.clone()

	if step.Intent.Mutating() {
		if parent := filepath.Dir(step.Target); !after.Get(parent).Exists {
			warn("parent directory %s does not exist and will be created", parent)
		}
	}

	switch in := step.Intent.(type) {
	case intent.CreateFile:
		switch {
		case target.Exists && target.IsDir:
			conflict("%s is a directory", step.Target)
		case target.Exists && !in.Overwrite:
			conflict("%s already exists", step.Target)
		default:
			if target.Exists {
				imp.Type = ImpactModify
				imp.Preview = preview(target, in.Content)
			}
			after.set(step.Target, fileState(in.Content))
		}

	case intent.CreateDirectory:
		if target.Exists {
			conflict("%s already exists", step.Target)
		} else {
			after.set(step.Target, PathState{Exists: true, IsDir: true})
		}

	case intent.ReadFile:
		switch {
		case !target.Exists:
			conflict("%s does not exist", step.Target)
		case target.IsDir:
			conflict("%s is a directory", step.Target)
		}

	case intent.WriteFile:
		if target.Exists && target.IsDir {
			conflict("%s is a directory", step.Target)
			break
		}
		content := in.Content
		if in.Append && target.hasContent {
			content = target.content + in.Content
		}
		if target.Exists {
			imp.Preview = preview(target, content)
		} else {
			imp.Type = ImpactCreate
		}
		next := fileState(content)
		if in.Append && target.Exists && !target.hasContent {
			next = PathState{Exists: true, Size: target.Size + int64(len(in.Content))}
		}
		after.set(step.Target, next)

	case intent.ModifyFile:
		switch {
		case !target.Exists:
			conflict("%s does not exist", step.Target)
		case target.IsDir:
			conflict("%s is a directory", step.Target)
		case target.hasContent && !strings.Contains(target.content, in.Find):
			conflict("%q does not occur in %s", in.Find, step.Target)
		case target.hasContent:
			n := in.Count
			if n == 0 {
				n = -1
			}
			content := strings.Replace(target.content, in.Find, in.Replace, n)
			imp.Preview = preview(target, content)
			after.set(step.Target, fileState(content))
		default:
			warn("%s is too large to preview", step.Target)
		}

	case intent.TruncateFile:
		switch {
		case !target.Exists:
			conflict("%s does not exist", step.Target)
		case target.IsDir:
			conflict("%s is a directory", step.Target)
		default:
			if in.Size > target.Size {
				warn("%s will grow from %d to %d bytes", step.Target, target.Size, in.Size)
			}
			next := PathState{Exists: true, Size: in.Size}
			if target.hasContent && in.Size <= int64(len(target.content)) {
				next = fileState(target.content[:in.Size])
				imp.Preview = preview(target, next.content)
			}
			after.set(step.Target, next)
		}

	case intent.DeleteFile:
		switch {
		case !target.Exists:
			conflict("%s does not exist", step.Target)
		case target.IsDir:
			conflict("%s is a directory; use delete_directory", step.Target)
		default:
			after.remove(step.Target)
		}

	case intent.DeleteDirectory:
		switch {
		case !target.Exists:
			conflict("%s does not exist", step.Target)
		case !target.IsDir:
			conflict("%s is not a directory", step.Target)
		case len(target.Children) > 0 && !in.Recursive:
			conflict("%s is not empty; deleting it needs the recursive flag", step.Target)
		default:
			if len(target.Children) > 0 {
				n := target.Descendants
				if n == 0 {
					n = len(target.Children)
				}
				warn("deleting %s removes %d nested entries", step.Target, n)
			}
			after.remove(step.Target)
		}

	case intent.MoveFile:
		moveLike(after, step, in.Overwrite, conflict)

	case intent.RenameFile:
		moveLike(after, step, false, conflict)

	case intent.CopyFile:
		source := after.Get(step.Source)
		switch {
		case !source.Exists:
			conflict("source %s does not exist", step.Source)
		case step.Source == step.Target:
			conflict("source and destination are the same")
		case source.IsDir:
			conflict("%s is a directory; only files can be copied", step.Source)
		case target.Exists && !in.Overwrite:
			conflict("%s already exists", step.Target)
		case target.Exists && target.IsDir:
			conflict("%s is a directory", step.Target)
		default:
			if target.Exists {
				imp.Type = ImpactModify
			}
			after.set(step.Target, source.clone())
		}

	case intent.ListDirectory:
		switch {
		case !target.Exists:
			conflict("%s does not exist", step.Target)
		case !target.IsDir:
			conflict("%s is not a directory", step.Target)
		}
	}

	imp.After = after.Get(step.Target).clone()
	return imp
}

func moveLike(after Snapshot, step Step, overwrite bool, conflict func(string, ...any)) {
	source := after.Get(step.Source)
	target := after.Get(step.Target)
	switch {
	case !source.Exists:
		conflict("source %s does not exist", step.Source)
	case step.Source == step.Target:
		conflict("source and destination are the same")
	case target.Exists && !overwrite:
		conflict("%s already exists", step.Target)
	case target.Exists && target.IsDir:
		conflict("%s is a directory", step.Target)
	default:
		after.move(step.Source, step.Target)
	}
}

func impactOf(in intent.Intent) ImpactType {
	switch in.(type) {
	case intent.CreateFile, intent.CreateDirectory, intent.CopyFile:
		return ImpactCreate
	case intent.WriteFile, intent.ModifyFile, intent.TruncateFile:
		return ImpactModify
	case intent.DeleteFile, intent.DeleteDirectory:
		return ImpactDelete
	case intent.MoveFile, intent.RenameFile:
		return ImpactMove
	case intent.ReadFile, intent.ListDirectory:
		return ImpactRead
	}
	return ImpactRead
}

func fileState(content string) PathState {
	return PathState{Exists: true, Size: int64(len(content)), content: content, hasContent: true}
}

// preview renders a line diff between the known content of st and next.
func preview(st PathState, next string) string {
	if !st.hasContent {
		return ""
	}
	return lineDiff(st.content, next)
}

func lineDiff(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		text := strings.TrimSuffix(d.Text, "\n")
		for _, line := range strings.Split(text, "\n") {
			out.WriteString(prefix)
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	return out.String()
}
