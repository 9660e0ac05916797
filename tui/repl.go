package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fsagent/errs"
	"fsagent/intent"
	"fsagent/task"
)

const helpText = `Type a request in plain language, or an operation as JSON:
  {"type":"create_file","path":"notes.txt","content":"hello"}

Commands:
  undo [n]           reverse the last n operations (default 1)
  history            list recorded operations
  stats              show undo statistics
  plan <request>     queue a request instead of running it
  plan show          preview the queued operations
  plan run [--force] execute the queue
  plan clear         empty the queue
  help               show this text
  exit, quit         leave
`

// REPL reads requests line by line and runs them against a session.
type REPL struct {
	session *task.Session
	in      *bufio.Scanner
	out     io.Writer
	confirm task.Confirm
}

// NewREPL creates a prompt over session. A nil confirm refuses every
// destructive operation.
func NewREPL(session *task.Session, in io.Reader, out io.Writer, confirm task.Confirm) *REPL {
	return &REPL{
		session: session,
		in:      bufio.NewScanner(in),
		out:     out,
		confirm: confirm,
	}
}

// Run loops until exit, end of input or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintf(r.out, "%s %s\n%s\n", Title("fsagent"), r.session.Workspace(),
		hintStyle.Render("type `help` for commands, `exit` to leave"))

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		if quit := r.Handle(ctx, r.in.Text()); quit {
			return nil
		}
	}
}

// Handle processes one input line and reports whether the user asked to
// leave.
func (r *REPL) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "exit", "quit":
		return true
	case "help":
		fmt.Fprint(r.out, helpText)
	case "undo":
		r.undo(ctx, fields[1:])
	case "history":
		fmt.Fprint(r.out, RenderHistory(r.session.HistorySummary()))
	case "stats":
		fmt.Fprint(r.out, RenderStats(r.session.Statistics()))
	case "plan":
		r.plan(ctx, strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	default:
		in, err := r.parse(ctx, line)
		if err != nil {
			r.printError(err)
			return false
		}
		fmt.Fprint(r.out, RenderResult(r.session.ExecuteCommand(ctx, in, r.confirm)))
	}
	return false
}

// parse decodes a JSON operation directly and sends anything else to the
// interpreter.
func (r *REPL) parse(ctx context.Context, line string) (intent.Intent, error) {
	if strings.HasPrefix(line, "{") {
		return intent.Decode([]byte(line))
	}
	return r.session.Interpret(ctx, line)
}

func (r *REPL) undo(ctx context.Context, args []string) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			r.printError(errs.Newf(errs.ValidationFailure, "undo", "%q is not a number", args[0]))
			return
		}
		n = v
	}
	results, err := r.session.UndoOperations(ctx, n)
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprint(r.out, RenderUndo(results))
}

func (r *REPL) plan(ctx context.Context, rest string) {
	switch {
	case rest == "" || rest == "show":
		fmt.Fprint(r.out, RenderAnalysis(r.session.AnalyzePlan()))
	case rest == "clear":
		r.session.ClearPlan()
		fmt.Fprintln(r.out, okStyle.Render("plan cleared"))
	case rest == "run" || rest == "run --force":
		run, err := r.session.ExecutePlan(ctx, r.confirm, rest == "run --force")
		if err != nil {
			if len(run.Analysis.Impacts) > 0 {
				fmt.Fprint(r.out, RenderAnalysis(run.Analysis))
			}
			r.printError(err)
			return
		}
		fmt.Fprint(r.out, RenderPlanRun(run))
	default:
		in, err := r.parse(ctx, rest)
		if err != nil {
			r.printError(err)
			return
		}
		n, err := r.session.AddToPlan(in)
		if err != nil {
			r.printError(err)
			return
		}
		fmt.Fprintf(r.out, "%s\n", okStyle.Render(fmt.Sprintf("queued #%d: %s", n, intent.Describe(in))))
	}
}

func (r *REPL) printError(err error) {
	fmt.Fprintln(r.out, errorStyle.Render("✗ "+errs.Message(err)))
	for _, s := range errs.Suggestions(err) {
		fmt.Fprintln(r.out, hintStyle.Render("hint: "+s))
	}
}
