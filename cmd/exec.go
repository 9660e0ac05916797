package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fsagent/errs"
	"fsagent/intent"
	"fsagent/tui"
)

var execJSON bool

var execCmd = &cobra.Command{
	Use:   "exec [request]",
	Short: "Run a single request and exit",
	Long: `Run one request against the workspace. The request is plain language
unless --json is given, in which case it is an operation object such as
{"type":"create_file","path":"notes.txt","content":"hello"}.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(false)
		if err != nil {
			return err
		}
		defer env.close()

		line := strings.Join(args, " ")
		ctx := cmd.Context()

		var in intent.Intent
		if execJSON {
			in, err = intent.Decode([]byte(line))
		} else {
			in, err = env.session.Interpret(ctx, line)
		}
		if err != nil {
			return err
		}

		res := env.session.ExecuteCommand(ctx, in, env.confirm())
		fmt.Fprint(os.Stdout, tui.RenderResult(res))
		if !res.Success {
			return errs.New(errs.KindOf(res.Err), "exec", "request failed")
		}
		return nil
	},
}

func init() {
	execCmd.Flags().BoolVar(&execJSON, "json", false, "Treat the request as an operation JSON object")
}
