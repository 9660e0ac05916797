package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fsagent/config"
	"fsagent/internal/logging"
	"fsagent/interpreter"
	"fsagent/task"
	"fsagent/tui"
	"fsagent/workspace"
)

var (
	workspaceFlag string
	verbose       bool
	assumeYes     bool
)

var rootCmd = &cobra.Command{
	Use:   "fsagent",
	Short: "fsagent runs natural-language file operations with undo",
	Long: `fsagent turns plain-language requests into file operations inside one
workspace directory. Every change is backed up or recorded so it can be
undone, and a plan mode previews a batch of operations before running it.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(true)
		if err != nil {
			return err
		}
		defer env.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go handleSignals(ctx, env, sigs)

		repl := tui.NewREPL(env.session, os.Stdin, os.Stdout, env.confirm())
		return repl.Run(ctx)
	},
}

// handleSignals interrupts a running operation, or leaves when idle.
func handleSignals(ctx context.Context, env *environment, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if env.session.Gate().State().Busy {
				fmt.Fprint(os.Stderr, "\n"+tui.RenderRollback(env.session.Interrupt()))
				continue
			}
			env.logger.Debug("leaving on signal", zap.Stringer("signal", sig))
			env.close()
			os.Exit(130)
		}
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace directory (default: detected from the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging to stderr")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Approve every confirmation prompt")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupsCmd)
}

// environment is what every command needs to reach a workspace.
type environment struct {
	workspace string
	cfg       *config.Config
	logger    *zap.Logger
	session   *task.Session
	closed    bool
}

func resolveWorkspace() (string, error) {
	if workspaceFlag != "" {
		return workspaceFlag, nil
	}
	ws, err := workspace.DetectWorkspace()
	if err != nil {
		return "", fmt.Errorf("failed to detect workspace: %w", err)
	}
	return ws, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	if verbose {
		return logging.NewDevelopment()
	}
	lc := logging.DefaultConfig()
	lc.Level = cfg.LogLevel
	logger, err := logging.New(lc)
	if err != nil {
		return logging.NewDefault()
	}
	return logger
}

func newInterpreter(cfg *config.Config, logger *zap.Logger) interpreter.Interpreter {
	if cfg.APIKey == "" {
		return nil
	}
	return interpreter.New(interpreter.NewOpenAI(interpreter.OpenAIConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	}), logger)
}

// openEnv loads configuration and starts a session on the workspace.
func openEnv(watch bool) (*environment, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(ws)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	session, err := task.NewSession(ws, cfg, task.Options{
		Interpreter: newInterpreter(cfg, logger),
		Logger:      logger,
		Watch:       watch,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &environment{workspace: ws, cfg: cfg, logger: logger, session: session}, nil
}

func (e *environment) confirm() task.Confirm {
	if assumeYes {
		return tui.AlwaysYes
	}
	return tui.Confirmer(os.Stdin, os.Stdout)
}

func (e *environment) close() {
	if e.closed {
		return
	}
	e.closed = true
	if err := e.session.Close(); err != nil {
		e.logger.Warn("failed to close session", zap.Error(err))
	}
	_ = e.logger.Sync()
}
