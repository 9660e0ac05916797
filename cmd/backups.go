package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"fsagent/backup"
	"fsagent/config"
	"fsagent/paths"
	"fsagent/tui"
)

var (
	cleanupMaxAge   int
	cleanupMaxCount int
	cleanupDryRun   bool
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Inspect and prune stored backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups by session",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _, err := backupsRoot()
		if err != nil {
			return err
		}
		fs := afero.NewOsFs()
		sessions, err := backup.Sessions(fs, root)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No backups found.")
			return nil
		}

		now := time.Now()
		for _, id := range sessions {
			store, err := backup.Open(fs, root, id, nil)
			if err != nil {
				return err
			}
			fmt.Print(tui.RenderBackups(id, store.List(), now))
		}
		return nil
	},
}

var backupsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete backups beyond the retention limits",
	Long: `Delete backups older than --max-age-hours and beyond the --max-count most
recent, per session. Limits default to the configured retention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, cfg, err := backupsRoot()
		if err != nil {
			return err
		}
		maxAge, maxCount := cfg.BackupMaxAgeHours, cfg.BackupMaxCount
		if cmd.Flags().Changed("max-age-hours") {
			maxAge = cleanupMaxAge
		}
		if cmd.Flags().Changed("max-count") {
			maxCount = cleanupMaxCount
		}

		fs := afero.NewOsFs()
		sessions, err := backup.Sessions(fs, root)
		if err != nil {
			return err
		}
		for _, id := range sessions {
			store, err := backup.Open(fs, root, id, nil)
			if err != nil {
				return err
			}
			fmt.Print(tui.RenderCleanup(id, store.Cleanup(maxAge, maxCount, cleanupDryRun)))
			if !cleanupDryRun && store.Len() == 0 {
				_ = fs.Remove(store.Dir())
			}
		}
		return nil
	},
}

func backupsRoot() (string, *config.Config, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.LoadConfig(ws)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	pp, err := paths.NewProjectPaths(ws)
	if err != nil {
		return "", nil, err
	}
	return pp.BackupsDir(), cfg, nil
}

func init() {
	backupsCleanupCmd.Flags().IntVar(&cleanupMaxAge, "max-age-hours", 0, "Delete backups older than this many hours")
	backupsCleanupCmd.Flags().IntVar(&cleanupMaxCount, "max-count", 0, "Keep at most this many backups per session")
	backupsCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted")

	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsCleanupCmd)
}
