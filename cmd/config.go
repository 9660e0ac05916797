package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fsagent/config"
)

var configGlobal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fsagent configuration",
	Long:  `Get and set configuration values for fsagent`,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s = %v\n", args[0], display(args[0], value))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every configuration value",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, key := range config.Keys {
			value, _ := cfg.Get(key)
			fmt.Printf("%-22s %v\n", key, display(key, value))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the workspace config, or with --global in
the user config. api_key is always stored in the user config.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		cfg, err := config.LoadConfig(ws)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if configGlobal || key == "api_key" {
			if err := config.SaveGlobalConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Printf("Set %s globally\n", key)
			return nil
		}
		if err := config.SaveLocalConfig(ws, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(ws)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// display masks secrets.
func display(key string, value interface{}) interface{} {
	if key != "api_key" {
		return value
	}
	s, _ := value.(string)
	if len(s) <= 8 {
		if s == "" {
			return "(unset)"
		}
		return "********"
	}
	return s[:4] + "…" + s[len(s)-4:]
}

func init() {
	configSetCmd.Flags().BoolVar(&configGlobal, "global", false, "Write to the user config instead of the workspace")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
}
