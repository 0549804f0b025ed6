package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jmcleod/editgate/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "editgate",
	Short: "editgate guards a website editor behind a single admin login",
	Long: `A small admin server for editing a website's content document.
It provides password login with per-IP lockout, sliding sessions, an access
log and a JSON content store with backups.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command. Errors have already been printed.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
}

// loadConfig reads the config file named by --config, then the environment.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
