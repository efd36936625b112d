package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"timeledger/internal/config"
	appLog "timeledger/internal/log"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "timeledger",
	Short: "Reconcile meetings and sent email into time entries",
	Long: `timeledger collects the owner's customer meetings and sent emails, classifies
them against the customer directory, fits each into the gaps of the day and
logs it to the time-tracking service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".timeledger", "config.yaml")
}

func init() {
	def := config.DefaultConfig()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", defaultConfigPath(), "config file")
	pf.String("db", def.Store.DBPath, "SQLite database path")
	pf.String("lock", "", "run lock path (default <db>.lock)")
	pf.String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	pf.String("role", def.Owner.Role, "active priority column (TC, IC, CT, ONB)")
	pf.String("listen", def.Listen, "HTTP listen address for serve")
	pf.Int("lookback", def.LookbackHours, "hours of activity collected by refresh")
}
