package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/viant/gatekeeper"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Approval gate lifecycle manager",
	Long: `Gatekeeper keeps pipeline approval gates in exactly one terminal state,
expires overdue gates and notifies suspended executions once a gate completes.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file URL (yaml or json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	rootCmd.PersistentFlags().String("dsn", "", "postgres DSN override")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("store.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
}

func initConfig() {
	viper.AutomaticEnv()
	// e.g. GATEKEEPER_STORE_DSN for store.dsn
	viper.SetEnvPrefix("GATEKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

// loadConfig reads the config file, if any, and applies flag and env
// overrides.
func loadConfig(ctx context.Context) (*gatekeeper.Config, error) {
	config := gatekeeper.DefaultConfig()
	if location := viper.GetString("config"); location != "" {
		loaded, err := gatekeeper.LoadConfig(ctx, location)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	if level := viper.GetString("log.level"); level != "" {
		config.Log.Level = level
	}
	if dsn := viper.GetString("store.dsn"); dsn != "" {
		config.Store.Kind = gatekeeper.StorePostgres
		config.Store.DSN = dsn
	}
	if address := viper.GetString("metrics.address"); address != "" {
		config.Metrics.Address = address
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func newLogger(config *gatekeeper.Config) (zerolog.Logger, error) {
	logger, err := gatekeeper.NewLogger(config.Log, os.Stderr)
	if err != nil {
		return logger, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
