// Package cmd implements the crawld command-line interface: seeding,
// pipeline stage daemons, and the admin HTTP server.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seekerlabs/crawld/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "crawld",
		Short: "Distributed web crawler and ingestion pipeline",
		Long: `crawld is the ingestion core of a distributed web search engine:
a prioritized URL frontier, polite distributed fetch workers, URL and
content deduplication, full-text indexing, and offline PageRank.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are visible to viper.
	_ = godotenv.Load()

	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newSchedulerCommand())
	rootCmd.AddCommand(newFetchCommand())
	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(newIndexCommand())
	rootCmd.AddCommand(newRankCommand())
	rootCmd.AddCommand(newHTTPDCommand())
}

// initConfig wires viper: environment variables override the config file,
// which overrides defaults. The config file is optional.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	config.SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "config file not found, using defaults and environment: %v\n", err)
	}

	if err := viper.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("failed to bind debug flag: %w", err)
	}

	if viper.GetBool("app.debug") {
		viper.Set("logger.level", "debug")
		viper.Set("logger.development", true)
	}

	return nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
