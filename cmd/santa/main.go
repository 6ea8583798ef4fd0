package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"secretsanta/internal/platform/config"
	"secretsanta/internal/platform/logger"
)

const programName = "santa"

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Secret Santa gift-exchange coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")

	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		seedCommand(),
		drawCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commonRun loads configuration and installs the process logger.
func commonRun() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cfg.LogLevel).With("component", programName)
	slog.SetDefault(log)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		log.Debug(fmt.Sprintf(format, v...))
	})); err != nil {
		return nil, nil, fmt.Errorf("set GOMAXPROCS: %w", err)
	}
	return cfg, log, nil
}
