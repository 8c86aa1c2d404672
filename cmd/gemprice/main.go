package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gemprice/internal/config"
)

var (
	version = "1.0.0"
	envFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "gemprice",
		Short: "AI-powered dynamic pricing API",
		Long: `gemprice recommends selling prices for products using a generative model,
with deterministic markup fallbacks when the model cannot answer.

Configuration comes from the environment and an optional .env file.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load (ignored when missing)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	v, err := config.NewViper(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = config.NewConfig(v)
	setupLogging(logOutput(cmd), cfg.Debug)
	return nil
}

// logOutput keeps stdout clean for commands that print results there.
func logOutput(cmd *cobra.Command) io.Writer {
	if cmd.Annotations["output"] == "stdout" {
		return cmd.ErrOrStderr()
	}
	return os.Stdout
}

func setupLogging(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gemprice %s\n", version)
		},
	}
}
