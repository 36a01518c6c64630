package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "epub-translater",
	Short: "Batch translation engine for large documents",
	Long: `Translates large documents through a rate-limited LLM translation API.

The engine extracts and protects recurring terminology, packs fragments
into adaptive batches, dispatches them concurrently under a shared rate
limit with retry and backoff, caches every translated fragment, and
reassembles the output in original document order.

Use "epub-translater translate --help" for translation options.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default .epub-translater.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
