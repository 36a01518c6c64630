package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thunsis/epub-translater/internal/cache"
	"github.com/Thunsis/epub-translater/internal/config"
	"github.com/Thunsis/epub-translater/internal/document"
	"github.com/Thunsis/epub-translater/internal/pipeline"
	"github.com/Thunsis/epub-translater/internal/translator"
)

var (
	inputFile  string
	outputFile string
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a document",
	Long: `Translate a document fragment by fragment.

Fragments are batched, dispatched concurrently under the configured rate
limit, and reassembled in original order. Recurring terminology is
extracted up front and protected across the whole run; translated
fragments are cached so interrupted runs resume cheaply.

Tuning flags override config-file and EPUBTRANSLATER_* environment
settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		v := viper.GetViper()
		bindTranslateFlags(v, cmd)
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		if cfg.APIKey == "" {
			return fmt.Errorf("api key is required (--api-key or EPUBTRANSLATER_API_KEY)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.Default()
		svc := translator.NewDeepSeek(translator.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)

		var store cache.Cache
		if cfg.CacheEnabled {
			db, err := cache.Open(cfg.CachePath)
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}
			defer db.Close()
			store = db
		}

		loader, saver := openDocument(inputFile, outputFile)
		p := pipeline.New(loader, saver, svc, store, nil, cfg, logger)

		summary, err := p.Run(ctx)
		printSummary(summary)
		if err != nil {
			return err
		}

		fmt.Printf("Successfully translated %s to %s\n", cfg.SourceLang, cfg.TargetLang)
		return nil
	},
}

// openDocument picks the document codec by file extension.
func openDocument(input, output string) (document.Loader, document.Saver) {
	switch filepath.Ext(input) {
	case ".md", ".markdown":
		doc := &document.Markdown{InputPath: input, OutputPath: output}
		return doc, doc
	default:
		doc := &document.TextFile{InputPath: input, OutputPath: output}
		return doc, doc
	}
}

// bindTranslateFlags overlays the command's tuning flags onto the viper
// instance so explicit flags beat config-file and environment values.
func bindTranslateFlags(v *viper.Viper, cmd *cobra.Command) {
	bindings := map[string]string{
		"source_lang":           "source",
		"target_lang":           "target",
		"api_key":               "api-key",
		"base_url":              "base-url",
		"model":                 "model",
		"batch_char_budget":     "batch-chars",
		"token_budget":          "batch-tokens",
		"concurrent_requests":   "concurrency",
		"rate_limit_per_window": "rate-limit",
		"max_retries":           "max-retries",
		"auto_terms_enabled":    "auto-terms",
		"terms_file":            "terms-file",
		"domain_hint":           "domain-hint",
		"cache_enabled":         "cache",
		"cache_path":            "cache-path",
		"on_failure":            "on-failure",
	}
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func printSummary(s *pipeline.Summary) {
	if s == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "\nRun %s finished in state %s after %s\n", s.RunID, s.State, s.Duration.Round(1e7))
	fmt.Fprintf(os.Stderr, "Fragments:        %d (%d failed)\n", s.Fragments, s.FailedFragments)
	fmt.Fprintf(os.Stderr, "Batches:          %d (%d failed)\n", s.Batches, s.FailedBatches)
	fmt.Fprintf(os.Stderr, "Protected terms:  %d\n", s.Terms)
	fmt.Fprintf(os.Stderr, "API calls:        %d (%d retries)\n", s.APICalls, s.Retries)
	fmt.Fprintf(os.Stderr, "Cache hits:       %d fragments\n", s.CacheHits)
	if s.IntegrityErrors > 0 {
		fmt.Fprintf(os.Stderr, "Integrity errors: %d\n", s.IntegrityErrors)
	}
	if s.WrongLanguage > 0 {
		fmt.Fprintf(os.Stderr, "Wrong language:   %d fragments\n", s.WrongLanguage)
	}
	fmt.Fprintf(os.Stderr, "Estimated tokens: %d in / %d out\n", s.TokensIn, s.TokensOutEstimate)
	fmt.Fprintf(os.Stderr, "Estimated cost:   $%.4f\n", s.EstimatedCostUSD)
	for _, be := range s.BatchErrors {
		fmt.Fprintf(os.Stderr, "  batch %d failed (%d fragments): %v\n", be.BatchID, len(be.FragmentIDs), be.Err)
	}
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file to translate (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for translation (required)")
	translateCmd.Flags().StringP("source", "s", "en", "Source language code (\"auto\" to detect)")
	translateCmd.Flags().StringP("target", "t", "zh-CN", "Target language code")

	translateCmd.Flags().String("api-key", "", "Translation API key")
	translateCmd.Flags().String("base-url", "", "API base URL (default DeepSeek)")
	translateCmd.Flags().String("model", "deepseek-chat", "Model name")

	translateCmd.Flags().Int("batch-chars", 4000, "Character budget per batch")
	translateCmd.Flags().Int("batch-tokens", 2000, "Estimated-token budget per batch")
	translateCmd.Flags().Int("concurrency", 3, "Concurrent in-flight requests")
	translateCmd.Flags().Int("rate-limit", 10, "Requests per rate-limit window")
	translateCmd.Flags().Int("max-retries", 3, "Retries per batch after the first attempt")

	translateCmd.Flags().Bool("auto-terms", true, "Extract recurring terminology before translating")
	translateCmd.Flags().String("terms-file", "", "File of user terms (term, or term<TAB>translation per line)")
	translateCmd.Flags().String("domain-hint", "", "Domain hint for terminology extraction")

	translateCmd.Flags().Bool("cache", true, "Enable the translation cache")
	translateCmd.Flags().String("cache-path", ".translation_cache/translations.db", "Cache database path")
	translateCmd.Flags().String("on-failure", "keep-source", "Failed-batch policy: keep-source, mark, abort")

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
}
