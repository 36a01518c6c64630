package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thunsis/epub-translater/internal/cache"
	"github.com/Thunsis/epub-translater/internal/config"
	"github.com/Thunsis/epub-translater/internal/extractor"
	"github.com/Thunsis/epub-translater/internal/ratelimit"
	"github.com/Thunsis/epub-translater/internal/retry"
	"github.com/Thunsis/epub-translater/internal/terms"
	"github.com/Thunsis/epub-translater/internal/translator"
)

var (
	termsDBPath     string
	termsSourceLang string
	termsTargetLang string
)

var termsCmd = &cobra.Command{
	Use:   "terms",
	Short: "Manage protected terminology",
	Long: `Extract, import, and list protected terminology.

Protected terms are kept identical across every batch of a translation
run; terms imported with a pinned translation are instead enforced
through the translation prompt.`,
}

var (
	termsExtractInput string
	termsExtractSave  bool
)

var termsExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract recurring terminology from a document",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.New(), configFile)
		if err != nil {
			return err
		}
		cfg.SourceLang = termsSourceLang
		cfg.TargetLang = termsTargetLang
		if cfg.APIKey == "" {
			return fmt.Errorf("api key is required (--api-key or EPUBTRANSLATER_API_KEY)")
		}

		ctx := context.Background()
		loader, _ := openDocument(termsExtractInput, "")
		fragments, err := loader.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load document: %w", err)
		}

		logger := slog.Default()
		svc := translator.NewDeepSeek(translator.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
		limiter := ratelimit.New(cfg.RateLimitPerWindow, cfg.RateLimitWindow)
		policy := retry.NewPolicy(cfg.MaxRetries, cfg.BackoffBaseDelay, cfg.BackoffMaxDelay)

		ext := extractor.New(svc, limiter, policy, nil, logger)
		table, err := ext.Extract(ctx, fragments, extractor.Options{
			MinTermFrequency: cfg.MinTermFrequency,
			MaxTermLength:    cfg.MaxTermLength,
			MaxSampleChars:   cfg.MaxSampleChars,
			Stopwords:        cfg.Stopwords,
			DomainHint:       cfg.DomainHint,
			CaseInsensitive:  cfg.CaseInsensitiveTerms,
			AttemptTimeout:   cfg.Timeout,
		})
		if err != nil {
			return fmt.Errorf("extraction failed: %w", err)
		}

		printTerms(table.Terms())

		if termsExtractSave {
			db, err := cache.Open(termsDBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
			if err := db.SaveTerms(ctx, termRecords(table.Terms(), cfg)); err != nil {
				return fmt.Errorf("failed to save terms: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Saved %d terms.\n", table.Len())
		}
		return nil
	},
}

var termsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import user terms from a file",
	Long: `Import terms from a file with one term per line. A line may carry a
pinned translation in a second tab- or comma-separated column.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		custom, err := terms.LoadCustomTerms(args[0])
		if err != nil {
			return err
		}

		db, err := cache.Open(termsDBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		records := make([]cache.TermRecord, len(custom))
		for i, t := range custom {
			records[i] = cache.TermRecord{
				SourceLang:  termsSourceLang,
				TargetLang:  termsTargetLang,
				Surface:     t.Surface,
				Normalized:  t.Surface,
				Translation: t.Translation,
				Frequency:   t.Frequency,
				UserTerm:    true,
			}
		}
		if err := db.SaveTerms(context.Background(), records); err != nil {
			return fmt.Errorf("failed to save terms: %w", err)
		}
		fmt.Printf("Imported %d terms.\n", len(records))
		return nil
	},
}

var termsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted terminology for a language pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := cache.Open(termsDBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		records, err := db.ListTerms(context.Background(), termsSourceLang, termsTargetLang)
		if err != nil {
			return fmt.Errorf("failed to list terms: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No terms stored for this language pair.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TERM\tTRANSLATION\tFREQ\tUSER")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", r.Surface, r.Translation, r.Frequency, r.UserTerm)
		}
		return w.Flush()
	},
}

func printTerms(list []terms.Term) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TERM\tFREQ\tFIRST SEEN")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%d\t%d\n", t.Surface, t.Frequency, t.FirstSeen)
	}
	w.Flush()
}

func termRecords(list []terms.Term, cfg *config.Run) []cache.TermRecord {
	records := make([]cache.TermRecord, len(list))
	for i, t := range list {
		records[i] = cache.TermRecord{
			SourceLang:  cfg.SourceLang,
			TargetLang:  cfg.TargetLang,
			Surface:     t.Surface,
			Normalized:  t.Normalized,
			Translation: t.Translation,
			Frequency:   t.Frequency,
			UserTerm:    t.UserTerm,
		}
	}
	return records
}

func init() {
	rootCmd.AddCommand(termsCmd)

	termsCmd.PersistentFlags().StringVar(&termsDBPath, "db", ".translation_cache/translations.db", "Database path")
	termsCmd.PersistentFlags().StringVarP(&termsSourceLang, "source", "s", "en", "Source language code")
	termsCmd.PersistentFlags().StringVarP(&termsTargetLang, "target", "t", "zh-CN", "Target language code")

	termsExtractCmd.Flags().StringVarP(&termsExtractInput, "input", "i", "", "Document to extract terms from (required)")
	termsExtractCmd.Flags().BoolVar(&termsExtractSave, "save", false, "Persist extracted terms to the database")
	termsExtractCmd.MarkFlagRequired("input")

	termsCmd.AddCommand(termsExtractCmd)
	termsCmd.AddCommand(termsImportCmd)
	termsCmd.AddCommand(termsListCmd)
}
