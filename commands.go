package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/batch"
	"github.com/ces0491/isrc-meta-data-finder/internal/config"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/parser"
)

type commandContext struct {
	configFlag  *string
	jsonFlag    *bool
	metricsFlag *bool

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(strings.TrimSpace(*c.configFlag))
	})
	return c.config, c.configErr
}

// open builds the app for one command. Logs go to stderr so stdout stays
// machine readable.
func (c *commandContext) open(cmd *cobra.Command, progress func(batch.Progress)) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	var metricsOut io.Writer
	if *c.metricsFlag {
		metricsOut = cmd.ErrOrStderr()
	}
	return newApp(cmd.Context(), cfg, cmd.ErrOrStderr(), metricsOut, progress)
}

func (c *commandContext) wantJSON(cmd *cobra.Command) bool {
	return *c.jsonFlag || !isTerminal(cmd.OutOrStdout())
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var jsonFlag, metricsFlag bool
	ctx := &commandContext{configFlag: &configFlag, jsonFlag: &jsonFlag, metricsFlag: &metricsFlag}

	rootCmd := &cobra.Command{
		Use:           "isrcfinder",
		Short:         "Aggregate and score recording metadata by ISRC",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file (defaults to $ISRCFINDER_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Write JSON even on a terminal")
	rootCmd.PersistentFlags().BoolVar(&metricsFlag, "metrics", false, "Print fetch, cache and aggregation counters to stderr on exit")

	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newBulkCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newSourcesCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	return rootCmd
}

type optionFlags struct {
	comprehensive bool
	lyrics        bool
	credits       bool
	force         bool
}

func (f *optionFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.comprehensive, "comprehensive", false, "Consult every configured source")
	cmd.Flags().BoolVar(&f.lyrics, "lyrics", false, "Include lyrics")
	cmd.Flags().BoolVar(&f.credits, "credits", false, "Include credits")
	cmd.Flags().BoolVar(&f.force, "force", false, "Ignore cached results")
}

func (f *optionFlags) options() models.Options {
	return models.Options{
		Comprehensive:  f.comprehensive,
		IncludeLyrics:  f.lyrics,
		IncludeCredits: f.credits,
		ForceRefresh:   f.force,
	}
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var flags optionFlags
	cmd := &cobra.Command{
		Use:   "analyze ISRC [ISRC...]",
		Short: "Analyze one or more ISRCs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var analyses []*models.Analysis
			var failures []error
			for _, code := range args {
				analysis, err := a.service.Analyze(cmd.Context(), code, flags.options())
				if err != nil {
					if errors.Is(err, cmd.Context().Err()) {
						return err
					}
					failures = append(failures, fmt.Errorf("%s: %w", code, err))
				}
				if analysis != nil {
					analyses = append(analyses, analysis)
				}
			}

			if ctx.wantJSON(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), analyses); err != nil {
					return err
				}
			} else {
				for _, analysis := range analyses {
					renderAnalysis(cmd.OutOrStdout(), analysis)
				}
			}
			return errors.Join(failures...)
		},
	}
	flags.register(cmd)
	return cmd
}

func newBulkCommand(ctx *commandContext) *cobra.Command {
	var flags optionFlags
	var file string
	var workers int
	cmd := &cobra.Command{
		Use:   "bulk [ISRC...]",
		Short: "Analyze a list of ISRCs from arguments or a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readISRCFile(file)
				if err != nil {
					return err
				}
				codes = append(codes, fromFile...)
			}
			if len(codes) == 0 {
				return errors.New("no ISRCs given: pass them as arguments or with --file")
			}

			var progress func(batch.Progress)
			if isTerminal(cmd.ErrOrStderr()) {
				progress = func(p batch.Progress) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d analyzed", p.Completed, p.Total)
					if p.Completed == p.Total {
						fmt.Fprintln(cmd.ErrOrStderr())
					}
				}
			}
			if workers > 0 {
				if _, err := ctx.ensureConfig(); err != nil {
					return err
				}
				ctx.config.Batch.Workers = workers
			}

			a, err := ctx.open(cmd, progress)
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.service.AnalyzeBulk(cmd.Context(), codes, flags.options())
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file with an ISRC column")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent analyses (defaults to batch.workers)")
	return cmd
}

func readISRCFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parser.ReadISRCs(f)
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var historyLimit uint64
	cmd := &cobra.Command{
		Use:   "show ISRC",
		Short: "Show the stored record and recent analyses for an ISRC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return apperrors.Wrap(apperrors.ErrConfiguration, "cli", "show", "database.path is empty", nil)
			}

			record, score, err := a.service.Stored(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			history, err := a.db.History(cmd.Context(), record.ISRC, historyLimit)
			if err != nil {
				return err
			}

			if ctx.wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"record":  record,
					"score":   score,
					"history": historyView(history),
				})
			}
			renderStored(cmd.OutOrStdout(), record, score, history)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&historyLimit, "history", 10, "Number of history rows to show")
	return cmd
}

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List providers and whether they are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			status := a.registry.Status()
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			renderSources(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return apperrors.Wrap(apperrors.ErrConfiguration, "cli", "stats", "database.path is empty", nil)
			}

			stats, err := a.db.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}
