package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dogepal/internal/config"
	applog "dogepal/internal/log"
	"dogepal/internal/services"
	"dogepal/internal/storage"
)

type rootOptions struct {
	dbPath   string
	logLevel string
}

// NewRootCommand builds the dogepalctl command tree. Flag defaults come from
// the environment so the CLI and the services share one database.
func NewRootCommand() *cobra.Command {
	cfg := config.Load()
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "dogepalctl",
		Short:         "Administer the dogepal spending database",
		Long:          "Apply migrations, seed sample spending and run the recommendation engine from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger := applog.New(applog.Config{
				Level:     applog.ParseLevel(opts.logLevel),
				Component: applog.ComponentCLI,
			})
			applog.SetDefault(logger)
		},
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", cfg.SQLiteDBPath, "SQLite database path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newEvaluateCommand(opts, cfg),
	)
	return root
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := InitSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			version, dirty, err := storage.MigrationVersion(opts.dbPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d (dirty=%t): %s\n", version, dirty, opts.dbPath)
			return nil
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var (
		count int
		seed  uint64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert realistic sample spending",
		Long:  "Insert sample spending across departments, vendors and boroughs, including deliberate outliers and a handful of small vendors.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 0 {
				return fmt.Errorf("--count must not be negative, got %d", count)
			}
			repo, err := InitSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			ctx := cmd.Context()
			inserted, existing := 0, 0
			for _, t := range NewSampleGenerator(seed, time.Now()).Generate(count) {
				_, err := repo.CreateSpending(ctx, t)
				switch {
				case errors.Is(err, storage.ErrConflict):
					existing++
				case err != nil:
					return fmt.Errorf("seed %s: %w", t.ID, err)
				default:
					inserted++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d transactions (%d already present)\n", inserted, existing)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 200, "Number of regular transactions to generate")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Random seed for reproducible data")
	return cmd
}

func newEvaluateCommand(opts *rootOptions, cfg *config.Config) *cobra.Command {
	var (
		minConfidence float64
		rulesFile     string
		save          bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the recommendation engine over stored spending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := InitSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			logger := applog.New(applog.Config{
				Level:     applog.ParseLevel(opts.logLevel),
				Component: applog.ComponentEngine,
			})
			engine, err := NewEngine(rulesFile, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			if save {
				svc := services.NewRecommendationService(repo, engine, nil, nil, cfg.DedupWindow)
				res, err := svc.Generate(ctx, minConfidence)
				if err != nil {
					return err
				}
				fmt.Fprint(out, RenderRecommendations(res.Stored))
				fmt.Fprintf(out, "Evaluated %d transactions: %d stored, %d duplicates, %d skipped\n",
					res.Evaluated, len(res.Stored), res.Duplicates, len(res.Skipped))
				return nil
			}

			snapshot, err := repo.Snapshot(ctx)
			if err != nil {
				return err
			}
			report, err := engine.EvaluateReport(snapshot, minConfidence)
			if err != nil {
				return err
			}
			fmt.Fprint(out, RenderRecommendations(report.Recommendations))
			fmt.Fprintf(out, "Evaluated %d transactions, %d skipped\n", report.Evaluated, len(report.Skipped))
			return nil
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", cfg.MinConfidence, "Minimum confidence in [0,1]")
	cmd.Flags().StringVar(&rulesFile, "rules", cfg.RulesFile, "TOML rules file overriding the stock rules")
	cmd.Flags().BoolVar(&save, "save", false, "Store new recommendations, skipping duplicates")
	return cmd
}
