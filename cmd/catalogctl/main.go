// Command catalogctl seeds and bulk-loads the bookorama catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/bookorama/internal/catalogingest"
	"github.com/xenking/bookorama/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globals struct {
	databaseURL string
	lg          *zap.Logger
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Manage the bookorama catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if g.databaseURL == "" {
				g.databaseURL = envOr("BOOKORAMA_DATABASE_URL", "DATABASE_URL")
			}
			if g.databaseURL == "" {
				return errors.New("database URL is required: set --database-url, BOOKORAMA_DATABASE_URL or DATABASE_URL")
			}
			lg, err := zap.NewProduction()
			if err != nil {
				return errors.Wrap(err, "create logger")
			}
			g.lg = lg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.lg != nil {
				_ = g.lg.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&g.databaseURL, "database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(seedCmd(g), ingestCmd(g))
	return cmd
}

func seedCmd(g *globals) *cobra.Command {
	var (
		booksFile string
		apiKey    string
		pepper    string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default users, catalog and storefront API key",
		Long: `Create the default users, catalog and storefront API key.

Users admin@test.com (ADMIN) and user@test.com (CUSTOMER) are always
upserted. The API key gets the orders:read and orders:write scopes.

Examples:
  catalogctl seed --books-file db/seed/books.json --api-key dev-key
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("BOOKORAMA_SEED_API_KEY")
			}
			if pepper == "" {
				pepper = os.Getenv("BOOKORAMA_API_KEY_PEPPER")
			}

			f, err := os.Open(booksFile)
			if err != nil {
				return errors.Wrap(err, "open books file")
			}
			defer func() { _ = f.Close() }()
			books, err := catalogingest.ParseBooks(f)
			if err != nil {
				return errors.Wrapf(err, "parse %s", booksFile)
			}

			return withPool(cmd.Context(), g, func(pool *pgxpool.Pool) error {
				seeder := catalogingest.NewSeeder(
					postgres.NewUserRepository(pool),
					postgres.NewBookRepository(pool),
					postgres.NewAPIKeyRepository(pool),
					g.lg,
				)
				report, err := seeder.Seed(cmd.Context(), catalogingest.SeedInput{
					Books:  books,
					APIKey: apiKey,
					Pepper: []byte(pepper),
				})
				if err != nil {
					return errors.Wrap(err, "seed")
				}
				g.lg.Info("Seed completed", zap.Int("books", report.Books), zap.Int("users", len(report.Users)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&booksFile, "books-file", "db/seed/books.json", "JSON array of books")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Storefront API key to store (or BOOKORAMA_SEED_API_KEY)")
	cmd.Flags().StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or BOOKORAMA_API_KEY_PEPPER)")
	return cmd
}

func ingestCmd(g *globals) *cobra.Command {
	var opts catalogingest.Options
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Bulk-load books from gzip JSON-lines files",
		Long: `Bulk-load books from gzip-compressed JSON-lines files.

Each line is one book: {"isbn", "title", "author", "price", "category"}.
Files are parsed concurrently. An ISBN repeated across or within files is
reported and the last occurrence, in argument order, is stored.

Examples:
  catalogctl ingest data/books-1.jsonl.gz data/books-2.jsonl.gz
  catalogctl ingest --dry-run data/*.jsonl.gz
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), g, func(pool *pgxpool.Pool) error {
				ing := catalogingest.NewIngester(postgres.NewBookRepository(pool), g.lg, opts)
				report, err := ing.Ingest(cmd.Context(), args...)
				if err != nil {
					return errors.Wrap(err, "ingest")
				}
				for _, inv := range report.Invalid {
					g.lg.Warn("Skipped invalid record",
						zap.String("file", inv.File),
						zap.Int("line", inv.Line),
						zap.Error(inv.Err),
					)
				}
				g.lg.Info("Ingest completed",
					zap.Int("records", report.Records),
					zap.Int("invalid", len(report.Invalid)),
					zap.Int("duplicates", len(report.Duplicates)),
					zap.Int("upserted", report.Upserted),
					zap.Bool("dry_run", opts.DryRun),
				)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 500, "Books per upsert batch")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Parse and report without writing")
	return cmd
}

// withPool connects, applies migrations and runs fn.
func withPool(ctx context.Context, g *globals, fn func(pool *pgxpool.Pool) error) error {
	pool, err := postgres.NewPool(ctx, g.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return fn(pool)
}

func envOr(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
