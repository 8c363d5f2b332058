package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sagasync/sagasync/internal/sagasync"
)

var (
	flagStoreDSN     string
	flagNotionToken  string
	flagDirectoryURL string
	flagBooksDB      string
	flagSeriesDB     string
	flagVerbose      bool
)

func main() {
	root := &cobra.Command{
		Use:           "sagactl",
		Short:         "Operational commands for the sagasync reading-progress engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagStoreDSN, "store-dsn", "", "record store DSN (memory://, bolt://path, postgres://...)")
	root.PersistentFlags().StringVar(&flagNotionToken, "notion-token", "", "directory API token (defaults to SAGASYNC_NOTION_TOKEN)")
	root.PersistentFlags().StringVar(&flagDirectoryURL, "directory-url", "", "directory API base URL")
	root.PersistentFlags().StringVar(&flagBooksDB, "books-db", "", "books database id (defaults to SAGASYNC_BOOKS_DB_ID)")
	root.PersistentFlags().StringVar(&flagSeriesDB, "series-db", "", "series database id (defaults to SAGASYNC_SERIES_DB_ID)")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	root.AddCommand(importCmd(), watchCmd(), recomputeCmd(), resetCmd(), dedupeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type components struct {
	store      sagasync.RecordStore
	gateway    *sagasync.HTTPDirectoryGateway
	reconciler *sagasync.Reconciler
	cascader   *sagasync.Cascader
	importer   *sagasync.Importer
	opts       sagasync.Options
	logger     *slog.Logger
}

func buildComponents() (*components, error) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dsn := flagStoreDSN
	if dsn == "" {
		dsn = os.Getenv("SAGASYNC_STORE_DSN")
	}
	if dsn == "" {
		dsn = "bolt://.sagasync/records.db"
	}
	store, err := sagasync.BuildRecordStoreFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	token := flagNotionToken
	if token == "" {
		token = os.Getenv("SAGASYNC_NOTION_TOKEN")
	}
	gateway := sagasync.NewHTTPDirectoryGateway(sagasync.DirectoryGatewayOptions{
		BaseURL:       flagDirectoryURL,
		TokenProvider: sagasync.StaticToken(token),
	})

	booksDB := flagBooksDB
	if booksDB == "" {
		booksDB = os.Getenv("SAGASYNC_BOOKS_DB_ID")
	}
	seriesDB := flagSeriesDB
	if seriesDB == "" {
		seriesDB = os.Getenv("SAGASYNC_SERIES_DB_ID")
	}

	opts := sagasync.Options{
		Store:      store,
		Gateway:    gateway,
		BooksDBID:  booksDB,
		SeriesDBID: seriesDB,
		Logger:     logger,
	}
	reconciler := sagasync.NewReconciler(opts)
	cascader := sagasync.NewCascader(opts)
	return &components{
		store:      store,
		gateway:    gateway,
		reconciler: reconciler,
		cascader:   cascader,
		importer:   sagasync.NewImporter(sagasync.HintResolver{}, reconciler, cascader, logger),
		opts:       opts,
		logger:     logger,
	}, nil
}

func importCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a library export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()

			summary, err := c.importer.ImportFile(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: imported=%d failed=%d updatedBooks=%d\n",
				summary.RunID, summary.Imported, summary.Failed, summary.UpdatedBooks)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source label recorded on imported books")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and import CSV files as they appear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()
			return c.importer.WatchDirectory(cmd.Context(), args[0])
		},
	}
}

func recomputeCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute the final status of every series from the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()

			m := sagasync.NewMaintenance(sagasync.MaintenanceOptions{Options: c.opts, Lister: c.gateway})
			count, err := m.RecomputeSeries(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recomputed %d series\n", count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")
	return cmd
}

func resetCmd() *cobra.Command {
	var dryRun bool
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Archive every active page in the books and series databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && !confirmed {
				return fmt.Errorf("reset archives every page; pass --yes to confirm or --dry-run to preview")
			}
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()

			m := sagasync.NewMaintenance(sagasync.MaintenanceOptions{Options: c.opts, Lister: c.gateway})
			archived, err := m.ResetDirectory(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d pages\n", archived)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without archiving")
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the destructive reset")
	return cmd
}

func dedupeCmd() *cobra.Command {
	var dryRun bool
	var limit int
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Archive duplicate book pages, keeping the best candidate per group",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()

			m := sagasync.NewMaintenance(sagasync.MaintenanceOptions{Options: c.opts, Lister: c.gateway})
			report, err := m.DedupeBooks(cmd.Context(), sagasync.DedupeOptions{DryRun: dryRun, Limit: limit})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "groups=%d archived=%d\n", report.Groups, report.Archived)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report without archiving")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to archive (0 means unlimited)")
	return cmd
}
