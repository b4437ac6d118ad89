package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coursekit/content-port/internal/fetcher"
	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/port"
	"github.com/coursekit/content-port/internal/resolve"
	"github.com/coursekit/content-port/internal/schema"
)

var (
	importCSVPath  string
	importXLSXPath string
	importKind     string
	importSheet    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import content from a CSV or XLSX file",
	Long:  "Reads rows from the given file, sanitizes and validates them against the kind schema, resolves references, and creates or updates the stored content. A per-row report is printed at the end.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}
		if (importCSVPath == "") == (importXLSXPath == "") {
			return eris.New("exactly one of --csv or --xlsx is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		schemas := schema.NewRegistry()
		if cfg.Import.SchemaFile != "" {
			f, err := os.Open(cfg.Import.SchemaFile)
			if err != nil {
				return eris.Wrap(err, "open schema file")
			}
			err = schemas.FromYAML(f)
			f.Close() //nolint:errcheck
			if err != nil {
				return err
			}
		}
		if importKind != "" && !schemas.Has(importKind) {
			return eris.Errorf("unknown kind %q (known: %s)", importKind, strings.Join(schemas.Kinds(), ", "))
		}

		hostRates := make(map[string]rate.Limit, len(cfg.Fetch.HostRates))
		for host, r := range cfg.Fetch.HostRates {
			hostRates[host] = rate.Limit(r)
		}
		ft := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
			MaxBytes:   cfg.Fetch.MaxBytes,
			HostRates:  hostRates,
		})

		resolver := resolve.New(st, ft, resolve.Options{
			Taxonomies:       resolve.DefaultTaxonomies(),
			PrivilegedOwners: cfg.Import.PrivilegedOwners,
		})
		registry := port.NewRegistry(schemas, st, resolver, port.Options{
			DefaultAuthorID: cfg.Import.DefaultAuthor,
		})
		importer := port.NewImporter(registry, st)

		var (
			source  string
			records <-chan model.RawRecord
			srcErrs <-chan error
		)
		switch {
		case importCSVPath != "":
			source = importCSVPath
			f, err := os.Open(importCSVPath)
			if err != nil {
				return eris.Wrap(err, "open csv")
			}
			defer f.Close() //nolint:errcheck
			records, srcErrs = fetcher.StreamCSVRecords(ctx, f, fetcher.CSVOptions{Kind: importKind})
		default:
			source = importXLSXPath
			recs, err := fetcher.ReadXLSXRecords(importXLSXPath, fetcher.XLSXOptions{
				Kind:      importKind,
				SheetName: importSheet,
			})
			if err != nil {
				return eris.Wrap(err, "read xlsx")
			}
			records, srcErrs = sliceSource(recs)
		}

		report, err := importer.Import(ctx, source, records, srcErrs)
		if report != nil {
			printReport(report)
		}
		if err != nil {
			return eris.Wrap(err, "import")
		}
		return nil
	},
}

// sliceSource adapts an in-memory row slice to the channel pair the
// importer consumes.
func sliceSource(recs []model.RawRecord) (<-chan model.RawRecord, <-chan error) {
	records := make(chan model.RawRecord, len(recs))
	errs := make(chan error, 1)
	for _, r := range recs {
		records <- r
	}
	close(records)
	close(errs)
	return records, errs
}

// printReport writes the per-row outcome and batch totals to stdout.
func printReport(report *model.Report) {
	for _, row := range report.Rows {
		for _, rowErr := range row.Errors {
			loc := fmt.Sprintf("row %d (%s)", row.Index+1, row.Kind)
			if rowErr.Field != "" {
				loc += " field " + rowErr.Field
			}
			fmt.Printf("%s: [%s] %s\n", loc, rowErr.Code, rowErr.Message)
		}
	}
	fmt.Printf("run %s: %d created, %d updated, %d failed (%d rows)\n",
		report.RunID, report.Created, report.Updated, report.Failed, len(report.Rows))

	zap.L().Info("import report",
		zap.String("run_id", report.RunID),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
	)
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file")
	importCmd.Flags().StringVar(&importXLSXPath, "xlsx", "", "path to XLSX file")
	importCmd.Flags().StringVar(&importKind, "kind", "", "kind for rows without a _type column (course, lesson, question)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (defaults to the first sheet)")
	rootCmd.AddCommand(importCmd)
}
