package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/schema"
)

var (
	exportKind string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored content of one kind to CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}
		schemas := schema.NewRegistry()
		if !schemas.Has(exportKind) {
			return eris.Errorf("unknown kind %q (known: %s)", exportKind, strings.Join(schemas.Kinds(), ", "))
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		posts, err := st.ListPostsByKind(ctx, exportKind)
		if err != nil {
			return eris.Wrap(err, "export: list posts")
		}

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrap(err, "export: create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if err := writeCSV(out, posts); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("kind", exportKind),
			zap.Int("rows", len(posts)),
		)
		return nil
	},
}

// writeCSV emits one row per post: the fixed post columns first, then the
// post's meta keys as extra columns in a stable order.
func writeCSV(out *os.File, posts []model.Post) error {
	metaCols := map[string]bool{}
	for _, p := range posts {
		for k := range p.Meta {
			metaCols[k] = true
		}
	}
	extra := make([]string, 0, len(metaCols))
	for k := range metaCols {
		extra = append(extra, k)
	}
	sort.Strings(extra)

	w := csv.NewWriter(out)
	header := append([]string{"id", "slug", "title", "content", "excerpt", "status", "author"}, extra...)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	for _, p := range posts {
		row := []string{p.ID, p.Slug, p.Title, p.Content, p.Excerpt, p.Status, p.AuthorID}
		for _, k := range extra {
			v, ok := p.Meta[k]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, fmt.Sprintf("%v", v))
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}

	w.Flush()
	return eris.Wrap(w.Error(), "export: flush")
}

func init() {
	exportCmd.Flags().StringVar(&exportKind, "kind", "course", "content kind to export")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (defaults to stdout)")
	rootCmd.AddCommand(exportCmd)
}
