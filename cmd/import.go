package cmd

import (
	"fmt"
	"io"

	"github.com/adalundhe/recall/core/importer"
	"github.com/adalundhe/recall/core/memory"
	"github.com/spf13/cobra"
)

var (
	importInclude []string
	importExclude []string
	importKind    string
	importWatch   bool
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import text and markdown files as memories",
	Long: `Import every matching file under <dir>. Each file becomes one memory,
found again by its path on later imports. With --watch, changes are applied
until interrupted and deleted files remove their memory.

Examples:
  recall import ~/notes
  recall import --include "**.md" --exclude "archive/**" --watch ~/notes`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	f := importCmd.Flags()
	f.StringSliceVar(&importInclude, "include", nil, "Include glob, repeatable (default from config)")
	f.StringSliceVar(&importExclude, "exclude", nil, "Exclude glob, repeatable (default from config)")
	f.StringVarP(&importKind, "kind", "k", string(memory.KindNote), "Kind given to new memories")
	f.BoolVarP(&importWatch, "watch", "w", false, "Keep watching for changes")
}

func runImport(cmd *cobra.Command, args []string) error {
	kind, ok := memory.ParseKind(importKind)
	if !ok {
		return fmt.Errorf("invalid kind %q (valid: %v)", importKind, memory.ValidKinds())
	}

	return withApp(cmd.Context(), func(a *app) error {
		ctx := cmd.Context()
		cfg := a.config.Import

		include := cfg.Include
		if cmd.Flags().Changed("include") {
			include = importInclude
		}
		exclude := cfg.Exclude
		if cmd.Flags().Changed("exclude") {
			exclude = importExclude
		}
		scanner, err := importer.NewScanner(importer.ScanConfig{
			Root:     args[0],
			Include:  include,
			Exclude:  exclude,
			MaxBytes: cfg.MaxBytes,
		})
		if err != nil {
			return err
		}

		imp := importer.New(a.text, a.ingest, importer.WithLogger(logger), importer.WithKind(kind))
		w := cmd.OutOrStdout()

		summary, err := imp.ImportDir(ctx, scanner)
		if err != nil {
			return err
		}
		outputImportSummary(w, scanner.Root(), summary)

		if !importWatch {
			return nil
		}

		watcher, err := importer.NewWatcher(scanner, cfg.Debounce, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "watching %s, press Ctrl-C to stop\n", scanner.Root())
		err = imp.Watch(ctx, watcher, func(res importer.Result, err error) {
			outputImportResult(w, res, err)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

func outputImportSummary(w io.Writer, root string, s importer.Summary) {
	p := paletteFor(w)
	fmt.Fprintf(w, "%sImported%s %s: %s%d created%s, %d updated, %d unchanged, %d skipped",
		p.bold, p.reset, root, p.green, s.Created, p.reset, s.Updated, s.Unchanged, s.Skipped)
	if s.Failed > 0 {
		fmt.Fprintf(w, ", %s%d failed%s", p.red, s.Failed, p.reset)
	}
	fmt.Fprintln(w)
}

func outputImportResult(w io.Writer, res importer.Result, err error) {
	p := paletteFor(w)
	if err != nil {
		fmt.Fprintf(w, "%sfailed%s %s: %v\n", p.red, p.reset, res.Path, err)
		return
	}
	if res.Action == importer.ActionUnchanged || res.Action == importer.ActionSkipped {
		return
	}
	fmt.Fprintf(w, "%s%-8s%s %s %s%s%s\n", p.green, res.Action, p.reset, res.Path, p.gray, res.RecordID, p.reset)
}
