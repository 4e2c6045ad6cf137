package cmd

import (
	"fmt"

	"github.com/adalundhe/recall/core/vectorstore"
	"github.com/spf13/cobra"
)

var (
	statsMetricsFile string
	statsJSON        bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store sizes",
	Long: `Show how many records, vectors, entities and relationships are stored.
With --metrics-file the counts are also written in the Prometheus textfile
format.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsMetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	statsCmd.Flags().Lookup("metrics-file").NoOptDefVal = "-"
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}

type statsOutput struct {
	Records       int    `json:"records"`
	Indexed       uint64 `json:"indexed"`
	Vectors       int    `json:"vectors"`
	Entities      int    `json:"entities"`
	Relationships int    `json:"relationships"`
	VectorBackend string `json:"vector_backend"`
	DataDir       string `json:"data_dir"`
}

func runStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		ctx := cmd.Context()
		var (
			out statsOutput
			err error
		)
		if out.Records, err = a.text.Count(ctx); err != nil {
			return err
		}
		if out.Indexed, err = a.text.IndexedCount(); err != nil {
			return err
		}
		out.Vectors, _ = vectorstore.Len(a.vectors)
		if out.Entities, out.Relationships, err = a.graph.Counts(ctx); err != nil {
			return err
		}
		out.VectorBackend = a.config.Vector.Backend
		out.DataDir = a.dirs.Data

		if statsMetricsFile != "" {
			path := statsMetricsFile
			if path == "-" {
				path = a.dirs.MetricsFile()
			}
			a.metrics.SetStoreSize("records", out.Records)
			a.metrics.SetStoreSize("vectors", out.Vectors)
			a.metrics.SetStoreSize("entities", out.Entities)
			a.metrics.SetStoreSize("relationships", out.Relationships)
			if err := a.metrics.WriteTextfile(path); err != nil {
				return err
			}
			logger.Info("metrics written", "path", path)
		}

		w := cmd.OutOrStdout()
		if statsJSON {
			return writeJSON(w, out)
		}
		p := paletteFor(w)
		fmt.Fprintf(w, "%s%sRecall%s %s%s%s\n", p.bold, p.cyan, p.reset, p.gray, out.DataDir, p.reset)
		printKV(w, p, "records", out.Records)
		printKV(w, p, "indexed", out.Indexed)
		printKV(w, p, "vectors", fmt.Sprintf("%d (%s)", out.Vectors, out.VectorBackend))
		printKV(w, p, "entities", out.Entities)
		printKV(w, p, "relations", out.Relationships)
		return nil
	})
}
