package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/adalundhe/recall/core/search"
	"github.com/spf13/cobra"
)

const (
	SearchDefaultLimit = 20
	SearchMaxLimit     = 100
)

var (
	searchMethod    string
	searchLimit     int
	searchThreshold float64
	searchKinds     []string
	searchTags      []string
	searchProject   string
	searchSince     string
	searchUntil     string
	searchJSON      bool
	searchStats     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Long: `Search memories across the full-text, vector and graph backends.

Methods:
  auto    vector for long natural-language queries, text otherwise
  text    keyword search
  vector  semantic similarity
  graph   records linked to matching entities
  hybrid  all three, merged

Examples:
  recall search "useEffect cleanup"
  recall search --method graph React
  recall search --method hybrid --kind decision --since 2025-01-01 "storage engine"
  recall search --json "kafka" | jq '.hits[].record.title'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	f := searchCmd.Flags()
	f.StringVarP(&searchMethod, "method", "m", string(search.MethodAuto), "Search method (auto, text, vector, graph, hybrid)")
	f.IntVarP(&searchLimit, "limit", "l", SearchDefaultLimit, "Maximum number of results")
	f.Float64Var(&searchThreshold, "threshold", 0, "Minimum vector similarity (default from config)")
	f.StringSliceVarP(&searchKinds, "kind", "k", nil, "Only these kinds")
	f.StringSliceVarP(&searchTags, "tag", "t", nil, "Only records carrying all these tags")
	f.StringVarP(&searchProject, "project", "p", "", "Only records of this project attribute")
	f.StringVar(&searchSince, "since", "", "Only records updated at or after (YYYY-MM-DD or RFC3339)")
	f.StringVar(&searchUntil, "until", "", "Only records updated at or before (YYYY-MM-DD or RFC3339)")
	f.BoolVar(&searchJSON, "json", false, "Output results as JSON")
	f.BoolVar(&searchStats, "stats", false, "Print per-backend timings")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	opts, err := buildSearchOptions(cmd)
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), func(a *app) error {
		hits, metrics := a.engine.SearchWithMetrics(cmd.Context(), query, opts)
		if searchJSON {
			return writeJSON(cmd.OutOrStdout(), newSearchOutput(query, hits, metrics))
		}
		outputRichResults(cmd.OutOrStdout(), query, hits, metrics)
		return nil
	})
}

func buildSearchOptions(cmd *cobra.Command) (search.Options, error) {
	method, ok := search.ParseMethod(searchMethod)
	if !ok {
		return search.Options{}, fmt.Errorf("invalid method %q (valid: %v)", searchMethod, search.ValidMethods())
	}

	limit := searchLimit
	if limit > SearchMaxLimit {
		limit = SearchMaxLimit
	}

	opts := search.Options{Limit: limit, Method: method}
	if cmd.Flags().Changed("threshold") {
		if searchThreshold < 0 || searchThreshold > 1 {
			return opts, fmt.Errorf("threshold must be in [0,1], got %v", searchThreshold)
		}
		opts.Threshold = search.Threshold(searchThreshold)
	}

	filters, err := buildFilters()
	if err != nil {
		return opts, err
	}
	opts.Filters = filters
	return opts, nil
}

func buildFilters() (memory.Filters, error) {
	var f memory.Filters
	for _, k := range searchKinds {
		kind, ok := memory.ParseKind(k)
		if !ok {
			return f, fmt.Errorf("invalid kind %q (valid: %v)", k, memory.ValidKinds())
		}
		f.Kinds = append(f.Kinds, kind)
	}
	f.Tags = memory.NormalizeTags(searchTags)
	f.Project = strings.TrimSpace(searchProject)

	var err error
	if f.Since, err = parseTime(searchSince, false); err != nil {
		return f, fmt.Errorf("--since: %w", err)
	}
	if f.Until, err = parseTime(searchUntil, true); err != nil {
		return f, fmt.Errorf("--until: %w", err)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return f, fmt.Errorf("--until is before --since")
	}
	return f, nil
}

// parseTime accepts RFC3339 or a local date. A date used as an upper bound
// covers the whole day.
func parseTime(value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// =============================================================================
// Output
// =============================================================================

type searchOutput struct {
	Query  string             `json:"query"`
	Method string             `json:"method"`
	Took   string             `json:"took"`
	Cached bool               `json:"cached"`
	Failed []string           `json:"failed_backends,omitempty"`
	Hits   []memory.SearchHit `json:"hits"`
}

func newSearchOutput(query string, hits []memory.SearchHit, m *search.QueryMetrics) *searchOutput {
	out := &searchOutput{Query: query, Hits: hits}
	if out.Hits == nil {
		out.Hits = []memory.SearchHit{}
	}
	if m != nil {
		out.Method = m.Method.String()
		out.Took = m.TotalLatency.String()
		out.Cached = m.CacheHit
		for _, b := range m.Backends {
			if b.Failed() {
				out.Failed = append(out.Failed, b.Backend.String())
			}
		}
	}
	return out
}

func outputRichResults(w io.Writer, query string, hits []memory.SearchHit, m *search.QueryMetrics) {
	p := paletteFor(w)
	fmt.Fprintf(w, "%s%sSearch Results%s\n", p.bold, p.cyan, p.reset)
	fmt.Fprintf(w, "%sQuery:%s %s\n", p.gray, p.reset, query)
	if m != nil {
		cached := ""
		if m.CacheHit {
			cached = " (cached)"
		}
		fmt.Fprintf(w, "%sFound:%s %d results via %s in %v%s\n",
			p.gray, p.reset, len(hits), m.Method, m.TotalLatency.Round(time.Microsecond), cached)
		for _, b := range m.Backends {
			if b.Failed() {
				fmt.Fprintf(w, "%s%s backend failed: %s%s\n", p.red, b.Backend, b.Error, p.reset)
			}
		}
		if m.FallbackUsed {
			fmt.Fprintf(w, "%svector budget re-routed to text%s\n", p.yellow, p.reset)
		}
	}
	fmt.Fprintln(w)

	if len(hits) == 0 {
		fmt.Fprintf(w, "%sNo results found.%s\n", p.yellow, p.reset)
		return
	}
	for i, hit := range hits {
		outputHit(w, p, i+1, hit)
	}
	if searchStats && m != nil {
		outputBackendStats(w, p, m)
	}
}

func outputHit(w io.Writer, p palette, index int, hit memory.SearchHit) {
	r := hit.Record
	fmt.Fprintf(w, "%s%d.%s %s%s%s %s[%s]%s\n",
		p.yellow, index, p.reset, p.bold, r.Title, p.reset, p.cyan, r.Kind, p.reset)

	origins := make([]string, len(hit.Origins))
	for i, o := range hit.Origins {
		origins[i] = o.String()
	}
	score := "-"
	if hit.HasScore {
		score = fmt.Sprintf("%.4f", hit.Score)
	}
	fmt.Fprintf(w, "   %sID:%s %s  %sVia:%s %s  %sScore:%s %s  %sUpdated:%s %s\n",
		p.gray, p.reset, r.ID,
		p.gray, p.reset, strings.Join(origins, "+"),
		p.gray, p.reset, score,
		p.gray, p.reset, r.UpdatedAt.Local().Format(time.DateOnly))

	if hit.GraphContext != nil && hit.GraphContext.Path != "" {
		fmt.Fprintf(w, "   %s%s%s\n", p.blue, hit.GraphContext.Path, p.reset)
	}
	if s := snippet(r.Body, 150); s != "" {
		fmt.Fprintf(w, "   %s%s%s\n", p.gray, s, p.reset)
	}
	fmt.Fprintln(w)
}

func outputBackendStats(w io.Writer, p palette, m *search.QueryMetrics) {
	fmt.Fprintf(w, "%sBackends%s\n", p.bold, p.reset)
	for _, b := range m.Backends {
		status := p.green + "ok" + p.reset
		if b.Failed() {
			status = p.red + "failed" + p.reset
		}
		fmt.Fprintf(w, "  %-7s k=%-3d hits=%-3d kept=%-3d %-10v %s\n",
			b.Backend, b.K, b.Hits, b.Contributed, b.Latency.Round(time.Microsecond), status)
	}
	if m.Fallback != nil {
		fmt.Fprintf(w, "  %-7s k=%-3d hits=%-3d (fallback) %v\n",
			m.Fallback.Backend, m.Fallback.K, m.Fallback.Hits, m.Fallback.Latency.Round(time.Microsecond))
	}
}
