package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/spf13/cobra"
)

var (
	recordTitle string
	recordBody  string
	recordKind  string
	recordTags  []string
	recordAttrs []string
	recordJSON  bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Capture a new memory",
	Long: `Capture a new memory. The body is read from --body or, when stdin is
not a terminal, from stdin.

Examples:
  recall add --title "Use sqlite" --kind decision --tag storage
  git log -1 | recall add --title "Last commit" --kind code`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of a memory",
	Long: `Change fields of a memory. Only flags that are set are applied; an
attribute set to an empty value (--attr key=) is removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(addCmd, getCmd, updateCmd, deleteCmd)

	for _, c := range []*cobra.Command{addCmd, updateCmd} {
		c.Flags().StringVarP(&recordTitle, "title", "t", "", "Title")
		c.Flags().StringVarP(&recordBody, "body", "b", "", "Body text")
		c.Flags().StringVarP(&recordKind, "kind", "k", string(memory.KindNote), "Kind (note, code, meeting, decision, idea, reference)")
		c.Flags().StringSliceVar(&recordTags, "tag", nil, "Tag, repeatable")
		c.Flags().StringArrayVar(&recordAttrs, "attr", nil, "Attribute as key=value, repeatable")
	}
	addCmd.MarkFlagRequired("title")

	for _, c := range []*cobra.Command{addCmd, getCmd, updateCmd} {
		c.Flags().BoolVar(&recordJSON, "json", false, "Output as JSON")
	}
}

func runAdd(cmd *cobra.Command, args []string) error {
	kind, ok := memory.ParseKind(recordKind)
	if !ok {
		return fmt.Errorf("invalid kind %q (valid: %v)", recordKind, memory.ValidKinds())
	}
	attrs, err := parseAttrs(recordAttrs)
	if err != nil {
		return err
	}
	body := recordBody
	if !cmd.Flags().Changed("body") && !isTerminal(os.Stdin) {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		body = strings.TrimSpace(string(data))
	}

	return withApp(cmd.Context(), func(a *app) error {
		r, err := a.ingest.Create(cmd.Context(), memory.Record{
			Title:      recordTitle,
			Body:       body,
			Kind:       kind,
			Tags:       recordTags,
			Attributes: attrs,
		})
		if err != nil {
			return err
		}
		return outputRecord(cmd.OutOrStdout(), r)
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		r, err := a.ingest.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return outputRecord(cmd.OutOrStdout(), r)
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	patch, err := buildPatch(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(a *app) error {
		r, err := a.ingest.Update(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		return outputRecord(cmd.OutOrStdout(), r)
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		deleted, err := a.ingest.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("no memory with id %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	})
}

// buildPatch turns the flags that were explicitly set into a patch.
func buildPatch(cmd *cobra.Command) (memory.Patch, error) {
	var patch memory.Patch
	flags := cmd.Flags()
	if flags.Changed("title") {
		patch.Title = &recordTitle
	}
	if flags.Changed("body") {
		patch.Body = &recordBody
	}
	if flags.Changed("kind") {
		kind, ok := memory.ParseKind(recordKind)
		if !ok {
			return patch, fmt.Errorf("invalid kind %q (valid: %v)", recordKind, memory.ValidKinds())
		}
		patch.Kind = &kind
	}
	if flags.Changed("tag") {
		patch.Tags = recordTags
		patch.SetTags = true
	}
	if flags.Changed("attr") {
		attrs, err := parseAttrs(recordAttrs)
		if err != nil {
			return patch, err
		}
		patch.Attributes = attrs
	}
	return patch, nil
}

// parseAttrs parses key=value pairs. An empty value is kept so that a patch
// can remove the key.
func parseAttrs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q, want key=value", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func outputRecord(w io.Writer, r memory.Record) error {
	if recordJSON {
		return writeJSON(w, r)
	}
	p := paletteFor(w)
	fmt.Fprintf(w, "%s%s%s %s[%s]%s\n", p.bold, r.Title, p.reset, p.cyan, r.Kind, p.reset)
	printKV(w, p, "id", r.ID)
	if len(r.Tags) > 0 {
		printKV(w, p, "tags", strings.Join(r.Tags, ", "))
	}
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printKV(w, p, k, r.Attributes[k])
	}
	printKV(w, p, "created", r.CreatedAt.Local().Format(time.DateTime))
	printKV(w, p, "updated", r.UpdatedAt.Local().Format(time.DateTime))
	if r.Body != "" {
		fmt.Fprintf(w, "\n%s\n", r.Body)
	}
	return nil
}
