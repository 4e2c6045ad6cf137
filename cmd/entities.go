package cmd

import (
	"fmt"
	"io"

	"github.com/adalundhe/recall/core/memory"
	"github.com/spf13/cobra"
)

var (
	entitiesQuery         string
	entitiesRelationships string
	entitiesDirection     string
	entitiesAll           bool
	entitiesLimit         int
	entitiesJSON          bool
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List extracted entities and their relationships",
	Long: `List the entities extracted from your memories.

Examples:
  recall entities
  recall entities --query react
  recall entities --relationships React --direction out
  recall entities --all-relationships`,
	Args: cobra.NoArgs,
	RunE: runEntities,
}

func init() {
	rootCmd.AddCommand(entitiesCmd)

	f := entitiesCmd.Flags()
	f.StringVarP(&entitiesQuery, "query", "q", "", "Only entities whose name matches")
	f.StringVarP(&entitiesRelationships, "relationships", "r", "", "Show relationships of the named entity")
	f.StringVarP(&entitiesDirection, "direction", "d", "both", "Relationship direction (out, in, both)")
	f.BoolVar(&entitiesAll, "all-relationships", false, "List every relationship in the graph")
	f.IntVarP(&entitiesLimit, "limit", "l", 50, "Maximum number of entities")
	f.BoolVar(&entitiesJSON, "json", false, "Output as JSON")
}

type entityOutput struct {
	memory.Entity
	Relevance float64 `json:"relevance,omitempty"`
}

type relationshipOutput struct {
	memory.Relationship
	From string `json:"from"`
	To   string `json:"to"`
}

func runEntities(cmd *cobra.Command, args []string) error {
	dir, ok := memory.ParseDirection(entitiesDirection)
	if !ok {
		return fmt.Errorf("invalid direction %q (valid: out, in, both)", entitiesDirection)
	}

	return withApp(cmd.Context(), func(a *app) error {
		if entitiesAll {
			rels, err := a.graph.ListRelationships(cmd.Context(), entitiesLimit)
			if err != nil {
				return err
			}
			return outputRelationships(cmd, a, rels, nil)
		}
		if entitiesRelationships != "" {
			return runRelationships(cmd, a, entitiesRelationships, dir)
		}

		var out []entityOutput
		if entitiesQuery != "" {
			matches, err := a.graph.SearchEntities(cmd.Context(), entitiesQuery, entitiesLimit)
			if err != nil {
				return err
			}
			for _, m := range matches {
				out = append(out, entityOutput{Entity: m.Entity, Relevance: m.Relevance})
			}
		} else {
			entities, err := a.graph.ListEntities(cmd.Context(), entitiesLimit)
			if err != nil {
				return err
			}
			for _, e := range entities {
				out = append(out, entityOutput{Entity: e})
			}
		}

		if entitiesJSON {
			if out == nil {
				out = []entityOutput{}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		}
		outputEntities(cmd.OutOrStdout(), out)
		return nil
	})
}

func runRelationships(cmd *cobra.Command, a *app, name string, dir memory.Direction) error {
	ctx := cmd.Context()
	entity, ok, err := a.graph.FindEntityByName(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no entity named %q", name)
	}

	rels, err := a.graph.ListRelationshipsForEntity(ctx, entity.ID, dir)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if !entitiesJSON {
		p := paletteFor(w)
		fmt.Fprintf(w, "%s%s%s %s(%s)%s, %d relationships (%s)\n",
			p.bold, entity.Name, p.reset, p.cyan, entity.Type, p.reset, len(rels), dir)
	}
	return outputRelationships(cmd, a, rels, map[string]string{entity.ID: entity.Name})
}

// outputRelationships prints edges with both endpoints resolved to names.
// names seeds the id to name lookup.
func outputRelationships(cmd *cobra.Command, a *app, rels []memory.Relationship, names map[string]string) error {
	ctx := cmd.Context()
	if names == nil {
		names = make(map[string]string)
	}
	resolve := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		e, found, err := a.graph.GetEntity(ctx, id)
		if err != nil || !found {
			return id
		}
		names[id] = e.Name
		return e.Name
	}

	out := make([]relationshipOutput, 0, len(rels))
	for _, r := range rels {
		out = append(out, relationshipOutput{Relationship: r, From: resolve(r.FromEntityID), To: resolve(r.ToEntityID)})
	}

	w := cmd.OutOrStdout()
	if entitiesJSON {
		return writeJSON(w, out)
	}
	p := paletteFor(w)
	for _, r := range out {
		fmt.Fprintf(w, "  %s -%s%s%s-> %s  %sstrength %.2f confidence %.2f%s\n",
			r.From, p.yellow, r.Type, p.reset, r.To, p.gray, r.Strength, r.Confidence, p.reset)
	}
	return nil
}

func outputEntities(w io.Writer, entities []entityOutput) {
	p := paletteFor(w)
	if len(entities) == 0 {
		fmt.Fprintf(w, "%sNo entities found.%s\n", p.yellow, p.reset)
		return
	}
	for _, e := range entities {
		fmt.Fprintf(w, "%s%-30s%s %s%-13s%s %3d memories  %sconfidence %.2f%s",
			p.bold, e.Name, p.reset, p.cyan, e.Type, p.reset, len(e.MemoryIDs), p.gray, e.Confidence, p.reset)
		if e.Relevance > 0 {
			fmt.Fprintf(w, " %srelevance %.2f%s", p.gray, e.Relevance, p.reset)
		}
		fmt.Fprintln(w)
	}
}
