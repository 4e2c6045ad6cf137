package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/adalundhe/recall/core/memory"
	"gopkg.in/yaml.v3"
)

// Term is a known entity name with its canonical casing.
type Term struct {
	Name    string            `yaml:"name"`
	Type    memory.EntityType `yaml:"type"`
	Aliases []string          `yaml:"aliases,omitempty"`
	// Exact requires the name itself to match case-sensitively. Aliases
	// always match case-insensitively.
	Exact bool `yaml:"exact,omitempty"`
}

// Pattern classifies single tokens by glob, e.g. "*.js" as technology.
type Pattern struct {
	Glob string            `yaml:"glob"`
	Type memory.EntityType `yaml:"type"`
}

type Vocabulary struct {
	Terms    []Term    `yaml:"terms"`
	Patterns []Pattern `yaml:"patterns"`
}

// LoadVocabulary reads a YAML vocabulary file.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	for i := range v.Terms {
		v.Terms[i].Type = memory.ParseEntityType(string(v.Terms[i].Type))
	}
	for i := range v.Patterns {
		v.Patterns[i].Type = memory.ParseEntityType(string(v.Patterns[i].Type))
	}
	return v, nil
}

// Merge returns v extended with other. Terms in other override terms of the
// same name in v.
func (v Vocabulary) Merge(other Vocabulary) Vocabulary {
	override := make(map[string]struct{}, len(other.Terms))
	for _, t := range other.Terms {
		override[strings.ToLower(t.Name)] = struct{}{}
	}

	out := Vocabulary{}
	for _, t := range v.Terms {
		if _, ok := override[strings.ToLower(t.Name)]; !ok {
			out.Terms = append(out.Terms, t)
		}
	}
	out.Terms = append(out.Terms, other.Terms...)
	out.Patterns = append(append(out.Patterns, v.Patterns...), other.Patterns...)
	return out
}

func term(name string, typ memory.EntityType, aliases ...string) Term {
	return Term{Name: name, Type: typ, Aliases: aliases}
}

// exact is for names that double as ordinary English words.
func exact(name string, typ memory.EntityType, aliases ...string) Term {
	return Term{Name: name, Type: typ, Aliases: aliases, Exact: true}
}

// DefaultVocabulary covers common languages, frameworks, infrastructure and
// vendors.
func DefaultVocabulary() Vocabulary {
	tech := memory.EntityTechnology
	tool := memory.EntityTool
	org := memory.EntityOrganization
	concept := memory.EntityConcept

	return Vocabulary{
		Terms: []Term{
			exact("Go", tech, "golang"),
			exact("Rust", tech),
			term("Python", tech),
			exact("Java", tech),
			term("Kotlin", tech),
			exact("Swift", tech),
			term("JavaScript", tech, "js"),
			term("TypeScript", tech),
			term("C++", tech, "cpp"),
			term("C#", tech, "csharp"),
			exact("Ruby", tech),
			term("Elixir", tech),
			term("SQL", tech),
			term("GraphQL", tech),
			term("React", tech, "reactjs", "react.js"),
			term("React Native", tech),
			term("Redux", tech),
			term("Vue", tech, "vue.js", "vuejs"),
			term("Angular", tech),
			term("Svelte", tech),
			term("Next.js", tech, "nextjs"),
			term("Node.js", tech, "nodejs"),
			exact("Electron", tech),
			term("Django", tech),
			term("Flask", tech),
			exact("Rails", tech, "ruby on rails"),
			exact("Spring", tech),
			term("PostgreSQL", tech, "postgres"),
			term("MySQL", tech),
			term("SQLite", tech),
			term("MongoDB", tech, "mongo"),
			term("Redis", tech),
			term("Elasticsearch", tech),
			term("Kafka", tech),
			term("RabbitMQ", tech),
			term("gRPC", tech),
			term("Docker", tool),
			term("Kubernetes", tool, "k8s"),
			term("Terraform", tool),
			exact("Git", tool),
			term("GitHub", tool),
			term("Jira", tool),
			exact("Slack", tool),
			term("Figma", tool),
			term("VS Code", tool, "vscode", "visual studio code"),
			term("AWS", org, "amazon web services"),
			term("Google", org),
			term("Microsoft", org),
			exact("Apple", org),
			term("OpenAI", org),
			term("Anthropic", org),
			term("Microsoft 365", tool, "office 365", "m365"),
			term("Machine Learning", concept),
			term("Microservices", concept),
			exact("REST", concept),
			term("CI/CD", concept),
			term("Authentication", concept, "auth"),
			exact("Caching", concept),
			term("Hooks", concept),
		},
		Patterns: []Pattern{
			{Glob: "*.js", Type: tech},
			{Glob: "*sql", Type: tech},
			{Glob: "*db", Type: tech},
		},
	}
}
