package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/adalundhe/recall/core/memory"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPattern(t *testing.T) *PatternExtractor {
	t.Helper()
	p, err := NewPatternExtractor(DefaultVocabulary())
	require.NoError(t, err)
	return p
}

func entityNames(ex Extraction) []string {
	out := make([]string, len(ex.Entities))
	for i, e := range ex.Entities {
		out[i] = e.Name
	}
	return out
}

func findEntity(ex Extraction, name string) (ExtractedEntity, bool) {
	for _, e := range ex.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return ExtractedEntity{}, false
}

func TestPattern_DictionaryCanonicalCasing(t *testing.T) {
	ex, err := newPattern(t).Extract(context.Background(), "React useEffect\n\nNotes on react hooks and postgres.")
	require.NoError(t, err)

	react, ok := findEntity(ex, "React")
	require.True(t, ok)
	assert.Equal(t, memory.EntityTechnology, react.Type)
	assert.Equal(t, confidenceDictionary, react.Confidence)

	_, ok = findEntity(ex, "PostgreSQL")
	assert.True(t, ok)
	_, ok = findEntity(ex, "Hooks")
	assert.True(t, ok)
	assert.Equal(t, 3, len(ex.Entities), entityNames(ex))
}

func TestPattern_LongestPhraseWins(t *testing.T) {
	ex, err := newPattern(t).Extract(context.Background(), "Shipping the React Native app")
	require.NoError(t, err)
	assert.Equal(t, []string{"React Native"}, entityNames(ex))
}

func TestPattern_ExactTermsAreCaseSensitive(t *testing.T) {
	p := newPattern(t)

	ex, err := p.Extract(context.Background(), "we should go rest now")
	require.NoError(t, err)
	assert.Empty(t, ex.Entities)

	ex, err = p.Extract(context.Background(), "Rewrote the service in Go")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go"}, entityNames(ex))
}

func TestPattern_Cues(t *testing.T) {
	ex, err := newPattern(t).Extract(context.Background(),
		"Met with Alice Smith about project Apollo using React. cc @bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice Smith", "Apollo", "React", "bob"}, entityNames(ex))

	alice, _ := findEntity(ex, "Alice Smith")
	assert.Equal(t, memory.EntityPerson, alice.Type)
	apollo, _ := findEntity(ex, "Apollo")
	assert.Equal(t, memory.EntityProject, apollo.Type)
	bob, _ := findEntity(ex, "bob")
	assert.Equal(t, memory.EntityPerson, bob.Type)
}

func TestPattern_TrailingProjectCue(t *testing.T) {
	ex, err := newPattern(t).Extract(context.Background(), "Kickoff for the Hermes project")
	require.NoError(t, err)
	hermes, ok := findEntity(ex, "Hermes")
	require.True(t, ok)
	assert.Equal(t, memory.EntityProject, hermes.Type)
}

func TestPattern_GlobVocabulary(t *testing.T) {
	ex, err := newPattern(t).Extract(context.Background(), "Tried express.js and duckdb but not src/app.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"express.js", "duckdb"}, entityNames(ex))
	for _, e := range ex.Entities {
		assert.Equal(t, confidenceGlob, e.Confidence)
	}
}

func TestPattern_RelationshipsByType(t *testing.T) {
	ex, err := newPattern(t).Extract(context.Background(),
		"Met with Alice Smith about project Apollo using React and Redux")
	require.NoError(t, err)

	byPair := map[[2]string]RelationshipIntent{}
	for _, r := range ex.Relationships {
		byPair[[2]string{r.FromName, r.ToName}] = r
	}

	assert.Equal(t, memory.RelationWorksOn, byPair[[2]string{"Alice Smith", "Apollo"}].Type)
	assert.Equal(t, memory.RelationUses, byPair[[2]string{"Apollo", "React"}].Type)
	assert.Equal(t, memory.RelationUses, byPair[[2]string{"Alice Smith", "React"}].Type)
	assert.Equal(t, memory.RelationRelatedTo, byPair[[2]string{"React", "Redux"}].Type)

	for i := 1; i < len(ex.Relationships); i++ {
		assert.GreaterOrEqual(t, ex.Relationships[i-1].Strength, ex.Relationships[i].Strength)
	}
	assert.InDelta(t, 0.95, byPair[[2]string{"Apollo", "React"}].Strength, 1e-9)
}

func TestPattern_DistantMentionsUnrelated(t *testing.T) {
	filler := ""
	for range 30 {
		filler += "word "
	}
	ex, err := newPattern(t).Extract(context.Background(), "React "+filler+"Kafka")
	require.NoError(t, err)
	assert.Len(t, ex.Entities, 2)
	assert.Empty(t, ex.Relationships)
}

func TestPattern_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newPattern(t).Extract(ctx, "React")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadVocabulary_Merge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
terms:
  - name: Hermes
    type: project
  - name: React
    type: tool
patterns:
  - glob: "*-service"
    type: project
`), 0o644))

	extra, err := LoadVocabulary(path)
	require.NoError(t, err)

	p, err := NewPatternExtractor(DefaultVocabulary().Merge(extra))
	require.NoError(t, err)

	ex, err := p.Extract(context.Background(), "hermes calls billing-service from React")
	require.NoError(t, err)

	hermes, ok := findEntity(ex, "Hermes")
	require.True(t, ok)
	assert.Equal(t, memory.EntityProject, hermes.Type)
	react, _ := findEntity(ex, "React")
	assert.Equal(t, memory.EntityTool, react.Type)
	svc, ok := findEntity(ex, "billing-service")
	require.True(t, ok)
	assert.Equal(t, memory.EntityProject, svc.Type)
}

func TestLoadVocabulary_Missing(t *testing.T) {
	_, err := LoadVocabulary(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	ex, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &PatternExtractor{}, ex)

	ex, err = New(Config{Provider: ProviderAnthropic})
	require.NoError(t, err)
	assert.IsType(t, &LLMExtractor{}, ex)

	_, err = New(Config{Provider: "regex"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

// =============================================================================
// LLM extractor
// =============================================================================

type fakeMessages struct {
	text   string
	err    error
	calls  int
	params anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.calls++
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.text}},
	}, nil
}

func TestLLM_ParsesResponse(t *testing.T) {
	client := &fakeMessages{text: "Here you go:\n```json\n" + `{
		"entities": [
			{"name": "React", "type": "technology", "confidence": 0.95},
			{"name": "JavaScript", "type": "Technology", "confidence": 1.4},
			{"name": "react", "type": "concept", "confidence": 0.1},
			{"name": "Widget {beta}", "type": "gizmo", "confidence": 0.5}
		],
		"relationships": [
			{"from": "react", "to": "JavaScript", "type": "uses", "strength": 0.8, "confidence": 0.9},
			{"from": "React", "to": "Vue", "type": "related_to", "strength": 0.5, "confidence": 0.5}
		]
	}` + "\n```"}
	ex, err := NewLLMExtractorWithClient(client, LLMConfig{}).Extract(context.Background(), "React uses JavaScript")
	require.NoError(t, err)

	require.Len(t, ex.Entities, 3)
	assert.Equal(t, ExtractedEntity{Name: "JavaScript", Type: memory.EntityTechnology, Confidence: 1}, ex.Entities[1])
	assert.Equal(t, memory.EntityOther, ex.Entities[2].Type)

	require.Len(t, ex.Relationships, 1)
	assert.Equal(t, RelationshipIntent{
		FromName: "React", ToName: "JavaScript", Type: memory.RelationUses, Strength: 0.8, Confidence: 0.9,
	}, ex.Relationships[0])

	assert.Equal(t, anthropic.Model(DefaultModel), client.params.Model)
	assert.Equal(t, int64(DefaultMaxTokens), client.params.MaxTokens)
}

func TestLLM_FallsBackToPattern(t *testing.T) {
	client := &fakeMessages{err: errors.New("overloaded")}
	llm := NewLLMExtractorWithClient(client, LLMConfig{Fallback: newPattern(t)})

	ex, err := llm.Extract(context.Background(), "notes about Kafka")
	require.NoError(t, err)
	assert.Equal(t, []string{"Kafka"}, entityNames(ex))
	assert.Equal(t, 1, client.calls)
}

func TestLLM_NoJSONWithoutFallback(t *testing.T) {
	client := &fakeMessages{text: "I could not find anything."}
	_, err := NewLLMExtractorWithClient(client, LLMConfig{}).Extract(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestLLM_EmptyTextSkipsCall(t *testing.T) {
	client := &fakeMessages{}
	ex, err := NewLLMExtractorWithClient(client, LLMConfig{}).Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.True(t, ex.IsEmpty())
	assert.Zero(t, client.calls)
}

func TestJSONBounds_IgnoresBracesInStrings(t *testing.T) {
	text := `prefix {"a": "}{", "b": {"c": 1}} suffix`
	start, end := jsonBounds(text)
	require.GreaterOrEqual(t, start, 0)
	assert.Equal(t, `{"a": "}{", "b": {"c": 1}}`, text[start:end])

	start, _ = jsonBounds("no json")
	assert.Equal(t, -1, start)
}
