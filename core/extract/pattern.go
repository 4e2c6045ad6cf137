package extract

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adalundhe/recall/core/memory"
	"github.com/gobwas/glob"
)

const (
	confidenceDictionary = 0.9
	confidenceHandle     = 0.7
	confidenceProject    = 0.7
	confidenceWith       = 0.6
	confidenceGlob       = 0.6

	// DefaultWindow is the token distance beyond which two mentions are not
	// considered related.
	DefaultWindow = 20

	maxPhraseWords  = 4
	maxCueWords     = 3
	minGlobTokenLen = 4
)

var cueStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "i": {}, "we": {}, "you": {}, "this": {}, "that": {},
	"it": {}, "he": {}, "she": {}, "they": {}, "our": {}, "my": {}, "and": {}, "or": {},
	"but": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "is": {},
}

type compiledPattern struct {
	glob glob.Glob
	typ  memory.EntityType
}

// PatternExtractor finds entities by dictionary lookup, token globs and a few
// textual cues, then relates entities mentioned close to each other.
type PatternExtractor struct {
	exact     map[string]Term
	folded    map[string]Term
	patterns  []compiledPattern
	window    int
	maxPhrase int
}

func NewPatternExtractor(vocab Vocabulary) (*PatternExtractor, error) {
	p := &PatternExtractor{
		exact:     make(map[string]Term),
		folded:    make(map[string]Term),
		window:    DefaultWindow,
		maxPhrase: 1,
	}

	for _, t := range vocab.Terms {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		if t.Exact {
			p.addPhrase(p.exact, t.Name, t)
		} else {
			p.addPhrase(p.folded, strings.ToLower(t.Name), t)
		}
		for _, alias := range t.Aliases {
			p.addPhrase(p.folded, strings.ToLower(alias), t)
		}
	}

	for _, pat := range vocab.Patterns {
		g, err := glob.Compile(strings.ToLower(pat.Glob))
		if err != nil {
			return nil, fmt.Errorf("compile vocabulary pattern %q: %w", pat.Glob, err)
		}
		p.patterns = append(p.patterns, compiledPattern{glob: g, typ: pat.Type})
	}
	return p, nil
}

func (p *PatternExtractor) addPhrase(m map[string]Term, phrase string, t Term) {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return
	}
	m[strings.Join(words, " ")] = t
	p.maxPhrase = min(max(p.maxPhrase, len(words)), maxPhraseWords)
}

// =============================================================================
// Tokenizing
// =============================================================================

type token struct {
	text string
	// stop is set when punctuation followed the token, ending a phrase.
	stop bool
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._+#-/@", r)
}

func tokenize(text string) []token {
	var tokens []token
	for _, field := range strings.FieldsFunc(text, unicode.IsSpace) {
		tokens = append(tokens, splitPunctuation(field)...)
	}
	return tokens
}

// splitPunctuation breaks a whitespace-delimited field on characters that are
// not part of identifiers, trimming trailing dots and dashes.
func splitPunctuation(field string) []token {
	var (
		out   []token
		start = -1
	)
	flush := func(end int, stop bool) {
		if start < 0 {
			return
		}
		word := strings.TrimRight(field[start:end], ".-/")
		trimmed := len(word) < end-start
		word = strings.TrimLeft(word, "#.-/")
		if word != "" {
			out = append(out, token{text: word, stop: stop || trimmed})
		}
		start = -1
	}
	for i, r := range field {
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i, true)
	}
	flush(len(field), false)
	return out
}

// =============================================================================
// Extraction
// =============================================================================

type mention struct {
	entity    ExtractedEntity
	positions []int
}

type mentions struct {
	byKey map[string]*mention
	order []string
}

func (m *mentions) add(name string, typ memory.EntityType, confidence float64, pos int) {
	key := strings.ToLower(name)
	if existing, ok := m.byKey[key]; ok {
		existing.entity.Confidence = max(existing.entity.Confidence, confidence)
		if existing.entity.Type == memory.EntityOther {
			existing.entity.Type = typ
		}
		existing.positions = append(existing.positions, pos)
		return
	}
	m.byKey[key] = &mention{
		entity:    ExtractedEntity{Name: name, Type: typ, Confidence: confidence},
		positions: []int{pos},
	}
	m.order = append(m.order, key)
}

// Extract never fails; the error return satisfies Extractor.
func (p *PatternExtractor) Extract(ctx context.Context, text string) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}

	tokens := tokenize(text)
	claimed := make([]bool, len(tokens))
	found := &mentions{byKey: make(map[string]*mention)}

	for i := 0; i < len(tokens); {
		if t, n, ok := p.matchTerm(tokens, i); ok {
			found.add(t.Name, t.Type, confidenceDictionary, i)
			for j := i; j < i+n; j++ {
				claimed[j] = true
			}
			i += n
			continue
		}
		i++
	}

	for i, tok := range tokens {
		if claimed[i] {
			continue
		}
		if typ, ok := p.matchGlob(tok.text); ok {
			found.add(tok.text, typ, confidenceGlob, i)
			claimed[i] = true
		}
	}

	p.applyCues(tokens, claimed, found)

	return p.build(found), nil
}

func (p *PatternExtractor) matchTerm(tokens []token, i int) (Term, int, bool) {
	for n := min(p.maxPhrase, len(tokens)-i); n >= 1; n-- {
		if crossesStop(tokens[i : i+n]) {
			continue
		}
		words := make([]string, n)
		for j := range n {
			words[j] = tokens[i+j].text
		}
		phrase := strings.Join(words, " ")
		if t, ok := p.exact[phrase]; ok {
			return t, n, true
		}
		if t, ok := p.folded[strings.ToLower(phrase)]; ok {
			return t, n, true
		}
	}
	return Term{}, 0, false
}

// crossesStop reports whether punctuation separates any of the tokens.
func crossesStop(tokens []token) bool {
	for _, t := range tokens[:len(tokens)-1] {
		if t.stop {
			return true
		}
	}
	return false
}

func (p *PatternExtractor) matchGlob(word string) (memory.EntityType, bool) {
	if utf8.RuneCountInString(word) < minGlobTokenLen || strings.ContainsAny(word, "/@") {
		return "", false
	}
	lower := strings.ToLower(word)
	for _, pat := range p.patterns {
		if pat.glob.Match(lower) {
			return pat.typ, true
		}
	}
	return "", false
}

func (p *PatternExtractor) applyCues(tokens []token, claimed []bool, found *mentions) {
	for i, tok := range tokens {
		switch {
		case strings.HasPrefix(tok.text, "@") && len(tok.text) > 1 && !claimed[i]:
			found.add(strings.TrimLeft(tok.text, "@"), memory.EntityPerson, confidenceHandle, i)
			claimed[i] = true

		case strings.EqualFold(tok.text, "with") && !tok.stop:
			if name, n := capitalizedRun(tokens, claimed, i+1); n > 0 {
				found.add(name, memory.EntityPerson, confidenceWith, i+1)
				markClaimed(claimed, i+1, n)
			}

		case strings.EqualFold(tok.text, "project"):
			if !tok.stop {
				if name, n := capitalizedRun(tokens, claimed, i+1); n > 0 {
					found.add(name, memory.EntityProject, confidenceProject, i+1)
					markClaimed(claimed, i+1, n)
					continue
				}
			}
			if i > 0 && !tokens[i-1].stop && !claimed[i-1] && isCapitalized(tokens[i-1].text) {
				found.add(tokens[i-1].text, memory.EntityProject, confidenceProject, i-1)
				claimed[i-1] = true
			}
		}
	}
}

// capitalizedRun collects up to maxCueWords unclaimed capitalized tokens
// starting at i.
func capitalizedRun(tokens []token, claimed []bool, i int) (string, int) {
	var words []string
	for j := i; j < len(tokens) && len(words) < maxCueWords; j++ {
		if claimed[j] || !isCapitalized(tokens[j].text) {
			break
		}
		words = append(words, tokens[j].text)
		if tokens[j].stop {
			break
		}
	}
	return strings.Join(words, " "), len(words)
}

func markClaimed(claimed []bool, from, n int) {
	for j := from; j < from+n; j++ {
		claimed[j] = true
	}
}

func isCapitalized(word string) bool {
	r, _ := utf8.DecodeRuneInString(word)
	if !unicode.IsUpper(r) {
		return false
	}
	_, stop := cueStopwords[strings.ToLower(word)]
	return !stop
}

// =============================================================================
// Relationships
// =============================================================================

func (p *PatternExtractor) build(found *mentions) Extraction {
	all := make([]*mention, 0, len(found.order))
	for _, key := range found.order {
		all = append(all, found.byKey[key])
	}
	slices.SortStableFunc(all, func(a, b *mention) int {
		return cmp.Compare(slices.Min(a.positions), slices.Min(b.positions))
	})

	out := Extraction{Entities: make([]ExtractedEntity, 0, len(all))}
	for _, m := range all {
		out.Entities = append(out.Entities, m.entity)
	}

	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			dist := nearest(all[i].positions, all[j].positions)
			if dist > p.window {
				continue
			}
			from, to := all[i].entity, all[j].entity
			typ, swap := inferRelation(from.Type, to.Type)
			if swap {
				from, to = to, from
			}
			out.Relationships = append(out.Relationships, RelationshipIntent{
				FromName:   from.Name,
				ToName:     to.Name,
				Type:       typ,
				Strength:   proximity(dist, p.window),
				Confidence: min(from.Confidence, to.Confidence),
			})
		}
	}

	slices.SortStableFunc(out.Relationships, func(a, b RelationshipIntent) int {
		return cmp.Compare(b.Strength, a.Strength)
	})
	return out
}

func nearest(a, b []int) int {
	best := -1
	for _, x := range a {
		for _, y := range b {
			d := x - y
			if d < 0 {
				d = -d
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}

// proximity maps a token distance to a strength in [0.1, 1].
func proximity(dist, window int) float64 {
	if dist <= 1 {
		return 1
	}
	return max(0.1, 1-float64(dist-1)/float64(window))
}

// inferRelation types an edge from the endpoint entity types. swap is true
// when the edge should point from b to a.
func inferRelation(a, b memory.EntityType) (memory.RelationType, bool) {
	if t, ok := directed(a, b); ok {
		return t, false
	}
	if t, ok := directed(b, a); ok {
		return t, true
	}
	return memory.RelationRelatedTo, false
}

func directed(from, to memory.EntityType) (memory.RelationType, bool) {
	isTech := to == memory.EntityTechnology || to == memory.EntityTool
	switch {
	case from == memory.EntityPerson && to == memory.EntityProject:
		return memory.RelationWorksOn, true
	case from == memory.EntityPerson && to == memory.EntityOrganization:
		return memory.RelationPartOf, true
	case from == memory.EntityPerson && isTech:
		return memory.RelationUses, true
	case from == memory.EntityProject && isTech:
		return memory.RelationUses, true
	case from == memory.EntityProject && to == memory.EntityOrganization:
		return memory.RelationPartOf, true
	default:
		return "", false
	}
}
