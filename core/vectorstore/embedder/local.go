package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultDimension = 384

const (
	tokenWeight   = 0.7
	trigramWeight = 0.3
	tokenProbes   = 4
	trigramProbes = 2
)

// LocalEmbedder is a feature-hashing embedder that needs no model. Tokens
// and character trigrams are hashed into signed buckets and the result is
// L2-normalized, so texts sharing vocabulary have positive cosine similarity.
type LocalEmbedder struct {
	dimension int
}

func NewLocalEmbedder(dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &LocalEmbedder{dimension: dimension}
}

func (l *LocalEmbedder) Dimension() int {
	return l.dimension
}

func (l *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.embed(text), nil
}

func (l *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.embed(text)
	}
	return out, nil
}

func (l *LocalEmbedder) embed(text string) []float32 {
	vec := make([]float32, l.dimension)

	tokens := tokenize(text)
	if len(tokens) > 0 {
		w := float32(tokenWeight / math.Sqrt(float64(len(tokens))))
		for _, tok := range tokens {
			l.scatter(vec, tok, tokenProbes, w)
		}
	}

	trigrams := trigramsOf(tokens)
	if len(trigrams) > 0 {
		w := float32(trigramWeight / math.Sqrt(float64(len(trigrams))))
		for _, tri := range trigrams {
			l.scatter(vec, tri, trigramProbes, w)
		}
	}

	normalize(vec)
	return vec
}

// scatter adds w to probes buckets chosen by successive LCG steps of the
// feature hash, with signs taken from the hash bits.
func (l *LocalEmbedder) scatter(vec []float32, feature string, probes int, w float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	seed := h.Sum64()

	state := seed
	for i := range probes {
		state = state*6364136223846793005 + 1442695040888963407
		idx := int(state % uint64(l.dimension))
		if (seed>>i)&1 == 1 {
			vec[idx] += w
		} else {
			vec[idx] -= w
		}
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func trigramsOf(tokens []string) []string {
	var out []string
	for _, tok := range tokens {
		padded := "#" + tok + "#"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			out = append(out, string(runes[i:i+3]))
		}
	}
	return out
}

func normalize(vec []float32) {
	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(mag))
	for i := range vec {
		vec[i] *= inv
	}
}
