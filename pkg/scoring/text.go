package scoring

import (
	"strings"
	"unicode"
)

// Lexical helpers shared by the stop/value/repeat heuristics. All of them
// operate on lowercase word tokens so scoring stays deterministic across
// formatting differences.

var agreementMarkers = []string{
	"agree", "agreed", "makes sense", "good point", "exactly", "indeed",
	"consensus", "aligned", "same conclusion", "i concur", "well said",
}

var constructiveMarkers = []string{
	"suggest", "propose", "alternative", "consider", "instead", "what if",
	"building on", "to extend", "another angle", "evidence", "because",
	"for example", "specifically", "concretely",
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// jaccard computes set overlap of the word tokens of two texts.
func jaccard(a, b string) float64 {
	sa := tokenSet(tokenize(a))
	sb := tokenSet(tokenize(b))
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// opener returns the first two word tokens of a text, the unit used to
// detect repeated sentence openers.
func opener(s string) string {
	tokens := tokenize(s)
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) == 1 {
		return tokens[0]
	}
	return tokens[0] + " " + tokens[1]
}

// ngrams returns the set of n-word shingles of a text.
func ngrams(s string, n int) map[string]struct{} {
	tokens := tokenize(s)
	out := map[string]struct{}{}
	if len(tokens) < n {
		return out
	}
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], " ")] = struct{}{}
	}
	return out
}

// sharedNgramRatio is the fraction of a's n-grams also present in b.
func sharedNgramRatio(a, b string, n int) float64 {
	na := ngrams(a, n)
	if len(na) == 0 {
		return 0
	}
	nb := ngrams(b, n)
	shared := 0
	for g := range na {
		if _, ok := nb[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(na))
}

func questionCount(s string) int {
	return strings.Count(s, "?")
}

// markerDensity counts marker occurrences per 100 words, clamped to [0,1].
func markerDensity(s string, markers []string) float64 {
	lower := strings.ToLower(s)
	words := len(tokenize(s))
	if words == 0 {
		return 0
	}
	hits := 0
	for _, m := range markers {
		hits += strings.Count(lower, m)
	}
	return clamp01(float64(hits) * 100 / float64(words) / 5)
}

// lengthAppropriateness peaks for contributions in a conversational band and
// falls off for one-liners and walls of text.
func lengthAppropriateness(s string) float64 {
	n := len([]rune(s))
	switch {
	case n == 0:
		return 0
	case n < 40:
		return float64(n) / 40 * 0.5
	case n <= 600:
		return 1
	case n <= 1500:
		return 1 - float64(n-600)/900*0.5
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
