package matcher

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/oddslane/hedgebot/internal/domain"
)

// categoryBonus is added when both venues file the market under the same
// category.
const categoryBonus = 0.05

// stopWords are tokens too common to signal that two questions describe the
// same event.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "in": true, "to": true, "for": true, "is": true,
	"on": true, "at": true, "by": true, "be": true, "it": true,
	"will": true, "vs": true, "with": true, "this": true, "that": true,
}

// normalizeQuestion lowercases a question and strips everything but letters
// and digits so the edit distance compares wording rather than formatting.
func normalizeQuestion(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	lastSpace := true
	for _, r := range strings.ToLower(q) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenize splits a normalized question into keywords, dropping stop words
// and short tokens. Numbers are always kept: strike levels and years are the
// most discriminating part of a market question. Plural nouns are reduced to
// their singular so "cuts rates" matches "cut rates".
func tokenize(normalized string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		if stopWords[w] {
			continue
		}
		if len(w) < 3 && !hasDigit(w) {
			continue
		}
		if len(w) > 3 && strings.HasSuffix(w, "s") {
			w = w[:len(w)-1]
		}
		tokens[w] = true
	}
	return tokens
}

func hasDigit(w string) bool {
	for _, r := range w {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// questionSimilarity scores how likely two market questions describe the
// same event, blending normalized edit distance with keyword overlap.
// Returns a value in [0, 1].
func questionSimilarity(q1, q2 string) float64 {
	n1, n2 := normalizeQuestion(q1), normalizeQuestion(q2)
	if n1 == "" || n2 == "" {
		return 0
	}
	if n1 == n2 {
		return 1
	}

	dist := levenshtein.ComputeDistance(n1, n2)
	longest := len([]rune(n1))
	if l := len([]rune(n2)); l > longest {
		longest = l
	}
	editScore := 1 - float64(dist)/float64(longest)
	if editScore < 0 {
		editScore = 0
	}

	overlapScore := jaccard(tokenize(n1), tokenize(n2))

	return 0.5*editScore + 0.5*overlapScore
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if b[tok] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// marketSimilarity scores a cross-venue market pair: question similarity
// plus a small bonus when the venues agree on category.
func marketSimilarity(m1, m2 domain.Market) float64 {
	s := questionSimilarity(m1.Question, m2.Question)
	if s > 0 && m1.Category != "" && m1.Category == m2.Category {
		s += categoryBonus
		if s > 1 {
			s = 1
		}
	}
	return s
}
