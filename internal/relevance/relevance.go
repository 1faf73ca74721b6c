// Package relevance ranks stored memories against a query with a lexical score.
// It stands in for embedding search in the stores that have no native ranking.
package relevance

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {}, "you": {},
	"your": {}, "ai": {}, "human": {}, "tool": {},
}

// Tokens normalizes s (NFKC, case folding) and splits it into content words.
// Stopwords, possessive suffixes and single characters are dropped.
func Tokens(s string) []string {
	s = cases.Fold().String(norm.NFKC.String(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(f, "'s")
		f = strings.Trim(f, "'")
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Document is a candidate memory. Seq orders documents by recency: higher is newer.
type Document struct {
	Text string
	Seq  int64
}

// Score counts the distinct query terms present in text, weighting each by its length
// so that rare long words dominate short common ones.
func Score(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		have[tok] = struct{}{}
		if stem := stem(tok); stem != tok {
			have[stem] = struct{}{}
		}
	}

	var score float64
	seen := make(map[string]struct{}, len(queryTerms))
	for _, q := range queryTerms {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		_, exact := have[q]
		_, stemmed := have[stem(q)]
		if exact || stemmed {
			score += 1 + float64(len(q))/10
		}
	}
	return score
}

// Rank returns at most limit document texts, best match first. Ties and non-matching
// documents are ordered newest first, so a query with no overlap still yields the most
// recent memories, as a nearest-neighbour search would.
func Rank(query string, docs []Document, limit int) []string {
	if limit <= 0 || len(docs) == 0 {
		return []string{}
	}
	terms := Tokens(query)

	type scored struct {
		Document
		score float64
	}
	ranked := make([]scored, len(docs))
	for i, d := range docs {
		ranked[i] = scored{Document: d, score: Score(terms, d.Text)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].Seq > ranked[j].Seq
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Text
	}
	return out
}

// stem strips the most common English inflections.
func stem(w string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if len(w) > len(suffix)+2 && strings.HasSuffix(w, suffix) {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}
