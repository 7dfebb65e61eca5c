package retrieval

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"fundgraph/backend/internal/graph"
)

// Mention is an entity named in a query
type Mention struct {
	EntityID string     `json:"id"`
	Kind     graph.Kind `json:"type"`
	Text     string     `json:"text"`
}

type span struct {
	start, end int
	entity     graph.Entity
}

// extractMentions finds entity names and aliases in the query on word
// boundaries, case-insensitively. Longer matches win over the shorter names
// they contain ("Chennai Angels" over "Chennai"). It also returns the query
// with the matched text blanked out. The context is checked once per entity;
// when it expires the mentions found so far are returned with partial set.
func extractMentions(ctx context.Context, snap *graph.Snapshot, query string) (mentions []Mention, rest string, partial bool) {
	text := strings.ToLower(query)

	var spans []span
	for _, e := range snap.Entities("") {
		if ctx.Err() != nil {
			partial = true
			break
		}
		for _, name := range graph.Names(e) {
			term := strings.ToLower(strings.TrimSpace(name))
			if term == "" {
				continue
			}
			for _, start := range wordIndexes(text, term) {
				spans = append(spans, span{start: start, end: start + len(term), entity: e})
			}
		}
	}

	slices.SortStableFunc(spans, func(a, b span) int {
		if c := cmp.Compare(b.end-b.start, a.end-a.start); c != 0 {
			return c
		}
		if c := cmp.Compare(a.start, b.start); c != 0 {
			return c
		}
		return strings.Compare(a.entity.EntityID(), b.entity.EntityID())
	})

	var accepted []span
	seen := map[string]bool{}
	for _, sp := range spans {
		if seen[sp.entity.EntityID()] || conflicts(accepted, sp) {
			continue
		}
		accepted = append(accepted, sp)
		seen[sp.entity.EntityID()] = true
	}
	slices.SortFunc(accepted, func(a, b span) int {
		if c := cmp.Compare(a.start, b.start); c != 0 {
			return c
		}
		return strings.Compare(a.entity.EntityID(), b.entity.EntityID())
	})

	mentions = make([]Mention, 0, len(accepted))
	blanked := []byte(text)
	for _, sp := range accepted {
		mentions = append(mentions, Mention{
			EntityID: sp.entity.EntityID(),
			Kind:     sp.entity.EntityKind(),
			Text:     text[sp.start:sp.end],
		})
		for i := sp.start; i < sp.end; i++ {
			blanked[i] = ' '
		}
	}
	return mentions, string(blanked), partial
}

// conflicts reports whether sp overlaps an accepted span. Identical spans do
// not conflict so that an ambiguous name seeds every entity carrying it.
func conflicts(accepted []span, sp span) bool {
	for _, a := range accepted {
		if a.start == sp.start && a.end == sp.end {
			continue
		}
		if sp.start < a.end && a.start < sp.end {
			return true
		}
	}
	return false
}

// wordIndexes returns every offset of term in text bounded by non-word runes
func wordIndexes(text, term string) []int {
	var result []int
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			result = append(result, start)
		}
		offset = start + 1
	}
	return result
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

var intentKeywords = map[string]graph.Kind{
	"investor":      graph.KindInvestor,
	"investors":     graph.KindInvestor,
	"invest":        graph.KindInvestor,
	"invests":       graph.KindInvestor,
	"investing":     graph.KindInvestor,
	"investment":    graph.KindInvestor,
	"vc":            graph.KindInvestor,
	"vcs":           graph.KindInvestor,
	"angel":         graph.KindInvestor,
	"angels":        graph.KindInvestor,
	"backers":       graph.KindInvestor,
	"scheme":        graph.KindScheme,
	"schemes":       graph.KindScheme,
	"government":    graph.KindScheme,
	"subsidy":       graph.KindScheme,
	"subsidies":     graph.KindScheme,
	"policy":        graph.KindScheme,
	"policies":      graph.KindScheme,
	"opportunity":   graph.KindOpportunity,
	"opportunities": graph.KindOpportunity,
	"hackathon":     graph.KindOpportunity,
	"hackathons":    graph.KindOpportunity,
	"grant":         graph.KindOpportunity,
	"grants":        graph.KindOpportunity,
	"accelerator":   graph.KindOpportunity,
	"accelerators":  graph.KindOpportunity,
	"challenge":     graph.KindOpportunity,
	"challenges":    graph.KindOpportunity,
	"competition":   graph.KindOpportunity,
	"competitions":  graph.KindOpportunity,
}

// detectIntent returns the catalog kinds the query asks about, in a fixed order
func detectIntent(text string) []graph.Kind {
	found := map[graph.Kind]bool{}
	for _, word := range strings.FieldsFunc(text, func(r rune) bool { return !isWordRune(r) }) {
		if kind, ok := intentKeywords[word]; ok {
			found[kind] = true
		}
	}
	var kinds []graph.Kind
	for _, k := range renderableKinds {
		if found[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
