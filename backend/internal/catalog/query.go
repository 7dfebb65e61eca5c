package catalog

import (
	"cmp"
	"slices"
	"strings"

	"fundgraph/backend/internal/graph"
)

// OpportunityFilter narrows an opportunity listing. Empty fields and "all"
// match everything.
type OpportunityFilter struct {
	Sector string
	Type   string
}

// Opportunities lists opportunities ordered by deadline, then id. An
// opportunity without a sector is open to every sector.
func Opportunities(snap *graph.Snapshot, f OpportunityFilter) []graph.Opportunity {
	sector := normalizeFilter(f.Sector)
	oppType := normalizeFilter(f.Type)

	var result []graph.Opportunity
	for _, e := range snap.Entities(graph.KindOpportunity) {
		opp := e.(graph.Opportunity)
		if oppType != "" && !strings.EqualFold(string(opp.Type), oppType) {
			continue
		}
		if sector != "" && !opportunityInSector(snap, opp, sector) {
			continue
		}
		result = append(result, opp)
	}
	slices.SortFunc(result, func(a, b graph.Opportunity) int {
		if c := a.Deadline.Compare(b.Deadline); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

func opportunityInSector(snap *graph.Snapshot, opp graph.Opportunity, sector string) bool {
	if opp.Sector == "" && len(snap.Outgoing(opp.ID, graph.EdgeOffers)) == 0 {
		return true
	}
	if strings.EqualFold(opp.Sector, sector) {
		return true
	}
	for _, edge := range snap.Outgoing(opp.ID, graph.EdgeOffers) {
		target, ok := snap.Get(edge.To)
		if !ok {
			continue
		}
		if edge.To == sector || graph.ContainsFold(graph.Names(target), sector) {
			return true
		}
	}
	return false
}

// SchemesFor lists the central schemes plus the schemes offered in state
func SchemesFor(snap *graph.Snapshot, state string) []graph.Scheme {
	state = normalizeFilter(state)
	offered := map[string]bool{}
	if state != "" {
		if loc, ok := snap.FindByName(state, graph.KindLocation); ok {
			for _, edge := range snap.Outgoing(loc.EntityID(), graph.EdgeOffersScheme) {
				offered[edge.To] = true
			}
		}
	}

	var result []graph.Scheme
	for _, e := range snap.Entities(graph.KindScheme) {
		scheme := e.(graph.Scheme)
		if state == "" || scheme.IsCentral() || offered[scheme.ID] || strings.EqualFold(scheme.State, state) {
			result = append(result, scheme)
		}
	}
	return result
}

func normalizeFilter(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "all") {
		return ""
	}
	return v
}
