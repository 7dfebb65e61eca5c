package retrieval

import (
	"fmt"
	"math"
	"strings"

	"fundgraph/backend/internal/graph"
)

// render states an entity in one line, citing the entity id
func render(e graph.Entity, score float64) Fact {
	fact := Fact{
		SourceEntityID: e.EntityID(),
		SourceName:     e.DisplayName(),
		Kind:           e.EntityKind(),
		Relevance:      math.Round(score*10000) / 10000,
	}

	var b strings.Builder
	switch v := e.(type) {
	case graph.Investor:
		b.WriteString(v.Name)
		if v.Type != "" {
			fmt.Fprintf(&b, " (%s)", v.Type)
		}
		fmt.Fprintf(&b, " invests in %s", list(v.Sectors, "all sectors"))
		fmt.Fprintf(&b, " at %s stage", list(v.Stages, "any"))
		if v.AcceptsAllLocations() {
			b.WriteString(" across India")
		} else {
			fmt.Fprintf(&b, " in %s", list(v.Locations, ""))
		}
		if v.TicketSize != "" {
			fmt.Fprintf(&b, "; ticket size %s", v.TicketSize)
		}
		fact.Citation = v.Source
	case graph.Scheme:
		b.WriteString(v.Name)
		if v.IsCentral() {
			b.WriteString(" is a central scheme")
		} else {
			fmt.Fprintf(&b, " is a %s state scheme", v.State)
		}
		if v.FundingAmount != "" {
			fmt.Fprintf(&b, " offering %s", v.FundingAmount)
		}
		if v.Eligibility.RequiresDPIIT {
			b.WriteString("; requires DPIIT registration")
		}
		if len(v.Eligibility.Stages) > 0 {
			fmt.Fprintf(&b, "; for %s stage", list(v.Eligibility.Stages, ""))
		}
		fact.Citation = v.Source
	case graph.Opportunity:
		fmt.Fprintf(&b, "%s is a %s", v.Name, v.Type)
		if v.Organizer != "" {
			fmt.Fprintf(&b, " by %s", v.Organizer)
		}
		if v.Sector != "" {
			fmt.Fprintf(&b, " for %s", v.Sector)
		} else {
			b.WriteString(" open to all sectors")
		}
		fmt.Fprintf(&b, ", deadline %s", v.Deadline.Format("2 Jan 2006"))
		if v.Prize != "" {
			fmt.Fprintf(&b, ", prize %s", v.Prize)
		}
		fact.Citation = v.Source
	default:
		b.WriteString(e.DisplayName())
	}
	fmt.Fprintf(&b, " [%s]", e.EntityID())

	fact.Text = b.String()
	return fact
}

func list(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}
