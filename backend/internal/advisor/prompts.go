package advisor

import (
	"fmt"
	"strings"

	"fundgraph/backend/internal/graph"
	"fundgraph/backend/internal/retrieval"
)

const chatSystemPrompt = `You are a funding advisor for Indian startup founders.
Answer only from the knowledge graph facts you are given. Each fact ends with
its entity id in square brackets; cite the ids you rely on in the same form.
If the facts do not answer the question, say so and suggest what to ask instead.
Keep the answer short, specific and professional.`

const insightSystemPrompt = `You write one-sentence insights about startup funding opportunities.
Use only the facts given. Mention the deadline when it is close. Reply with a single sentence.`

const noMatchAnswer = `I couldn't find anything about that in the knowledge graph. Try asking about:

- Investors, e.g. "Who invests in AgriTech in Tamil Nadu?"
- Schemes, e.g. "What government schemes are available in Karnataka?"
- Opportunities, e.g. "List upcoming hackathons"`

func buildChatPrompt(question string, facts []retrieval.Fact) string {
	var b strings.Builder
	b.WriteString("## Knowledge Graph Facts\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f.Text)
	}
	fmt.Fprintf(&b, "\n## Question\n%s\n", question)
	return b.String()
}

func templateAnswer(facts []retrieval.Fact, sources []string) string {
	var b strings.Builder
	b.WriteString("Based on our knowledge graph, here's what I found:\n\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f.Text)
	}
	if len(sources) > 0 {
		fmt.Fprintf(&b, "\nSources: %s", strings.Join(sources, "; "))
	}
	return b.String()
}

func buildInsightPrompt(opp graph.Opportunity, daysLeft int, facts []retrieval.Fact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Opportunity: %s (%s)\n", opp.Name, opp.Type)
	if opp.Sector != "" {
		fmt.Fprintf(&b, "Sector: %s\n", opp.Sector)
	}
	fmt.Fprintf(&b, "Deadline: %s (%d days left)\n", opp.Deadline.Format("2 Jan 2006"), daysLeft)
	if opp.Prize != "" {
		fmt.Fprintf(&b, "Prize: %s\n", opp.Prize)
	}
	if len(facts) > 0 {
		b.WriteString("Related facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f.Text)
		}
	}
	return b.String()
}

func templateInsight(opp graph.Opportunity, daysLeft int, facts []retrieval.Fact) string {
	var b strings.Builder
	switch {
	case daysLeft == 0:
		fmt.Fprintf(&b, "%s has closed", opp.Name)
	case daysLeft <= 14:
		fmt.Fprintf(&b, "%s closes in %d days, apply soon", opp.Name, daysLeft)
	default:
		fmt.Fprintf(&b, "%s is open for another %d days", opp.Name, daysLeft)
	}
	if opp.Prize != "" {
		fmt.Fprintf(&b, " with %s on offer", opp.Prize)
	}

	related := 0
	for _, f := range facts {
		if f.Kind == graph.KindInvestor {
			related++
		}
	}
	if related > 0 && opp.Sector != "" {
		fmt.Fprintf(&b, "; %d %s investors in the graph could follow up", related, opp.Sector)
	}
	b.WriteString(".")
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
