package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fundgraph/backend/internal/graph"
	"fundgraph/backend/internal/match"
	"fundgraph/backend/internal/retrieval"
	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"go.uber.org/zap"
)

const (
	// DefaultChatK is the number of facts given to the LLM per question
	DefaultChatK = 5
	// DefaultTopK is the number of matches shown per kind on the dashboard
	DefaultTopK = 5
	// MaxMessageLength caps a chat question in bytes
	MaxMessageLength = 2000
	maxActions       = 4
)

// Generator produces text from a system prompt and a user message
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// SnapshotSource supplies the current graph snapshot
type SnapshotSource interface {
	Snapshot() *graph.Snapshot
}

// Advisor answers founder questions and builds the dashboard from the graph
type Advisor struct {
	source    SnapshotSource
	matcher   *match.Engine
	retriever *retrieval.Service
	llm       Generator
	chatK     int
	topK      int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an Advisor
type Option func(*Advisor)

// WithGenerator enables LLM answers. Without one, answers come from templates.
func WithGenerator(g Generator) Option {
	return func(a *Advisor) { a.llm = g }
}

// WithChatK sets the number of facts retrieved per question
func WithChatK(k int) Option {
	return func(a *Advisor) {
		if k > 0 {
			a.chatK = k
		}
	}
}

// WithTopK sets the number of dashboard matches per kind
func WithTopK(k int) Option {
	return func(a *Advisor) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithClock sets the time source for deadline countdowns
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) { a.now = now }
}

// New creates an advisor
func New(source SnapshotSource, matcher *match.Engine, retriever *retrieval.Service, opts ...Option) *Advisor {
	a := &Advisor{
		source:    source,
		matcher:   matcher,
		retriever: retriever,
		chatK:     DefaultChatK,
		topK:      DefaultTopK,
		now:       time.Now,
		logger:    logger.Named("advisor"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HasGenerator reports whether LLM answers are enabled
func (a *Advisor) HasGenerator() bool {
	return a.llm != nil
}

// ============================================================================
// Chat
// ============================================================================

// ChatResponse is an answer grounded in retrieved facts
type ChatResponse struct {
	Answer      string           `json:"answer"`
	Sources     []string         `json:"sources"`
	ContextUsed bool             `json:"context_used"`
	Partial     bool             `json:"partial"`
	Generated   bool             `json:"generated"`
	Facts       []retrieval.Fact `json:"facts"`
}

// Chat answers message from the facts retrieval finds for it. LLM failures
// fall back to a templated answer listing the facts.
func (a *Advisor) Chat(ctx context.Context, message string) (*ChatResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewValidation("", "message", "must not be empty")
	}
	if len(message) > MaxMessageLength {
		return nil, apperrors.NewValidation("", "message", fmt.Sprintf("must be at most %d bytes", MaxMessageLength))
	}

	retrieved, err := a.retriever.Retrieve(ctx, message, a.chatK)
	if err != nil {
		return nil, err
	}

	resp := &ChatResponse{
		Sources: sources(retrieved.Facts),
		Partial: retrieved.Partial,
		Facts:   retrieved.Facts,
	}
	if len(retrieved.Facts) == 0 {
		resp.Answer = noMatchAnswer
		return resp, nil
	}
	resp.ContextUsed = true

	if a.llm != nil {
		answer, err := a.llm.Generate(ctx, chatSystemPrompt, buildChatPrompt(message, retrieved.Facts))
		if err == nil {
			resp.Answer = answer
			resp.Generated = true
			return resp, nil
		}
		a.logger.Warn("LLM unavailable, answering from template",
			zap.Error(err),
			zap.Bool("retryable", apperrors.IsRetryable(err)),
		)
	}

	resp.Answer = templateAnswer(retrieved.Facts, resp.Sources)
	return resp, nil
}

// ============================================================================
// Dashboard
// ============================================================================

// Action is a recommended next step for the founder
type Action struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Impact   string `json:"impact"`
	EntityID string `json:"entity_id,omitempty"`
}

// Dashboard summarises a startup's funding position
type Dashboard struct {
	Profile             graph.Startup  `json:"profile"`
	FundingProbability  int            `json:"funding_probability"`
	MatchingInvestors   int            `json:"matching_investors"`
	ApplicableSchemes   int            `json:"applicable_schemes"`
	ActiveOpportunities int            `json:"active_opportunities"`
	TopInvestors        []match.Result `json:"top_investors"`
	TopSchemes          []match.Result `json:"top_schemes"`
	TopOpportunities    []match.Result `json:"top_opportunities"`
	EligibleSchemes     []string       `json:"eligible_schemes"`
	RecommendedActions  []Action       `json:"recommended_actions"`
}

// Dashboard ranks investors, schemes and opportunities for startup. The
// funding probability is the rounded mean of the top investor and scheme
// scores.
func (a *Advisor) Dashboard(startup graph.Startup) (*Dashboard, error) {
	if err := graph.Validate(startup); err != nil {
		return nil, err
	}

	investors, err := a.matcher.Rank(startup, graph.KindInvestor, 0)
	if err != nil {
		return nil, err
	}
	schemes, err := a.matcher.Rank(startup, graph.KindScheme, 0)
	if err != nil {
		return nil, err
	}
	opportunities, err := a.matcher.Rank(startup, graph.KindOpportunity, 0)
	if err != nil {
		return nil, err
	}

	investors, schemes, opportunities = positive(investors), positive(schemes), positive(opportunities)
	topInvestors := head(investors, a.topK)
	topSchemes := head(schemes, a.topK)

	d := &Dashboard{
		Profile:             startup,
		FundingProbability:  fundingProbability(topInvestors, topSchemes),
		MatchingInvestors:   len(investors),
		ApplicableSchemes:   len(schemes),
		ActiveOpportunities: len(opportunities),
		TopInvestors:        topInvestors,
		TopSchemes:          topSchemes,
		TopOpportunities:    head(opportunities, a.topK),
		EligibleSchemes:     []string{},
	}
	for _, edge := range a.matcher.EligibleSchemes(startup) {
		d.EligibleSchemes = append(d.EligibleSchemes, edge.To)
	}
	d.RecommendedActions = recommend(startup, topInvestors, topSchemes, d.TopOpportunities)

	a.logger.Debug("Dashboard built",
		zap.String("startup", startup.ID),
		zap.Int("funding_probability", d.FundingProbability),
		zap.Int("investors", d.MatchingInvestors),
		zap.Int("schemes", d.ApplicableSchemes),
	)
	return d, nil
}

func recommend(startup graph.Startup, investors, schemes, opportunities []match.Result) []Action {
	actions := []Action{}
	if !startup.DPIITRegistered {
		actions = append(actions, Action{
			Title:    "Register on DPIIT Portal",
			Priority: "high",
			Impact:   "Unlocks schemes that require DPIIT recognition",
		})
	}
	if len(investors) > 0 {
		inv := investors[0].Entity.(graph.Investor)
		impact := "Strong sector and stage fit"
		if inv.TicketSize != "" {
			impact = "Ticket size " + inv.TicketSize
		}
		actions = append(actions, Action{
			Title:    "Pitch to " + inv.Name,
			Priority: "medium",
			Impact:   impact,
			EntityID: inv.ID,
		})
	}
	if len(schemes) > 0 {
		scheme := schemes[0].Entity.(graph.Scheme)
		actions = append(actions, Action{
			Title:    "Apply for " + scheme.Name,
			Priority: "high",
			Impact:   scheme.FundingAmount,
			EntityID: scheme.ID,
		})
	}
	if len(opportunities) > 0 {
		opp := opportunities[0].Entity.(graph.Opportunity)
		actions = append(actions, Action{
			Title:    "Participate in " + opp.Name,
			Priority: "medium",
			Impact:   opp.Prize,
			EntityID: opp.ID,
		})
	}
	return head(actions, maxActions)
}

// ============================================================================
// Opportunity Insight
// ============================================================================

// Insight is a one-line note about an opportunity
type Insight struct {
	OpportunityID string   `json:"opportunity_id"`
	Insight       string   `json:"insight"`
	DaysLeft      int      `json:"days_left"`
	Generated     bool     `json:"generated"`
	Sources       []string `json:"sources"`
}

// OpportunityInsight writes a short note on an opportunity, grounded in the
// facts retrieved around it
func (a *Advisor) OpportunityInsight(ctx context.Context, id string) (*Insight, error) {
	e, err := a.source.Snapshot().GetEntity(id)
	if err != nil {
		return nil, err
	}
	opp, ok := e.(graph.Opportunity)
	if !ok {
		return nil, apperrors.NewValidation(id, "type", "not an opportunity")
	}

	query := opp.Name
	if opp.Sector != "" {
		query += " " + opp.Sector + " investors"
	}
	retrieved, err := a.retriever.Retrieve(ctx, query, 3)
	if err != nil {
		return nil, err
	}

	insight := &Insight{
		OpportunityID: opp.ID,
		DaysLeft:      daysUntil(a.now(), opp.Deadline),
		Sources:       sources(retrieved.Facts),
	}
	if a.llm != nil {
		text, err := a.llm.Generate(ctx, insightSystemPrompt, buildInsightPrompt(opp, insight.DaysLeft, retrieved.Facts))
		if err == nil {
			insight.Insight = firstLine(text)
			insight.Generated = true
			return insight, nil
		}
		a.logger.Warn("LLM unavailable, using template insight", zap.String("opportunity", opp.ID), zap.Error(err))
	}
	insight.Insight = templateInsight(opp, insight.DaysLeft, retrieved.Facts)
	return insight, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func positive(results []match.Result) []match.Result {
	out := results[:0:0]
	for _, r := range results {
		if r.Score > 0 {
			out = append(out, r)
		}
	}
	return out
}

func head[T any](items []T, k int) []T {
	if len(items) > k {
		return items[:k]
	}
	if items == nil {
		return []T{}
	}
	return items
}

func fundingProbability(investors, schemes []match.Result) int {
	n := len(investors) + len(schemes)
	if n == 0 {
		return 0
	}
	var total float64
	for _, r := range investors {
		total += r.Score
	}
	for _, r := range schemes {
		total += r.Score
	}
	return int(total/float64(n) + 0.5)
}

func sources(facts []retrieval.Fact) []string {
	seen := map[string]bool{}
	result := []string{}
	for _, f := range facts {
		src := f.Citation
		if src == "" {
			src = f.SourceName
		}
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		result = append(result, src)
	}
	return result
}

func daysUntil(now, deadline time.Time) int {
	if !deadline.After(now) {
		return 0
	}
	return int(deadline.Sub(now).Hours() / 24)
}
