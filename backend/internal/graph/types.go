package graph

import (
	"slices"
	"strings"
	"time"
)

// ============================================================================
// Entity Kinds and Edge Types
// ============================================================================

// Kind tags an entity variant
type Kind string

const (
	KindStartup     Kind = "startup"
	KindInvestor    Kind = "investor"
	KindScheme      Kind = "scheme"
	KindOpportunity Kind = "opportunity"
	KindSector      Kind = "sector"
	KindStage       Kind = "stage"
	KindLocation    Kind = "location"
)

// CatalogKinds are the kinds that live in the graph and take part in sync
var CatalogKinds = []Kind{KindInvestor, KindScheme, KindOpportunity, KindSector, KindStage, KindLocation}

// EdgeType names a directed relationship
type EdgeType string

const (
	EdgeInvestsIn     EdgeType = "INVESTS_IN"      // Investor -> Sector
	EdgeActiveInStage EdgeType = "ACTIVE_IN_STAGE" // Investor -> Stage
	EdgeOffers        EdgeType = "OFFERS"          // Opportunity -> Sector
	EdgeOperatesIn    EdgeType = "OPERATES_IN"     // Investor -> Location
	EdgeLocatedIn     EdgeType = "LOCATED_IN"      // Location -> Location (city -> state -> region)
	EdgeOffersScheme  EdgeType = "OFFERS_SCHEME"   // Location -> Scheme
	EdgeEligibleFor   EdgeType = "ELIGIBLE_FOR"    // Startup -> Scheme, computed by the match engine
)

// StoredEdgeTypes are the edge types the graph store accepts
var StoredEdgeTypes = []EdgeType{
	EdgeInvestsIn, EdgeActiveInStage, EdgeOffers, EdgeOperatesIn, EdgeLocatedIn, EdgeOffersScheme,
}

type endpointRule struct {
	from Kind
	to   Kind
}

var edgeRules = map[EdgeType]endpointRule{
	EdgeInvestsIn:     {KindInvestor, KindSector},
	EdgeActiveInStage: {KindInvestor, KindStage},
	EdgeOffers:        {KindOpportunity, KindSector},
	EdgeOperatesIn:    {KindInvestor, KindLocation},
	EdgeLocatedIn:     {KindLocation, KindLocation},
	EdgeOffersScheme:  {KindLocation, KindScheme},
	EdgeEligibleFor:   {KindStartup, KindScheme},
}

// defaultEdgeWeights feed the retrieval walk when an edge carries no weight
var defaultEdgeWeights = map[EdgeType]float64{
	EdgeInvestsIn:     1.0,
	EdgeActiveInStage: 0.8,
	EdgeOffers:        1.0,
	EdgeOperatesIn:    0.9,
	EdgeLocatedIn:     0.7,
	EdgeOffersScheme:  1.0,
	EdgeEligibleFor:   1.0,
}

// ============================================================================
// Entity Variants
// ============================================================================

// Entity is the closed set of graph node variants. Values held by a
// Snapshot are shared between readers and must not be modified.
type Entity interface {
	EntityID() string
	EntityKind() Kind
	DisplayName() string
	clone() Entity
}

// OpportunityType enumerates opportunity categories
type OpportunityType string

const (
	OpportunityGrant       OpportunityType = "grant"
	OpportunityHackathon   OpportunityType = "hackathon"
	OpportunityAccelerator OpportunityType = "accelerator"
	OpportunityChallenge   OpportunityType = "challenge"
)

// LocationLevel places a location in the city -> state -> region hierarchy
type LocationLevel string

const (
	LevelCity   LocationLevel = "city"
	LevelState  LocationLevel = "state"
	LevelRegion LocationLevel = "region"
)

// AnyLocation marks an investor that accepts startups from anywhere
const AnyLocation = "*"

// Startup is a session-scoped founder profile. It is never stored in the graph.
type Startup struct {
	ID              string  `json:"-"`
	Name            string  `json:"name,omitempty"`
	Sector          string  `json:"sector"`
	Stage           string  `json:"stage"`
	Location        string  `json:"location"`
	MonthlyRevenue  float64 `json:"monthly_revenue"`
	DPIITRegistered bool    `json:"dpiit_registered"`
	TeamSize        int     `json:"team_size"`
}

// Investor is a fund, angel network or incubator
type Investor struct {
	ID           string    `json:"-"`
	Name         string    `json:"name"`
	Type         string    `json:"type,omitempty"`
	Sectors      []string  `json:"sectors"`
	Stages       []string  `json:"stages"`
	Locations    []string  `json:"locations,omitempty"`
	LastActive   time.Time `json:"last_active"`
	TicketSize   string    `json:"ticket_size,omitempty"`
	Thesis       string    `json:"investment_thesis,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Portfolio    []string  `json:"portfolio_companies,omitempty"`
	Source       string    `json:"source,omitempty"`
}

// Eligibility is the predicate a startup must satisfy for a scheme
type Eligibility struct {
	Sectors           []string `json:"sectors,omitempty"`
	Stages            []string `json:"stages,omitempty"`
	RequiresDPIIT     bool     `json:"requires_dpiit,omitempty"`
	MaxMonthlyRevenue float64  `json:"max_monthly_revenue,omitempty"` // 0 means no ceiling
	Rule              string   `json:"rule,omitempty"`                // CEL expression over the startup profile
}

// Scheme is a government funding or support scheme
type Scheme struct {
	ID                 string      `json:"-"`
	Name               string      `json:"name"`
	Type               string      `json:"type,omitempty"`
	Department         string      `json:"department,omitempty"`
	State              string      `json:"state,omitempty"` // empty for central schemes
	FundingAmount      string      `json:"funding_amount,omitempty"`
	Benefit            string      `json:"benefit,omitempty"`
	Eligibility        Eligibility `json:"eligibility"`
	ApplicationProcess string      `json:"application_process,omitempty"`
	Link               string      `json:"link,omitempty"`
	Source             string      `json:"source,omitempty"`
}

// Opportunity is a grant, hackathon, accelerator or challenge
type Opportunity struct {
	ID        string          `json:"-"`
	Name      string          `json:"name"`
	Type      OpportunityType `json:"type"`
	Sector    string          `json:"sector,omitempty"` // empty means open to every sector
	Organizer string          `json:"organizer,omitempty"`
	Deadline  time.Time       `json:"deadline"`
	Prize     string          `json:"prize,omitempty"`
	Benefits  []string        `json:"benefits,omitempty"`
	Link      string          `json:"link,omitempty"`
	Source    string          `json:"source,omitempty"`
}

// Sector is a controlled industry vocabulary term
type Sector struct {
	ID      string   `json:"-"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Stage is a controlled funding-stage vocabulary term
type Stage struct {
	ID      string   `json:"-"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Location is a city, state or region
type Location struct {
	ID      string        `json:"-"`
	Name    string        `json:"name"`
	Level   LocationLevel `json:"level"`
	Aliases []string      `json:"aliases,omitempty"`
}

func (s Startup) EntityID() string     { return s.ID }
func (s Startup) EntityKind() Kind     { return KindStartup }
func (s Startup) DisplayName() string  { return s.Name }
func (s Startup) clone() Entity        { return s }
func (i Investor) EntityID() string    { return i.ID }
func (i Investor) EntityKind() Kind    { return KindInvestor }
func (i Investor) DisplayName() string { return i.Name }
func (s Scheme) EntityID() string      { return s.ID }
func (s Scheme) EntityKind() Kind      { return KindScheme }
func (s Scheme) DisplayName() string   { return s.Name }
func (o Opportunity) EntityID() string { return o.ID }
func (o Opportunity) EntityKind() Kind { return KindOpportunity }
func (o Opportunity) DisplayName() string { return o.Name }
func (s Sector) EntityID() string      { return s.ID }
func (s Sector) EntityKind() Kind      { return KindSector }
func (s Sector) DisplayName() string   { return s.Name }
func (s Stage) EntityID() string       { return s.ID }
func (s Stage) EntityKind() Kind       { return KindStage }
func (s Stage) DisplayName() string    { return s.Name }
func (l Location) EntityID() string    { return l.ID }
func (l Location) EntityKind() Kind    { return KindLocation }
func (l Location) DisplayName() string { return l.Name }

func (i Investor) clone() Entity {
	i.Sectors = slices.Clone(i.Sectors)
	i.Stages = slices.Clone(i.Stages)
	i.Locations = slices.Clone(i.Locations)
	i.Portfolio = slices.Clone(i.Portfolio)
	return i
}

func (s Scheme) clone() Entity {
	s.Eligibility.Sectors = slices.Clone(s.Eligibility.Sectors)
	s.Eligibility.Stages = slices.Clone(s.Eligibility.Stages)
	return s
}

func (o Opportunity) clone() Entity {
	o.Benefits = slices.Clone(o.Benefits)
	return o
}

func (s Sector) clone() Entity {
	s.Aliases = slices.Clone(s.Aliases)
	return s
}

func (s Stage) clone() Entity {
	s.Aliases = slices.Clone(s.Aliases)
	return s
}

func (l Location) clone() Entity {
	l.Aliases = slices.Clone(l.Aliases)
	return l
}

// AcceptsAllLocations reports whether the investor has no geographic restriction
func (i Investor) AcceptsAllLocations() bool {
	return len(i.Locations) == 0 || slices.Contains(i.Locations, AnyLocation)
}

// IsCentral reports whether the scheme is available across the country
func (s Scheme) IsCentral() bool {
	return s.State == ""
}

// Names returns the display name followed by any aliases
func Names(e Entity) []string {
	var aliases []string
	switch v := e.(type) {
	case Sector:
		aliases = v.Aliases
	case Stage:
		aliases = v.Aliases
	case Location:
		aliases = v.Aliases
	}
	names := make([]string, 0, 1+len(aliases))
	if e.DisplayName() != "" {
		names = append(names, e.DisplayName())
	}
	return append(names, aliases...)
}

// ContainsFold reports whether list holds value, ignoring case and surrounding space
func ContainsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

// ============================================================================
// Edges
// ============================================================================

// Edge is a directed, typed relationship between two entities
type Edge struct {
	Type   EdgeType `json:"type"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Weight float64  `json:"weight,omitempty"`
}

// EdgeKey identifies an edge; there is at most one edge per key
type EdgeKey struct {
	Type EdgeType
	From string
	To   string
}

// Key returns the identity of the edge
func (e Edge) Key() EdgeKey {
	return EdgeKey{Type: e.Type, From: e.From, To: e.To}
}

// EffectiveWeight returns the edge weight or the default for its type
func (e Edge) EffectiveWeight() float64 {
	if e.Weight > 0 {
		return e.Weight
	}
	if w, ok := defaultEdgeWeights[e.Type]; ok {
		return w
	}
	return 1.0
}

// Neighbor is an entity reached by a walk, with the edge that reached it
type Neighbor struct {
	Entity Entity
	Edge   Edge
	Depth  int
}

// ============================================================================
// Bulk Types
// ============================================================================

// Dataset is a full entity and edge set, as pulled from or pushed to a durable store
type Dataset struct {
	Entities []Entity
	Edges    []Edge
}

// Diff is an explicit change set applied to the store in one batch
type Diff struct {
	UpsertEntities []Entity
	RemoveEntities []string
	UpsertEdges    []Edge
	RemoveEdges    []EdgeKey
}

// IsEmpty reports whether the diff changes nothing
func (d Diff) IsEmpty() bool {
	return d.Size() == 0
}

// Size returns the number of operations in the diff
func (d Diff) Size() int {
	return len(d.UpsertEntities) + len(d.RemoveEntities) + len(d.UpsertEdges) + len(d.RemoveEdges)
}

// ApplyResult summarizes a diff application
type ApplyResult struct {
	Applied int
	Skipped int
	Errors  []error
	Version uint64
}

// Stats describes the size of a snapshot
type Stats struct {
	Version        uint64           `json:"version"`
	TotalEntities  int              `json:"total_entities"`
	TotalEdges     int              `json:"total_relationships"`
	EntitiesByKind map[Kind]int     `json:"entities_by_type"`
	EdgesByType    map[EdgeType]int `json:"relationships_by_type"`
}
