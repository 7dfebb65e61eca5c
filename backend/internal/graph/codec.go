package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	apperrors "fundgraph/backend/pkg/errors"
)

// Record is one entry of a seed file or a durable store export
type Record struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
	Edges      []RecordEdge    `json:"edges,omitempty"`
}

// RecordEdge is an outgoing edge declared on a record
type RecordEdge struct {
	Type     string  `json:"type"`
	TargetID string  `json:"targetId"`
	Weight   float64 `json:"weight,omitempty"`
}

// ParseKind maps a record type onto a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == KindStartup || slices.Contains(CatalogKinds, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// ParseEdgeType maps a record edge type onto an EdgeType
func ParseEdgeType(s string) (EdgeType, error) {
	t := EdgeType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := edgeRules[t]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown edge type %q", s)
}

// DecodeEntity builds the typed variant for kind from its JSON attributes
// and validates it.
func DecodeEntity(kind Kind, id string, attrs json.RawMessage) (Entity, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidation(id, "id", "missing")
	}
	if len(bytes.TrimSpace(attrs)) == 0 {
		attrs = json.RawMessage("{}")
	}

	var (
		e   Entity
		err error
	)
	switch kind {
	case KindStartup:
		var v Startup
		err = json.Unmarshal(attrs, &v)
		v.ID = id
		e = v
	case KindInvestor:
		var v Investor
		err = json.Unmarshal(attrs, &v)
		v.ID = id
		e = v
	case KindScheme:
		var v Scheme
		err = json.Unmarshal(attrs, &v)
		v.ID = id
		e = v
	case KindOpportunity:
		var v Opportunity
		err = json.Unmarshal(attrs, &v)
		v.ID = id
		e = v
	case KindSector:
		var v Sector
		err = json.Unmarshal(attrs, &v)
		v.ID = id
		e = v
	case KindStage:
		var v Stage
		err = json.Unmarshal(attrs, &v)
		v.ID = id
		e = v
	case KindLocation:
		var v Location
		err = json.Unmarshal(attrs, &v)
		v.ID = id
		e = v
	default:
		return nil, apperrors.NewValidation(id, "type", fmt.Sprintf("unknown entity type %q", kind))
	}
	if err != nil {
		return nil, apperrors.NewValidation(id, "attributes", err.Error())
	}
	if err := Validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeAttributes serializes the attributes of an entity, without its id
func EncodeAttributes(e Entity) ([]byte, error) {
	return json.Marshal(e)
}

// Validate checks the required fields of an entity
func Validate(e Entity) error {
	id := e.EntityID()
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidation(id, "id", "missing")
	}

	switch v := e.(type) {
	case Startup:
		if v.Sector == "" {
			return apperrors.NewValidation(id, "sector", "missing")
		}
		if v.Stage == "" {
			return apperrors.NewValidation(id, "stage", "missing")
		}
		if v.MonthlyRevenue < 0 {
			return apperrors.NewValidation(id, "monthly_revenue", "negative")
		}
		if v.TeamSize < 0 {
			return apperrors.NewValidation(id, "team_size", "negative")
		}
		return nil
	case Investor:
		if v.Name == "" {
			return apperrors.NewValidation(id, "name", "missing")
		}
	case Scheme:
		if v.Name == "" {
			return apperrors.NewValidation(id, "name", "missing")
		}
		if v.Eligibility.MaxMonthlyRevenue < 0 {
			return apperrors.NewValidation(id, "eligibility.max_monthly_revenue", "negative")
		}
	case Opportunity:
		if v.Name == "" {
			return apperrors.NewValidation(id, "name", "missing")
		}
		switch v.Type {
		case OpportunityGrant, OpportunityHackathon, OpportunityAccelerator, OpportunityChallenge:
		default:
			return apperrors.NewValidation(id, "type", fmt.Sprintf("unknown opportunity type %q", v.Type))
		}
		if v.Deadline.IsZero() {
			return apperrors.NewValidation(id, "deadline", "missing")
		}
	case Sector, Stage:
		if e.DisplayName() == "" {
			return apperrors.NewValidation(id, "name", "missing")
		}
	case Location:
		if v.Name == "" {
			return apperrors.NewValidation(id, "name", "missing")
		}
		switch v.Level {
		case LevelCity, LevelState, LevelRegion:
		default:
			return apperrors.NewValidation(id, "level", fmt.Sprintf("unknown location level %q", v.Level))
		}
	default:
		return apperrors.NewValidation(id, "type", fmt.Sprintf("unsupported entity %T", e))
	}
	return nil
}

// ValidateEdge checks an edge type against the kinds of its endpoints
func ValidateEdge(edge Edge, fromKind, toKind Kind) error {
	rule, ok := edgeRules[edge.Type]
	if !ok {
		return apperrors.NewValidation(edge.From, "edge.type", fmt.Sprintf("unknown edge type %q", edge.Type))
	}
	if fromKind != rule.from || toKind != rule.to {
		return apperrors.NewValidation(edge.From, "edge."+string(edge.Type),
			fmt.Sprintf("expects %s->%s, got %s->%s", rule.from, rule.to, fromKind, toKind))
	}
	if edge.Weight < 0 {
		return apperrors.NewValidation(edge.From, "edge.weight", "negative")
	}
	return nil
}
