package match

import (
	"fmt"
	"sync"

	"fundgraph/backend/internal/graph"
	"github.com/google/cel-go/cel"
)

// Eligibility rules are CEL expressions over a single variable, startup,
// holding the profile fields by their JSON names, e.g.
//
//	startup.team_size >= 2 && startup.sector != "FinTech"
var ruleEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("startup", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
})

// CompileRule parses and type-checks an eligibility rule
func CompileRule(expr string) (cel.Program, error) {
	env, err := ruleEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to build rule environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid rule %q: %w", expr, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", expr, out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to plan rule %q: %w", expr, err)
	}
	return prg, nil
}

// ValidateRule reports whether expr compiles
func ValidateRule(expr string) error {
	_, err := CompileRule(expr)
	return err
}

func evalRule(prg cel.Program, s graph.Startup) (bool, error) {
	out, _, err := prg.Eval(map[string]any{"startup": ruleInput(s)})
	if err != nil {
		return false, err
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("rule returned %T, want bool", out.Value())
	}
	return ok, nil
}

func ruleInput(s graph.Startup) map[string]any {
	return map[string]any{
		"name":             s.Name,
		"sector":           s.Sector,
		"stage":            s.Stage,
		"location":         s.Location,
		"monthly_revenue":  s.MonthlyRevenue,
		"dpiit_registered": s.DPIITRegistered,
		"team_size":        int64(s.TeamSize),
	}
}
