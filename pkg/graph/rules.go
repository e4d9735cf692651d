package graph

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/aretw0/espalier/pkg/domain"
)

// Params are the tunable thresholds visible to rule expressions.
type Params struct {
	// HighConfidence is the lower bound (inclusive) of the direct-generation band.
	HighConfidence float64
	// LowConfidence is the lower bound (inclusive) of the enriched-generation band.
	LowConfidence float64
	// MaxReroutes bounds how often a node may send the session back to an earlier node.
	MaxReroutes int
}

// DefaultParams mirrors the bands the pipeline was designed around.
func DefaultParams() Params {
	return Params{HighConfidence: 0.8, LowConfidence: 0.5, MaxReroutes: 3}
}

// Validate rejects thresholds that would leave gaps or overlaps between bands.
func (p Params) Validate() error {
	if p.LowConfidence < 0 || p.HighConfidence > 1 {
		return fmt.Errorf("%w: confidence thresholds must be within [0,1]", domain.ErrInvalidGraph)
	}
	if p.LowConfidence >= p.HighConfidence {
		return fmt.Errorf("%w: low confidence threshold %.2f must be below high threshold %.2f",
			domain.ErrInvalidGraph, p.LowConfidence, p.HighConfidence)
	}
	if p.MaxReroutes < 0 {
		return fmt.Errorf("%w: max reroutes must not be negative", domain.ErrInvalidGraph)
	}
	return nil
}

// Env is the variable set rule expressions are compiled and evaluated against.
type Env struct {
	Confidence  float64 `expr:"confidence"`
	HasQuery    bool    `expr:"has_query"`
	Executed    bool    `expr:"executed"`
	Succeeded   bool    `expr:"succeeded"`
	Recoverable bool    `expr:"recoverable"`
	Validated   bool    `expr:"validated"`
	Passed      bool    `expr:"passed"`
	Decision    string  `expr:"decision"`
	Attempts    int     `expr:"attempts"`

	High        float64 `expr:"high"`
	Low         float64 `expr:"low"`
	MaxReroutes int     `expr:"max_reroutes"`
}

// NewEnv projects the state of the node that just ran into a rule environment.
func NewEnv(state *domain.WorkflowState, p Params) Env {
	env := Env{
		Confidence:  state.Confidence,
		HasQuery:    state.GeneratedQuery != nil && strings.TrimSpace(state.GeneratedQuery.SQL) != "",
		Attempts:    state.RetryCounts[state.CurrentNode],
		High:        p.HighConfidence,
		Low:         p.LowConfidence,
		MaxReroutes: p.MaxReroutes,
	}
	if r := state.ExecutionResult; r != nil {
		env.Executed = true
		env.Succeeded = r.Succeeded
		env.Recoverable = r.Recoverable
	}
	if v := state.ValidationVerdict; v != nil {
		env.Validated = true
		env.Passed = v.Passed
	}
	for i := len(state.Reviews) - 1; i >= 0; i-- {
		if state.Reviews[i].Node == state.CurrentNode {
			env.Decision = string(state.Reviews[i].Decision)
			break
		}
	}
	return env
}

// Rule is one conditional branch.
type Rule struct {
	// When is an expr-lang boolean expression over Env, e.g. "confidence >= high".
	When  string
	To    domain.NodeID
	Label string
	// CountRetry increments RetryCounts of the node being left when taken.
	CountRetry bool
}

type compiledRule struct {
	Rule
	program *vm.Program
}

// Rules is a Router that requires exactly one rule to match.
// No match and several matches are both configuration errors.
type Rules struct {
	params Params
	rules  []compiledRule
}

// CompileRules compiles every expression against Env, failing fast on syntax
// or type errors.
func CompileRules(params Params, rules ...Rule) (*Rules, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules given")
	}
	out := &Rules{params: params}
	for _, r := range rules {
		if !r.To.Valid() {
			return nil, fmt.Errorf("rule %q targets unknown node %q", r.When, r.To)
		}
		program, err := expr.Compile(r.When, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.When, err)
		}
		out.rules = append(out.rules, compiledRule{Rule: r, program: program})
	}
	return out, nil
}

// Route evaluates every rule and returns the single matching one.
func (r *Rules) Route(state *domain.WorkflowState) (Route, error) {
	env := NewEnv(state, r.params)

	var matched []compiledRule
	for _, rule := range r.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			return Route{}, fmt.Errorf("evaluate rule %q: %w", rule.When, err)
		}
		if ok, _ := out.(bool); ok {
			matched = append(matched, rule)
		}
	}

	switch len(matched) {
	case 1:
		m := matched[0]
		return Route{To: m.To, Label: m.Label, CountRetry: m.CountRetry}, nil
	case 0:
		return Route{}, fmt.Errorf("%w: no rule of node %q matches", domain.ErrUndefinedRoute, state.CurrentNode)
	default:
		whens := make([]string, len(matched))
		for i, m := range matched {
			whens[i] = m.When
		}
		return Route{}, fmt.Errorf("%w: node %q matches %s", domain.ErrAmbiguousRoute, state.CurrentNode, strings.Join(whens, " | "))
	}
}

// Targets returns the distinct targets of all rules in declaration order.
func (r *Rules) Targets() []domain.NodeID {
	seen := make(map[domain.NodeID]bool)
	var out []domain.NodeID
	for _, rule := range r.rules {
		if !seen[rule.To] {
			seen[rule.To] = true
			out = append(out, rule.To)
		}
	}
	return out
}

// Conditions returns the expression of every rule per target, used for introspection.
func (r *Rules) Conditions() map[domain.NodeID][]string {
	out := make(map[domain.NodeID][]string)
	for _, rule := range r.rules {
		out[rule.To] = append(out[rule.To], rule.When)
	}
	return out
}
