// Package condition evaluates recruitment conditions against the context of a
// finalizing blow. Evaluation is pure: it never mutates units or the roster
// and gives identical answers for identical contexts.
package condition

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/pkg/tactics"
)

// Result is the outcome of a single condition.
type Result struct {
	Index      int                   `json:"index"`
	Kind       tactics.ConditionKind `json:"kind"`
	Label      string                `json:"label"`
	Satisfied  bool                  `json:"satisfied"`
	Diagnostic string                `json:"diagnostic,omitempty"`
}

// Report is the ordered outcome of a composite (AND) requirement.
type Report struct {
	Results []Result `json:"results"`
	AllMet  bool     `json:"all_met"`
}

// Satisfied returns a plain bool slice in condition order, for UI progress display.
func (r Report) Satisfied() []bool {
	out := make([]bool, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Satisfied
	}
	return out
}

// Evaluator evaluates conditions. Expression programs are compiled once per
// source string and reused; an Evaluator is safe for concurrent use.
type Evaluator struct {
	programs sync.Map // expr source -> *vm.Program
}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns whether cond holds against ctx. It never panics; any
// failure yields false.
func (e *Evaluator) Evaluate(cond tactics.Condition, ctx tactics.BlowContext) bool {
	ok, _ := e.evaluate(cond, ctx)
	return ok
}

// EvaluateAll evaluates every condition in order and reports each result.
// All conditions are evaluated even after one fails so the caller can show
// per-condition progress. An empty list is never met.
func (e *Evaluator) EvaluateAll(conds []tactics.Condition, ctx tactics.BlowContext) Report {
	report := Report{Results: make([]Result, 0, len(conds)), AllMet: len(conds) > 0}
	for i, c := range conds {
		ok, diag := e.evaluate(c, ctx)
		report.Results = append(report.Results, Result{
			Index:      i,
			Kind:       c.Kind,
			Label:      c.String(),
			Satisfied:  ok,
			Diagnostic: diag,
		})
		if !ok {
			report.AllMet = false
		}
	}
	return report
}

func (e *Evaluator) evaluate(cond tactics.Condition, ctx tactics.BlowContext) (ok bool, diag string) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			diag = fmt.Sprintf("predicate panicked: %v", r)
			log.Warn().Str("kind", string(cond.Kind)).Str("targetId", ctx.TargetID).
				Interface("panic", r).Msg("Recruitment condition panicked, treating as unmet")
		}
	}()

	switch cond.Kind {
	case tactics.CondSpecificAttacker:
		if ctx.AttackerID == "" {
			return missing(cond, ctx, "attacker")
		}
		return ctx.AttackerID == cond.AttackerID, ""

	case tactics.CondHPThreshold:
		if ctx.TargetMaxHP <= 0 {
			return missing(cond, ctx, "target max HP")
		}
		return ctx.HPRatio() <= cond.Ratio, ""

	case tactics.CondDamageType:
		if ctx.DamageType == "" {
			return missing(cond, ctx, "damage type")
		}
		return ctx.DamageType == cond.DamageType, ""

	case tactics.CondTurnWindow:
		if ctx.Turn <= 0 {
			return missing(cond, ctx, "turn")
		}
		if ctx.Turn < cond.MinTurn {
			return false, ""
		}
		return cond.MaxTurn <= 0 || ctx.Turn <= cond.MaxTurn, ""

	case tactics.CondExpression:
		return e.runExpr(cond, ctx)

	case tactics.CondCustom:
		if cond.Predicate == nil {
			return missing(cond, ctx, "predicate")
		}
		return cond.Predicate(ctx), ""
	}

	diag = fmt.Sprintf("unknown condition kind %q", cond.Kind)
	log.Warn().Str("kind", string(cond.Kind)).Str("targetId", ctx.TargetID).Msg("Unknown recruitment condition kind")
	return false, diag
}

func missing(cond tactics.Condition, ctx tactics.BlowContext, field string) (bool, string) {
	diag := "missing " + field
	log.Debug().Str("kind", string(cond.Kind)).Str("targetId", ctx.TargetID).
		Str("field", field).Msg("Recruitment condition context incomplete")
	return false, diag
}

func (e *Evaluator) runExpr(cond tactics.Condition, ctx tactics.BlowContext) (bool, string) {
	prog, err := e.program(cond.Expr)
	if err != nil {
		log.Warn().Err(err).Str("expr", cond.Expr).Msg("Recruitment expression failed to compile")
		return false, err.Error()
	}
	out, err := expr.Run(prog, NewEnv(ctx))
	if err != nil {
		log.Warn().Err(err).Str("expr", cond.Expr).Str("targetId", ctx.TargetID).Msg("Recruitment expression failed")
		return false, err.Error()
	}
	b, isBool := out.(bool)
	if !isBool {
		return false, fmt.Sprintf("expression returned %T, want bool", out)
	}
	return b, ""
}

func (e *Evaluator) program(src string) (*vm.Program, error) {
	if p, ok := e.programs.Load(src); ok {
		return p.(*vm.Program), nil
	}
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	e.programs.Store(src, p)
	return p, nil
}

// Compile checks an expression source against the blow environment.
// Stage loading uses it to reject malformed expressions up front.
func Compile(src string) (*vm.Program, error) {
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	p, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return p, nil
}
