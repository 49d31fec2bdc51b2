package condition

import (
	"testing"

	"github.com/freeeve/stagecraft/pkg/tactics"
)

func blow(attacker string, hp, maxHP int, turn int) tactics.BlowContext {
	return tactics.BlowContext{
		AttackerID:  attacker,
		TargetID:    "E",
		TargetHP:    hp,
		TargetMaxHP: maxHP,
		Damage:      30,
		DamageType:  tactics.Physical,
		Turn:        turn,
	}
}

func TestEvaluateKinds(t *testing.T) {
	ev := NewEvaluator()
	ctx := blow("P1", 25, 90, 4)

	tests := []struct {
		name string
		cond tactics.Condition
		want bool
	}{
		{"attacker match", tactics.SpecificAttacker("P1"), true},
		{"attacker mismatch", tactics.SpecificAttacker("P2"), false},
		{"hp under threshold", tactics.HPThreshold(0.3), true},
		{"hp over threshold", tactics.HPThreshold(0.25), false},
		{"damage type match", tactics.DamageOfType(tactics.Physical), true},
		{"damage type mismatch", tactics.DamageOfType(tactics.Magical), false},
		{"turn in window", tactics.TurnWindow(2, 5), true},
		{"turn before window", tactics.TurnWindow(5, 8), false},
		{"turn after window", tactics.TurnWindow(1, 3), false},
		{"open ended window", tactics.TurnWindow(3, 0), true},
		{"expression", tactics.Expression(`Attacker == "P1" && HPRatio < 0.3`), true},
		{"expression method", tactics.Expression(`AttackerIn("p2", "p1") && Turn >= 4`), true},
		{"custom", tactics.Custom("always", func(tactics.BlowContext) bool { return true }), true},
		{"unknown kind", tactics.Condition{Kind: "bogus"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ev.Evaluate(tt.cond, ctx); got != tt.want {
				t.Errorf("Evaluate(%s) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestEvaluateMissingContextIsFalse(t *testing.T) {
	ev := NewEvaluator()
	empty := tactics.BlowContext{}

	for _, c := range []tactics.Condition{
		tactics.SpecificAttacker("P1"),
		tactics.HPThreshold(1),
		tactics.DamageOfType(tactics.Physical),
		tactics.TurnWindow(0, 0),
		{Kind: tactics.CondCustom},
	} {
		report := ev.EvaluateAll([]tactics.Condition{c}, empty)
		if report.AllMet {
			t.Errorf("%s: expected unmet on empty context", c.Kind)
		}
		if report.Results[0].Diagnostic == "" {
			t.Errorf("%s: expected a diagnostic", c.Kind)
		}
	}
}

func TestEvaluatePanickingPredicateRecovered(t *testing.T) {
	ev := NewEvaluator()
	cond := tactics.Custom("boom", func(tactics.BlowContext) bool { panic("boom") })

	report := ev.EvaluateAll([]tactics.Condition{cond, tactics.SpecificAttacker("P1")}, blow("P1", 10, 90, 1))
	if report.AllMet {
		t.Fatal("expected unmet when a predicate panics")
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected evaluation to continue past the panic, got %d results", len(report.Results))
	}
	if !report.Results[1].Satisfied {
		t.Error("expected second condition to still be evaluated and satisfied")
	}
}

func TestEvaluateAllReportsEveryCondition(t *testing.T) {
	ev := NewEvaluator()
	conds := []tactics.Condition{
		tactics.SpecificAttacker("P2"), // fails first
		tactics.HPThreshold(0.3),
		tactics.TurnWindow(1, 10),
	}
	report := ev.EvaluateAll(conds, blow("P1", 25, 90, 2))

	want := []bool{false, true, true}
	got := report.Satisfied()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if report.AllMet {
		t.Error("expected AllMet false on partial satisfaction")
	}
}

func TestEvaluateAllEmptyIsUnmet(t *testing.T) {
	if NewEvaluator().EvaluateAll(nil, blow("P1", 1, 1, 1)).AllMet {
		t.Error("an empty requirement must never be met")
	}
}

func TestExpressionErrors(t *testing.T) {
	ev := NewEvaluator()
	ctx := blow("P1", 25, 90, 1)

	if ev.Evaluate(tactics.Expression(`Attacker +`), ctx) {
		t.Error("syntax error must evaluate to false")
	}
	if ev.Evaluate(tactics.Expression(`Damage`), ctx) {
		t.Error("non-bool expression must evaluate to false")
	}
	if _, err := Compile(`NoSuchField > 1`); err == nil {
		t.Error("expected compile error for unknown field")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	ev := NewEvaluator()
	ctx := blow("P1", 25, 90, 3)
	cond := tactics.Expression(`HP < 30 && Turn == 3`)
	first := ev.Evaluate(cond, ctx)
	for i := 0; i < 5; i++ {
		if ev.Evaluate(cond, ctx) != first {
			t.Fatal("evaluation is not deterministic")
		}
	}
}
