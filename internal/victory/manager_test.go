package victory

import (
	"errors"
	"testing"

	"github.com/freeeve/stagecraft/pkg/tactics"
)

func snapshot(units ...tactics.Unit) *tactics.Snapshot {
	return &tactics.Snapshot{StageID: "s", Turn: 1, Units: units, DefeatedBosses: map[string]bool{}}
}

func player(id string, hp int) tactics.Unit {
	return tactics.Unit{ID: id, Faction: tactics.Player, HP: hp, MaxHP: 10}
}

func enemy(id string, hp int) tactics.Unit {
	return tactics.Unit{ID: id, Faction: tactics.Enemy, HP: hp, MaxHP: 10}
}

func TestDefeatAllEnemiesVictoryScenario(t *testing.T) {
	m := NewManager(nil)
	if err := m.AddVictory(Condition{ID: "rout", Kind: KindDefeatAllEnemies, Required: true}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddDefeat(Condition{ID: "wipe", Kind: KindAllPlayersDefeated, Description: "All units fell"}); err != nil {
		t.Fatal(err)
	}

	s := snapshot(player("p1", 10), player("p2", 5), enemy("e1", 0), enemy("e2", 0))
	v := m.CheckVictory(s)
	if !v.IsVictory {
		t.Fatalf("expected victory, got %+v", v)
	}
	if d := m.CheckDefeat(s); d.IsDefeat {
		t.Errorf("expected no defeat, got %+v", d)
	}
}

func TestZeroRequiredNeverWins(t *testing.T) {
	m := NewManager(nil)
	m.AddVictory(Condition{ID: "opt1", Kind: KindDefeatAllEnemies})
	m.AddVictory(Condition{ID: "opt2", Kind: KindSurviveTurns, Turns: 1})

	v := m.CheckVictory(snapshot(player("p1", 10)))
	if v.IsVictory {
		t.Fatal("victory with zero required conditions must be false")
	}
	if len(v.Satisfied) != 2 || v.RequiredCount != 0 {
		t.Errorf("expected both optional satisfied, got %+v", v)
	}

	if NewManager(nil).CheckVictory(snapshot()).IsVictory {
		t.Error("an empty manager must never report victory")
	}
}

func TestVictoryNeedsAllRequired(t *testing.T) {
	m := NewManager(nil)
	m.AddVictory(Condition{ID: "rout", Kind: KindDefeatAllEnemies, Required: true})
	m.AddVictory(Condition{ID: "hold", Kind: KindSurviveTurns, Turns: 5, Required: true})

	s := snapshot(player("p1", 10), enemy("e1", 0))
	v := m.CheckVictory(s)
	if v.IsVictory {
		t.Fatal("expected no victory with one required unsatisfied")
	}
	if len(v.Satisfied) != 1 || v.Satisfied[0] != "rout" || v.Unsatisfied[0] != "hold" {
		t.Errorf("unexpected partition %+v", v)
	}

	s.Turn = 5
	if !m.CheckVictory(s).IsVictory {
		t.Error("expected victory once all required hold")
	}
}

func TestDefeatAggregation(t *testing.T) {
	m := NewManager(nil)
	m.AddDefeat(Condition{ID: "lord", Kind: KindUnitDefeated, UnitID: "p1", Description: "The lord has fallen"})
	m.AddDefeat(Condition{ID: "wipe", Kind: KindAllPlayersDefeated})
	m.AddDefeat(Condition{ID: "clock", Kind: KindTurnLimit, Turns: 10, Description: "Out of time"})

	s := snapshot(player("p1", 10), enemy("e1", 5))
	if d := m.CheckDefeat(s); d.IsDefeat || len(d.Triggered) != 0 {
		t.Fatalf("expected no defeat, got %+v", d)
	}

	s = snapshot(player("p1", 0), enemy("e1", 5))
	s.Turn = 11
	d := m.CheckDefeat(s)
	if !d.IsDefeat || len(d.Triggered) != 3 {
		t.Fatalf("expected three triggered conditions, got %+v", d)
	}
	if d.Message != "The lord has fallen" {
		t.Errorf("expected first triggered description, got %q", d.Message)
	}
}

func TestTurnLimitFallsBackToMaxTurns(t *testing.T) {
	m := NewManager(nil)
	m.AddDefeat(Condition{ID: "clock", Kind: KindTurnLimit})

	s := snapshot(player("p1", 10))
	s.Turn = 30
	if m.CheckDefeat(s).IsDefeat {
		t.Error("no limit configured, must not trigger")
	}
	s.MaxTurns = 20
	if !m.CheckDefeat(s).IsDefeat {
		t.Error("expected stage max turns to apply")
	}
}

func TestDefeatBoss(t *testing.T) {
	m := NewManager(nil)
	m.AddVictory(Condition{ID: "boss", Kind: KindDefeatBoss, Required: true})

	boss := enemy("b", 10)
	boss.IsBoss = true
	s := snapshot(player("p1", 10), boss)
	if m.CheckVictory(s).IsVictory {
		t.Fatal("boss still alive")
	}
	s.Units[1].Faction = tactics.NPC
	if !m.CheckVictory(s).IsVictory {
		t.Error("a captured boss no longer fights for the enemy")
	}

	named := NewManager(nil)
	named.AddVictory(Condition{ID: "boss", Kind: KindDefeatBoss, UnitID: "gone", Required: true})
	s = snapshot(player("p1", 10))
	s.DefeatedBosses["gone"] = true
	if !named.CheckVictory(s).IsVictory {
		t.Error("expected recorded boss defeat to count")
	}
}

func TestPositionAndObjectiveKinds(t *testing.T) {
	m := NewManager(nil)
	m.AddVictory(Condition{ID: "gate", Kind: KindReachPosition, Position: &tactics.Position{X: 3, Y: 3}, Required: true})
	m.AddVictory(Condition{ID: "goals", Kind: KindRequiredObjectives, Required: true})

	p := player("p1", 10)
	p.Position = tactics.Position{X: 3, Y: 3}
	s := snapshot(p)
	if m.CheckVictory(s).IsVictory {
		t.Fatal("no required objectives registered, must not win")
	}
	s.RequiredGoals, s.CompletedGoals = 2, 2
	if !m.CheckVictory(s).IsVictory {
		t.Error("expected victory")
	}
}

func TestExpressionAndCustomConditions(t *testing.T) {
	m := NewManager(nil)
	m.AddVictory(Condition{ID: "expr", Kind: KindExpression, Expr: `EnemiesAlive == 0 && Turn <= 5`, Required: true})
	m.AddDefeat(Condition{ID: "boom", Kind: KindCustom, Predicate: func(*tactics.Snapshot) bool { panic("x") }})

	s := snapshot(player("p1", 10), enemy("e1", 0))
	if !m.CheckVictory(s).IsVictory {
		t.Error("expected expression victory")
	}
	if m.CheckDefeat(s).IsDefeat {
		t.Error("a panicking predicate must count as not triggered")
	}
}

func TestValidationAndDuplicates(t *testing.T) {
	m := NewManager(nil)
	if err := m.AddVictory(Condition{ID: "x", Kind: KindExpression, Expr: "Turn +"}); err == nil {
		t.Error("expected compile error")
	}
	if err := m.AddVictory(Condition{ID: "y", Kind: "bogus"}); err == nil {
		t.Error("expected unknown kind error")
	}
	if err := m.AddDefeat(Condition{ID: "z", Kind: KindUnitDefeated}); err == nil {
		t.Error("expected missing unit error")
	}
	m.AddVictory(Condition{ID: "a", Kind: KindDefeatAllEnemies})
	if err := m.AddDefeat(Condition{ID: "a", Kind: KindAllPlayersDefeated}); !errors.Is(err, ErrDuplicateCondition) {
		t.Errorf("expected ErrDuplicateCondition, got %v", err)
	}
}

func TestHasDefeatAndReset(t *testing.T) {
	m := NewManager(nil)
	m.AddDefeat(Condition{ID: "lord", Kind: KindUnitDefeated, UnitID: "p1"})
	if !m.HasDefeat(KindUnitDefeated, "p1") || m.HasDefeat(KindUnitDefeated, "p2") {
		t.Error("HasDefeat mismatch")
	}
	m.Reset()
	if len(m.Defeat()) != 0 || m.HasDefeat(KindUnitDefeated, "p1") {
		t.Error("expected empty manager after reset")
	}
}
