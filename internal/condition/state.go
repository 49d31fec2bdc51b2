package condition

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/freeeve/stagecraft/pkg/tactics"
)

// StateEnv is the environment for expressions over match state, used by
// custom objectives and expression victory/defeat conditions:
//
//	EnemiesAlive == 0 || (Turn >= 8 && Alive("lord"))
type StateEnv struct {
	Turn             int
	MaxTurns         int
	Phase            string
	ActivePlayer     string
	PlayersAlive     int
	EnemiesAlive     int
	NPCs             int
	BossesDefeated   int
	EnemiesDefeated  int
	RequiredComplete int
	RequiredTotal    int
	Recruited        int
	Captured         int

	snap *tactics.Snapshot
}

// NewStateEnv maps a snapshot onto the expression environment.
func NewStateEnv(s *tactics.Snapshot) StateEnv {
	bosses := 0
	for _, ok := range s.DefeatedBosses {
		if ok {
			bosses++
		}
	}
	return StateEnv{
		Turn:             s.Turn,
		MaxTurns:         s.MaxTurns,
		Phase:            s.Phase,
		ActivePlayer:     s.ActivePlayer,
		PlayersAlive:     len(s.Alive(tactics.Player)),
		EnemiesAlive:     len(s.Alive(tactics.Enemy)),
		NPCs:             len(s.Alive(tactics.NPC)),
		BossesDefeated:   bosses,
		EnemiesDefeated:  s.EnemiesDefeated,
		RequiredComplete: s.CompletedGoals,
		RequiredTotal:    s.RequiredGoals,
		Recruited:        s.RecruitedCount,
		Captured:         s.CapturedCount,
		snap:             s,
	}
}

// Alive returns true if the unit exists and has HP left.
func (e StateEnv) Alive(id string) bool {
	return e.snap != nil && e.snap.UnitAlive(id)
}

// At returns true if the unit is alive and stands on the given cell.
func (e StateEnv) At(id string, x, y int) bool {
	if e.snap == nil {
		return false
	}
	u := e.snap.Unit(id)
	return u != nil && u.HP > 0 && u.Position == tactics.Position{X: x, Y: y}
}

// Faction returns the unit's faction, or "" if unknown.
func (e StateEnv) Faction(id string) string {
	if e.snap == nil {
		return ""
	}
	if u := e.snap.Unit(id); u != nil {
		return string(u.Faction)
	}
	return ""
}

// StateEvaluator runs state expressions, caching compiled programs.
type StateEvaluator struct {
	programs sync.Map
}

// NewStateEvaluator creates a StateEvaluator.
func NewStateEvaluator() *StateEvaluator {
	return &StateEvaluator{}
}

// Eval runs src against the snapshot.
func (e *StateEvaluator) Eval(src string, s *tactics.Snapshot) (bool, error) {
	var prog *vm.Program
	if p, ok := e.programs.Load(src); ok {
		prog = p.(*vm.Program)
	} else {
		p, err := CompileState(src)
		if err != nil {
			return false, err
		}
		e.programs.Store(src, p)
		prog = p
	}

	out, err := expr.Run(prog, NewStateEnv(s))
	if err != nil {
		return false, fmt.Errorf("run %q: %w", src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", src, out)
	}
	return b, nil
}

// CompileState checks an expression source against the state environment.
func CompileState(src string) (*vm.Program, error) {
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	p, err := expr.Compile(src, expr.Env(StateEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return p, nil
}
