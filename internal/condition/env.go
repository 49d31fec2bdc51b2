package condition

import (
	"strings"

	"github.com/freeeve/stagecraft/pkg/tactics"
)

// Env is the environment exposed to expression conditions. Fields and
// methods are addressable by name from expr source, e.g.
//
//	Attacker == "hero" && HPRatio <= 0.25 && Turn >= 3
type Env struct {
	Attacker        string
	AttackerFaction string
	Target          string
	HP              int
	MaxHP           int
	HPRatio         float64
	Damage          int
	DamageType      string
	Critical        bool
	Turn            int
}

// NewEnv maps a blow context onto the expression environment.
func NewEnv(ctx tactics.BlowContext) Env {
	return Env{
		Attacker:        ctx.AttackerID,
		AttackerFaction: string(ctx.AttackerFaction),
		Target:          ctx.TargetID,
		HP:              ctx.TargetHP,
		MaxHP:           ctx.TargetMaxHP,
		HPRatio:         ctx.HPRatio(),
		Damage:          ctx.Damage,
		DamageType:      string(ctx.DamageType),
		Critical:        ctx.IsCritical,
		Turn:            ctx.Turn,
	}
}

// Overkill returns true if the blow deals at least n more damage than the target has HP.
func (e Env) Overkill(n int) bool {
	return e.Damage-e.HP >= n
}

// AttackerIn returns true if the attacker id matches any of the given ids, case-insensitively.
func (e Env) AttackerIn(ids ...string) bool {
	for _, id := range ids {
		if strings.EqualFold(e.Attacker, id) {
			return true
		}
	}
	return false
}
