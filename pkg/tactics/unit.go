package tactics

// Faction identifies which side controls a unit.
type Faction string

const (
	Player Faction = "player"
	Enemy  Faction = "enemy"
	NPC    Faction = "npc"
)

// Valid reports whether f is one of the known factions.
func (f Faction) Valid() bool {
	switch f {
	case Player, Enemy, NPC:
		return true
	}
	return false
}

// Position is a single map cell.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Area is an inclusive rectangle of cells.
type Area struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Contains returns true if p lies inside the area, edges included.
func (a Area) Contains(p Position) bool {
	return p.X >= a.MinX && p.X <= a.MaxX && p.Y >= a.MinY && p.Y <= a.MaxY
}

// Recruitment is the metadata that makes a unit recruitable. Conditions are
// evaluated in order and all must hold at the moment of the finalizing blow.
type Recruitment struct {
	Conditions  []Condition `json:"conditions"`
	Priority    int         `json:"priority"`
	Description string      `json:"description,omitempty"`
}

// Unit is a single combat participant.
type Unit struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Faction     Faction      `json:"faction"`
	HP          int          `json:"hp"`
	MaxHP       int          `json:"max_hp"`
	MP          int          `json:"mp"`
	MaxMP       int          `json:"max_mp"`
	Position    Position     `json:"position"`
	HasActed    bool         `json:"has_acted"`
	HasMoved    bool         `json:"has_moved"`
	IsBoss      bool         `json:"is_boss,omitempty"`
	Recruitment *Recruitment `json:"recruitment,omitempty"`
}

// Alive returns true if the unit still has HP left.
func (u *Unit) Alive() bool {
	return u.HP > 0
}

// Recruitable returns true if the unit carries at least one recruitment condition.
func (u *Unit) Recruitable() bool {
	return u.Recruitment != nil && len(u.Recruitment.Conditions) > 0
}

// HPRatio returns HP/MaxHP, or 0 when MaxHP is not positive.
func (u *Unit) HPRatio() float64 {
	if u.MaxHP <= 0 {
		return 0
	}
	return float64(u.HP) / float64(u.MaxHP)
}

// Clone returns a copy of the unit. Recruitment metadata is immutable once
// attached, so the pointer is shared.
func (u *Unit) Clone() Unit {
	return *u
}
