package tactics

// Snapshot is an immutable copy of match state handed to objective and
// victory evaluation. Mutating a snapshot never affects the roster.
type Snapshot struct {
	StageID         string
	Turn            int
	MaxTurns        int
	Phase           string
	ActivePlayer    string
	Units           []Unit
	DefeatedBosses  map[string]bool
	CompletedGoals  int // required objectives complete
	RequiredGoals   int // required objectives registered
	RecruitedCount  int
	CapturedCount   int
	EnemiesDefeated int
}

// NewSnapshot copies the roster into a snapshot.
func NewSnapshot(stageID string, turn int, r *Roster) Snapshot {
	return Snapshot{
		StageID:        stageID,
		Turn:           turn,
		Units:          r.Units(),
		DefeatedBosses: map[string]bool{},
	}
}

// Unit returns the unit with the given id, or nil.
func (s *Snapshot) Unit(id string) *Unit {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return &s.Units[i]
		}
	}
	return nil
}

// Alive returns copies of all living units of the given faction.
func (s *Snapshot) Alive(f Faction) []Unit {
	var out []Unit
	for _, u := range s.Units {
		if u.Faction == f && u.HP > 0 {
			out = append(out, u)
		}
	}
	return out
}

// Count returns the number of units of the given faction, alive or not.
func (s *Snapshot) Count(f Faction) int {
	n := 0
	for _, u := range s.Units {
		if u.Faction == f {
			n++
		}
	}
	return n
}

// UnitAlive returns true if a unit with the id exists and has HP left.
func (s *Snapshot) UnitAlive(id string) bool {
	u := s.Unit(id)
	return u != nil && u.HP > 0
}

// PlayerAt returns true if a living player unit occupies p.
func (s *Snapshot) PlayerAt(p Position) bool {
	for _, u := range s.Units {
		if u.Faction == Player && u.HP > 0 && u.Position == p {
			return true
		}
	}
	return false
}

// PlayerIn returns true if a living player unit stands inside a.
func (s *Snapshot) PlayerIn(a Area) bool {
	for _, u := range s.Units {
		if u.Faction == Player && u.HP > 0 && a.Contains(u.Position) {
			return true
		}
	}
	return false
}
