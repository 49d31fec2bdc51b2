package tactics

import "fmt"

// Roster is the id-indexed arena that owns every unit of a stage. Other
// components hold unit ids and borrow pointers only for the duration of a call.
type Roster struct {
	units map[string]*Unit
	order []string
}

// NewRoster builds a roster from the given units. Duplicate ids are rejected.
func NewRoster(units []Unit) (*Roster, error) {
	r := &Roster{units: make(map[string]*Unit, len(units))}
	for _, u := range units {
		if err := r.Add(u); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add inserts a unit. The roster keeps its own copy.
func (r *Roster) Add(u Unit) error {
	if u.ID == "" {
		return fmt.Errorf("unit id is required")
	}
	if _, ok := r.units[u.ID]; ok {
		return fmt.Errorf("duplicate unit id %q", u.ID)
	}
	cp := u
	r.units[u.ID] = &cp
	r.order = append(r.order, u.ID)
	return nil
}

// Get returns the unit with the given id, or nil.
func (r *Roster) Get(id string) *Unit {
	return r.units[id]
}

// Remove drops a unit from the roster. Removing an unknown id is a no-op.
func (r *Roster) Remove(id string) {
	if _, ok := r.units[id]; !ok {
		return
	}
	delete(r.units, id)
	for i, uid := range r.order {
		if uid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of units currently in the roster.
func (r *Roster) Len() int {
	return len(r.order)
}

// Each calls fn for every unit in insertion order.
func (r *Roster) Each(fn func(u *Unit)) {
	for _, id := range r.order {
		fn(r.units[id])
	}
}

// IDsOf returns the ids of all units of the given faction, in insertion order.
func (r *Roster) IDsOf(f Faction) []string {
	var ids []string
	for _, id := range r.order {
		if r.units[id].Faction == f {
			ids = append(ids, id)
		}
	}
	return ids
}

// Units returns copies of every unit, in insertion order.
func (r *Roster) Units() []Unit {
	out := make([]Unit, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.units[id].Clone())
	}
	return out
}

// ResetActions clears the acted/moved flags of every unit that may act.
// NPC units stay locked.
func (r *Roster) ResetActions() {
	for _, id := range r.order {
		u := r.units[id]
		if u.Faction == NPC {
			continue
		}
		u.HasActed = false
		u.HasMoved = false
	}
}
