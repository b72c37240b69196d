package parcels

import (
	"sync/atomic"

	"github.com/parcelmap/server/internal/geodata"
)

// Collection is an ordered, immutable set of parcels. Every mutating method
// returns a new Collection and leaves the receiver untouched, so a snapshot
// handed to a reader never changes underneath it. Rings held by parcels are
// never modified in place.
type Collection struct {
	items []Parcel
}

// NewCollection copies parcels into a new collection.
func NewCollection(parcels []Parcel) Collection {
	items := make([]Parcel, len(parcels))
	copy(items, parcels)
	return Collection{items: items}
}

// Len returns the number of parcels.
func (c Collection) Len() int {
	return len(c.items)
}

// All returns a copy of the parcels in order.
func (c Collection) All() []Parcel {
	out := make([]Parcel, len(c.items))
	copy(out, c.items)
	return out
}

// Get looks up a parcel by id.
func (c Collection) Get(id string) (Parcel, bool) {
	if i := c.index(id); i >= 0 {
		return c.items[i], true
	}
	return Parcel{}, false
}

// Add appends p.
func (c Collection) Add(p Parcel) Collection {
	items := make([]Parcel, len(c.items), len(c.items)+1)
	copy(items, c.items)
	return Collection{items: append(items, p)}
}

// Update replaces the parcel with the given id by fn's result. The boolean
// is false when no such parcel exists.
func (c Collection) Update(id string, fn func(Parcel) Parcel) (Collection, bool) {
	i := c.index(id)
	if i < 0 {
		return c, false
	}
	items := c.All()
	items[i] = fn(items[i])
	return Collection{items: items}, true
}

// SetRing replaces a parcel's geometry. When bumpVersion is set the version
// is incremented so renderers can key on it.
func (c Collection) SetRing(id string, ring geodata.Ring, bumpVersion bool) (Collection, bool) {
	return c.Update(id, func(p Parcel) Parcel {
		p.Ring = ring.Clone()
		if bumpVersion {
			p.Version++
		}
		return p
	})
}

// Remove drops the parcel with the given id.
func (c Collection) Remove(id string) Collection {
	i := c.index(id)
	if i < 0 {
		return c
	}
	items := make([]Parcel, 0, len(c.items)-1)
	items = append(items, c.items[:i]...)
	items = append(items, c.items[i+1:]...)
	return Collection{items: items}
}

// Substitute swaps a parcel's id in place, keeping its position.
func (c Collection) Substitute(oldID, newID string) (Collection, bool) {
	return c.Update(oldID, func(p Parcel) Parcel {
		p.ID = newID
		return p
	})
}

// Obstacles returns the visible, editable parcels other than excludeID.
func (c Collection) Obstacles(excludeID string) []Parcel {
	var out []Parcel
	for _, p := range c.items {
		if p.ID == excludeID || !p.Visible || !p.Editable() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c Collection) index(id string) int {
	for i, p := range c.items {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Store publishes the current collection to concurrent readers.
type Store struct {
	current atomic.Pointer[Collection]
}

// NewStore returns a store holding an empty collection.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Collection{})
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() Collection {
	return *s.current.Load()
}

// Swap publishes c as the current snapshot.
func (s *Store) Swap(c Collection) {
	s.current.Store(&c)
}
