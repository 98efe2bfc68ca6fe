// Package ledger owns per-actor resource balances and per-object entity
// records. It is dumb storage with invariants: balances never go negative and
// an entity is either at a site or in transit, never both.
package ledger

import (
	"fmt"
	"sort"
)

// Resource names; catalog cost tables key on the same strings.
const (
	Credits  = "credits"
	Minerals = "minerals"
	Fuel     = "fuel"
	Research = "research"
)

var AllResources = []string{Credits, Minerals, Fuel, Research}

// Entity is one simulated object: a ship, a ground unit or a fixed structure.
// Kind references a unit id in the content catalog.
type Entity struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	OwnerID   string `json:"owner_id"`
	SiteID    string `json:"site_id,omitempty"`
	InTransit bool   `json:"in_transit,omitempty"`
	HP        int    `json:"hp"`
}

type Ledger struct {
	balances map[string]map[string]int
	entities map[string]*Entity
	bySite   map[string]map[string]struct{}
}

func New() *Ledger {
	return &Ledger{
		balances: map[string]map[string]int{},
		entities: map[string]*Entity{},
		bySite:   map[string]map[string]struct{}{},
	}
}

// EnsureActor creates the balance row if missing and returns whether it was new.
func (l *Ledger) EnsureActor(actorID string, starting map[string]int) bool {
	if _, ok := l.balances[actorID]; ok {
		return false
	}
	bal := map[string]int{}
	for res, amt := range starting {
		bal[res] = amt
	}
	l.balances[actorID] = bal
	return true
}

func (l *Ledger) HasActor(actorID string) bool {
	_, ok := l.balances[actorID]
	return ok
}

// ActorIDs returns known actor ids, sorted.
func (l *Ledger) ActorIDs() []string {
	ids := make([]string, 0, len(l.balances))
	for id := range l.balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) Balance(actorID string) map[string]int {
	out := map[string]int{}
	for res, amt := range l.balances[actorID] {
		out[res] = amt
	}
	return out
}

func (l *Ledger) CanAfford(actorID string, cost map[string]int) bool {
	bal := l.balances[actorID]
	if bal == nil {
		return false
	}
	for res, amt := range cost {
		if bal[res] < amt {
			return false
		}
	}
	return true
}

// Deduct subtracts cost atomically; no partial deduction on failure.
func (l *Ledger) Deduct(actorID string, cost map[string]int) bool {
	if !l.CanAfford(actorID, cost) {
		return false
	}
	bal := l.balances[actorID]
	for res, amt := range cost {
		bal[res] -= amt
	}
	return true
}

func (l *Ledger) Add(actorID string, res string, amt int) {
	bal := l.balances[actorID]
	if bal == nil {
		return
	}
	bal[res] += amt
}

// Refund credits a full cost table back (cancellation path).
func (l *Ledger) Refund(actorID string, cost map[string]int) {
	for res, amt := range cost {
		l.Add(actorID, res, amt)
	}
}

func (l *Ledger) Entity(id string) *Entity { return l.entities[id] }

func (l *Ledger) EntityCount() int { return len(l.entities) }

// Spawn registers a new entity. The id must be unused.
func (l *Ledger) Spawn(e *Entity) error {
	if _, ok := l.entities[e.ID]; ok {
		return fmt.Errorf("duplicate entity id %s", e.ID)
	}
	l.entities[e.ID] = e
	if e.SiteID != "" && !e.InTransit {
		l.indexSite(e.SiteID, e.ID)
	}
	return nil
}

func (l *Ledger) Remove(id string) {
	e := l.entities[id]
	if e == nil {
		return
	}
	if e.SiteID != "" {
		l.unindexSite(e.SiteID, id)
	}
	delete(l.entities, id)
}

// SetLocation places an entity at a site and clears any in-transit mark.
func (l *Ledger) SetLocation(id, siteID string) {
	e := l.entities[id]
	if e == nil {
		return
	}
	if e.SiteID != "" {
		l.unindexSite(e.SiteID, id)
	}
	e.SiteID = siteID
	e.InTransit = false
	if siteID != "" {
		l.indexSite(siteID, id)
	}
}

// MarkInTransit detaches an entity from its site for the duration of a fleet
// trip. The fleet record is the only reference while in transit.
func (l *Ledger) MarkInTransit(id string) {
	e := l.entities[id]
	if e == nil {
		return
	}
	if e.SiteID != "" {
		l.unindexSite(e.SiteID, id)
	}
	e.SiteID = ""
	e.InTransit = true
}

// EntitiesAt returns entities present at a site, sorted by id.
func (l *Ledger) EntitiesAt(siteID string) []*Entity {
	ids := make([]string, 0, len(l.bySite[siteID]))
	for id := range l.bySite[siteID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.entities[id])
	}
	return out
}

// OwnedEntitiesAt filters EntitiesAt by owner.
func (l *Ledger) OwnedEntitiesAt(siteID, actorID string) []*Entity {
	var out []*Entity
	for _, e := range l.EntitiesAt(siteID) {
		if e.OwnerID == actorID {
			out = append(out, e)
		}
	}
	return out
}

// EntitiesOwnedBy returns all live entities of an owner, sorted by id.
// Includes in-transit entities.
func (l *Ledger) EntitiesOwnedBy(actorID string) []*Entity {
	var ids []string
	for id, e := range l.entities {
		if e.OwnerID == actorID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.entities[id])
	}
	return out
}

// ExportEntities returns all entities in sorted id order.
func (l *Ledger) ExportEntities() []*Entity {
	ids := make([]string, 0, len(l.entities))
	for id := range l.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.entities[id])
	}
	return out
}

// ExportBalances returns a deep copy of every balance row.
func (l *Ledger) ExportBalances() map[string]map[string]int {
	out := map[string]map[string]int{}
	for actor := range l.balances {
		out[actor] = l.Balance(actor)
	}
	return out
}

// Restore rebuilds a ledger from persisted rows; the site index is derived,
// never persisted.
func Restore(balances map[string]map[string]int, entities []*Entity) *Ledger {
	l := New()
	for actor, bal := range balances {
		l.EnsureActor(actor, bal)
	}
	for _, e := range entities {
		_ = l.Spawn(e)
	}
	return l
}

func (l *Ledger) indexSite(siteID, id string) {
	set := l.bySite[siteID]
	if set == nil {
		set = map[string]struct{}{}
		l.bySite[siteID] = set
	}
	set[id] = struct{}{}
}

func (l *Ledger) unindexSite(siteID, id string) {
	if set := l.bySite[siteID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(l.bySite, siteID)
		}
	}
}
