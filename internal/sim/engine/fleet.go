package engine

import (
	"fmt"
	"math"
	"sort"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/galaxy"
)

// Travel classes: the topological category of a route decides which tier of
// the travel-time model applies.
const (
	TravelClassSystem = "SYSTEM"
	TravelClassGalaxy = "GALAXY"
	TravelClassCross  = "INTERGALACTIC"
)

// Fleet is an in-transit ship group. Ships and cargo referenced here are
// marked in-transit in the ledger and exist nowhere else until arrival.
type Fleet struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	OriginSiteID  string   `json:"origin_site_id"`
	DestSiteID    string   `json:"dest_site_id"`
	ShipIDs       []string `json:"ship_ids"`
	CargoIDs      []string `json:"cargo_ids,omitempty"`
	DepartureTick uint64   `json:"departure_tick"`
	ArrivalTick   uint64   `json:"arrival_tick"`
	TravelTicks   uint64   `json:"travel_ticks"`
	TravelClass   string   `json:"travel_class"`
	FuelCost      int      `json:"fuel_cost"`

	// Progress is derived from the tick counter; recomputed, never persisted.
	Progress float64 `json:"-"`
}

// Arrival outcomes.
const (
	OutcomeStarbaseCombat = "starbase_combat"
	OutcomeCombat         = "combat"
	OutcomeColonize       = "colonize"
	OutcomeLanded         = "landed"
)

type FleetRegistry struct {
	e      *Engine
	fleets map[string]*Fleet
}

func newFleetRegistry(e *Engine) *FleetRegistry {
	return &FleetRegistry{e: e, fleets: map[string]*Fleet{}}
}

func (r *FleetRegistry) Get(id string) *Fleet { return r.fleets[id] }

func (r *FleetRegistry) Count() int { return len(r.fleets) }

// IDs returns the in-transit fleet ids, sorted.
func (r *FleetRegistry) IDs() []string {
	ids := make([]string, 0, len(r.fleets))
	for id := range r.fleets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OwnedBy returns the owner's fleets in sorted id order.
func (r *FleetRegistry) OwnedBy(actorID string) []*Fleet {
	var out []*Fleet
	for _, id := range r.IDs() {
		if f := r.fleets[id]; f.OwnerID == actorID {
			out = append(out, f)
		}
	}
	return out
}

// Launch validates and dispatches a fleet. On any violation it fails with a
// specific reason and mutates nothing; on success ships and cargo are
// atomically removed from the origin site and the fleet record is created.
func (r *FleetRegistry) Launch(ownerID, originID, destID string, shipIDs, cargoIDs []string, now uint64) (*Fleet, protocol.Result) {
	e := r.e

	origin := e.universe.Site(originID)
	if origin == nil {
		return nil, protocol.Fail(protocol.ErrInvalidTarget, "origin site not found")
	}
	dest := e.universe.Site(destID)
	if dest == nil {
		return nil, protocol.Fail(protocol.ErrInvalidTarget, "destination site not found")
	}
	if destID == originID {
		return nil, protocol.Fail(protocol.ErrBadRequest, "destination equals origin")
	}
	if len(shipIDs) == 0 {
		return nil, protocol.Fail(protocol.ErrBadRequest, "no ships selected")
	}

	seen := map[string]struct{}{}
	slowest := 0
	cargoCap := 0
	for _, id := range shipIDs {
		if _, dup := seen[id]; dup {
			return nil, protocol.Fail(protocol.ErrBadRequest, "duplicate ship in selection")
		}
		seen[id] = struct{}{}

		ship := e.ledger.Entity(id)
		if ship == nil || ship.OwnerID != ownerID {
			return nil, protocol.Fail(protocol.ErrNotOwned, "ship not owned by actor")
		}
		if ship.InTransit || ship.SiteID != originID {
			return nil, protocol.Fail(protocol.ErrNotAtOrigin, "ship not at origin site")
		}
		def := e.cats.Units.Defs[ship.Kind]
		if !def.Mobile() {
			return nil, protocol.Fail(protocol.ErrNotMobile, "unit is not a space unit")
		}
		if slowest == 0 || def.Speed < slowest {
			slowest = def.Speed
		}
		cargoCap += def.CargoCap
	}

	for _, id := range cargoIDs {
		if _, dup := seen[id]; dup {
			return nil, protocol.Fail(protocol.ErrBadRequest, "duplicate cargo in selection")
		}
		seen[id] = struct{}{}

		item := e.ledger.Entity(id)
		if item == nil || item.OwnerID != ownerID {
			return nil, protocol.Fail(protocol.ErrNotOwned, "cargo not owned by actor")
		}
		if item.InTransit || item.SiteID != originID {
			return nil, protocol.Fail(protocol.ErrNotAtOrigin, "cargo not at origin site")
		}
		if e.cats.Units.Defs[item.Kind].Mobile() {
			return nil, protocol.Fail(protocol.ErrBadRequest, "cargo must be a non-mobile unit")
		}
	}
	if len(cargoIDs) > cargoCap {
		return nil, protocol.Fail(protocol.ErrCargoOver, "cargo exceeds fleet capacity")
	}

	class, travel := r.travelTime(originID, destID, slowest)

	fuel := len(shipIDs) * classFuelFactor(class)
	if !e.ledger.Deduct(ownerID, map[string]int{"fuel": fuel}) {
		return nil, protocol.Fail(protocol.ErrNoResource, "not enough fuel")
	}

	for _, id := range shipIDs {
		e.ledger.MarkInTransit(id)
	}
	for _, id := range cargoIDs {
		e.ledger.MarkInTransit(id)
	}

	f := &Fleet{
		ID:            fmt.Sprintf("F%d", e.nextFleetNum.Add(1)),
		OwnerID:       ownerID,
		OriginSiteID:  originID,
		DestSiteID:    destID,
		ShipIDs:       append([]string(nil), shipIDs...),
		CargoIDs:      append([]string(nil), cargoIDs...),
		DepartureTick: now,
		ArrivalTick:   now + travel,
		TravelTicks:   travel,
		TravelClass:   class,
		FuelCost:      fuel,
	}
	r.fleets[f.ID] = f
	e.sync.RecordChange(ChangeFleet, map[string]any{"fleet_id": f.ID, "actor_id": ownerID})
	e.emit(protocol.Event{
		"t": now, "type": protocol.EvFleetLaunched,
		"fleet_id": f.ID, "actor": ownerID,
		"origin": originID, "dest": destID,
		"arrival_tick": f.ArrivalTick, "travel_class": class,
	})
	return f, protocol.OKData(map[string]any{"fleet_id": f.ID, "arrival_tick": f.ArrivalTick})
}

// travelTime implements the three-tier model. Every tier divides by the
// slowest ship's speed: a fleet moves at its slowest member's pace.
func (r *FleetRegistry) travelTime(originID, destID string, slowest int) (string, uint64) {
	t := r.e.cfg.Tuning.Travel
	so := r.e.universe.SystemOf(originID)
	sd := r.e.universe.SystemOf(destID)

	if so.ID == sd.ID {
		ticks := t.SystemBaseTicks / slowest
		if ticks < t.SystemMinTicks {
			ticks = t.SystemMinTicks
		}
		return TravelClassSystem, uint64(ticks)
	}

	dist := galaxy.Distance(so.Pos, sd.Pos)
	if so.GalaxyID == sd.GalaxyID {
		ticks := int(math.Floor(t.GalaxyFactor * dist / float64(slowest)))
		if ticks < t.SystemMinTicks {
			ticks = t.SystemMinTicks
		}
		return TravelClassGalaxy, uint64(ticks)
	}

	ticks := int(math.Floor(t.CrossFactor * dist / float64(slowest)))
	if ticks < t.SystemMinTicks {
		ticks = t.SystemMinTicks
	}
	if ticks > t.MaxTicks {
		ticks = t.MaxTicks
	}
	return TravelClassCross, uint64(ticks)
}

func classFuelFactor(class string) int {
	switch class {
	case TravelClassSystem:
		return 1
	case TravelClassGalaxy:
		return 2
	default:
		return 3
	}
}

// Tick recomputes progress for every in-transit fleet and removes and
// returns the fleets whose arrival tick has come, in sorted id order.
func (r *FleetRegistry) Tick(now uint64) []*Fleet {
	var arrived []*Fleet
	for _, id := range r.IDs() {
		f := r.fleets[id]
		if f.ArrivalTick != f.DepartureTick+f.TravelTicks {
			panic(fmt.Sprintf("fleet %s: arrival tick drifted from departure+travel", f.ID))
		}
		f.Progress = clamp01(float64(now-f.DepartureTick) / float64(f.TravelTicks))
		if now >= f.ArrivalTick {
			arrived = append(arrived, f)
			delete(r.fleets, id)
		}
	}
	return arrived
}

// Recall cancels an in-transit fleet before arrival: ships and cargo are
// restored to the origin site and the fuel cost refunded.
func (r *FleetRegistry) Recall(ownerID, fleetID string, now uint64) protocol.Result {
	f := r.fleets[fleetID]
	if f == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "fleet not found")
	}
	if f.OwnerID != ownerID {
		return protocol.Fail(protocol.ErrNotOwned, "fleet not owned by actor")
	}

	for _, id := range append(append([]string(nil), f.ShipIDs...), f.CargoIDs...) {
		r.e.ledger.SetLocation(id, f.OriginSiteID)
	}
	r.e.ledger.Refund(ownerID, map[string]int{"fuel": f.FuelCost})
	delete(r.fleets, fleetID)

	r.e.sync.RecordChange(ChangeFleet, map[string]any{"fleet_id": fleetID, "actor_id": ownerID})
	r.e.emit(protocol.Event{
		"t": now, "type": protocol.EvFleetRecalled,
		"fleet_id": fleetID, "actor": ownerID, "origin": f.OriginSiteID,
	})
	return protocol.OKResult()
}

// ResolveArrival classifies a fleet's arrival. The branch order is a
// contract: a hostile operational defensive structure always takes
// precedence over direct invasion.
func (r *FleetRegistry) ResolveArrival(f *Fleet) string {
	e := r.e
	dest := e.universe.Site(f.DestSiteID)

	if sb := e.bases.At(f.DestSiteID); sb != nil && sb.Operational() && e.treaties.Hostile(f.OwnerID, sb.OwnerID) {
		return OutcomeStarbaseCombat
	}
	if dest.OwnerID != "" && dest.OwnerID != f.OwnerID && e.treaties.Hostile(f.OwnerID, dest.OwnerID) {
		return OutcomeCombat
	}
	if dest.OwnerID == "" && r.carriesColonizer(f) {
		return OutcomeColonize
	}
	return OutcomeLanded
}

func (r *FleetRegistry) carriesColonizer(f *Fleet) bool {
	for _, id := range f.ShipIDs {
		ent := r.e.ledger.Entity(id)
		if ent != nil && r.e.cats.Units.Defs[ent.Kind].CanColonize {
			return true
		}
	}
	return false
}

// Export returns fleets in sorted id order for snapshots and sync payloads.
func (r *FleetRegistry) Export() []*Fleet {
	out := make([]*Fleet, 0, len(r.fleets))
	for _, id := range r.IDs() {
		out = append(out, r.fleets[id])
	}
	return out
}

func (r *FleetRegistry) restore(fleets []*Fleet, now uint64) {
	r.fleets = map[string]*Fleet{}
	for _, f := range fleets {
		if f.TravelTicks > 0 {
			f.Progress = clamp01(float64(now-f.DepartureTick) / float64(f.TravelTicks))
		}
		r.fleets[f.ID] = f
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
