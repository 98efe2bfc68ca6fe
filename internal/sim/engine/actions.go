package engine

import (
	"fmt"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/galaxy"
)

// Execute runs a single player action synchronously between ticks. Every
// handler validates ownership and affordability before mutating anything and
// returns a structured result; no failure escapes as a panic.
func (e *Engine) Execute(actorID string, kind protocol.ActionKind, p protocol.ActionParams) (res protocol.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = protocol.Fail(protocol.ErrInternal, fmt.Sprintf("action handler fault: %v", r))
		}
	}()

	if !e.ledger.HasActor(actorID) {
		return protocol.Fail(protocol.ErrInvalidTarget, "unknown actor")
	}
	if e.eliminated[actorID] {
		return protocol.Fail(protocol.ErrEliminated, "actor is eliminated")
	}
	if !protocol.IsKnownAction(kind) {
		return protocol.Fail(protocol.ErrBadRequest, "unknown action kind")
	}

	now := e.tick.Load()

	switch kind {
	case protocol.ActBuildStructure:
		return e.buildStructure(actorID, p, now)
	case protocol.ActTrainUnit:
		return e.trainUnit(actorID, p, now)
	case protocol.ActLaunchFleet:
		_, res := e.fleets.Launch(actorID, p.SiteID, p.DestID, p.ShipIDs, p.CargoIDs, now)
		return res
	case protocol.ActCancelFleet:
		return e.fleets.Recall(actorID, p.FleetID, now)
	case protocol.ActStarbaseBuild:
		return e.bases.Build(actorID, p.SiteID, now)
	case protocol.ActStarbaseUpgrade:
		return e.bases.Upgrade(actorID, p.SiteID, now)
	case protocol.ActStarbaseModule:
		return e.bases.InstallModule(actorID, p.SiteID, p.ModuleID, now)
	case protocol.ActQueueUnit:
		return e.bases.Enqueue(actorID, p.SiteID, p.UnitType, now)
	case protocol.ActQueueCancel:
		return e.bases.CancelItem(actorID, p.SiteID, p.ItemID, now)
	case protocol.ActColonize:
		return e.colonize(actorID, p, now)
	case protocol.ActResearch:
		return e.startResearch(actorID, p, now)
	case protocol.ActSpecialize:
		return e.specialize(actorID, p, now)
	case protocol.ActTreatyPropose:
		return e.treaties.Propose(actorID, p.WithActor, p.Stance, now)
	case protocol.ActTreatyAccept:
		return e.treaties.Accept(actorID, p.TreatyID, now)
	case protocol.ActTreatyReject:
		return e.treaties.Reject(actorID, p.TreatyID)
	case protocol.ActTradePropose:
		return e.proposeTrade(actorID, p, now)
	case protocol.ActTradeAccept:
		return e.acceptTrade(actorID, p.TradeID)
	case protocol.ActTradeReject:
		return e.dropTrade(actorID, p.TradeID, "to")
	case protocol.ActTradeCancel:
		return e.dropTrade(actorID, p.TradeID, "from")
	case protocol.ActCouncilVote:
		return e.councilVote(actorID, p)
	}
	return protocol.Fail(protocol.ErrBadRequest, "unknown action kind")
}

func (e *Engine) buildStructure(actorID string, p protocol.ActionParams, now uint64) protocol.Result {
	site := e.universe.Site(p.SiteID)
	if site == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "site not found")
	}
	if site.OwnerID != actorID {
		return protocol.Fail(protocol.ErrNoPermission, "site not held by actor")
	}
	def, ok := e.cats.Units.Defs[p.UnitType]
	if !ok || def.Class != catalogs.ClassStructure {
		return protocol.Fail(protocol.ErrBadRequest, "not a structure type")
	}
	if !e.ledger.Deduct(actorID, def.Cost) {
		return protocol.Fail(protocol.ErrNoResource, "cannot afford structure")
	}
	ent := e.spawnUnit(p.UnitType, actorID, p.SiteID)
	e.emit(protocol.Event{
		"t": now, "type": protocol.EvStructureBuilt,
		"site": p.SiteID, "actor": actorID, "entity_id": ent.ID, "unit": p.UnitType,
	})
	return protocol.OKData(map[string]any{"entity_id": ent.ID})
}

func (e *Engine) trainUnit(actorID string, p protocol.ActionParams, now uint64) protocol.Result {
	site := e.universe.Site(p.SiteID)
	if site == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "site not found")
	}
	if site.OwnerID != actorID {
		return protocol.Fail(protocol.ErrNoPermission, "site not held by actor")
	}
	def, ok := e.cats.Units.Defs[p.UnitType]
	if !ok || def.Class != catalogs.ClassGround {
		return protocol.Fail(protocol.ErrBadRequest, "not a trainable ground unit")
	}
	if !e.ledger.Deduct(actorID, def.Cost) {
		return protocol.Fail(protocol.ErrNoResource, "cannot afford unit")
	}
	ent := e.spawnUnit(p.UnitType, actorID, p.SiteID)
	e.emit(protocol.Event{
		"t": now, "type": protocol.EvUnitTrained,
		"site": p.SiteID, "actor": actorID, "entity_id": ent.ID, "unit": p.UnitType,
	})
	return protocol.OKData(map[string]any{"entity_id": ent.ID})
}

// colonize claims an unowned habitable site with a colonization-capable unit
// already present, consuming it.
func (e *Engine) colonize(actorID string, p protocol.ActionParams, now uint64) protocol.Result {
	site := e.universe.Site(p.SiteID)
	if site == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "site not found")
	}
	if site.OwnerID != "" {
		return protocol.Fail(protocol.ErrConflict, "site already owned")
	}
	if !site.Habitable {
		return protocol.Fail(protocol.ErrBadRequest, "site is not habitable")
	}

	colonizer := ""
	for _, ent := range e.ledger.OwnedEntitiesAt(p.SiteID, actorID) {
		if e.cats.Units.Defs[ent.Kind].CanColonize {
			colonizer = ent.ID
			break
		}
	}
	if colonizer == "" {
		return protocol.Fail(protocol.ErrNoResource, "no colonizer at site")
	}

	e.ledger.Remove(colonizer)
	_ = e.universe.SetOwner(p.SiteID, actorID, now)
	e.sync.RecordChange(ChangeEntity, map[string]any{"entity_id": colonizer, "site_id": p.SiteID})
	e.sync.RecordChange(ChangeSite, map[string]any{"site_id": p.SiteID, "actor_id": actorID})
	e.emit(protocol.Event{
		"t": now, "type": protocol.EvColonized,
		"site": p.SiteID, "actor": actorID,
	})
	return protocol.OKResult()
}

func (e *Engine) startResearch(actorID string, p protocol.ActionParams, now uint64) protocol.Result {
	def, ok := e.cats.Tech.Defs[p.TechID]
	if !ok {
		return protocol.Fail(protocol.ErrBadRequest, "unknown technology")
	}
	if e.doneTech[actorID][p.TechID] {
		return protocol.Fail(protocol.ErrConflict, "technology already researched")
	}
	if e.research[actorID] != nil {
		return protocol.Fail(protocol.ErrBusy, "research already in progress")
	}
	if !e.ledger.Deduct(actorID, def.Cost) {
		return protocol.Fail(protocol.ErrNoResource, "cannot afford research")
	}
	e.research[actorID] = &ResearchJob{TechID: p.TechID, DoneTick: now + uint64(def.ResearchTicks)}
	return protocol.OKData(map[string]any{"done_tick": now + uint64(def.ResearchTicks)})
}

func (e *Engine) specialize(actorID string, p protocol.ActionParams, now uint64) protocol.Result {
	site := e.universe.Site(p.SiteID)
	if site == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "site not found")
	}
	if site.OwnerID != actorID {
		return protocol.Fail(protocol.ErrNoPermission, "site not held by actor")
	}
	if !galaxy.KnownSpecialization(p.Specialization) {
		return protocol.Fail(protocol.ErrBadRequest, "unknown specialization")
	}
	site.Specialization = p.Specialization
	e.sync.RecordChange(ChangeSite, map[string]any{"site_id": p.SiteID, "actor_id": actorID})
	return protocol.OKResult()
}

func (e *Engine) councilVote(actorID string, p protocol.ActionParams) protocol.Result {
	if p.Candidate == "" || !e.ledger.HasActor(p.Candidate) {
		return protocol.Fail(protocol.ErrInvalidTarget, "unknown candidate")
	}
	if e.council.Votes == nil {
		e.council.Votes = map[string]string{}
	}
	e.council.Votes[actorID] = p.Candidate
	return protocol.OKResult()
}
