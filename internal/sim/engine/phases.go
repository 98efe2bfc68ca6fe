package engine

import (
	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/galaxy"
	"starhold.gg/internal/sim/ledger"
)

// ResearchJob is an actor's single active research timer.
type ResearchJob struct {
	TechID   string `json:"tech_id"`
	DoneTick uint64 `json:"done_tick"`
}

// Council is the periodic galactic election. Votes accumulate between
// elections and are tallied on the council tick.
type Council struct {
	SpeakerID string            `json:"speaker_id,omitempty"`
	Votes     map[string]string `json:"votes,omitempty"`
}

// phaseOrbit is a reserved slot: positional updates run ahead of everything
// that reads positions. Sites do not move yet, so the phase is empty.
func (e *Engine) phaseOrbit(now uint64) {
	_ = now
}

// phaseResources credits every actor's per-site generation. One corrupt
// actor must not starve the rest, so each runs under safeActor.
func (e *Engine) phaseResources(now uint64) {
	econ := e.cfg.Tuning.Economy
	for _, actorID := range e.ledger.ActorIDs() {
		if e.eliminated[actorID] {
			continue
		}
		actorID := actorID
		e.safeActor(now, "resources", actorID, func() {
			touched := false
			for _, siteID := range e.universe.OwnedSiteIDs(actorID) {
				site := e.universe.Site(siteID)
				gain := map[string]int{
					ledger.Credits:  econ.BaseSiteCredits,
					ledger.Minerals: econ.BaseSiteMinerals,
					ledger.Fuel:     econ.BaseSiteFuel,
					ledger.Research: econ.BaseSiteResearch,
				}
				if res := specializationResource(site.Specialization); res != "" {
					gain[res] += gain[res] * econ.SpecializeBonus / 1000
				}
				for res, amt := range gain {
					e.ledger.Add(actorID, res, amt)
				}
				touched = true
			}
			if touched {
				e.sync.RecordChange(ChangeActor, map[string]any{"actor_id": actorID})
			}
		})
	}
}

func specializationResource(spec string) string {
	switch spec {
	case galaxy.SpecMining:
		return ledger.Minerals
	case galaxy.SpecIndustry:
		return ledger.Fuel
	case galaxy.SpecScience:
		return ledger.Research
	case galaxy.SpecTrade:
		return ledger.Credits
	}
	return ""
}

// phaseSelfUpdate completes research timers and clamps entity hit points to
// their catalog maxima.
func (e *Engine) phaseSelfUpdate(now uint64) {
	for _, actorID := range e.ledger.ActorIDs() {
		job := e.research[actorID]
		if job == nil || now < job.DoneTick {
			continue
		}
		delete(e.research, actorID)
		done := e.doneTech[actorID]
		if done == nil {
			done = map[string]bool{}
			e.doneTech[actorID] = done
		}
		done[job.TechID] = true
		e.sync.RecordChange(ChangeActor, map[string]any{"actor_id": actorID})
		e.emit(protocol.Event{
			"t": now, "type": protocol.EvResearchDone,
			"actor": actorID, "tech": job.TechID,
		})
	}

	for _, ent := range e.ledger.ExportEntities() {
		if maxHP := e.cats.Units.Defs[ent.Kind].HP; ent.HP > maxHP && ent.OwnerID != HostileActorID {
			ent.HP = maxHP
		}
	}
}

// processQueues drains completed production runs and spawns the units at
// their starbase's site.
func (e *Engine) processQueues(now uint64) {
	for _, siteID := range e.bases.SiteIDs() {
		sb := e.bases.At(siteID)
		for _, item := range e.bases.ProcessCompletions(sb, now) {
			ent := e.spawnUnit(item.ProducedType, sb.OwnerID, siteID)
			e.emit(protocol.Event{
				"t": now, "type": protocol.EvQueueComplete,
				"site": siteID, "actor": sb.OwnerID,
				"item_id": item.ID, "unit": item.ProducedType, "entity_id": ent.ID,
			})
		}
	}
}

// phaseFleets advances transit and resolves arrivals. Arrived units are
// placed before the combat phase runs, so same-tick arrivals fight.
func (e *Engine) phaseFleets(now uint64) {
	for _, f := range e.fleets.Tick(now) {
		outcome := e.fleets.ResolveArrival(f)

		if outcome == OutcomeColonize {
			colonizer := ""
			for _, id := range f.ShipIDs {
				ent := e.ledger.Entity(id)
				if ent != nil && e.cats.Units.Defs[ent.Kind].CanColonize {
					colonizer = id
					break
				}
			}
			e.ledger.Remove(colonizer)
			f.ShipIDs = removeString(f.ShipIDs, colonizer)
			_ = e.universe.SetOwner(f.DestSiteID, f.OwnerID, now)
			e.sync.RecordChange(ChangeSite, map[string]any{"site_id": f.DestSiteID, "actor_id": f.OwnerID})
			e.emit(protocol.Event{
				"t": now, "type": protocol.EvColonized,
				"site": f.DestSiteID, "actor": f.OwnerID,
			})
		}

		for _, id := range append(append([]string(nil), f.ShipIDs...), f.CargoIDs...) {
			e.ledger.SetLocation(id, f.DestSiteID)
		}

		e.sync.RecordChange(ChangeFleet, map[string]any{"fleet_id": f.ID, "actor_id": f.OwnerID})
		e.emit(protocol.Event{
			"t": now, "type": protocol.EvFleetArrived,
			"fleet_id": f.ID, "actor": f.OwnerID,
			"site": f.DestSiteID, "outcome": outcome,
		})
	}
}

// phasePassive applies repairs: starbases self-repair, and a REPAIR module
// extends that to the owner's units at the site.
func (e *Engine) phasePassive(now uint64) {
	rate := e.cfg.Tuning.RepairPerTick
	if rate <= 0 {
		return
	}
	for _, siteID := range e.bases.SiteIDs() {
		sb := e.bases.At(siteID)
		if !sb.Operational() {
			continue
		}
		if sb.HP < sb.MaxHP {
			sb.HP += rate
			if sb.HP > sb.MaxHP {
				sb.HP = sb.MaxHP
			}
		}
		if !e.bases.hasEffect(sb, catalogs.ModuleRepair) {
			continue
		}
		for _, ent := range e.ledger.OwnedEntitiesAt(siteID, sb.OwnerID) {
			if maxHP := e.cats.Units.Defs[ent.Kind].HP; ent.HP < maxHP {
				ent.HP += rate
				if ent.HP > maxHP {
					ent.HP = maxHP
				}
			}
		}
	}
}

// phaseHazards rolls site-local mishaps. Outcomes are simulation results,
// not errors.
func (e *Engine) phaseHazards(now uint64) {
	chance := uint64(e.cfg.Tuning.HazardChancePermille)
	if chance == 0 {
		return
	}
	for idx, siteID := range e.universe.SiteIDs() {
		if hashRoll(e.cfg.Seed, now, 9000+idx)%1000 >= chance {
			continue
		}
		ents := e.ledger.EntitiesAt(siteID)
		if len(ents) == 0 {
			continue
		}
		ent := ents[hashRoll(e.cfg.Seed, now, 9500+idx)%uint64(len(ents))]
		dmg := e.cats.Units.Defs[ent.Kind].HP / 10
		if dmg < 1 {
			dmg = 1
		}
		ent.HP -= dmg
		destroyed := ent.HP <= 0
		if destroyed {
			e.ledger.Remove(ent.ID)
			e.sync.RecordChange(ChangeEntity, map[string]any{"entity_id": ent.ID, "site_id": siteID})
		}
		e.emit(protocol.Event{
			"t": now, "type": protocol.EvHazard,
			"site": siteID, "entity_id": ent.ID, "damage": dmg, "destroyed": destroyed,
		})
	}
}

// phaseCouncil tallies votes at the fixed election interval. No votes means
// the largest territory holder takes the chair.
func (e *Engine) phaseCouncil(now uint64) {
	interval := uint64(e.cfg.Tuning.CouncilIntervalTicks)
	if interval == 0 || now%interval != 0 {
		return
	}

	tally := map[string]int{}
	for _, candidate := range e.council.Votes {
		tally[candidate]++
	}
	winner := ""
	for _, candidate := range sortedKeys(tally) {
		if winner == "" || tally[candidate] > tally[winner] {
			winner = candidate
		}
	}
	if winner == "" {
		counts := e.universe.OwnerCounts()
		delete(counts, HostileActorID)
		for _, actor := range sortedKeys(counts) {
			if winner == "" || counts[actor] > counts[winner] {
				winner = actor
			}
		}
	}
	if winner == "" {
		return
	}

	e.council.SpeakerID = winner
	e.council.Votes = map[string]string{}
	e.sync.RecordChange(ChangeActor, map[string]any{"actor_id": winner})
	e.emit(protocol.Event{
		"t": now, "type": protocol.EvCouncilElected,
		"speaker": winner,
	})
}

// phaseAbandonment reverts owned sites that have sat empty past the
// threshold: no owner entities and no starbase.
func (e *Engine) phaseAbandonment(now uint64) {
	threshold := uint64(e.cfg.Tuning.AbandonTicks)
	if threshold == 0 {
		return
	}
	for _, siteID := range e.universe.SiteIDs() {
		site := e.universe.Site(siteID)
		if site.OwnerID == "" {
			delete(e.emptySince, siteID)
			continue
		}
		occupied := len(e.ledger.OwnedEntitiesAt(siteID, site.OwnerID)) > 0
		if sb := e.bases.At(siteID); sb != nil && sb.OwnerID == site.OwnerID {
			occupied = true
		}
		if occupied {
			delete(e.emptySince, siteID)
			continue
		}
		since, ok := e.emptySince[siteID]
		if !ok {
			e.emptySince[siteID] = now
			continue
		}
		if now-since < threshold {
			continue
		}
		owner := site.OwnerID
		_ = e.universe.SetOwner(siteID, "", now)
		delete(e.emptySince, siteID)
		e.sync.RecordChange(ChangeSite, map[string]any{"site_id": siteID})
		e.emit(protocol.Event{
			"t": now, "type": protocol.EvSiteAbandoned,
			"site": siteID, "actor": owner,
		})
	}
}

// phaseElimination detects wiped-out actors, respawns them when a habitable
// site is free, and checks the victory threshold.
func (e *Engine) phaseElimination(now uint64) {
	for _, actorID := range e.ledger.ActorIDs() {
		if e.eliminated[actorID] {
			e.tryRespawn(actorID, now)
			continue
		}
		if len(e.universe.OwnedSiteIDs(actorID)) > 0 {
			continue
		}
		if len(e.ledger.EntitiesOwnedBy(actorID)) > 0 {
			continue
		}
		if len(e.fleets.OwnedBy(actorID)) > 0 {
			continue
		}
		e.eliminated[actorID] = true
		e.sync.RecordChange(ChangeActor, map[string]any{"actor_id": actorID})
		e.emit(protocol.Event{
			"t": now, "type": protocol.EvActorEliminated,
			"actor": actorID,
		})
	}

	e.checkVictory(now)
}

func (e *Engine) tryRespawn(actorID string, now uint64) {
	home := e.firstFreeHomeworld()
	if home == "" {
		return
	}
	econ := e.cfg.Tuning.Economy
	e.ledger.Refund(actorID, map[string]int{
		ledger.Credits:  econ.StartingCredits,
		ledger.Minerals: econ.StartingMinerals,
		ledger.Fuel:     econ.StartingFuel,
	})
	_ = e.universe.SetOwner(home, actorID, now)
	for _, kind := range []string{"corvette", "militia"} {
		if _, ok := e.cats.Units.Defs[kind]; ok {
			e.spawnUnit(kind, actorID, home)
		}
	}
	e.eliminated[actorID] = false
	e.sync.RecordChange(ChangeSite, map[string]any{"site_id": home, "actor_id": actorID})
	e.emit(protocol.Event{
		"t": now, "type": protocol.EvActorRespawned,
		"actor": actorID, "site": home,
	})
}

func (e *Engine) checkVictory(now uint64) {
	if e.winnerID != "" {
		return
	}
	habitable := e.universe.HabitableSiteCount()
	if habitable == 0 {
		return
	}
	counts := e.universe.OwnerCounts()
	delete(counts, HostileActorID)
	for _, actor := range sortedKeys(counts) {
		if counts[actor]*1000 >= e.cfg.Tuning.VictorySitePermille*habitable {
			e.winnerID = actor
			e.paused = true
			e.emit(protocol.Event{
				"t": now, "type": protocol.EvVictory,
				"actor": actor, "sites": counts[actor],
			})
			return
		}
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
