package engine

import (
	"sort"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/galaxy"
	"starhold.gg/internal/sim/ledger"
)

// phaseCombat resolves one combat round at every contested site. Units that
// arrived earlier this same tick participate; the pipeline order guarantees
// they are already placed.
func (e *Engine) phaseCombat(now uint64) {
	for _, siteID := range e.universe.SiteIDs() {
		e.resolveSiteCombat(siteID, now)
	}
}

func (e *Engine) resolveSiteCombat(siteID string, now uint64) {
	byOwner := map[string][]*ledger.Entity{}
	for _, ent := range e.ledger.EntitiesAt(siteID) {
		byOwner[ent.OwnerID] = append(byOwner[ent.OwnerID], ent)
	}

	site := e.universe.Site(siteID)
	sb := e.bases.At(siteID)

	defender := site.OwnerID
	if defender == "" && sb != nil {
		defender = sb.OwnerID
	}
	if defender == "" {
		// Unowned ground: the first present party stands in as defender so
		// mutually hostile squatters still fight.
		parties := make([]string, 0, len(byOwner))
		for o := range byOwner {
			parties = append(parties, o)
		}
		sort.Strings(parties)
		if len(parties) == 0 {
			return
		}
		defender = parties[0]
	}

	var defUnits, atkUnits []*ledger.Entity
	for _, owner := range sortedOwnerList(byOwner) {
		switch {
		case owner == defender || e.treaties.Allied(owner, defender):
			defUnits = append(defUnits, byOwner[owner]...)
		case e.treaties.Hostile(owner, defender):
			atkUnits = append(atkUnits, byOwner[owner]...)
		}
	}
	if len(atkUnits) == 0 {
		return
	}

	xenoMult := e.crisis.damageMultPermille()
	atkDamage := 0
	for _, ent := range atkUnits {
		a := e.cats.Units.Defs[ent.Kind].Attack
		if ent.OwnerID == HostileActorID {
			a = a * xenoMult / 1000
		}
		atkDamage += a
	}
	defDamage := 0
	for _, ent := range defUnits {
		defDamage += e.cats.Units.Defs[ent.Kind].Attack
	}

	// A hostile operational defensive structure soaks invasion damage first;
	// ground forces behind it are untouchable until it falls.
	baseDefending := sb != nil && sb.Operational() &&
		(sb.OwnerID == defender || e.treaties.Allied(sb.OwnerID, defender))
	eventType := protocol.EvCombat
	if baseDefending {
		eventType = protocol.EvStarbaseCombat
		defDamage += sb.Attack
		absorbed := atkDamage
		if absorbed > sb.HP {
			absorbed = sb.HP
		}
		sb.HP -= absorbed
		atkDamage -= absorbed
		if sb.HP <= 0 {
			e.bases.Destroy(siteID, now)
			sb = nil
		} else {
			atkDamage = 0
		}
		e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": defender})
	}

	defLost := e.applyDamage(defUnits, atkDamage, siteID)
	atkLost := e.applyDamage(atkUnits, defDamage, siteID)

	e.emit(protocol.Event{
		"t": now, "type": eventType,
		"site": siteID, "defender": defender,
		"defender_losses": defLost, "attacker_losses": atkLost,
	})

	e.maybeCapture(site, defender, now)
}

// applyDamage spends a damage pool against units in id order and removes the
// dead. Returns how many were destroyed.
func (e *Engine) applyDamage(units []*ledger.Entity, damage int, siteID string) int {
	lost := 0
	for _, ent := range units {
		if damage <= 0 {
			break
		}
		if e.ledger.Entity(ent.ID) == nil {
			continue
		}
		hit := damage
		if hit > ent.HP {
			hit = ent.HP
		}
		ent.HP -= hit
		damage -= hit
		if ent.HP <= 0 {
			e.ledger.Remove(ent.ID)
			e.sync.RecordChange(ChangeEntity, map[string]any{"entity_id": ent.ID, "site_id": siteID})
			lost++
		}
	}
	return lost
}

// maybeCapture flips ownership when the defense is annihilated and a hostile
// ground unit stands on the site. The crisis faction razes but never rules.
func (e *Engine) maybeCapture(site *galaxy.Site, defender string, now uint64) {
	if site.OwnerID == "" {
		return
	}
	if len(e.ledger.OwnedEntitiesAt(site.ID, defender)) > 0 {
		return
	}
	if sb := e.bases.At(site.ID); sb != nil && sb.OwnerID == defender {
		return
	}

	captors := map[string]bool{}
	for _, ent := range e.ledger.EntitiesAt(site.ID) {
		if ent.OwnerID == HostileActorID || !e.treaties.Hostile(ent.OwnerID, defender) {
			continue
		}
		if e.cats.Units.Defs[ent.Kind].Class == catalogs.ClassGround {
			captors[ent.OwnerID] = true
		}
	}
	if len(captors) == 0 {
		return
	}
	names := make([]string, 0, len(captors))
	for o := range captors {
		names = append(names, o)
	}
	sort.Strings(names)
	captor := names[0]

	_ = e.universe.SetOwner(site.ID, captor, now)
	e.sync.RecordChange(ChangeSite, map[string]any{"site_id": site.ID, "actor_id": captor})
	e.emit(protocol.Event{
		"t": now, "type": protocol.EvCombat,
		"site": site.ID, "captured_by": captor, "from": defender,
	})
}

func sortedOwnerList(m map[string][]*ledger.Entity) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
