package engine

import (
	"testing"

	"starhold.gg/internal/protocol"
)

// wipeActor strips an actor of sites and units, as total defeat would.
func wipeActor(e *Engine, actorID string) {
	for _, ent := range e.ledger.EntitiesOwnedBy(actorID) {
		e.ledger.Remove(ent.ID)
	}
	now := e.CurrentTick()
	for _, siteID := range e.universe.OwnedSiteIDs(actorID) {
		_ = e.universe.SetOwner(siteID, "", now)
	}
}

func TestEliminationAndRespawn(t *testing.T) {
	e := newTestEngine(t, testTuning())
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")

	wipeActor(e, a)
	e.Advance()
	if !e.eliminated[a] {
		t.Fatalf("actor with nothing left not eliminated")
	}
	if len(rec.ofType(protocol.EvActorEliminated)) != 1 {
		t.Fatalf("missing elimination event")
	}
	if res := e.Execute(a, protocol.ActTrainUnit, protocol.ActionParams{}); res.Error != protocol.ErrEliminated {
		t.Fatalf("eliminated actor acted: code=%s", res.Error)
	}

	// A free habitable homeworld lets the actor back in with a starter kit.
	e.Advance()
	if e.eliminated[a] {
		t.Fatalf("actor not respawned with homeworlds free")
	}
	home := homeOf(t, e, a)
	if len(shipsOfKind(e, a, home, "corvette")) != 1 || len(shipsOfKind(e, a, home, "militia")) != 1 {
		t.Fatalf("respawn kit missing at %s", home)
	}
	if len(rec.ofType(protocol.EvActorRespawned)) != 1 {
		t.Fatalf("missing respawn event")
	}
}

func TestVictoryPausesSimulation(t *testing.T) {
	tune := testTuning()
	tune.VictorySitePermille = 1
	e := newTestEngine(t, tune)
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")

	e.Advance()
	if e.winnerID != a {
		t.Fatalf("winner = %q, want %s", e.winnerID, a)
	}
	if !e.IsPaused() {
		t.Fatalf("simulation kept running after victory")
	}
	if len(rec.ofType(protocol.EvVictory)) != 1 {
		t.Fatalf("missing victory event")
	}

	// A paused engine does not tick.
	before := e.CurrentTick()
	e.Advance()
	if e.CurrentTick() != before {
		t.Fatalf("paused engine advanced")
	}
}

func TestAbandonmentRevertsEmptySites(t *testing.T) {
	tune := testTuning()
	tune.AbandonTicks = 3
	e := newTestEngine(t, tune)
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)

	// Empty the homeworld but keep the actor alive elsewhere so the site
	// clock, not elimination, is what fires.
	other := siblingSite(t, e, home)
	for _, ent := range e.ledger.EntitiesOwnedBy(a) {
		e.ledger.SetLocation(ent.ID, other)
	}

	e.Advance() // empty-since mark
	advanceN(e, 2)
	if e.universe.Site(home).OwnerID != a {
		t.Fatalf("site reverted before the threshold")
	}
	e.Advance()
	if got := e.universe.Site(home).OwnerID; got != "" {
		t.Fatalf("site owner = %q, want reverted to neutral", got)
	}
	if len(rec.ofType(protocol.EvSiteAbandoned)) != 1 {
		t.Fatalf("missing abandonment event")
	}

	// Units returning resets the clock for a future claim.
	if _, ok := e.emptySince[home]; ok {
		t.Fatalf("empty-since clock survives the revert")
	}
}

func TestGarrisonHoldsOffAbandonment(t *testing.T) {
	tune := testTuning()
	tune.AbandonTicks = 2
	e := newTestEngine(t, tune)
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)

	advanceN(e, 10)
	if e.universe.Site(home).OwnerID != a {
		t.Fatalf("garrisoned site abandoned")
	}
}

func TestHazardsDamageUnits(t *testing.T) {
	tune := testTuning()
	tune.HazardChancePermille = 1000 // every occupied site, every tick
	e := newTestEngine(t, tune)
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	joinActor(t, e, "ada")

	e.Advance()
	hits := rec.ofType(protocol.EvHazard)
	if len(hits) == 0 {
		t.Fatalf("no hazard fired at certainty")
	}
	for _, ev := range hits {
		dmg, _ := ev["damage"].(int)
		if dmg < 1 {
			t.Fatalf("hazard damage %v below the floor", ev["damage"])
		}
	}
}
