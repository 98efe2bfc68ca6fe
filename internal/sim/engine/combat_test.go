package engine

import (
	"testing"

	"starhold.gg/internal/protocol"
)

func TestNeutralPartiesDoNotFight(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	home := homeOf(t, e, a)

	visitor := e.spawnUnit("corvette", b, home)
	before := len(e.ledger.EntitiesAt(home))
	e.resolveSiteCombat(home, e.CurrentTick())
	if len(e.ledger.EntitiesAt(home)) != before {
		t.Fatalf("units died without a hostile stance")
	}
	if e.ledger.Entity(visitor.ID) == nil {
		t.Fatalf("neutral visitor destroyed")
	}
}

func TestCombatRemovesDeadAttackers(t *testing.T) {
	e := newTestEngine(t, testTuning())
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	home := homeOf(t, e, a)
	if res := e.treaties.Propose(a, b, StanceWar, e.CurrentTick()); !res.OK {
		t.Fatalf("war failed: %s", res.Error)
	}

	// One 10-HP militia against a garrison dealing 13: it dies this round,
	// its 5 damage dents but does not kill the lead defender.
	raider := e.spawnUnit("militia", b, home)
	defenders := len(e.ledger.OwnedEntitiesAt(home, a))

	e.resolveSiteCombat(home, e.CurrentTick())
	if e.ledger.Entity(raider.ID) != nil {
		t.Fatalf("outgunned attacker survived")
	}
	if got := len(e.ledger.OwnedEntitiesAt(home, a)); got != defenders {
		t.Fatalf("defenders = %d, want %d", got, defenders)
	}
	fights := rec.ofType(protocol.EvCombat)
	if len(fights) != 1 {
		t.Fatalf("combat events = %d, want 1", len(fights))
	}
	if fights[0]["attacker_losses"] != 1 || fights[0]["defender_losses"] != 0 {
		t.Fatalf("losses = %v/%v, want 1/0", fights[0]["attacker_losses"], fights[0]["defender_losses"])
	}
}

func TestCaptureNeedsHostileGroundUnit(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	home := homeOf(t, e, a)
	if res := e.treaties.Propose(a, b, StanceWar, e.CurrentTick()); !res.OK {
		t.Fatalf("war failed: %s", res.Error)
	}
	wipeDefense := func() {
		for _, ent := range e.ledger.OwnedEntitiesAt(home, a) {
			e.ledger.Remove(ent.ID)
		}
	}
	wipeDefense()

	// Ships alone blockade but cannot take ground.
	e.spawnUnit("corvette", b, home)
	e.resolveSiteCombat(home, e.CurrentTick())
	if e.universe.Site(home).OwnerID != a {
		t.Fatalf("site captured without ground forces")
	}

	// The crisis faction razes but never rules.
	xeno := e.spawnUnit("militia", HostileActorID, home)
	e.resolveSiteCombat(home, e.CurrentTick())
	if e.universe.Site(home).OwnerID != a {
		t.Fatalf("crisis faction took ownership")
	}
	e.ledger.Remove(xeno.ID)

	// A hostile ground unit on undefended ground flips it.
	e.spawnUnit("militia", b, home)
	e.resolveSiteCombat(home, e.CurrentTick())
	if got := e.universe.Site(home).OwnerID; got != b {
		t.Fatalf("site owner = %q, want %s", got, b)
	}
}

func TestStarbaseSoaksInvasionDamage(t *testing.T) {
	e := newTestEngine(t, testTuning())
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	home := homeOf(t, e, a)
	sb := buildOperationalBase(t, e, a, home)
	if res := e.treaties.Propose(a, b, StanceWar, e.CurrentTick()); !res.OK {
		t.Fatalf("war failed: %s", res.Error)
	}
	// Leave the base alone in defense so the soak arithmetic is exact.
	for _, ent := range e.ledger.OwnedEntitiesAt(home, a) {
		e.ledger.Remove(ent.ID)
	}

	invader := e.spawnUnit("militia", b, home)
	second := e.spawnUnit("militia", b, home)
	e.resolveSiteCombat(home, e.CurrentTick())

	// 10 attack absorbed by the 50-HP base; its 5 return fire hits the
	// lead invader.
	if sb.HP != 40 {
		t.Fatalf("base HP = %d, want 40", sb.HP)
	}
	if ent := e.ledger.Entity(invader.ID); ent == nil || ent.HP != 5 {
		t.Fatalf("lead invader not at 5 HP")
	}
	if ent := e.ledger.Entity(second.ID); ent == nil || ent.HP != 10 {
		t.Fatalf("second invader damaged behind the soak")
	}
	if e.universe.Site(home).OwnerID != a {
		t.Fatalf("site fell while its base stood")
	}
	if len(rec.ofType(protocol.EvStarbaseCombat)) != 1 {
		t.Fatalf("missing starbase combat event")
	}
}

func TestStarbaseFallsThenGroundSuffers(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	home := homeOf(t, e, a)
	sb := buildOperationalBase(t, e, a, home)
	if res := e.treaties.Propose(a, b, StanceWar, e.CurrentTick()); !res.OK {
		t.Fatalf("war failed: %s", res.Error)
	}
	for _, ent := range e.ledger.OwnedEntitiesAt(home, a) {
		e.ledger.Remove(ent.ID)
	}
	holdout := e.spawnUnit("militia", a, home)

	sb.HP = 3 // worn down by earlier rounds
	e.spawnUnit("militia", b, home)
	e.spawnUnit("militia", b, home)
	e.resolveSiteCombat(home, e.CurrentTick())

	// 10 attack: 3 destroys the base, the 7 overflow reaches the garrison.
	if e.bases.At(home) != nil {
		t.Fatalf("base survived lethal damage")
	}
	if ent := e.ledger.Entity(holdout.ID); ent == nil || ent.HP != 3 {
		t.Fatalf("overflow damage not applied to the garrison")
	}
}
