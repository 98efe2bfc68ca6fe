package engine

import (
	"testing"

	"starhold.gg/internal/protocol"
)

// buildOperationalBase stands up a tier-1 starbase at the actor's home and
// advances past its construction timer.
func buildOperationalBase(t *testing.T, e *Engine, actorID, siteID string) *Starbase {
	t.Helper()
	res := e.bases.Build(actorID, siteID, e.CurrentTick())
	if !res.OK {
		t.Fatalf("starbase build failed: %s %s", res.Error, res.Reason)
	}
	sb := e.bases.At(siteID)
	for e.CurrentTick() < sb.ConstructionDone {
		e.Advance()
	}
	if !sb.Operational() {
		t.Fatalf("starbase not operational at tick %d", e.CurrentTick())
	}
	return sb
}

func TestStarbaseConstructionTimer(t *testing.T) {
	e := newTestEngine(t, testTuning())
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)

	res := e.bases.Build(a, home, e.CurrentTick())
	if !res.OK {
		t.Fatalf("build failed: %s %s", res.Error, res.Reason)
	}
	sb := e.bases.At(home)
	if sb.Operational() {
		t.Fatalf("starbase operational before its timer ran")
	}
	if sb.ConstructionDone != e.CurrentTick()+10 {
		t.Fatalf("construction done at %d, want %d", sb.ConstructionDone, e.CurrentTick()+10)
	}

	// Nothing works on a constructing base.
	if res := e.bases.Upgrade(a, home, e.CurrentTick()); res.Error != protocol.ErrBusy {
		t.Errorf("upgrade while constructing: code=%s, want %s", res.Error, protocol.ErrBusy)
	}
	if res := e.bases.Enqueue(a, home, "corvette", e.CurrentTick()); res.Error != protocol.ErrBusy {
		t.Errorf("enqueue while constructing: code=%s, want %s", res.Error, protocol.ErrBusy)
	}

	for e.CurrentTick() < sb.ConstructionDone {
		e.Advance()
	}
	if !sb.Operational() {
		t.Fatalf("starbase not operational after its timer")
	}
	if got := rec.ofType(protocol.EvStarbaseBuilt); len(got) != 1 {
		t.Fatalf("STARBASE_BUILT events = %d, want 1", len(got))
	}

	if res := e.bases.Build(a, home, e.CurrentTick()); res.Error != protocol.ErrConflict {
		t.Errorf("second build at site: code=%s, want %s", res.Error, protocol.ErrConflict)
	}
}

func TestEnqueueRequiresShipyard(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	buildOperationalBase(t, e, a, home)

	if res := e.bases.Enqueue(a, home, "corvette", e.CurrentTick()); res.Error != protocol.ErrNoPermission {
		t.Fatalf("enqueue without shipyard: code=%s, want %s", res.Error, protocol.ErrNoPermission)
	}
	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); !res.OK {
		t.Fatalf("install shipyard failed: %s %s", res.Error, res.Reason)
	}
	if res := e.bases.Enqueue(a, home, "depot", e.CurrentTick()); res.Error != protocol.ErrBadRequest {
		t.Errorf("enqueue structure: code=%s, want %s", res.Error, protocol.ErrBadRequest)
	}
	if res := e.bases.Enqueue(a, home, "corvette", e.CurrentTick()); !res.OK {
		t.Fatalf("enqueue failed: %s %s", res.Error, res.Reason)
	}
}

func TestQueueChainsStrictly(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	sb := buildOperationalBase(t, e, a, home)
	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); !res.OK {
		t.Fatalf("install shipyard failed: %s", res.Error)
	}

	now := e.CurrentTick()
	for i := 0; i < 3; i++ {
		if res := e.bases.Enqueue(a, home, "corvette", now); !res.OK {
			t.Fatalf("enqueue %d failed: %s %s", i, res.Error, res.Reason)
		}
	}
	// Build time 5: items run back to back with no overlap and no gap.
	for i, item := range sb.Queue {
		wantStart := now + uint64(i)*5
		if item.StartTick != wantStart || item.CompleteTick != wantStart+5 {
			t.Fatalf("item %d: [%d,%d], want [%d,%d]", i, item.StartTick, item.CompleteTick, wantStart, wantStart+5)
		}
	}
}

func TestQueueCancelRefundsAndRechains(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	sb := buildOperationalBase(t, e, a, home)
	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); !res.OK {
		t.Fatalf("install shipyard failed: %s", res.Error)
	}

	now := e.CurrentTick()
	for i := 0; i < 3; i++ {
		if res := e.bases.Enqueue(a, home, "corvette", now); !res.OK {
			t.Fatalf("enqueue failed: %s", res.Error)
		}
	}
	middle := sb.Queue[1].ID
	before := e.ledger.Balance(a)

	if res := e.bases.CancelItem(a, home, middle, now); !res.OK {
		t.Fatalf("cancel failed: %s %s", res.Error, res.Reason)
	}
	after := e.ledger.Balance(a)
	if after["credits"] != before["credits"]+40 || after["minerals"] != before["minerals"]+60 {
		t.Fatalf("refund wrong: credits %d->%d minerals %d->%d", before["credits"], after["credits"], before["minerals"], after["minerals"])
	}
	if len(sb.Queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(sb.Queue))
	}
	// The survivor re-anchors on its new predecessor.
	if sb.Queue[1].StartTick != sb.Queue[0].CompleteTick {
		t.Fatalf("rechain broken: item 1 starts %d, predecessor completes %d", sb.Queue[1].StartTick, sb.Queue[0].CompleteTick)
	}

	if res := e.bases.CancelItem(a, home, middle, now); res.Error != protocol.ErrInvalidTarget {
		t.Errorf("cancel of missing item: code=%s, want %s", res.Error, protocol.ErrInvalidTarget)
	}
}

func TestQueueDepthCap(t *testing.T) {
	tune := testTuning()
	tune.QueueDepthCap = 2
	e := newTestEngine(t, tune)
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	buildOperationalBase(t, e, a, home)
	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); !res.OK {
		t.Fatalf("install shipyard failed: %s", res.Error)
	}

	now := e.CurrentTick()
	for i := 0; i < 2; i++ {
		if res := e.bases.Enqueue(a, home, "corvette", now); !res.OK {
			t.Fatalf("enqueue %d failed: %s", i, res.Error)
		}
	}
	if res := e.bases.Enqueue(a, home, "corvette", now); res.Error != protocol.ErrQueueFull {
		t.Fatalf("enqueue past cap: code=%s, want %s", res.Error, protocol.ErrQueueFull)
	}
}

func TestQueueProductionSpawnsAtSite(t *testing.T) {
	e := newTestEngine(t, testTuning())
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	sb := buildOperationalBase(t, e, a, home)
	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); !res.OK {
		t.Fatalf("install shipyard failed: %s", res.Error)
	}

	beforeCount := len(shipsOfKind(e, a, home, "corvette"))
	if res := e.bases.Enqueue(a, home, "corvette", e.CurrentTick()); !res.OK {
		t.Fatalf("enqueue failed: %s", res.Error)
	}
	done := sb.Queue[0].CompleteTick
	for e.CurrentTick() < done {
		e.Advance()
	}
	if got := len(shipsOfKind(e, a, home, "corvette")); got != beforeCount+1 {
		t.Fatalf("corvettes at site = %d, want %d", got, beforeCount+1)
	}
	if got := rec.ofType(protocol.EvQueueComplete); len(got) != 1 {
		t.Fatalf("QUEUE_COMPLETE events = %d, want 1", len(got))
	}
	if len(sb.Queue) != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestQueueCoarseTickCompletesMultiple(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	sb := buildOperationalBase(t, e, a, home)
	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); !res.OK {
		t.Fatalf("install shipyard failed: %s", res.Error)
	}

	now := e.CurrentTick()
	for i := 0; i < 3; i++ {
		if res := e.bases.Enqueue(a, home, "corvette", now); !res.OK {
			t.Fatalf("enqueue failed: %s", res.Error)
		}
	}
	// A late observation tick pops every item whose completion has passed,
	// in FIFO order.
	done := e.bases.ProcessCompletions(sb, now+10)
	if len(done) != 2 {
		t.Fatalf("completed items = %d, want 2", len(done))
	}
	if done[0].CompleteTick > done[1].CompleteTick {
		t.Fatalf("completions out of FIFO order")
	}
	if len(sb.Queue) != 1 {
		t.Fatalf("remaining queue = %d, want 1", len(sb.Queue))
	}
}

func TestStarbaseUpgrade(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	sb := buildOperationalBase(t, e, a, home)

	res := e.bases.Upgrade(a, home, e.CurrentTick())
	if !res.OK {
		t.Fatalf("upgrade failed: %s %s", res.Error, res.Reason)
	}
	if res := e.bases.Upgrade(a, home, e.CurrentTick()); res.Error != protocol.ErrBusy {
		t.Errorf("double upgrade: code=%s, want %s", res.Error, protocol.ErrBusy)
	}

	for e.CurrentTick() < sb.UpgradeDone {
		e.Advance()
	}
	if sb.Tier != 2 || sb.Upgrading {
		t.Fatalf("after upgrade: tier=%d upgrading=%v, want tier 2 settled", sb.Tier, sb.Upgrading)
	}
	// Stat block applied atomically; undamaged bases stay at full health.
	if sb.MaxHP != 120 || sb.HP != 120 || sb.Attack != 12 || sb.ModuleSlots != 2 {
		t.Fatalf("tier-2 stats: hp=%d/%d attack=%d slots=%d", sb.HP, sb.MaxHP, sb.Attack, sb.ModuleSlots)
	}

	if res := e.bases.Upgrade(a, home, e.CurrentTick()); res.Error != protocol.ErrBadRequest {
		t.Errorf("upgrade past max tier: code=%s, want %s", res.Error, protocol.ErrBadRequest)
	}
}

func TestModuleSlotLimit(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)
	buildOperationalBase(t, e, a, home)

	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); !res.OK {
		t.Fatalf("install failed: %s", res.Error)
	}
	// Tier 1 has a single slot.
	if res := e.bases.InstallModule(a, home, "repair_bay", e.CurrentTick()); res.Error != protocol.ErrConflict {
		t.Fatalf("install past slots: code=%s, want %s", res.Error, protocol.ErrConflict)
	}
	if res := e.bases.InstallModule(a, home, "shipyard", e.CurrentTick()); res.Error != protocol.ErrConflict {
		t.Fatalf("duplicate install: code=%s, want %s", res.Error, protocol.ErrConflict)
	}
}
