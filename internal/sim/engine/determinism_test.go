package engine

import (
	"testing"

	"starhold.gg/internal/protocol"
)

// driveScript applies the same join/action sequence to an engine and returns
// the digest after each tick.
func driveScript(t *testing.T, e *Engine, ticks int) []string {
	t.Helper()
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	home := homeOf(t, e, a)
	dest := siblingSite(t, e, home)

	var digests []string
	for i := 0; i < ticks; i++ {
		switch i {
		case 2:
			ship := shipsOfKind(e, a, home, "corvette")[0]
			if _, res := e.fleets.Launch(a, home, dest, []string{ship}, nil, e.CurrentTick()); !res.OK {
				t.Fatalf("launch failed: %s", res.Error)
			}
		case 3:
			if res := e.Execute(b, protocol.ActTrainUnit, protocol.ActionParams{SiteID: homeOf(t, e, b), UnitType: "militia"}); !res.OK {
				t.Fatalf("train failed: %s", res.Error)
			}
		case 5:
			if res := e.Execute(a, protocol.ActStarbaseBuild, protocol.ActionParams{SiteID: home}); !res.OK {
				t.Fatalf("base build failed: %s", res.Error)
			}
		}
		e.Advance()
		digests = append(digests, e.stateDigest(e.CurrentTick()))
	}
	return digests
}

func TestSameSeedSameInputsSameDigests(t *testing.T) {
	e1 := newTestEngine(t, testTuning())
	e2 := newTestEngine(t, testTuning())

	d1 := driveScript(t, e1, 20)
	d2 := driveScript(t, e2, 20)
	for i := range d1 {
		if d1[i] != d2[i] {
			t.Fatalf("digest diverged at step %d: %s vs %s", i, d1[i], d2[i])
		}
	}
}

func TestDifferentSeedDiverges(t *testing.T) {
	e1 := newTestEngine(t, testTuning())
	e2, err := New(Config{ID: "test", Seed: 99, Tuning: testTuning()}, testCatalogs())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	// The roll mixer is bijective in the seed, so distinct seeds can never
	// produce the same stream.
	if e1.roll(5, 7) == e2.roll(5, 7) {
		t.Fatalf("different seeds produced identical rolls")
	}
	if e1.roll(5, 7) != e1.roll(5, 7) {
		t.Fatalf("roll is not a pure function of (seed, tick, salt)")
	}
}

func TestStepOnceReplaysRecordedLog(t *testing.T) {
	// Drive a live engine while capturing its tick log, then replay the
	// log into a sibling and require digest parity at every step.
	live := newTestEngine(t, testTuning())
	var log []TickLogEntry

	for i := 0; i < 12; i++ {
		var joins []RecordedJoin
		var acts []RecordedAction
		switch i {
		case 0:
			a, ok := live.ensureActor("ada")
			if !ok {
				t.Fatalf("join failed")
			}
			joins = append(joins, RecordedJoin{ActorID: a, Name: "ada"})
		case 4:
			a := live.ledger.ActorIDs()[0]
			act := protocol.ActMsg{Action: protocol.ActTrainUnit, Params: protocol.ActionParams{SiteID: homeOf(t, live, a), UnitType: "militia"}}
			if res := live.Execute(a, act.Action, act.Params); !res.OK {
				t.Fatalf("train failed: %s", res.Error)
			}
			acts = append(acts, RecordedAction{ActorID: a, Act: act})
		}
		live.Advance()
		log = append(log, TickLogEntry{
			Tick:    live.CurrentTick(),
			Joins:   joins,
			Actions: acts,
			Digest:  live.stateDigest(live.CurrentTick()),
		})
	}

	replica := newTestEngine(t, testTuning())
	for _, entry := range log {
		tick, digest := replica.StepOnce(entry.Joins, entry.Actions)
		if tick != entry.Tick {
			t.Fatalf("replay tick %d, log says %d", tick, entry.Tick)
		}
		if digest != entry.Digest {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", tick, digest, entry.Digest)
		}
	}
}

func TestSnapshotRoundTripPreservesDigest(t *testing.T) {
	src := newTestEngine(t, testTuning())
	a := joinActor(t, src, "ada")
	b := joinActor(t, src, "bob")
	home := homeOf(t, src, a)
	dest := siblingSite(t, src, home)

	// Build up non-trivial state: a fleet mid-transit, a constructing base,
	// a war and a pending trade.
	ship := shipsOfKind(src, a, home, "corvette")[0]
	if _, res := src.fleets.Launch(a, home, dest, []string{ship}, nil, src.CurrentTick()); !res.OK {
		t.Fatalf("launch failed: %s", res.Error)
	}
	if res := src.Execute(a, protocol.ActStarbaseBuild, protocol.ActionParams{SiteID: home}); !res.OK {
		t.Fatalf("base build failed: %s", res.Error)
	}
	if res := src.Execute(a, protocol.ActTreatyPropose, protocol.ActionParams{WithActor: b, Stance: StanceWar}); !res.OK {
		t.Fatalf("war failed: %s", res.Error)
	}
	if res := src.Execute(a, protocol.ActTradePropose, protocol.ActionParams{WithActor: b, Offer: map[string]int{"minerals": 10}, Request: map[string]int{"credits": 5}}); res.OK {
		t.Fatalf("trade between hostiles should fail")
	}
	advanceN(src, 2)

	blob, err := src.ExportSnapshotBlob()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newTestEngine(t, testTuning())
	if err := dst.ImportSnapshotBlob(blob); err != nil {
		t.Fatalf("import: %v", err)
	}
	now := src.CurrentTick()
	if dst.CurrentTick() != now {
		t.Fatalf("restored tick %d, want %d", dst.CurrentTick(), now)
	}
	if src.stateDigest(now) != dst.stateDigest(now) {
		t.Fatalf("digest changed across snapshot round trip")
	}

	// The restored run must continue identically, fleet arrival included.
	for i := 0; i < 6; i++ {
		src.Advance()
		dst.Advance()
		if src.stateDigest(src.CurrentTick()) != dst.stateDigest(dst.CurrentTick()) {
			t.Fatalf("diverged %d ticks after restore", i+1)
		}
	}
	if src.fleets.Count() != dst.fleets.Count() {
		t.Fatalf("fleet counts diverged: %d vs %d", src.fleets.Count(), dst.fleets.Count())
	}
}
