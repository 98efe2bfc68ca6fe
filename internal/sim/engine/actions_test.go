package engine

import (
	"testing"

	"starhold.gg/internal/protocol"
)

func TestExecuteGuards(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")

	if res := e.Execute("A999", protocol.ActTrainUnit, protocol.ActionParams{}); res.Error != protocol.ErrInvalidTarget {
		t.Errorf("unknown actor: code=%s, want %s", res.Error, protocol.ErrInvalidTarget)
	}
	if res := e.Execute(a, protocol.ActionKind("DANCE"), protocol.ActionParams{}); res.Error != protocol.ErrBadRequest {
		t.Errorf("unknown action: code=%s, want %s", res.Error, protocol.ErrBadRequest)
	}

	e.eliminated[a] = true
	if res := e.Execute(a, protocol.ActTrainUnit, protocol.ActionParams{}); res.Error != protocol.ErrEliminated {
		t.Errorf("eliminated actor: code=%s, want %s", res.Error, protocol.ErrEliminated)
	}
}

func TestTrainAndBuildValidation(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	home := homeOf(t, e, a)

	// Training is for ground units, structures go through BUILD_STRUCTURE.
	if res := e.Execute(a, protocol.ActTrainUnit, protocol.ActionParams{SiteID: home, UnitType: "corvette"}); res.Error != protocol.ErrBadRequest {
		t.Errorf("train a ship: code=%s, want %s", res.Error, protocol.ErrBadRequest)
	}
	if res := e.Execute(a, protocol.ActBuildStructure, protocol.ActionParams{SiteID: home, UnitType: "militia"}); res.Error != protocol.ErrBadRequest {
		t.Errorf("build a ground unit: code=%s, want %s", res.Error, protocol.ErrBadRequest)
	}
	// Not on someone else's ground.
	if res := e.Execute(a, protocol.ActTrainUnit, protocol.ActionParams{SiteID: homeOf(t, e, b), UnitType: "militia"}); res.Error != protocol.ErrNoPermission {
		t.Errorf("train on foreign site: code=%s, want %s", res.Error, protocol.ErrNoPermission)
	}

	res := e.Execute(a, protocol.ActBuildStructure, protocol.ActionParams{SiteID: home, UnitType: "depot"})
	if !res.OK {
		t.Fatalf("build depot failed: %s %s", res.Error, res.Reason)
	}
	if got := len(shipsOfKind(e, a, home, "depot")); got != 1 {
		t.Fatalf("depots at site = %d, want 1", got)
	}
}

func TestColonizeValidation(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)

	if res := e.Execute(a, protocol.ActColonize, protocol.ActionParams{SiteID: "nowhere"}); res.Error != protocol.ErrInvalidTarget {
		t.Errorf("colonize unknown site: code=%s, want %s", res.Error, protocol.ErrInvalidTarget)
	}
	if res := e.Execute(a, protocol.ActColonize, protocol.ActionParams{SiteID: home}); res.Error != protocol.ErrConflict {
		t.Errorf("colonize owned site: code=%s, want %s", res.Error, protocol.ErrConflict)
	}

	free := ""
	barren := ""
	for _, id := range e.universe.SiteIDs() {
		s := e.universe.Site(id)
		if s.OwnerID != "" {
			continue
		}
		if s.Habitable && free == "" {
			free = id
		}
		if !s.Habitable && barren == "" {
			barren = id
		}
	}
	if barren != "" {
		if res := e.Execute(a, protocol.ActColonize, protocol.ActionParams{SiteID: barren}); res.Error != protocol.ErrBadRequest {
			t.Errorf("colonize barren site: code=%s, want %s", res.Error, protocol.ErrBadRequest)
		}
	}
	if free == "" {
		t.Skip("no free habitable site with this seed")
	}
	// Present units without colonization capability do not count.
	e.spawnUnit("corvette", a, free)
	if res := e.Execute(a, protocol.ActColonize, protocol.ActionParams{SiteID: free}); res.Error != protocol.ErrNoResource {
		t.Errorf("colonize without colonizer: code=%s, want %s", res.Error, protocol.ErrNoResource)
	}
	e.spawnUnit("colony_ship", a, free)
	if res := e.Execute(a, protocol.ActColonize, protocol.ActionParams{SiteID: free}); !res.OK {
		t.Fatalf("colonize failed: %s %s", res.Error, res.Reason)
	}
	if e.universe.Site(free).OwnerID != a {
		t.Fatalf("site not claimed")
	}
}

func TestResearchLifecycle(t *testing.T) {
	e := newTestEngine(t, testTuning())
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")

	if res := e.Execute(a, protocol.ActResearch, protocol.ActionParams{TechID: "warp"}); res.Error != protocol.ErrBadRequest {
		t.Errorf("unknown tech: code=%s, want %s", res.Error, protocol.ErrBadRequest)
	}

	res := e.Execute(a, protocol.ActResearch, protocol.ActionParams{TechID: "drives"})
	if !res.OK {
		t.Fatalf("research failed: %s %s", res.Error, res.Reason)
	}
	done, _ := res.Data["done_tick"].(uint64)
	if done != e.CurrentTick()+5 {
		t.Fatalf("done tick = %d, want %d", done, e.CurrentTick()+5)
	}
	// One lab per actor.
	if res := e.Execute(a, protocol.ActResearch, protocol.ActionParams{TechID: "drives"}); res.Error != protocol.ErrBusy {
		t.Errorf("parallel research: code=%s, want %s", res.Error, protocol.ErrBusy)
	}

	for e.CurrentTick() < done {
		e.Advance()
	}
	if !e.doneTech[a]["drives"] {
		t.Fatalf("tech not completed at its tick")
	}
	if len(rec.ofType(protocol.EvResearchDone)) != 1 {
		t.Fatalf("missing completion event")
	}
	if res := e.Execute(a, protocol.ActResearch, protocol.ActionParams{TechID: "drives"}); res.Error != protocol.ErrConflict {
		t.Errorf("re-research: code=%s, want %s", res.Error, protocol.ErrConflict)
	}
}

func TestSpecializationBonus(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	home := homeOf(t, e, a)

	if res := e.Execute(a, protocol.ActSpecialize, protocol.ActionParams{SiteID: home, Specialization: "FARMING"}); res.Error != protocol.ErrBadRequest {
		t.Errorf("unknown specialization: code=%s, want %s", res.Error, protocol.ErrBadRequest)
	}
	if res := e.Execute(a, protocol.ActSpecialize, protocol.ActionParams{SiteID: home, Specialization: "MINING"}); !res.OK {
		t.Fatalf("specialize failed: %s", res.Error)
	}

	before := e.ledger.Balance(a)["minerals"]
	e.Advance()
	// Base 3 minerals plus the 500-permille mining bonus.
	if got := e.ledger.Balance(a)["minerals"]; got != before+4 {
		t.Fatalf("mining income = %d, want %d", got-before, 4)
	}
}

func TestCouncilVote(t *testing.T) {
	tune := testTuning()
	tune.CouncilIntervalTicks = 5
	e := newTestEngine(t, tune)
	rec := &eventCapture{}
	e.SetEventLogger(rec)
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")

	if res := e.Execute(a, protocol.ActCouncilVote, protocol.ActionParams{Candidate: "A999"}); res.Error != protocol.ErrInvalidTarget {
		t.Errorf("vote for unknown candidate: code=%s, want %s", res.Error, protocol.ErrInvalidTarget)
	}
	if res := e.Execute(a, protocol.ActCouncilVote, protocol.ActionParams{Candidate: b}); !res.OK {
		t.Fatalf("vote failed: %s", res.Error)
	}
	if res := e.Execute(b, protocol.ActCouncilVote, protocol.ActionParams{Candidate: b}); !res.OK {
		t.Fatalf("vote failed: %s", res.Error)
	}

	advanceN(e, 5)
	if e.council.SpeakerID != b {
		t.Fatalf("speaker = %q, want %s", e.council.SpeakerID, b)
	}
	if len(rec.ofType(protocol.EvCouncilElected)) != 1 {
		t.Fatalf("missing election event")
	}
	if len(e.council.Votes) != 0 {
		t.Fatalf("ballot not cleared after the election")
	}
}
