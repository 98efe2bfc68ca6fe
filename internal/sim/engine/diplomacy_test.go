package engine

import (
	"testing"

	"starhold.gg/internal/protocol"
)

func TestWarAppliesWithoutConsent(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")

	res := e.treaties.Propose(a, b, StanceWar, e.CurrentTick())
	if !res.OK {
		t.Fatalf("war declaration failed: %s %s", res.Error, res.Reason)
	}
	if res.Data["treaty_id"] != nil {
		t.Fatalf("war produced a proposal; it must apply immediately")
	}
	if !e.treaties.Hostile(a, b) || !e.treaties.Hostile(b, a) {
		t.Fatalf("pair not hostile after declaration")
	}
}

func TestAllianceNeedsAcceptance(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")

	res := e.treaties.Propose(a, b, StanceAlliance, e.CurrentTick())
	if !res.OK {
		t.Fatalf("proposal failed: %s", res.Error)
	}
	id, _ := res.Data["treaty_id"].(string)
	if id == "" {
		t.Fatalf("no proposal id")
	}
	if e.treaties.Allied(a, b) {
		t.Fatalf("allied before acceptance")
	}

	// Only the addressee can accept.
	if res := e.treaties.Accept(a, id, e.CurrentTick()); res.Error != protocol.ErrNoPermission {
		t.Fatalf("proposer self-accept: code=%s, want %s", res.Error, protocol.ErrNoPermission)
	}
	if res := e.treaties.Accept(b, id, e.CurrentTick()); !res.OK {
		t.Fatalf("accept failed: %s", res.Error)
	}
	if !e.treaties.Allied(a, b) {
		t.Fatalf("not allied after acceptance")
	}
	if res := e.treaties.Accept(b, id, e.CurrentTick()); res.Error != protocol.ErrInvalidTarget {
		t.Fatalf("double accept: code=%s, want %s", res.Error, protocol.ErrInvalidTarget)
	}
}

func TestNeutralResetClearsStance(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")

	if res := e.treaties.Propose(a, b, StanceWar, e.CurrentTick()); !res.OK {
		t.Fatalf("war failed: %s", res.Error)
	}
	res := e.treaties.Propose(a, b, StanceNeutral, e.CurrentTick())
	if !res.OK {
		t.Fatalf("peace proposal failed: %s", res.Error)
	}
	id, _ := res.Data["treaty_id"].(string)
	if res := e.treaties.Accept(b, id, e.CurrentTick()); !res.OK {
		t.Fatalf("peace accept failed: %s", res.Error)
	}
	if e.treaties.Hostile(a, b) {
		t.Fatalf("still hostile after a mutual return to neutral")
	}
	if len(e.treaties.ExportStances()) != 0 {
		t.Fatalf("neutral stance persisted as an explicit row")
	}
}

func TestProposalTargetValidation(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")

	cases := []struct {
		to       string
		stance   string
		wantCode string
	}{
		{a, StanceAlliance, protocol.ErrBadRequest},
		{"A999", StanceAlliance, protocol.ErrInvalidTarget},
		{HostileActorID, StanceAlliance, protocol.ErrInvalidTarget},
		{a, "FRIENEMY", protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		if res := e.treaties.Propose(a, tc.to, tc.stance, e.CurrentTick()); res.Error != tc.wantCode {
			t.Errorf("propose to=%s stance=%s: code=%s, want %s", tc.to, tc.stance, res.Error, tc.wantCode)
		}
	}
}

func TestHostileFactionIsAlwaysHostile(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")

	if !e.treaties.Hostile(a, HostileActorID) || !e.treaties.Hostile(HostileActorID, a) {
		t.Fatalf("crisis faction not unconditionally hostile")
	}
	if e.treaties.Hostile(a, a) {
		t.Fatalf("actor hostile to itself")
	}
}

func TestRejectDropsProposal(t *testing.T) {
	e := newTestEngine(t, testTuning())
	a := joinActor(t, e, "ada")
	b := joinActor(t, e, "bob")
	c := joinActor(t, e, "eve")

	res := e.treaties.Propose(a, b, StanceAlliance, e.CurrentTick())
	id, _ := res.Data["treaty_id"].(string)

	if res := e.treaties.Reject(c, id); res.Error != protocol.ErrNoPermission {
		t.Fatalf("third-party reject: code=%s, want %s", res.Error, protocol.ErrNoPermission)
	}
	if res := e.treaties.Reject(b, id); !res.OK {
		t.Fatalf("reject failed: %s", res.Error)
	}
	if len(e.treaties.ExportProposals()) != 0 {
		t.Fatalf("rejected proposal still open")
	}
	if e.treaties.Allied(a, b) {
		t.Fatalf("rejected proposal changed the stance")
	}
}
