package engine

import (
	"fmt"
	"sort"

	"starhold.gg/internal/protocol"
)

// Diplomatic stances between actor pairs.
const (
	StanceNeutral  = "NEUTRAL"
	StanceWar      = "WAR"
	StanceAlliance = "ALLIANCE"
)

type TreatyProposal struct {
	ID          string `json:"id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Stance      string `json:"stance"`
	CreatedTick uint64 `json:"created_tick"`
}

// TreatyBook holds pairwise stances and open proposals. Stances gate combat
// at arrival resolution and trade acceptance; the crisis faction is hostile
// to everyone unconditionally.
type TreatyBook struct {
	e         *Engine
	stances   map[string]string
	proposals map[string]*TreatyProposal
}

func newTreatyBook(e *Engine) *TreatyBook {
	return &TreatyBook{e: e, stances: map[string]string{}, proposals: map[string]*TreatyProposal{}}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (t *TreatyBook) Stance(a, b string) string {
	if s, ok := t.stances[pairKey(a, b)]; ok {
		return s
	}
	return StanceNeutral
}

func (t *TreatyBook) Hostile(a, b string) bool {
	if a == b {
		return false
	}
	if a == HostileActorID || b == HostileActorID {
		return true
	}
	return t.Stance(a, b) == StanceWar
}

func (t *TreatyBook) Allied(a, b string) bool {
	return a == b || t.Stance(a, b) == StanceAlliance
}

// Propose opens a stance-change offer. A war declaration needs no consent
// and applies immediately.
func (t *TreatyBook) Propose(from, to, stance string, now uint64) protocol.Result {
	switch stance {
	case StanceNeutral, StanceWar, StanceAlliance:
	default:
		return protocol.Fail(protocol.ErrBadRequest, "unknown stance")
	}
	if to == from {
		return protocol.Fail(protocol.ErrBadRequest, "cannot treat with yourself")
	}
	if to == HostileActorID || !t.e.ledger.HasActor(to) {
		return protocol.Fail(protocol.ErrInvalidTarget, "no such actor")
	}

	if stance == StanceWar {
		t.setStance(from, to, StanceWar, now)
		return protocol.OKResult()
	}

	id := fmt.Sprintf("TY%d", t.e.nextTreatyNum.Add(1))
	t.proposals[id] = &TreatyProposal{ID: id, From: from, To: to, Stance: stance, CreatedTick: now}
	return protocol.OKData(map[string]any{"treaty_id": id})
}

func (t *TreatyBook) Accept(actorID, proposalID string, now uint64) protocol.Result {
	p := t.proposals[proposalID]
	if p == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "proposal not found")
	}
	if p.To != actorID {
		return protocol.Fail(protocol.ErrNoPermission, "proposal not addressed to actor")
	}
	delete(t.proposals, proposalID)
	t.setStance(p.From, p.To, p.Stance, now)
	return protocol.OKResult()
}

func (t *TreatyBook) Reject(actorID, proposalID string) protocol.Result {
	p := t.proposals[proposalID]
	if p == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "proposal not found")
	}
	if p.To != actorID && p.From != actorID {
		return protocol.Fail(protocol.ErrNoPermission, "proposal not addressed to actor")
	}
	delete(t.proposals, proposalID)
	return protocol.OKResult()
}

func (t *TreatyBook) setStance(a, b, stance string, now uint64) {
	if stance == StanceNeutral {
		delete(t.stances, pairKey(a, b))
	} else {
		t.stances[pairKey(a, b)] = stance
	}
	t.e.sync.RecordChange(ChangeTreaty, map[string]any{"actor_id": a, "with": b})
	t.e.emit(protocol.Event{
		"t": now, "type": protocol.EvTreatyChanged,
		"a": a, "b": b, "stance": stance,
	})
}

// ExportStances returns pair->stance rows sorted by pair key.
func (t *TreatyBook) ExportStances() map[string]string {
	out := map[string]string{}
	for k, v := range t.stances {
		out[k] = v
	}
	return out
}

// ExportProposals returns open proposals in sorted id order.
func (t *TreatyBook) ExportProposals() []*TreatyProposal {
	ids := make([]string, 0, len(t.proposals))
	for id := range t.proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*TreatyProposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.proposals[id])
	}
	return out
}

func (t *TreatyBook) restore(stances map[string]string, proposals []*TreatyProposal) {
	t.stances = map[string]string{}
	for k, v := range stances {
		t.stances[k] = v
	}
	t.proposals = map[string]*TreatyProposal{}
	for _, p := range proposals {
		t.proposals[p.ID] = p
	}
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
