package engine

import (
	"fmt"
	"sort"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/ledger"
)

// TradeOffer is a pending resource exchange. Acceptance only marks the offer;
// settlement happens in the trade phase of the next tick so both sides'
// balances are checked under pipeline ordering, not mid-action.
type TradeOffer struct {
	ID          string         `json:"id"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Offer       map[string]int `json:"offer"`
	Request     map[string]int `json:"request"`
	CreatedTick uint64         `json:"created_tick"`
	Accepted    bool           `json:"accepted,omitempty"`
}

func validResources(m map[string]int) bool {
	if len(m) == 0 {
		return false
	}
	for res, amt := range m {
		if amt <= 0 {
			return false
		}
		known := false
		for _, r := range ledger.AllResources {
			if res == r {
				known = true
				break
			}
		}
		if !known {
			return false
		}
	}
	return true
}

func (e *Engine) proposeTrade(actorID string, p protocol.ActionParams, now uint64) protocol.Result {
	if p.WithActor == "" || p.WithActor == actorID {
		return protocol.Fail(protocol.ErrBadRequest, "missing counterparty")
	}
	if !e.ledger.HasActor(p.WithActor) {
		return protocol.Fail(protocol.ErrInvalidTarget, "no such actor")
	}
	if e.treaties.Hostile(actorID, p.WithActor) {
		return protocol.Fail(protocol.ErrNoPermission, "cannot trade while at war")
	}
	if !validResources(p.Offer) || !validResources(p.Request) {
		return protocol.Fail(protocol.ErrBadRequest, "bad offer or request")
	}

	id := fmt.Sprintf("T%d", e.nextTradeNum.Add(1))
	e.trades[id] = &TradeOffer{
		ID: id, From: actorID, To: p.WithActor,
		Offer: p.Offer, Request: p.Request, CreatedTick: now,
	}
	e.sync.RecordChange(ChangeTrade, map[string]any{"trade_id": id, "actor_id": actorID})
	return protocol.OKData(map[string]any{"trade_id": id})
}

func (e *Engine) acceptTrade(actorID, tradeID string) protocol.Result {
	tr := e.trades[tradeID]
	if tr == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "trade not found")
	}
	if tr.To != actorID {
		return protocol.Fail(protocol.ErrNoPermission, "trade not addressed to actor")
	}
	if e.treaties.Hostile(tr.From, tr.To) {
		delete(e.trades, tradeID)
		return protocol.Fail(protocol.ErrNoPermission, "war voids the offer")
	}
	tr.Accepted = true
	return protocol.OKResult()
}

func (e *Engine) dropTrade(actorID, tradeID string, mustBe string) protocol.Result {
	tr := e.trades[tradeID]
	if tr == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "trade not found")
	}
	switch mustBe {
	case "to":
		if tr.To != actorID {
			return protocol.Fail(protocol.ErrNoPermission, "trade not addressed to actor")
		}
	case "from":
		if tr.From != actorID {
			return protocol.Fail(protocol.ErrNoPermission, "trade not proposed by actor")
		}
	}
	delete(e.trades, tradeID)
	e.sync.RecordChange(ChangeTrade, map[string]any{"trade_id": tradeID, "actor_id": actorID})
	return protocol.OKResult()
}

// phaseTrade settles accepted trades: both parties must still afford their
// side or the offer dies unsettled.
func (e *Engine) phaseTrade(now uint64) {
	ids := make([]string, 0, len(e.trades))
	for id := range e.trades {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		tr := e.trades[id]
		if !tr.Accepted {
			continue
		}
		delete(e.trades, id)

		if !e.ledger.CanAfford(tr.From, tr.Offer) || !e.ledger.CanAfford(tr.To, tr.Request) {
			e.emit(protocol.Event{
				"t": now, "type": protocol.EvTradeSettled,
				"trade_id": id, "ok": false, "reason": "insufficient resources at settlement",
			})
			continue
		}
		e.ledger.Deduct(tr.From, tr.Offer)
		e.ledger.Deduct(tr.To, tr.Request)
		e.ledger.Refund(tr.To, tr.Offer)
		e.ledger.Refund(tr.From, tr.Request)

		e.sync.RecordChange(ChangeActor, map[string]any{"actor_id": tr.From})
		e.sync.RecordChange(ChangeActor, map[string]any{"actor_id": tr.To})
		e.sync.RecordChange(ChangeTrade, map[string]any{"trade_id": id, "actor_id": tr.From})
		e.emit(protocol.Event{
			"t": now, "type": protocol.EvTradeSettled,
			"trade_id": id, "ok": true, "from": tr.From, "to": tr.To,
		})
	}
}

// ExportTrades returns open offers in sorted id order.
func (e *Engine) ExportTrades() []*TradeOffer {
	ids := make([]string, 0, len(e.trades))
	for id := range e.trades {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*TradeOffer, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.trades[id])
	}
	return out
}
