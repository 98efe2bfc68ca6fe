package engine

// Metrics is a point-in-time snapshot for the metrics endpoint. It is
// refreshed at the end of each tick and read from other goroutines, so it is
// published through an atomic value rather than read live from engine state.
type Metrics struct {
	Tick     uint64 `json:"tick"`
	Actors   int    `json:"actors"`
	Clients  int    `json:"clients"`
	Entities int    `json:"entities"`
	Fleets   int    `json:"fleets"`

	Starbases  int `json:"starbases"`
	OwnedSites int `json:"owned_sites"`

	CrisisPhase string `json:"crisis_phase"`
	CrisisKind  string `json:"crisis_kind,omitempty"`

	ChangesDropped uint64 `json:"changes_dropped"`
	FullFallbacks  uint64 `json:"full_fallbacks"`

	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
	Sync  int `json:"sync"`
}

// Metrics returns the last published snapshot. Queue depths are sampled at
// call time; channel length reads are safe from any goroutine.
func (e *Engine) Metrics() Metrics {
	m, _ := e.metrics.Load().(Metrics)
	m.QueueDepths = QueueDepths{
		Inbox: len(e.inbox),
		Join:  len(e.join),
		Leave: len(e.leave),
		Sync:  len(e.syncReq),
	}
	return m
}

func (e *Engine) publishMetrics(now uint64) {
	owned := 0
	for _, id := range e.universe.SiteIDs() {
		if e.universe.Site(id).OwnerID != "" {
			owned++
		}
	}
	cs := e.crisis.State()
	e.metrics.Store(Metrics{
		Tick:           now,
		Actors:         len(e.ledger.ActorIDs()),
		Clients:        len(e.clients),
		Entities:       e.ledger.EntityCount(),
		Fleets:         e.fleets.Count(),
		Starbases:      e.bases.Count(),
		OwnedSites:     owned,
		CrisisPhase:    cs.Phase,
		CrisisKind:     cs.Kind,
		ChangesDropped: e.sync.Dropped(),
		FullFallbacks:  e.sync.FullFallbacks(),
	})
}
