package engine

import (
	"encoding/json"
	"sort"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/galaxy"
	"starhold.gg/internal/sim/ledger"
	"starhold.gg/internal/sim/tuning"
)

// ChangeKind tags a change-log record with the table it touched.
type ChangeKind string

const (
	ChangeActor    ChangeKind = "actor"
	ChangeSite     ChangeKind = "site"
	ChangeEntity   ChangeKind = "entity"
	ChangeFleet    ChangeKind = "fleet"
	ChangeStarbase ChangeKind = "starbase"
	ChangeCrisis   ChangeKind = "crisis"
	ChangeTreaty   ChangeKind = "treaty"
	ChangeTrade    ChangeKind = "trade"
)

// ChangeRecord marks that an object changed at a tick. Records carry ids, not
// values: a delta always re-reads the current state of the touched object, so
// replaying the same delta twice cannot double-apply anything.
type ChangeRecord struct {
	Tick   uint64
	Kind   ChangeKind
	Fields map[string]any
}

type changeRing struct {
	buf             []ChangeRecord
	head            int
	n               int
	droppedTotal    uint64
	lastDroppedTick uint64
}

func (r *changeRing) push(rec ChangeRecord) {
	if len(r.buf) == 0 {
		return
	}
	if r.n == len(r.buf) {
		old := r.buf[r.head]
		if old.Tick > r.lastDroppedTick {
			r.lastDroppedTick = old.Tick
		}
		r.droppedTotal++
		r.buf[r.head] = rec
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.n)%len(r.buf)] = rec
	r.n++
}

func (r *changeRing) each(fn func(ChangeRecord)) {
	for i := 0; i < r.n; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}

type eventRing struct {
	buf  []protocol.Event
	head int
	n    int
}

func (r *eventRing) push(ev protocol.Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.n == len(r.buf) {
		r.buf[r.head] = ev
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.n)%len(r.buf)] = ev
	r.n++
}

func (r *eventRing) each(fn func(protocol.Event)) {
	for i := 0; i < r.n; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}

// SyncState is the engine's bounded change log plus the recent event window.
// It is written only from the engine goroutine; capacity overflow evicts the
// oldest records and is observable through the Dropped counter rather than
// silent.
type SyncState struct {
	tick          uint64
	horizon       uint64
	changes       changeRing
	events        eventRing
	tickEvents    int
	fullFallbacks uint64
}

func newSyncState(cfg tuning.Sync, snapshotEvery int) *SyncState {
	horizon := cfg.DeltaHorizonTicks
	if horizon == 0 {
		horizon = uint64(snapshotEvery)
	}
	return &SyncState{
		horizon: horizon,
		changes: changeRing{buf: make([]ChangeRecord, cfg.ChangeLogCapacity)},
		events:  eventRing{buf: make([]protocol.Event, cfg.EventLogCapacity)},
	}
}

// setTick moves the tag applied to subsequent records. The engine points it
// at the tick whose delta has not been pushed yet, so actions executed
// between ticks land in the next delta instead of vanishing.
func (s *SyncState) setTick(t uint64) {
	if t != s.tick {
		s.tick = t
		s.tickEvents = 0
	}
}

func (s *SyncState) RecordChange(kind ChangeKind, fields map[string]any) {
	s.changes.push(ChangeRecord{Tick: s.tick, Kind: kind, Fields: fields})
}

func (s *SyncState) AppendEvent(ev protocol.Event) {
	s.events.push(ev)
	s.tickEvents++
}

// EventCount reports events appended during the current tick.
func (s *SyncState) EventCount() int { return s.tickEvents }

func (s *SyncState) Dropped() uint64       { return s.changes.droppedTotal }
func (s *SyncState) FullFallbacks() uint64 { return s.fullFallbacks }

// covers reports whether a delta from sinceTick can be trusted: every change
// after sinceTick must still be retained, and the gap must not span the
// snapshot horizon (a client that far behind resyncs from current state
// rather than a delta chain).
func (s *SyncState) covers(now, sinceTick uint64) bool {
	if s.horizon != 0 && now > sinceTick+s.horizon {
		return false
	}
	return s.changes.droppedTotal == 0 || s.changes.lastDroppedTick <= sinceTick
}

// SyncPayload is the wire shape of STATE and DELTA pushes. A delta carries
// only the touched objects; a full payload carries everything. Either way the
// object values are the current state, never accumulated diffs.
type SyncPayload struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	SinceTick       uint64 `json:"since_tick,omitempty"`
	Full            bool   `json:"full,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`

	Systems []*galaxy.System `json:"systems,omitempty"`
	Sites   []*galaxy.Site   `json:"sites,omitempty"`

	Actors   map[string]map[string]int `json:"actors,omitempty"`
	Entities []*ledger.Entity          `json:"entities,omitempty"`
	Removed  []string                  `json:"removed,omitempty"`

	Fleets        []*Fleet    `json:"fleets,omitempty"`
	RemovedFleets []string    `json:"removed_fleets,omitempty"`
	Starbases     []*Starbase `json:"starbases,omitempty"`
	RemovedBases  []string    `json:"removed_bases,omitempty"`

	Crisis  *CrisisState      `json:"crisis,omitempty"`
	Stances map[string]string `json:"stances,omitempty"`
	Trades  []*TradeOffer     `json:"trades,omitempty"`

	Events []protocol.Event `json:"events,omitempty"`

	Page    int    `json:"page,omitempty"`
	Pages   int    `json:"pages,omitempty"`
	Dropped uint64 `json:"dropped,omitempty"`
}

func (p *SyncPayload) Marshal() ([]byte, error) { return json.Marshal(p) }

// Delta builds the change set since sinceTick. When the change log no longer
// reaches back that far it degrades to a full payload; it never fails.
func (e *Engine) Delta(sinceTick uint64) SyncPayload {
	now := e.tick.Load()
	if !e.sync.covers(now, sinceTick) {
		e.sync.fullFallbacks++
		p := e.FullState()
		p.SinceTick = sinceTick
		return p
	}

	touched := map[ChangeKind]map[string]bool{}
	mark := func(kind ChangeKind, id string) {
		m := touched[kind]
		if m == nil {
			m = map[string]bool{}
			touched[kind] = m
		}
		m[id] = true
	}
	e.sync.changes.each(func(rec ChangeRecord) {
		if rec.Tick <= sinceTick {
			return
		}
		switch rec.Kind {
		case ChangeActor:
			mark(ChangeActor, str(rec.Fields["actor_id"]))
		case ChangeSite:
			mark(ChangeSite, str(rec.Fields["site_id"]))
		case ChangeEntity:
			mark(ChangeEntity, str(rec.Fields["entity_id"]))
		case ChangeFleet:
			mark(ChangeFleet, str(rec.Fields["fleet_id"]))
		case ChangeStarbase:
			mark(ChangeStarbase, str(rec.Fields["site_id"]))
		case ChangeCrisis:
			mark(ChangeCrisis, "")
		case ChangeTreaty:
			mark(ChangeTreaty, "")
		case ChangeTrade:
			mark(ChangeTrade, str(rec.Fields["trade_id"]))
		}
	})

	p := SyncPayload{
		Type:            protocol.TypeDelta,
		ProtocolVersion: protocol.Version,
		Tick:            now,
		SinceTick:       sinceTick,
		Dropped:         e.sync.Dropped(),
	}

	for _, id := range sortedSet(touched[ChangeActor]) {
		if !e.ledger.HasActor(id) {
			continue
		}
		if p.Actors == nil {
			p.Actors = map[string]map[string]int{}
		}
		p.Actors[id] = e.ledger.Balance(id)
	}
	for _, id := range sortedSet(touched[ChangeSite]) {
		if s := e.universe.Site(id); s != nil {
			p.Sites = append(p.Sites, s)
		}
	}
	for _, id := range sortedSet(touched[ChangeEntity]) {
		if ent := e.ledger.Entity(id); ent != nil {
			p.Entities = append(p.Entities, ent)
		} else {
			p.Removed = append(p.Removed, id)
		}
	}
	for _, id := range sortedSet(touched[ChangeFleet]) {
		if f := e.fleets.Get(id); f != nil {
			p.Fleets = append(p.Fleets, f)
		} else {
			p.RemovedFleets = append(p.RemovedFleets, id)
		}
	}
	for _, id := range sortedSet(touched[ChangeStarbase]) {
		if sb := e.bases.At(id); sb != nil {
			p.Starbases = append(p.Starbases, sb)
		} else {
			p.RemovedBases = append(p.RemovedBases, id)
		}
	}
	if touched[ChangeCrisis] != nil {
		cs := e.crisis.State()
		p.Crisis = &cs
	}
	if touched[ChangeTreaty] != nil {
		p.Stances = e.treaties.ExportStances()
	}
	if touched[ChangeTrade] != nil {
		p.Trades = e.ExportTrades()
	}

	e.sync.events.each(func(ev protocol.Event) {
		if t, ok := ev["t"].(uint64); ok && t > sinceTick {
			p.Events = append(p.Events, ev)
		}
	})
	return p
}

// LightOptions selects a page of the entity table. The zero value means the
// first page at the configured size.
type LightOptions struct {
	Page     int
	PageSize int
}

// LightState is the joining-client payload: full map and ownership picture,
// entities paginated so one message stays bounded on large galaxies.
func (e *Engine) LightState(opts LightOptions) SyncPayload {
	size := opts.PageSize
	if size <= 0 {
		size = e.cfg.Tuning.Sync.LightPageSize
	}
	ents := e.ledger.ExportEntities()
	pages := (len(ents) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	page := opts.Page
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	lo := page * size
	hi := lo + size
	if hi > len(ents) {
		hi = len(ents)
	}

	cs := e.crisis.State()
	return SyncPayload{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            e.tick.Load(),
		Full:            true,
		Systems:         e.universe.ExportSystems(),
		Sites:           e.universe.ExportSites(),
		Actors:          e.ledger.ExportBalances(),
		Entities:        ents[lo:hi],
		Fleets:          e.fleets.Export(),
		Starbases:       e.bases.Export(),
		Crisis:          &cs,
		Stances:         e.treaties.ExportStances(),
		Page:            page,
		Pages:           pages,
		Dropped:         e.sync.Dropped(),
	}
}

// FullState is the unpaginated everything payload, used for delta fallback
// and admin inspection.
func (e *Engine) FullState() SyncPayload {
	cs := e.crisis.State()
	return SyncPayload{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            e.tick.Load(),
		Full:            true,
		Systems:         e.universe.ExportSystems(),
		Sites:           e.universe.ExportSites(),
		Actors:          e.ledger.ExportBalances(),
		Entities:        e.ledger.ExportEntities(),
		Fleets:          e.fleets.Export(),
		Starbases:       e.bases.Export(),
		Crisis:          &cs,
		Stances:         e.treaties.ExportStances(),
		Trades:          e.ExportTrades(),
		Dropped:         e.sync.Dropped(),
	}
}

// StateForActor is FullState addressed to one actor.
func (e *Engine) StateForActor(actorID string) SyncPayload {
	p := e.FullState()
	p.ActorID = actorID
	return p
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func sortedSet(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
