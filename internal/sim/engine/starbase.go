package engine

import (
	"fmt"
	"sort"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
)

// Starbase is a timed construction site keyed by its site id. Tiers form a
// strict total order; each tier's stat block comes from the tier catalog.
type Starbase struct {
	ID      string `json:"id"`
	SiteID  string `json:"site_id"`
	OwnerID string `json:"owner_id"`
	Tier    int    `json:"tier"`

	HP     int `json:"hp"`
	MaxHP  int `json:"max_hp"`
	Attack int `json:"attack"`

	ModuleSlots int      `json:"module_slots"`
	Modules     []string `json:"modules,omitempty"`

	ConstructionDone uint64 `json:"construction_done,omitempty"` // 0 once complete
	Upgrading        bool   `json:"upgrading,omitempty"`
	UpgradeTarget    int    `json:"upgrade_target,omitempty"`
	UpgradeDone      uint64 `json:"upgrade_done,omitempty"`

	Queue []*QueueItem `json:"queue,omitempty"`
}

// Operational reports whether initial construction has completed. An
// upgrading starbase stays operational; a constructing one does not.
func (sb *Starbase) Operational() bool { return sb.ConstructionDone == 0 }

// QueueItem is one pending production run. Items chain strictly: each item
// starts exactly when its predecessor completes.
type QueueItem struct {
	ID           string `json:"id"`
	ProducedType string `json:"produced_type"`
	StartTick    uint64 `json:"start_tick"`
	CompleteTick uint64 `json:"complete_tick"`
}

type StarbaseRegistry struct {
	e      *Engine
	bySite map[string]*Starbase
}

func newStarbaseRegistry(e *Engine) *StarbaseRegistry {
	return &StarbaseRegistry{e: e, bySite: map[string]*Starbase{}}
}

func (r *StarbaseRegistry) At(siteID string) *Starbase { return r.bySite[siteID] }

func (r *StarbaseRegistry) Count() int { return len(r.bySite) }

// SiteIDs returns sites with a starbase, sorted.
func (r *StarbaseRegistry) SiteIDs() []string {
	ids := make([]string, 0, len(r.bySite))
	for id := range r.bySite {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build starts tier-1 construction. The caller must already hold the site
// and no starbase may exist there.
func (r *StarbaseRegistry) Build(ownerID, siteID string, now uint64) protocol.Result {
	e := r.e
	site := e.universe.Site(siteID)
	if site == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "site not found")
	}
	if site.OwnerID != ownerID {
		return protocol.Fail(protocol.ErrNoPermission, "site not held by actor")
	}
	if r.bySite[siteID] != nil {
		return protocol.Fail(protocol.ErrConflict, "starbase already present")
	}

	tier := e.cats.Tiers.ByTier[1]
	if !e.ledger.Deduct(ownerID, tier.Cost) {
		return protocol.Fail(protocol.ErrNoResource, "cannot afford starbase")
	}

	sb := &Starbase{
		ID:               fmt.Sprintf("SB-%s", siteID),
		SiteID:           siteID,
		OwnerID:          ownerID,
		Tier:             1,
		HP:               tier.HP,
		MaxHP:            tier.HP,
		Attack:           tier.Attack,
		ModuleSlots:      tier.ModuleSlots,
		ConstructionDone: now + uint64(tier.BuildTicks),
	}
	r.bySite[siteID] = sb
	e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": ownerID})
	return protocol.OKData(map[string]any{"starbase_id": sb.ID, "done_tick": sb.ConstructionDone})
}

// Upgrade starts the next-tier timer. Rejected while constructing or while
// an upgrade is already running.
func (r *StarbaseRegistry) Upgrade(ownerID, siteID string, now uint64) protocol.Result {
	e := r.e
	sb := r.bySite[siteID]
	if sb == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "no starbase at site")
	}
	if sb.OwnerID != ownerID {
		return protocol.Fail(protocol.ErrNotOwned, "starbase not owned by actor")
	}
	if !sb.Operational() {
		return protocol.Fail(protocol.ErrBusy, "starbase still under construction")
	}
	if sb.Upgrading {
		return protocol.Fail(protocol.ErrBusy, "upgrade already in progress")
	}
	if sb.Tier >= e.cats.Tiers.Max {
		return protocol.Fail(protocol.ErrBadRequest, "already at maximum tier")
	}

	next := e.cats.Tiers.ByTier[sb.Tier+1]
	if !e.ledger.Deduct(ownerID, next.Cost) {
		return protocol.Fail(protocol.ErrNoResource, "cannot afford upgrade")
	}
	sb.Upgrading = true
	sb.UpgradeTarget = sb.Tier + 1
	sb.UpgradeDone = now + uint64(next.BuildTicks)
	e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": ownerID})
	return protocol.OKData(map[string]any{"done_tick": sb.UpgradeDone, "target_tier": sb.UpgradeTarget})
}

// InstallModule fits a module into a free slot on an operational starbase.
func (r *StarbaseRegistry) InstallModule(ownerID, siteID, moduleID string, now uint64) protocol.Result {
	e := r.e
	sb := r.bySite[siteID]
	if sb == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "no starbase at site")
	}
	if sb.OwnerID != ownerID {
		return protocol.Fail(protocol.ErrNotOwned, "starbase not owned by actor")
	}
	if !sb.Operational() {
		return protocol.Fail(protocol.ErrBusy, "starbase still under construction")
	}
	mod, ok := e.cats.Modules.Defs[moduleID]
	if !ok {
		return protocol.Fail(protocol.ErrBadRequest, "unknown module")
	}
	if len(sb.Modules) >= sb.ModuleSlots {
		return protocol.Fail(protocol.ErrConflict, "no free module slot")
	}
	for _, id := range sb.Modules {
		if id == moduleID {
			return protocol.Fail(protocol.ErrConflict, "module already installed")
		}
	}
	if !e.ledger.Deduct(ownerID, mod.Cost) {
		return protocol.Fail(protocol.ErrNoResource, "cannot afford module")
	}
	sb.Modules = append(sb.Modules, moduleID)
	e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": ownerID})
	return protocol.OKResult()
}

func (r *StarbaseRegistry) hasShipyard(sb *Starbase) bool {
	return r.hasEffect(sb, catalogs.ModuleShipyard)
}

func (r *StarbaseRegistry) hasEffect(sb *Starbase, effect string) bool {
	for _, id := range sb.Modules {
		if def, ok := r.e.cats.Modules.Defs[id]; ok && def.Effect == effect {
			return true
		}
	}
	return false
}

// Enqueue appends a production run. The new item starts when the current
// tail completes (or now, when the queue is empty); the queue is a bounded
// FIFO and is never reordered.
func (r *StarbaseRegistry) Enqueue(ownerID, siteID, unitType string, now uint64) protocol.Result {
	e := r.e
	sb := r.bySite[siteID]
	if sb == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "no starbase at site")
	}
	if sb.OwnerID != ownerID {
		return protocol.Fail(protocol.ErrNotOwned, "starbase not owned by actor")
	}
	if !sb.Operational() {
		return protocol.Fail(protocol.ErrBusy, "starbase still under construction")
	}
	if !r.hasShipyard(sb) {
		return protocol.Fail(protocol.ErrNoPermission, "starbase has no shipyard module")
	}
	def, ok := e.cats.Units.Defs[unitType]
	if !ok {
		return protocol.Fail(protocol.ErrBadRequest, "unknown unit type")
	}
	if def.Class == catalogs.ClassStructure {
		return protocol.Fail(protocol.ErrBadRequest, "structures are built on site, not queued")
	}
	if len(sb.Queue) >= e.cfg.Tuning.QueueDepthCap {
		return protocol.Fail(protocol.ErrQueueFull, "build queue at capacity")
	}
	if !e.ledger.Deduct(ownerID, def.Cost) {
		return protocol.Fail(protocol.ErrNoResource, "cannot afford unit")
	}

	start := now
	if n := len(sb.Queue); n > 0 {
		start = sb.Queue[n-1].CompleteTick
	}
	item := &QueueItem{
		ID:           fmt.Sprintf("Q%d", e.nextItemNum.Add(1)),
		ProducedType: unitType,
		StartTick:    start,
		CompleteTick: start + uint64(def.BuildTicks),
	}
	sb.Queue = append(sb.Queue, item)
	e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": ownerID})
	return protocol.OKData(map[string]any{"item_id": item.ID, "complete_tick": item.CompleteTick})
}

// CancelItem splices an item out, refunds its cost and re-chains every
// subsequent item from the predecessor so the no-overlap invariant re-holds.
func (r *StarbaseRegistry) CancelItem(ownerID, siteID, itemID string, now uint64) protocol.Result {
	e := r.e
	sb := r.bySite[siteID]
	if sb == nil {
		return protocol.Fail(protocol.ErrInvalidTarget, "no starbase at site")
	}
	if sb.OwnerID != ownerID {
		return protocol.Fail(protocol.ErrNotOwned, "starbase not owned by actor")
	}

	idx := -1
	for i, item := range sb.Queue {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return protocol.Fail(protocol.ErrInvalidTarget, "queue item not found")
	}

	item := sb.Queue[idx]
	e.ledger.Refund(ownerID, e.cats.Units.Defs[item.ProducedType].Cost)
	sb.Queue = append(sb.Queue[:idx], sb.Queue[idx+1:]...)
	r.rechain(sb, idx, now)

	e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": ownerID})
	return protocol.OKResult()
}

// rechain recomputes start/complete ticks from position idx onward. The
// predecessor's completion (or now, at the head) anchors the chain.
func (r *StarbaseRegistry) rechain(sb *Starbase, idx int, now uint64) {
	start := now
	if idx > 0 {
		start = sb.Queue[idx-1].CompleteTick
	}
	for i := idx; i < len(sb.Queue); i++ {
		item := sb.Queue[i]
		dur := uint64(r.e.cats.Units.Defs[item.ProducedType].BuildTicks)
		item.StartTick = start
		item.CompleteTick = start + dur
		start = item.CompleteTick
	}
}

// Tick resolves construction and upgrade timers whose completion tick has
// passed, applying the new tier's stat block atomically.
func (r *StarbaseRegistry) Tick(now uint64) {
	for _, siteID := range r.SiteIDs() {
		sb := r.bySite[siteID]
		r.assertChain(sb)

		if sb.ConstructionDone != 0 && now >= sb.ConstructionDone {
			sb.ConstructionDone = 0
			r.e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": sb.OwnerID})
			r.e.emit(protocol.Event{
				"t": now, "type": protocol.EvStarbaseBuilt,
				"site": siteID, "actor": sb.OwnerID, "tier": sb.Tier,
			})
		}

		if sb.Upgrading && now >= sb.UpgradeDone {
			tier := r.e.cats.Tiers.ByTier[sb.UpgradeTarget]
			gained := tier.HP - sb.MaxHP
			sb.Tier = tier.Tier
			sb.MaxHP = tier.HP
			sb.HP += gained
			if sb.HP > sb.MaxHP {
				sb.HP = sb.MaxHP
			}
			sb.Attack = tier.Attack
			sb.ModuleSlots = tier.ModuleSlots
			sb.Upgrading = false
			sb.UpgradeTarget = 0
			sb.UpgradeDone = 0
			r.e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": sb.OwnerID})
			r.e.emit(protocol.Event{
				"t": now, "type": protocol.EvStarbaseUpgrade,
				"site": siteID, "actor": sb.OwnerID, "tier": sb.Tier,
			})
		}
	}
}

// ProcessCompletions pops every head item whose completion tick has passed.
// Multiple items can complete in one tick when ticks are coarse relative to
// build times.
func (r *StarbaseRegistry) ProcessCompletions(sb *Starbase, now uint64) []*QueueItem {
	var done []*QueueItem
	for len(sb.Queue) > 0 && sb.Queue[0].CompleteTick <= now {
		done = append(done, sb.Queue[0])
		sb.Queue = sb.Queue[1:]
	}
	return done
}

// assertChain enforces the structural queue invariant. A violation is a
// programming defect, not a recoverable condition.
func (r *StarbaseRegistry) assertChain(sb *Starbase) {
	for i, item := range sb.Queue {
		dur := uint64(r.e.cats.Units.Defs[item.ProducedType].BuildTicks)
		if item.CompleteTick != item.StartTick+dur {
			panic(fmt.Sprintf("starbase %s: queue item %s duration drifted", sb.ID, item.ID))
		}
		if i > 0 && item.StartTick != sb.Queue[i-1].CompleteTick {
			panic(fmt.Sprintf("starbase %s: queue chain broken at %s", sb.ID, item.ID))
		}
	}
}

// Destroy removes a dead starbase. Queued production is lost with it.
func (r *StarbaseRegistry) Destroy(siteID string, now uint64) {
	sb := r.bySite[siteID]
	if sb == nil {
		return
	}
	delete(r.bySite, siteID)
	r.e.sync.RecordChange(ChangeStarbase, map[string]any{"site_id": siteID, "actor_id": sb.OwnerID})
	r.e.emit(protocol.Event{
		"t": now, "type": protocol.EvStarbaseLost,
		"site": siteID, "actor": sb.OwnerID,
	})
}

// Export returns starbases in sorted site order.
func (r *StarbaseRegistry) Export() []*Starbase {
	out := make([]*Starbase, 0, len(r.bySite))
	for _, id := range r.SiteIDs() {
		out = append(out, r.bySite[id])
	}
	return out
}

func (r *StarbaseRegistry) restore(bases []*Starbase) {
	r.bySite = map[string]*Starbase{}
	for _, sb := range bases {
		r.bySite[sb.SiteID] = sb
	}
}
