package engine

import (
	"fmt"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/galaxy"
)

// Crisis phases. The lifecycle is cyclical: a resolved crisis re-arms the
// dormant phase and the next cycle may roll a different kind.
const (
	CrisisDormant  = "dormant"
	CrisisWarning  = "warning"
	CrisisActive   = "active"
	CrisisResolved = "resolved"
)

// CrisisState is the singleton galaxy-wide threat record. Everything here is
// data; transitions are tick comparisons against the configured lead times.
type CrisisState struct {
	Phase          string        `json:"phase"`
	Kind           string        `json:"kind,omitempty"`
	WarningTick    uint64        `json:"warning_tick,omitempty"`
	StartTick      uint64        `json:"start_tick,omitempty"`
	LastSpawnTick  uint64        `json:"last_spawn_tick,omitempty"`
	Waves          int           `json:"waves,omitempty"`
	SpawnedCount   int           `json:"spawned_count,omitempty"`
	DestroyedCount int           `json:"destroyed_count,omitempty"`
	SpawnPoints    []galaxy.Vec2 `json:"spawn_points,omitempty"`
}

type CrisisMachine struct {
	e     *Engine
	state CrisisState
}

func newCrisisMachine(e *Engine) *CrisisMachine {
	return &CrisisMachine{e: e, state: CrisisState{Phase: CrisisDormant}}
}

func (c *CrisisMachine) State() CrisisState { return c.state }

// damageMultPermille scales hostile attack during an active crisis.
func (c *CrisisMachine) damageMultPermille() int {
	if c.state.Phase != CrisisActive && c.state.Phase != CrisisResolved {
		return 1000
	}
	def, ok := c.e.cats.Crises.Defs[c.state.Kind]
	if !ok {
		return 1000
	}
	return def.DamageMultPermille
}

func (c *CrisisMachine) Tick(now uint64) {
	cfg := c.e.cfg.Tuning.Crisis

	switch c.state.Phase {
	case CrisisDormant:
		// Probabilistic start, polled only at the fixed interval once the
		// early-game gate has passed.
		if now < cfg.MinStartTick || cfg.PollIntervalTicks == 0 || now%cfg.PollIntervalTicks != 0 {
			return
		}
		if c.e.roll(now, 71)%1000 >= uint64(cfg.StartChancePermille) {
			return
		}
		kinds := c.e.cats.Crises.IDs
		kind := kinds[c.e.roll(now, 72)%uint64(len(kinds))]
		def := c.e.cats.Crises.Defs[kind]
		c.state = CrisisState{Phase: CrisisWarning, Kind: kind, WarningTick: now}
		c.recordChange()
		c.e.emit(protocol.Event{
			"t": now, "type": protocol.EvCrisisWarning,
			"kind": kind, "message": def.Messages.Warning,
			"active_tick": now + cfg.WarningLeadTicks,
		})

	case CrisisWarning:
		if now < c.state.WarningTick+cfg.WarningLeadTicks {
			return
		}
		def := c.e.cats.Crises.Defs[c.state.Kind]
		c.state.Phase = CrisisActive
		c.state.StartTick = now
		c.state.SpawnPoints = c.spawnPoints()
		// Backdate the spawn timer so the first wave lands this tick.
		c.state.LastSpawnTick = now - def.SpawnIntervalTicks
		c.recordChange()
		c.e.emit(protocol.Event{
			"t": now, "type": protocol.EvCrisisActive,
			"kind": c.state.Kind, "message": def.Messages.Active,
		})
		c.spawnWave(now)

	case CrisisActive:
		def := c.e.cats.Crises.Defs[c.state.Kind]
		if now >= c.state.LastSpawnTick+def.SpawnIntervalTicks {
			c.spawnWave(now)
		}

		live := len(c.e.ledger.EntitiesOwnedBy(HostileActorID))
		c.state.DestroyedCount = c.state.SpawnedCount - live
		// Victory requires the threat to have truly begun: a minimum number
		// of waves before zero live hostiles counts as resolution.
		if c.state.Waves >= cfg.MinWaves && live == 0 {
			c.state.Phase = CrisisResolved
			c.recordChange()
			c.e.emit(protocol.Event{
				"t": now, "type": protocol.EvCrisisResolved,
				"kind": c.state.Kind, "message": def.Messages.Resolved,
				"waves": c.state.Waves, "destroyed": c.state.DestroyedCount,
			})
		}

	case CrisisResolved:
		c.state = CrisisState{Phase: CrisisDormant}
		c.recordChange()
	}
}

// spawnPoints are the bounding extremes of the play space: the four corners
// of the rectangle enclosing every system.
func (c *CrisisMachine) spawnPoints() []galaxy.Vec2 {
	min, max := c.e.universe.Bounds()
	return []galaxy.Vec2{
		{X: min.X, Y: min.Y},
		{X: min.X, Y: max.Y},
		{X: max.X, Y: min.Y},
		{X: max.X, Y: max.Y},
	}
}

func (c *CrisisMachine) spawnWave(now uint64) {
	def := c.e.cats.Crises.Defs[c.state.Kind]

	target := c.targetSite(now, def.Targeting)
	if target == "" {
		// Nobody owns anything; the wave has nothing to threaten.
		c.state.LastSpawnTick = now
		return
	}

	point := c.state.SpawnPoints[c.e.roll(now, 73)%uint64(len(c.state.SpawnPoints))]

	spawned := 0
	for _, uc := range def.Composition {
		base := c.e.cats.Units.Defs[uc.Unit]
		for i := 0; i < uc.Count; i++ {
			ent := c.e.spawnUnit(uc.Unit, HostileActorID, target)
			ent.HP = base.HP * def.HPMultPermille / 1000
			if ent.HP < 1 {
				ent.HP = 1
			}
			spawned++
		}
	}
	c.state.SpawnedCount += spawned
	c.state.Waves++
	c.state.LastSpawnTick = now
	c.recordChange()
	c.e.emit(protocol.Event{
		"t": now, "type": protocol.EvCrisisWave,
		"kind": c.state.Kind, "site": target,
		"units": spawned, "wave": c.state.Waves,
		"from": fmt.Sprintf("%.0f,%.0f", point.X, point.Y),
	})
}

// targetSite picks the wave's destination: NEAREST draws uniformly over all
// owned sites, STRONGEST over the sites of the most-territory owner,
// WEAKEST over the least-territory owner's.
func (c *CrisisMachine) targetSite(now uint64, strategy string) string {
	u := c.e.universe

	var pool []string
	switch strategy {
	case "STRONGEST", "WEAKEST":
		counts := u.OwnerCounts()
		delete(counts, HostileActorID)
		pick := ""
		for _, actor := range sortedKeys(counts) {
			if pick == "" {
				pick = actor
				continue
			}
			if strategy == "STRONGEST" && counts[actor] > counts[pick] {
				pick = actor
			}
			if strategy == "WEAKEST" && counts[actor] < counts[pick] {
				pick = actor
			}
		}
		if pick == "" {
			return ""
		}
		pool = u.OwnedSiteIDs(pick)
	default: // NEAREST
		for _, id := range u.SiteIDs() {
			if o := u.Site(id).OwnerID; o != "" && o != HostileActorID {
				pool = append(pool, id)
			}
		}
	}

	if len(pool) == 0 {
		return ""
	}
	return pool[c.e.roll(now, 74)%uint64(len(pool))]
}

func (c *CrisisMachine) recordChange() {
	c.e.sync.RecordChange(ChangeCrisis, map[string]any{"phase": c.state.Phase, "kind": c.state.Kind})
}

func (c *CrisisMachine) restore(s CrisisState) {
	if s.Phase == "" {
		s.Phase = CrisisDormant
	}
	c.state = s
}
