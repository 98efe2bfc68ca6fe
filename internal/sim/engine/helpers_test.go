package engine

import (
	"testing"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/tuning"
)

// testCatalogs builds a small in-memory content set. Unit ids match the
// starter-garrison kinds so joining an actor spawns a usable force.
func testCatalogs() *catalogs.Catalogs {
	units := map[string]catalogs.UnitDef{
		"corvette": {
			ID: "corvette", Name: "Corvette", Class: catalogs.ClassShip,
			Speed: 3, Attack: 4, HP: 20, BuildTicks: 5,
			Cost: map[string]int{"credits": 40, "minerals": 60, "fuel": 10},
		},
		"transport": {
			ID: "transport", Name: "Transport", Class: catalogs.ClassShip,
			Speed: 1, CargoCap: 2, Attack: 0, HP: 30, BuildTicks: 5,
			Cost: map[string]int{"credits": 60, "minerals": 80},
		},
		"colony_ship": {
			ID: "colony_ship", Name: "Colony Ship", Class: catalogs.ClassShip,
			Speed: 1, CanColonize: true, Attack: 0, HP: 40, BuildTicks: 8,
			Cost: map[string]int{"credits": 300, "minerals": 200},
		},
		"militia": {
			ID: "militia", Name: "Militia", Class: catalogs.ClassGround,
			Attack: 5, HP: 10, BuildTicks: 3,
			Cost: map[string]int{"credits": 15, "minerals": 5},
		},
		"depot": {
			ID: "depot", Name: "Depot", Class: catalogs.ClassStructure,
			Attack: 0, HP: 60, BuildTicks: 4,
			Cost: map[string]int{"credits": 50, "minerals": 80},
		},
		"raider": {
			ID: "raider", Name: "Raider", Class: catalogs.ClassShip,
			Speed: 3, Attack: 0, HP: 1, BuildTicks: 1, Cost: map[string]int{},
		},
	}
	ids := []string{"colony_ship", "corvette", "depot", "militia", "raider", "transport"}

	return &catalogs.Catalogs{
		Units: catalogs.UnitCatalog{Defs: units, IDs: ids, Digest: "test-units"},
		Tiers: catalogs.TierCatalog{
			ByTier: map[int]catalogs.TierDef{
				1: {Tier: 1, HP: 50, Attack: 5, ModuleSlots: 1, BuildTicks: 10, Cost: map[string]int{"credits": 50, "minerals": 50}},
				2: {Tier: 2, HP: 120, Attack: 12, ModuleSlots: 2, BuildTicks: 10, Cost: map[string]int{"credits": 100, "minerals": 100}},
			},
			Max:    2,
			Digest: "test-tiers",
		},
		Modules: catalogs.ModuleCatalog{
			Defs: map[string]catalogs.ModuleDef{
				"shipyard":   {ID: "shipyard", Name: "Shipyard", Effect: catalogs.ModuleShipyard, Cost: map[string]int{"credits": 20}},
				"repair_bay": {ID: "repair_bay", Name: "Repair Bay", Effect: catalogs.ModuleRepair, Cost: map[string]int{"credits": 20}},
			},
			Digest: "test-modules",
		},
		Tech: catalogs.TechCatalog{
			Defs: map[string]catalogs.TechDef{
				"drives": {ID: "drives", Name: "Drives", Cost: map[string]int{"credits": 50}, ResearchTicks: 5},
			},
			Digest: "test-tech",
		},
		Crises: catalogs.CrisisCatalog{
			Defs: map[string]catalogs.CrisisKindDef{
				"swarm": {
					ID: "swarm", Title: "Swarm", SpawnIntervalTicks: 1000,
					HPMultPermille: 1000, DamageMultPermille: 1000,
					Targeting:   catalogs.TargetNearest,
					Composition: []catalogs.UnitCount{{Unit: "raider", Count: 1}},
					Messages:    catalogs.CrisisMessages{Warning: "w", Active: "a", Resolved: "r"},
				},
			},
			IDs:    []string{"swarm"},
			Digest: "test-crises",
		},
	}
}

// testTuning disables the stochastic and long-horizon systems so a test
// controls exactly what fires.
func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Galaxy = tuning.Galaxy{Galaxies: 1, SystemsPerGalaxy: 2, SitesPerSystem: 4, Span: 100}
	t.Travel = tuning.Travel{SystemMinTicks: 3, SystemBaseTicks: 12, GalaxyFactor: 2.0, CrossFactor: 5.0, MaxTicks: 600}
	t.Crisis.MinStartTick = 1 << 40
	t.HazardChancePermille = 0
	t.AbandonTicks = 0
	t.CouncilIntervalTicks = 0
	t.VictorySitePermille = 2000
	t.SnapshotEveryTicks = 0
	return t
}

func newTestEngine(t *testing.T, tune tuning.Tuning) *Engine {
	t.Helper()
	e, err := New(Config{ID: "test", Seed: 42, Tuning: tune}, testCatalogs())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

// joinActor registers an actor directly on the engine goroutine's state,
// bypassing the channel inboxes the way the action tests drive Execute.
func joinActor(t *testing.T, e *Engine, name string) string {
	t.Helper()
	id, ok := e.ensureActor(name)
	if !ok {
		t.Fatalf("no free homeworld for %s", name)
	}
	return id
}

func homeOf(t *testing.T, e *Engine, actorID string) string {
	t.Helper()
	sites := e.universe.OwnedSiteIDs(actorID)
	if len(sites) == 0 {
		t.Fatalf("actor %s owns no site", actorID)
	}
	return sites[0]
}

// siblingSite picks a different site in the same system as siteID.
func siblingSite(t *testing.T, e *Engine, siteID string) string {
	t.Helper()
	sys := e.universe.SystemOf(siteID)
	for _, id := range sys.SiteIDs {
		if id != siteID {
			return id
		}
	}
	t.Fatalf("no sibling site for %s", siteID)
	return ""
}

func advanceN(e *Engine, n int) {
	for i := 0; i < n; i++ {
		e.Advance()
	}
}

func shipsOfKind(e *Engine, actorID, siteID, kind string) []string {
	var out []string
	for _, ent := range e.ledger.OwnedEntitiesAt(siteID, actorID) {
		if ent.Kind == kind {
			out = append(out, ent.ID)
		}
	}
	return out
}

// eventCapture records everything the engine emits, for asserting on event
// streams without a transport.
type eventCapture struct {
	events []protocol.Event
}

func (c *eventCapture) WriteEvent(ev protocol.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *eventCapture) ofType(typ string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range c.events {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}
