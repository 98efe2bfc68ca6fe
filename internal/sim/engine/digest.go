package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// stateDigest hashes the authoritative state in a fixed section order. Two
// runs from the same seed and action stream must produce identical digests
// at every tick; a mismatch means nondeterminism crept into a phase.
func (e *Engine) stateDigest(now uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "tick|%d\n", now)

	e.digestSites(h)
	e.digestBalances(h)
	e.digestEntities(h)
	e.digestFleets(h)
	e.digestStarbases(h)
	e.digestCrisis(h)
	e.digestDiplomacy(h)
	e.digestActors(h)

	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) digestSites(h io.Writer) {
	for _, id := range e.universe.SiteIDs() {
		s := e.universe.Site(id)
		if s.OwnerID == "" && s.Specialization == "" {
			continue
		}
		fmt.Fprintf(h, "site|%s|%s|%s|%d\n", s.ID, s.OwnerID, s.Specialization, s.OwnedSince)
	}
}

func (e *Engine) digestBalances(h io.Writer) {
	for _, actorID := range e.ledger.ActorIDs() {
		bal := e.ledger.Balance(actorID)
		keys := make([]string, 0, len(bal))
		for k := range bal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "bal|%s|%s|%d\n", actorID, k, bal[k])
		}
	}
}

func (e *Engine) digestEntities(h io.Writer) {
	for _, ent := range e.ledger.ExportEntities() {
		fmt.Fprintf(h, "ent|%s|%s|%s|%s|%t|%d\n",
			ent.ID, ent.Kind, ent.OwnerID, ent.SiteID, ent.InTransit, ent.HP)
	}
}

func (e *Engine) digestFleets(h io.Writer) {
	for _, id := range e.fleets.IDs() {
		f := e.fleets.Get(id)
		fmt.Fprintf(h, "fleet|%s|%s|%s|%s|%s|%d|%d|%d\n",
			f.ID, f.OwnerID, f.OriginSiteID, f.DestSiteID, f.TravelClass,
			f.DepartureTick, f.TravelTicks, f.ArrivalTick)
		for _, sid := range f.ShipIDs {
			fmt.Fprintf(h, "fleetship|%s|%s\n", f.ID, sid)
		}
		for _, cid := range f.CargoIDs {
			fmt.Fprintf(h, "fleetcargo|%s|%s\n", f.ID, cid)
		}
	}
}

func (e *Engine) digestStarbases(h io.Writer) {
	for _, siteID := range e.bases.SiteIDs() {
		sb := e.bases.At(siteID)
		fmt.Fprintf(h, "base|%s|%s|%d|%d|%d|%d|%d|%d|%d\n",
			sb.SiteID, sb.OwnerID, sb.Tier, sb.HP, sb.MaxHP,
			sb.ConstructionDone, boolToInt(sb.Upgrading), sb.UpgradeTarget, sb.UpgradeDone)
		for _, m := range sb.Modules {
			fmt.Fprintf(h, "basemod|%s|%s\n", sb.SiteID, m)
		}
		for _, q := range sb.Queue {
			fmt.Fprintf(h, "baseq|%s|%s|%s|%d|%d\n", sb.SiteID, q.ID, q.ProducedType, q.StartTick, q.CompleteTick)
		}
	}
}

func (e *Engine) digestCrisis(h io.Writer) {
	cs := e.crisis.State()
	fmt.Fprintf(h, "crisis|%s|%s|%d|%d|%d|%d|%d|%d\n",
		cs.Phase, cs.Kind, cs.WarningTick, cs.StartTick, cs.LastSpawnTick,
		cs.Waves, cs.SpawnedCount, cs.DestroyedCount)
}

func (e *Engine) digestDiplomacy(h io.Writer) {
	stances := e.treaties.ExportStances()
	keys := make([]string, 0, len(stances))
	for k := range stances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "stance|%s|%s\n", k, stances[k])
	}
	for _, tr := range e.ExportTrades() {
		fmt.Fprintf(h, "trade|%s|%s|%s|%d|%t\n", tr.ID, tr.From, tr.To, tr.CreatedTick, tr.Accepted)
	}
}

func (e *Engine) digestActors(h io.Writer) {
	for _, actorID := range e.ledger.ActorIDs() {
		if job := e.research[actorID]; job != nil {
			fmt.Fprintf(h, "research|%s|%s|%d\n", actorID, job.TechID, job.DoneTick)
		}
		done := e.doneTech[actorID]
		keys := make([]string, 0, len(done))
		for k := range done {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "tech|%s|%s\n", actorID, k)
		}
		if e.eliminated[actorID] {
			fmt.Fprintf(h, "elim|%s\n", actorID)
		}
	}
	fmt.Fprintf(h, "council|%s\n", e.council.SpeakerID)
	fmt.Fprintf(h, "winner|%s\n", e.winnerID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
