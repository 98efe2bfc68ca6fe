package engine

import (
	"fmt"
	"sort"

	"starhold.gg/internal/persistence/snapshot"
	"starhold.gg/internal/sim/galaxy"
	"starhold.gg/internal/sim/ledger"
)

const snapshotVersion = 1

// ExportSnapshot captures everything needed to resume: ownership overlays,
// balances, entities, in-flight fleets, starbases with queues, the crisis
// record, diplomacy, and the id counters. Universe geometry is regenerated
// from the seed on import.
func (e *Engine) ExportSnapshot() snapshot.SnapshotV1 {
	now := e.tick.Load()
	s := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:  snapshotVersion,
			GalaxyID: e.cfg.ID,
			Tick:     now,
		},
		Seed:     e.cfg.Seed,
		TickRate: e.cfg.Tuning.TickRateHz,
		Balances: e.ledger.ExportBalances(),
		Stances:  e.treaties.ExportStances(),
		WinnerID: e.winnerID,
		Counters: snapshot.CountersV1{
			NextActor:  e.nextActorNum.Load(),
			NextEntity: e.nextEntityNum.Load(),
			NextFleet:  e.nextFleetNum.Load(),
			NextItem:   e.nextItemNum.Load(),
			NextTrade:  e.nextTradeNum.Load(),
			NextTreaty: e.nextTreatyNum.Load(),
		},
	}

	for _, site := range e.universe.ExportSites() {
		if site.OwnerID == "" && site.Specialization == "" {
			continue
		}
		s.Sites = append(s.Sites, snapshot.SiteV1{
			ID:             site.ID,
			OwnerID:        site.OwnerID,
			Specialization: site.Specialization,
			OwnedSince:     site.OwnedSince,
		})
	}

	for _, ent := range e.ledger.ExportEntities() {
		s.Entities = append(s.Entities, snapshot.EntityV1{
			ID:        ent.ID,
			Kind:      ent.Kind,
			OwnerID:   ent.OwnerID,
			SiteID:    ent.SiteID,
			InTransit: ent.InTransit,
			HP:        ent.HP,
		})
	}

	for _, f := range e.fleets.Export() {
		s.Fleets = append(s.Fleets, snapshot.FleetV1{
			ID:            f.ID,
			OwnerID:       f.OwnerID,
			OriginSiteID:  f.OriginSiteID,
			DestSiteID:    f.DestSiteID,
			ShipIDs:       append([]string(nil), f.ShipIDs...),
			CargoIDs:      append([]string(nil), f.CargoIDs...),
			DepartureTick: f.DepartureTick,
			ArrivalTick:   f.ArrivalTick,
			TravelTicks:   f.TravelTicks,
			TravelClass:   f.TravelClass,
			FuelCost:      f.FuelCost,
		})
	}

	for _, sb := range e.bases.Export() {
		bv := snapshot.StarbaseV1{
			ID:               sb.ID,
			SiteID:           sb.SiteID,
			OwnerID:          sb.OwnerID,
			Tier:             sb.Tier,
			HP:               sb.HP,
			MaxHP:            sb.MaxHP,
			Attack:           sb.Attack,
			ModuleSlots:      sb.ModuleSlots,
			Modules:          append([]string(nil), sb.Modules...),
			ConstructionDone: sb.ConstructionDone,
			Upgrading:        sb.Upgrading,
			UpgradeTarget:    sb.UpgradeTarget,
			UpgradeDone:      sb.UpgradeDone,
		}
		for _, q := range sb.Queue {
			bv.Queue = append(bv.Queue, snapshot.QueueItemV1{
				ID:           q.ID,
				ProducedType: q.ProducedType,
				StartTick:    q.StartTick,
				CompleteTick: q.CompleteTick,
			})
		}
		s.Starbases = append(s.Starbases, bv)
	}

	cs := e.crisis.State()
	s.Crisis = snapshot.CrisisV1{
		Phase:          cs.Phase,
		Kind:           cs.Kind,
		WarningTick:    cs.WarningTick,
		StartTick:      cs.StartTick,
		LastSpawnTick:  cs.LastSpawnTick,
		Waves:          cs.Waves,
		SpawnedCount:   cs.SpawnedCount,
		DestroyedCount: cs.DestroyedCount,
	}
	for _, p := range cs.SpawnPoints {
		s.Crisis.SpawnPoints = append(s.Crisis.SpawnPoints, [2]float64{p.X, p.Y})
	}

	for _, p := range e.treaties.ExportProposals() {
		s.Proposals = append(s.Proposals, snapshot.TreatyProposalV1{
			ID:           p.ID,
			From:         p.From,
			To:           p.To,
			Stance:       p.Stance,
			ProposedTick: p.CreatedTick,
		})
	}

	for _, tr := range e.ExportTrades() {
		s.Trades = append(s.Trades, snapshot.TradeV1{
			ID:          tr.ID,
			From:        tr.From,
			To:          tr.To,
			Offer:       copyAmounts(tr.Offer),
			Request:     copyAmounts(tr.Request),
			CreatedTick: tr.CreatedTick,
			Accepted:    tr.Accepted,
		})
	}

	for _, actorID := range e.ledger.ActorIDs() {
		if job := e.research[actorID]; job != nil {
			s.Research = append(s.Research, snapshot.ResearchV1{
				ActorID:  actorID,
				TechID:   job.TechID,
				DoneTick: job.DoneTick,
			})
		}
		if done := e.doneTech[actorID]; len(done) > 0 {
			if s.DoneTech == nil {
				s.DoneTech = map[string][]string{}
			}
			ids := make([]string, 0, len(done))
			for id := range done {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			s.DoneTech[actorID] = ids
		}
		if e.eliminated[actorID] {
			s.Eliminated = append(s.Eliminated, actorID)
		}
	}

	s.SpeakerID = e.council.SpeakerID
	if len(e.council.Votes) > 0 {
		s.Votes = map[string]string{}
		for k, v := range e.council.Votes {
			s.Votes[k] = v
		}
	}
	if len(e.emptySince) > 0 {
		s.EmptySince = map[string]uint64{}
		for k, v := range e.emptySince {
			s.EmptySince[k] = v
		}
	}

	return s
}

// ExportSnapshotBlob is the encoded form handed to the snapshot sink.
func (e *Engine) ExportSnapshotBlob() ([]byte, error) {
	return snapshot.Encode(e.ExportSnapshot())
}

// ImportSnapshot restores a prior run onto a freshly constructed engine. The
// engine must have been built with the same seed and galaxy shape; the
// snapshot carries overlays, not geometry.
func (e *Engine) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.Seed != e.cfg.Seed {
		return fmt.Errorf("snapshot seed %d does not match engine seed %d", s.Seed, e.cfg.Seed)
	}

	now := s.Header.Tick
	e.tick.Store(now)
	e.sync.setTick(now + 1)

	for _, sv := range s.Sites {
		site := e.universe.Site(sv.ID)
		if site == nil {
			return fmt.Errorf("snapshot references unknown site %s", sv.ID)
		}
		site.OwnerID = sv.OwnerID
		site.Specialization = sv.Specialization
		site.OwnedSince = sv.OwnedSince
	}

	ents := make([]*ledger.Entity, 0, len(s.Entities))
	for _, ev := range s.Entities {
		ents = append(ents, &ledger.Entity{
			ID:        ev.ID,
			Kind:      ev.Kind,
			OwnerID:   ev.OwnerID,
			SiteID:    ev.SiteID,
			InTransit: ev.InTransit,
			HP:        ev.HP,
		})
	}
	e.ledger = ledger.Restore(s.Balances, ents)

	fleets := make([]*Fleet, 0, len(s.Fleets))
	for _, fv := range s.Fleets {
		fleets = append(fleets, &Fleet{
			ID:            fv.ID,
			OwnerID:       fv.OwnerID,
			OriginSiteID:  fv.OriginSiteID,
			DestSiteID:    fv.DestSiteID,
			ShipIDs:       append([]string(nil), fv.ShipIDs...),
			CargoIDs:      append([]string(nil), fv.CargoIDs...),
			DepartureTick: fv.DepartureTick,
			ArrivalTick:   fv.ArrivalTick,
			TravelTicks:   fv.TravelTicks,
			TravelClass:   fv.TravelClass,
			FuelCost:      fv.FuelCost,
		})
	}
	e.fleets.restore(fleets, now)

	bases := make([]*Starbase, 0, len(s.Starbases))
	for _, bv := range s.Starbases {
		sb := &Starbase{
			ID:               bv.ID,
			SiteID:           bv.SiteID,
			OwnerID:          bv.OwnerID,
			Tier:             bv.Tier,
			HP:               bv.HP,
			MaxHP:            bv.MaxHP,
			Attack:           bv.Attack,
			ModuleSlots:      bv.ModuleSlots,
			Modules:          append([]string(nil), bv.Modules...),
			ConstructionDone: bv.ConstructionDone,
			Upgrading:        bv.Upgrading,
			UpgradeTarget:    bv.UpgradeTarget,
			UpgradeDone:      bv.UpgradeDone,
		}
		for _, qv := range bv.Queue {
			sb.Queue = append(sb.Queue, &QueueItem{
				ID:           qv.ID,
				ProducedType: qv.ProducedType,
				StartTick:    qv.StartTick,
				CompleteTick: qv.CompleteTick,
			})
		}
		bases = append(bases, sb)
	}
	e.bases.restore(bases)

	cs := CrisisState{
		Phase:          s.Crisis.Phase,
		Kind:           s.Crisis.Kind,
		WarningTick:    s.Crisis.WarningTick,
		StartTick:      s.Crisis.StartTick,
		LastSpawnTick:  s.Crisis.LastSpawnTick,
		Waves:          s.Crisis.Waves,
		SpawnedCount:   s.Crisis.SpawnedCount,
		DestroyedCount: s.Crisis.DestroyedCount,
	}
	for _, p := range s.Crisis.SpawnPoints {
		cs.SpawnPoints = append(cs.SpawnPoints, galaxy.Vec2{X: p[0], Y: p[1]})
	}
	e.crisis.restore(cs)

	proposals := make([]*TreatyProposal, 0, len(s.Proposals))
	for _, pv := range s.Proposals {
		proposals = append(proposals, &TreatyProposal{
			ID:          pv.ID,
			From:        pv.From,
			To:          pv.To,
			Stance:      pv.Stance,
			CreatedTick: pv.ProposedTick,
		})
	}
	e.treaties.restore(s.Stances, proposals)

	e.trades = map[string]*TradeOffer{}
	for _, tv := range s.Trades {
		e.trades[tv.ID] = &TradeOffer{
			ID:          tv.ID,
			From:        tv.From,
			To:          tv.To,
			Offer:       copyAmounts(tv.Offer),
			Request:     copyAmounts(tv.Request),
			CreatedTick: tv.CreatedTick,
			Accepted:    tv.Accepted,
		}
	}

	e.research = map[string]*ResearchJob{}
	for _, rv := range s.Research {
		e.research[rv.ActorID] = &ResearchJob{TechID: rv.TechID, DoneTick: rv.DoneTick}
	}
	e.doneTech = map[string]map[string]bool{}
	for actorID, ids := range s.DoneTech {
		m := map[string]bool{}
		for _, id := range ids {
			m[id] = true
		}
		e.doneTech[actorID] = m
	}

	e.council = Council{SpeakerID: s.SpeakerID}
	if len(s.Votes) > 0 {
		e.council.Votes = map[string]string{}
		for k, v := range s.Votes {
			e.council.Votes[k] = v
		}
	}

	e.eliminated = map[string]bool{}
	for _, id := range s.Eliminated {
		e.eliminated[id] = true
	}
	e.emptySince = map[string]uint64{}
	for k, v := range s.EmptySince {
		e.emptySince[k] = v
	}
	e.winnerID = s.WinnerID

	e.nextActorNum.Store(s.Counters.NextActor)
	e.nextEntityNum.Store(s.Counters.NextEntity)
	e.nextFleetNum.Store(s.Counters.NextFleet)
	e.nextItemNum.Store(s.Counters.NextItem)
	e.nextTradeNum.Store(s.Counters.NextTrade)
	e.nextTreatyNum.Store(s.Counters.NextTreaty)

	return nil
}

// ImportSnapshotBlob decodes and restores an encoded snapshot.
func (e *Engine) ImportSnapshotBlob(blob []byte) error {
	s, err := snapshot.Decode(blob)
	if err != nil {
		return err
	}
	return e.ImportSnapshot(s)
}

func copyAmounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
