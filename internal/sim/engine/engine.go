package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/galaxy"
	"starhold.gg/internal/sim/ledger"
	"starhold.gg/internal/sim/tuning"
)

// HostileActorID owns every crisis-spawned unit. It has no balance row and
// can never submit actions.
const HostileActorID = "XENO"

type Config struct {
	ID          string
	Seed        int64
	Tuning      tuning.Tuning
	StartPaused bool
}

type JoinRequest struct {
	Name string
	// ResumeActorID reattaches a prior session instead of creating an actor.
	ResumeActorID string
	Out           chan []byte
	Resp          chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type ActionEnvelope struct {
	ActorID string
	Act     protocol.ActMsg
	Resp    chan protocol.ResultMsg
}

// SyncRequest asks for an explicit state push outside the per-tick delta
// cadence: a full page or a delta since a client-chosen tick.
type SyncRequest struct {
	ActorID   string
	SinceTick uint64
	Full      bool
	Page      int
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type EventLogger interface {
	WriteEvent(entry protocol.Event) error
}

type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Actions []RecordedAction `json:"actions,omitempty"`
	Events  int              `json:"events"`
	Digest  string           `json:"digest"`
}

type RecordedJoin struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name"`
}

type RecordedAction struct {
	ActorID string          `json:"actor_id"`
	Act     protocol.ActMsg `json:"act"`
}

type clientState struct {
	Out       chan []byte
	LastTick  uint64
	WantsFull bool
}

// Engine is the authoritative simulation aggregate: the tick orchestrator
// plus every subsystem it drives. All state is owned by the engine loop
// goroutine; external callers go through the channel inboxes.
type Engine struct {
	cfg  Config
	cats *catalogs.Catalogs

	tick   atomic.Uint64
	paused bool

	universe *galaxy.Universe
	ledger   *ledger.Ledger

	fleets *FleetRegistry
	bases  *StarbaseRegistry
	crisis *CrisisMachine
	sync   *SyncState

	treaties *TreatyBook
	trades   map[string]*TradeOffer
	research map[string]*ResearchJob
	doneTech map[string]map[string]bool

	council    Council
	eliminated map[string]bool
	emptySince map[string]uint64
	winnerID   string

	clients map[string]*clientState

	inbox   chan ActionEnvelope
	join    chan JoinRequest
	leave   chan string
	syncReq chan SyncRequest
	stop    chan struct{}

	nextActorNum  atomic.Uint64
	nextEntityNum atomic.Uint64
	nextFleetNum  atomic.Uint64
	nextItemNum   atomic.Uint64
	nextTradeNum  atomic.Uint64
	nextTreatyNum atomic.Uint64

	metrics atomic.Value // Metrics

	// Inputs applied since the last tick, recorded for replay verification.
	pendingJoins []RecordedJoin
	pendingActs  []RecordedAction

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger   TickLogger
	eventLogger  EventLogger
	snapshotSink chan<- SnapshotHandoff
}

// SnapshotHandoff carries an export to an off-thread writer.
type SnapshotHandoff struct {
	Tick uint64
	Blob []byte
}

func New(cfg Config, cats *catalogs.Catalogs) (*Engine, error) {
	if cfg.Tuning.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be positive")
	}
	if len(cats.Crises.IDs) == 0 {
		return nil, fmt.Errorf("no crisis kinds configured")
	}

	u := galaxy.Generate(galaxy.GenConfig{
		Seed:             cfg.Seed,
		Galaxies:         cfg.Tuning.Galaxy.Galaxies,
		SystemsPerGalaxy: cfg.Tuning.Galaxy.SystemsPerGalaxy,
		SitesPerSystem:   cfg.Tuning.Galaxy.SitesPerSystem,
		Span:             cfg.Tuning.Galaxy.Span,
	})

	e := &Engine{
		cfg:        cfg,
		cats:       cats,
		paused:     cfg.StartPaused,
		universe:   u,
		ledger:     ledger.New(),
		trades:     map[string]*TradeOffer{},
		research:   map[string]*ResearchJob{},
		doneTech:   map[string]map[string]bool{},
		eliminated: map[string]bool{},
		emptySince: map[string]uint64{},
		clients:    map[string]*clientState{},
		inbox:      make(chan ActionEnvelope, 1024),
		join:       make(chan JoinRequest, 64),
		leave:      make(chan string, 64),
		syncReq:    make(chan SyncRequest, 256),
		stop:       make(chan struct{}),
	}
	e.fleets = newFleetRegistry(e)
	e.bases = newStarbaseRegistry(e)
	e.crisis = newCrisisMachine(e)
	e.sync = newSyncState(cfg.Tuning.Sync, cfg.Tuning.SnapshotEveryTicks)
	e.sync.setTick(1)
	e.treaties = newTreatyBook(e)
	e.publishMetrics(0)
	return e, nil
}

func (e *Engine) SetTickLogger(l TickLogger)                { e.tickLogger = l }
func (e *Engine) SetEventLogger(l EventLogger)              { e.eventLogger = l }
func (e *Engine) SetSnapshotSink(ch chan<- SnapshotHandoff) { e.snapshotSink = ch }

func (e *Engine) Inbox() chan<- ActionEnvelope { return e.inbox }
func (e *Engine) Join() chan<- JoinRequest     { return e.join }
func (e *Engine) Leave() chan<- string         { return e.leave }
func (e *Engine) Sync() chan<- SyncRequest     { return e.syncReq }

func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }
func (e *Engine) Config() Config      { return e.cfg }

// Run drives the engine loop: action envelopes are executed immediately as
// they arrive and tick advancement happens on the ticker. The two never
// interleave because both run on this goroutine.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case req := <-e.join:
			e.handleJoin(req)
		case id := <-e.leave:
			delete(e.clients, id)
		case sr := <-e.syncReq:
			e.handleSync(sr)
		case env := <-e.inbox:
			e.pendingActs = append(e.pendingActs, RecordedAction{ActorID: env.ActorID, Act: env.Act})
			res := e.Execute(env.ActorID, env.Act.Action, env.Act.Params)
			if env.Resp != nil {
				env.Resp <- protocol.ResultMsg{
					Type:            protocol.TypeResult,
					ProtocolVersion: protocol.Version,
					ReqID:           env.Act.ReqID,
					Tick:            e.tick.Load(),
					Result:          res,
				}
			}
		case <-ticker.C:
			e.Advance()
			e.pushDeltas()
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) Pause()         { e.paused = true }
func (e *Engine) Resume()        { e.paused = false }
func (e *Engine) IsPaused() bool { return e.paused }

// Advance runs one tick of the fixed phase pipeline. The ordering is a
// contract: later phases observe the effects of earlier phases within the
// same tick (combat sees fleets that arrived this tick). A panic in a
// per-actor handler is contained by safeActor; a panic that escapes here
// means a structural invariant broke and the simulation must not continue.
func (e *Engine) Advance() {
	if e.paused {
		return
	}
	now := e.tick.Add(1)
	e.sync.setTick(now)
	hadWinner := e.winnerID != ""

	e.phaseOrbit(now)
	e.phaseResources(now)
	e.phaseSelfUpdate(now)
	e.bases.Tick(now)
	e.processQueues(now)
	e.phaseFleets(now)
	e.phasePassive(now)
	e.phaseCombat(now)
	e.phaseTrade(now)
	e.phaseHazards(now)
	e.crisis.Tick(now)
	e.phaseCouncil(now)
	e.phaseAbandonment(now)
	e.phaseElimination(now)

	e.emit(protocol.Event{"t": now, "type": protocol.EvTick})

	if e.tickLogger != nil {
		_ = e.tickLogger.WriteTick(TickLogEntry{
			Tick:    now,
			Joins:   e.pendingJoins,
			Actions: e.pendingActs,
			Events:  e.sync.EventCount(),
			Digest:  e.stateDigest(now),
		})
	}
	e.pendingJoins = nil
	e.pendingActs = nil

	e.publishMetrics(now)

	// Changes recorded by actions before the next Advance belong to the
	// not-yet-pushed tick, or clients at LastTick == now would skip them.
	e.sync.setTick(now + 1)

	every := uint64(e.cfg.Tuning.SnapshotEveryTicks)
	wonNow := !hadWinner && e.winnerID != ""
	if e.snapshotSink != nil && (wonNow || (every != 0 && now%every == 0)) {
		if blob, err := e.ExportSnapshotBlob(); err == nil {
			select {
			case e.snapshotSink <- SnapshotHandoff{Tick: now, Blob: blob}:
			default:
				// Drop snapshot if the sink is backed up.
			}
		}
	}
}

// StepOnce applies one recorded tick's inputs and advances, returning the
// stepped tick and its digest. This is the replay-verification entry point;
// it bypasses the channel inboxes.
func (e *Engine) StepOnce(joins []RecordedJoin, actions []RecordedAction) (uint64, string) {
	for _, j := range joins {
		e.handleJoin(JoinRequest{Name: j.Name})
	}
	for _, ra := range actions {
		_ = e.Execute(ra.ActorID, ra.Act.Action, ra.Act.Params)
	}
	e.Advance()
	now := e.tick.Load()
	return now, e.stateDigest(now)
}

// safeActor isolates one actor's handler inside a pipeline phase: a corrupt
// actor is logged and skipped, never aborting the tick for everyone else.
func (e *Engine) safeActor(now uint64, phase, actorID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.emit(protocol.Event{
				"t":     now,
				"type":  protocol.EvActorFault,
				"actor": actorID,
				"phase": phase,
				"fault": fmt.Sprint(r),
			})
		}
	}()
	fn()
}

// emit appends to the bounded event log and the optional archive writer.
func (e *Engine) emit(ev protocol.Event) {
	e.sync.AppendEvent(ev)
	if e.eventLogger != nil {
		_ = e.eventLogger.WriteEvent(ev)
	}
}

func (e *Engine) handleJoin(req JoinRequest) {
	actorID := ""
	if req.ResumeActorID != "" && e.ledger.HasActor(req.ResumeActorID) && req.ResumeActorID != HostileActorID {
		actorID = req.ResumeActorID
	} else {
		id, ok := e.ensureActor(req.Name)
		if !ok {
			if req.Resp != nil {
				req.Resp <- JoinResponse{}
			}
			return
		}
		actorID = id
		e.pendingJoins = append(e.pendingJoins, RecordedJoin{ActorID: actorID, Name: req.Name})
	}
	if req.Out != nil {
		e.clients[actorID] = &clientState{Out: req.Out, WantsFull: true}
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: e.welcomeFor(actorID)}
	}
}

// handleSync serves an explicit client pull. An uncoverable since-tick falls
// back to a full payload inside Delta, so the response type tells the client
// which one it got.
func (e *Engine) handleSync(sr SyncRequest) {
	cl, ok := e.clients[sr.ActorID]
	if !ok || cl.Out == nil {
		return
	}
	var payload SyncPayload
	if sr.Full {
		payload = e.LightState(LightOptions{Page: sr.Page})
	} else {
		payload = e.Delta(sr.SinceTick)
	}
	payload.ActorID = sr.ActorID
	b, err := payload.Marshal()
	if err != nil {
		return
	}
	sendLatest(cl.Out, b)
	cl.LastTick = e.tick.Load()
}

// ensureActor registers a new actor: balance row, homeworld claim, starter
// garrison. Returns false when no habitable unowned site remains.
func (e *Engine) ensureActor(name string) (string, bool) {
	now := e.tick.Load()
	actorID := fmt.Sprintf("A%d", e.nextActorNum.Add(1))

	home := e.firstFreeHomeworld()
	if home == "" {
		return "", false
	}

	econ := e.cfg.Tuning.Economy
	e.ledger.EnsureActor(actorID, map[string]int{
		ledger.Credits:  econ.StartingCredits,
		ledger.Minerals: econ.StartingMinerals,
		ledger.Fuel:     econ.StartingFuel,
	})
	_ = e.universe.SetOwner(home, actorID, now)
	e.sync.RecordChange(ChangeSite, map[string]any{"site_id": home, "owner": actorID})

	for _, kind := range []string{"corvette", "corvette", "colony_ship", "militia"} {
		if _, ok := e.cats.Units.Defs[kind]; !ok {
			continue
		}
		e.spawnUnit(kind, actorID, home)
	}
	_ = name // display names are a transport concern; the sim keys on actor ids
	return actorID, true
}

func (e *Engine) firstFreeHomeworld() string {
	for _, id := range e.universe.SiteIDs() {
		s := e.universe.Site(id)
		if s.Habitable && s.OwnerID == "" && e.bases.At(id) == nil {
			return id
		}
	}
	return ""
}

func (e *Engine) spawnUnit(kind, ownerID, siteID string) *ledger.Entity {
	def := e.cats.Units.Defs[kind]
	ent := &ledger.Entity{
		ID:      fmt.Sprintf("U%d", e.nextEntityNum.Add(1)),
		Kind:    kind,
		OwnerID: ownerID,
		SiteID:  siteID,
		HP:      def.HP,
	}
	if err := e.ledger.Spawn(ent); err != nil {
		panic(fmt.Sprintf("entity counter desync: %v", err))
	}
	e.sync.RecordChange(ChangeEntity, map[string]any{"entity_id": ent.ID, "site_id": siteID})
	return ent
}

func (e *Engine) welcomeFor(actorID string) protocol.WelcomeMsg {
	t := e.cfg.Tuning
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ActorID:         actorID,
		Tick:            e.tick.Load(),
		GalaxyParams: protocol.GalaxyParams{
			TickRateHz:       t.TickRateHz,
			Galaxies:         t.Galaxy.Galaxies,
			SystemsPerGalaxy: t.Galaxy.SystemsPerGalaxy,
			SitesPerSystem:   t.Galaxy.SitesPerSystem,
			Seed:             e.cfg.Seed,
		},
		Catalogs: protocol.CatalogRefs{
			UnitsDigest:   e.cats.Units.Digest,
			TiersDigest:   e.cats.Tiers.Digest,
			CrisesDigest:  e.cats.Crises.Digest,
			TechDigest:    e.cats.Tech.Digest,
			ModulesDigest: e.cats.Modules.Digest,
			UnitCount:     len(e.cats.Units.Defs),
			CrisisKinds:   len(e.cats.Crises.Defs),
			StarbaseTiers: e.cats.Tiers.Max,
			ResearchCount: len(e.cats.Tech.Defs),
			ModuleCount:   len(e.cats.Modules.Defs),
		},
	}
}

// pushDeltas sends each connected client the changes since its last push,
// falling back to a full payload for fresh or stale clients.
func (e *Engine) pushDeltas() {
	now := e.tick.Load()
	for actorID, cl := range e.clients {
		var payload SyncPayload
		if cl.WantsFull {
			payload = e.LightState(LightOptions{})
			cl.WantsFull = false
		} else {
			payload = e.Delta(cl.LastTick)
		}
		payload.ActorID = actorID
		b, err := payload.Marshal()
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
		cl.LastTick = now
	}
}

// sendLatest drops the stale queued payload, if any, so a slow client always
// receives the freshest state.
func sendLatest(out chan []byte, b []byte) {
	select {
	case out <- b:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- b:
	default:
	}
}

// roll is the deterministic stochastic source: same seed, tick and salt give
// the same outcome on every run and every replay.
func (e *Engine) roll(tick uint64, salt int) uint64 {
	return hashRoll(e.cfg.Seed, tick, salt)
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hashRoll(seed int64, tick uint64, salt int) uint64 {
	v := uint64(seed) ^ (tick * 0x9e3779b97f4a7c15) ^ (uint64(uint32(salt)) * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
