package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"starhold.gg/internal/persistence/snapshot"
	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/engine"
	"starhold.gg/internal/sim/tuning"
)

// SQLiteIndex is the queryable read model over the append-only logs. Writes
// go through a single writer goroutine; the engine loop never waits on the
// database.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEvent
	reqSnapshot
	reqCrisis
)

type req struct {
	kind reqKind

	tick     engine.TickLogEntry
	event    protocol.Event
	snapshot snapshotRow
	crisis   crisisRow
}

type snapshotRow struct {
	Tick      uint64
	Path      string
	Seed      int64
	Sites     int
	Entities  int
	Fleets    int
	Starbases int
	Actors    int
}

type crisisRow struct {
	Tick       uint64
	Phase      string
	Kind       string
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: crisis waves emit bursts of events without stalling the sim.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			events INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			actor TEXT,
			site TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_tick ON events(type, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor_tick ON events(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_site_tick ON events(site, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			sites INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			fleets INTEGER NOT NULL,
			starbases INTEGER NOT NULL,
			actors INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS crises (
			tick INTEGER NOT NULL,
			phase TEXT NOT NULL,
			kind TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (tick, phase)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_crises_kind_tick ON crises(kind, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports writes discarded because the indexer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) WriteTick(entry engine.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEvent(ev protocol.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	actors := len(snap.Balances)
	r := snapshotRow{
		Tick:      snap.Header.Tick,
		Path:      path,
		Seed:      snap.Seed,
		Sites:     len(snap.Sites),
		Entities:  len(snap.Entities),
		Fleets:    len(snap.Fleets),
		Starbases: len(snap.Starbases),
		Actors:    actors,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

// RecordCrisis logs a crisis phase transition for postmortem queries.
func (s *SQLiteIndex) RecordCrisis(tick uint64, phase, kind string) {
	if s == nil || s.closed.Load() {
		return
	}
	r := crisisRow{
		Tick:       tick,
		Phase:      phase,
		Kind:       kind,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqCrisis, crisis: r}:
	default:
		s.dropped.Add(1)
	}
}

// UpsertCatalogs stores the catalog JSON and digests the engine was started
// with, so a replayer can verify it loads the same definitions.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	raw := map[string][]byte{}
	read := func(name, path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		raw[name] = b
	}
	if configDir != "" {
		read("units", filepath.Join(configDir, "units.json"))
		read("starbase_tiers", filepath.Join(configDir, "starbase_tiers.json"))
		read("modules", filepath.Join(configDir, "modules.json"))
		read("tech", filepath.Join(configDir, "tech.json"))
		read("crisis_kinds", filepath.Join(configDir, "crisis_kinds.json"))
	}

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b := raw["units"]; len(b) > 0 {
		rows = append(rows, kv{name: "units", digest: cats.Units.Digest, json: b})
	}
	if b := raw["starbase_tiers"]; len(b) > 0 {
		rows = append(rows, kv{name: "starbase_tiers", digest: cats.Tiers.Digest, json: b})
	}
	if b := raw["modules"]; len(b) > 0 {
		rows = append(rows, kv{name: "modules", digest: cats.Modules.Digest, json: b})
	}
	if b := raw["tech"]; len(b) > 0 {
		rows = append(rows, kv{name: "tech", digest: cats.Tech.Digest, json: b})
	}
	if b := raw["crisis_kinds"]; len(b) > 0 {
		rows = append(rows, kv{name: "crisis_kinds", digest: cats.Crises.Digest, json: b})
	}

	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestSnapshot returns the most recent recorded snapshot path and tick, or
// ("", 0) when none has been recorded.
func (s *SQLiteIndex) LatestSnapshot() (path string, tick uint64, err error) {
	row := s.db.QueryRow(`SELECT path, tick FROM snapshots ORDER BY tick DESC LIMIT 1`)
	var t int64
	if err := row.Scan(&path, &t); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, nil
		}
		return "", 0, err
	}
	return path, uint64(t), nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,events,actions,raw_json) VALUES(?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(tick,seq,type,actor,site,raw_json) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,sites,entities,fleets,starbases,actors) VALUES(?,?,?,?,?,?,?,?)`)
	insertCrisis, _ := s.db.Prepare(`INSERT OR REPLACE INTO crises(tick,phase,kind,recorded_at) VALUES(?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
		if insertCrisis != nil {
			_ = insertCrisis.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastEventTick uint64
		eventSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			b, _ := json.Marshal(r.tick)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(r.tick.Tick),
					r.tick.Digest,
					r.tick.Events,
					len(r.tick.Actions),
					string(b),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqEvent:
			ev := r.event
			tick := eventTick(ev)
			if tick != lastEventTick {
				lastEventTick = tick
				eventSeq = 0
			}
			seq := eventSeq
			eventSeq++
			raw, _ := json.Marshal(ev)
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(
					int64(tick),
					seq,
					evStr(ev, "type"),
					evStr(ev, "actor"),
					evStr(ev, "site"),
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.Path,
					sn.Seed,
					sn.Sites,
					sn.Entities,
					sn.Fleets,
					sn.Starbases,
					sn.Actors,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqCrisis:
			cr := r.crisis
			if insertCrisis != nil {
				if _, err := tx.Stmt(insertCrisis).Exec(
					int64(cr.Tick),
					cr.Phase,
					cr.Kind,
					cr.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}

func eventTick(ev protocol.Event) uint64 {
	switch v := ev["t"].(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	case float64:
		return uint64(v)
	}
	return 0
}

func evStr(ev protocol.Event, key string) string {
	s, _ := ev[key].(string)
	return s
}
