package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"starhold.gg/internal/persistence/archive"
	"starhold.gg/internal/persistence/indexdb"
	persistlog "starhold.gg/internal/persistence/log"
	"starhold.gg/internal/persistence/snapshot"
	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/engine"
	"starhold.gg/internal/sim/tuning"
	"starhold.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		galaxyID   = flag.String("galaxy", "galaxy_1", "galaxy id")
		seed       = flag.Int64("seed", 1337, "galaxy seed (used only when starting fresh)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		startPaused = flag.Bool("paused", false, "start with the tick loop paused")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("galaxy", *galaxyID).Logger()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("load catalogs")
	}

	galaxyDir := filepath.Join(*dataDir, "galaxies", *galaxyID)
	_ = os.MkdirAll(galaxyDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", tp).Msg("tuning not found; using defaults")
			tune = tuning.Defaults()
		} else {
			logger.Fatal().Err(err).Msg("load tuning")
		}
	}

	// Optional: read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(galaxyDir, "index.db"))
		if err != nil {
			logger.Fatal().Err(err).Msg("open index db")
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Warn().Err(err).Msg("index: upsert catalogs")
		}
	}

	eng, err := engine.New(engine.Config{
		ID:          *galaxyID,
		Seed:        *seed,
		Tuning:      tune,
		StartPaused: *startPaused,
	}, cats)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(galaxyDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatal().Err(err).Msg("read snapshot")
		}
		if snap.Header.GalaxyID != "" && snap.Header.GalaxyID != *galaxyID {
			logger.Fatal().
				Str("flag", *galaxyID).Str("snapshot", snap.Header.GalaxyID).
				Msg("snapshot galaxy id mismatch")
		}
		if err := eng.ImportSnapshot(snap); err != nil {
			logger.Fatal().Err(err).Msg("import snapshot")
		}
		logger.Info().
			Str("snapshot", filepath.Base(snapshotToLoad)).
			Uint64("tick", eng.CurrentTick()).
			Msg("resumed")
	}

	ctx, cancel := signalContext()
	defer cancel()

	mirror, err := buildOffsiteMirror(*dataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("offsite mirror")
	}
	defer mirror.Close()

	tickLog := persistlog.NewTickLogger(galaxyDir)
	eventLog := persistlog.NewEventLogger(galaxyDir)
	defer tickLog.Close()
	defer eventLog.Close()
	eng.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	eng.SetEventLogger(multiEventLogger{a: eventLog, b: idx})

	// Snapshot writer.
	snapCh := make(chan engine.SnapshotHandoff, 2)
	eng.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case h := <-snapCh:
				path := filepath.Join(galaxyDir, "snapshots", fmt.Sprintf("%d.snap.zst", h.Tick))
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					logger.Error().Err(err).Msg("snapshot dir")
					continue
				}
				if err := os.WriteFile(path, h.Blob, 0o644); err != nil {
					logger.Error().Err(err).Msg("snapshot write")
					continue
				}
				mirror.Enqueue(path)
				if snap, err := snapshot.Decode(h.Blob); err == nil {
					if idx != nil {
						idx.RecordSnapshot(path, snap)
					}
					if dst, ok, err := archive.ArchiveMatchSnapshot(galaxyDir, path, snap); err != nil {
						logger.Error().Err(err).Msg("archive final snapshot")
					} else if ok {
						mirror.Enqueue(dst)
						logger.Info().Str("winner", snap.WinnerID).Str("path", dst).Msg("match archived")
					}
				}
				logger.Info().Uint64("tick", h.Tick).Str("path", path).Msg("snapshot written")
			}
		}
	}()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("engine stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, *galaxyID, eng.Metrics())
	})

	if envBool("SH_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				GalaxyID string         `json:"galaxy_id"`
				Tick     uint64         `json:"tick"`
				Metrics  engine.Metrics `json:"metrics"`
			}{
				GalaxyID: *galaxyID,
				Tick:     eng.CurrentTick(),
				Metrics:  eng.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Info().Msg("admin endpoints disabled (SH_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("SH_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(eng, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info().Str("addr", *addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("ListenAndServe")
	}
}

func writeMetrics(rw http.ResponseWriter, galaxyID string, m engine.Metrics) {
	fmt.Fprintf(rw, "# HELP starhold_tick Current simulation tick.\n")
	fmt.Fprintf(rw, "# TYPE starhold_tick gauge\n")
	fmt.Fprintf(rw, "starhold_tick{galaxy=%q} %d\n", galaxyID, m.Tick)

	fmt.Fprintf(rw, "# HELP starhold_actors Registered actors.\n")
	fmt.Fprintf(rw, "# TYPE starhold_actors gauge\n")
	fmt.Fprintf(rw, "starhold_actors{galaxy=%q} %d\n", galaxyID, m.Actors)

	fmt.Fprintf(rw, "# HELP starhold_clients Connected clients.\n")
	fmt.Fprintf(rw, "# TYPE starhold_clients gauge\n")
	fmt.Fprintf(rw, "starhold_clients{galaxy=%q} %d\n", galaxyID, m.Clients)

	fmt.Fprintf(rw, "# HELP starhold_entities Live entities.\n")
	fmt.Fprintf(rw, "# TYPE starhold_entities gauge\n")
	fmt.Fprintf(rw, "starhold_entities{galaxy=%q} %d\n", galaxyID, m.Entities)

	fmt.Fprintf(rw, "# HELP starhold_fleets Fleets in transit.\n")
	fmt.Fprintf(rw, "# TYPE starhold_fleets gauge\n")
	fmt.Fprintf(rw, "starhold_fleets{galaxy=%q} %d\n", galaxyID, m.Fleets)

	fmt.Fprintf(rw, "# HELP starhold_starbases Standing starbases.\n")
	fmt.Fprintf(rw, "# TYPE starhold_starbases gauge\n")
	fmt.Fprintf(rw, "starhold_starbases{galaxy=%q} %d\n", galaxyID, m.Starbases)

	fmt.Fprintf(rw, "# HELP starhold_owned_sites Sites with an owner.\n")
	fmt.Fprintf(rw, "# TYPE starhold_owned_sites gauge\n")
	fmt.Fprintf(rw, "starhold_owned_sites{galaxy=%q} %d\n", galaxyID, m.OwnedSites)

	fmt.Fprintf(rw, "# HELP starhold_crisis_phase Crisis phase (label only).\n")
	fmt.Fprintf(rw, "# TYPE starhold_crisis_phase gauge\n")
	fmt.Fprintf(rw, "starhold_crisis_phase{galaxy=%q,phase=%q} 1\n", galaxyID, m.CrisisPhase)

	fmt.Fprintf(rw, "# HELP starhold_changes_dropped_total Change-log records evicted before delivery.\n")
	fmt.Fprintf(rw, "# TYPE starhold_changes_dropped_total counter\n")
	fmt.Fprintf(rw, "starhold_changes_dropped_total{galaxy=%q} %d\n", galaxyID, m.ChangesDropped)

	fmt.Fprintf(rw, "# HELP starhold_full_fallbacks_total Deltas served as full payloads.\n")
	fmt.Fprintf(rw, "# TYPE starhold_full_fallbacks_total counter\n")
	fmt.Fprintf(rw, "starhold_full_fallbacks_total{galaxy=%q} %d\n", galaxyID, m.FullFallbacks)

	fmt.Fprintf(rw, "# HELP starhold_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE starhold_queue_depth gauge\n")
	fmt.Fprintf(rw, "starhold_queue_depth{galaxy=%q,queue=%q} %d\n", galaxyID, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "starhold_queue_depth{galaxy=%q,queue=%q} %d\n", galaxyID, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "starhold_queue_depth{galaxy=%q,queue=%q} %d\n", galaxyID, "leave", m.QueueDepths.Leave)
	fmt.Fprintf(rw, "starhold_queue_depth{galaxy=%q,queue=%q} %d\n", galaxyID, "sync", m.QueueDepths.Sync)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(galaxyDir string) string {
	dir := filepath.Join(galaxyDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a engine.TickLogger
	b engine.TickLogger
}

func (m multiTickLogger) WriteTick(entry engine.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiEventLogger struct {
	a engine.EventLogger
	b engine.EventLogger
}

func (m multiEventLogger) WriteEvent(ev protocol.Event) error {
	if m.a != nil {
		_ = m.a.WriteEvent(ev)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(ev)
	}
	return nil
}
