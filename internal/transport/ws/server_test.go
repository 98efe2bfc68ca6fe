package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"starhold.gg/internal/protocol"
	"starhold.gg/internal/sim/catalogs"
	"starhold.gg/internal/sim/engine"
	"starhold.gg/internal/sim/tuning"
)

func testCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{
		Units: catalogs.UnitCatalog{
			Defs: map[string]catalogs.UnitDef{
				"corvette": {ID: "corvette", Name: "Corvette", Class: catalogs.ClassShip, Speed: 3, Attack: 4, HP: 20, BuildTicks: 5, Cost: map[string]int{"credits": 40}},
				"militia":  {ID: "militia", Name: "Militia", Class: catalogs.ClassGround, Attack: 5, HP: 10, BuildTicks: 3, Cost: map[string]int{"credits": 15}},
			},
			IDs: []string{"corvette", "militia"},
		},
		Tiers: catalogs.TierCatalog{
			ByTier: map[int]catalogs.TierDef{1: {Tier: 1, HP: 50, Attack: 5, ModuleSlots: 1, BuildTicks: 10, Cost: map[string]int{"credits": 50}}},
			Max:    1,
		},
		Modules: catalogs.ModuleCatalog{Defs: map[string]catalogs.ModuleDef{}},
		Tech:    catalogs.TechCatalog{Defs: map[string]catalogs.TechDef{}},
		Crises: catalogs.CrisisCatalog{
			Defs: map[string]catalogs.CrisisKindDef{
				"swarm": {ID: "swarm", Title: "Swarm", SpawnIntervalTicks: 1000, HPMultPermille: 1000, DamageMultPermille: 1000, Targeting: catalogs.TargetNearest, Composition: []catalogs.UnitCount{{Unit: "corvette", Count: 1}}},
			},
			IDs: []string{"swarm"},
		},
	}
}

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	tune := tuning.Defaults()
	tune.Galaxy = tuning.Galaxy{Galaxies: 1, SystemsPerGalaxy: 2, SitesPerSystem: 4, Span: 100}
	eng, err := engine.New(engine.Config{ID: "t1", Seed: 7, Tuning: tune}, testCatalogs())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = eng.Run(ctx) }()

	srv := httptest.NewServer(NewServer(eng, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func dialAndJoin(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	hello, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ActorName:       name,
	})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		t.Fatalf("welcome = %s (err=%v)", msg, err)
	}
	if welcome.ActorID == "" {
		t.Fatalf("welcome carries no actor id")
	}
	return conn
}

func TestSessionActionRateLimit(t *testing.T) {
	srv := startTestServer(t)
	conn := dialAndJoin(t, srv, "ada")

	act, _ := json.Marshal(protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		ReqID:           "burst",
		Action:          protocol.ActCouncilVote,
		Params:          protocol.ActionParams{Candidate: "A1"},
	})
	for i := 0; i < 2*actionBurst; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, act); err != nil {
			t.Fatalf("write act %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var res protocol.ResultMsg
		if json.Unmarshal(msg, &res) != nil || res.Type != protocol.TypeResult {
			continue
		}
		if res.Result.Error == protocol.ErrRateLimit {
			if res.ReqID != "burst" {
				t.Fatalf("rate-limit result req_id = %q, want burst", res.ReqID)
			}
			return
		}
	}
	t.Fatalf("no rate-limited result after %d rapid actions", 2*actionBurst)
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	srv := startTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: "0.9",
		ActorName:       "ada",
	})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close for bad protocol_version")
	}
}
