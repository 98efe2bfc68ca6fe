package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"starhold.gg/internal/protocol"
)

// botView is the bot's local mirror of the galaxy, rebuilt from STATE and
// patched by DELTA messages. Only the slices the bot acts on are tracked.
type botView struct {
	actorID  string
	tick     uint64
	sites    map[string]siteView
	entities map[string]entityView
	fleets   map[string]struct{}
}

type siteView struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id,omitempty"`
}

type entityView struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	OwnerID   string `json:"owner_id"`
	SiteID    string `json:"site_id,omitempty"`
	InTransit bool   `json:"in_transit,omitempty"`
}

type syncView struct {
	Type          string       `json:"type"`
	Tick          uint64       `json:"tick"`
	Full          bool         `json:"full"`
	ActorID       string       `json:"actor_id"`
	Sites         []siteView   `json:"sites"`
	Entities      []entityView `json:"entities"`
	Removed       []string     `json:"removed"`
	RemovedFleets []string     `json:"removed_fleets"`
}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "commander name")
		syncSecs = flag.Int("sync_interval", 5, "seconds between SYNC pulls")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ActorName:       *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	view := &botView{
		sites:    map[string]siteView{},
		entities: map[string]entityView{},
		fleets:   map[string]struct{}{},
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// The engine pushes deltas on its own schedule; a periodic pull keeps the
	// view honest after pushes dropped on a slow socket.
	go func() {
		ticker := time.NewTicker(time.Duration(*syncSecs) * time.Second)
		defer ticker.Stop()
		first := true
		for range ticker.C {
			msg := protocol.SyncMsg{
				Type:            protocol.TypeSync,
				ProtocolVersion: protocol.Version,
				SinceTick:       view.tick,
				Full:            first,
			}
			first = false
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			view.actorID = w.ActorID
			view.tick = w.Tick
			logger.Printf("WELCOME actor_id=%s tick=%d tick_rate=%d seed=%d",
				w.ActorID, w.Tick, w.GalaxyParams.TickRateHz, w.GalaxyParams.Seed)

		case protocol.TypeState, protocol.TypeDelta:
			var sv syncView
			if err := json.Unmarshal(msg, &sv); err != nil {
				continue
			}
			view.apply(&sv)
			act(conn, rng, view)

		case protocol.TypeResult:
			var r protocol.ResultMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				continue
			}
			if !r.Result.OK {
				logger.Printf("RESULT req=%s err=%s reason=%q", r.ReqID, r.Result.Error, r.Result.Reason)
			}
		}
	}
}

func (v *botView) apply(sv *syncView) {
	if sv.Full {
		v.sites = map[string]siteView{}
		v.entities = map[string]entityView{}
	}
	if sv.ActorID != "" {
		v.actorID = sv.ActorID
	}
	if sv.Tick > v.tick {
		v.tick = sv.Tick
	}
	for _, s := range sv.Sites {
		v.sites[s.ID] = s
	}
	for _, e := range sv.Entities {
		v.entities[e.ID] = e
	}
	for _, id := range sv.Removed {
		delete(v.entities, id)
	}
	for _, id := range sv.RemovedFleets {
		delete(v.fleets, id)
	}
}

// act submits at most one action per sync so a misbehaving view cannot flood
// the session's rate budget.
func act(conn *websocket.Conn, rng *rand.Rand, v *botView) {
	home := ""
	for _, s := range v.sites {
		if s.OwnerID == v.actorID {
			home = s.ID
			break
		}
	}
	if home == "" {
		return
	}

	// Keep a trickle of militia training going.
	if v.tick%50 < 5 {
		send(conn, v, "train", protocol.ActTrainUnit, protocol.ActionParams{
			SiteID:   home,
			UnitType: "militia",
		})
		return
	}

	// Occasionally launch an idle ship toward a random known site.
	if v.tick%200 < 5 {
		var ships []string
		for _, e := range v.entities {
			if e.OwnerID == v.actorID && e.SiteID == home && !e.InTransit && e.Kind == "corvette" {
				ships = append(ships, e.ID)
			}
		}
		if len(ships) == 0 {
			return
		}
		dest := ""
		n := rng.Intn(len(v.sites))
		for id := range v.sites {
			if n <= 0 && id != home {
				dest = id
				break
			}
			n--
		}
		if dest == "" {
			return
		}
		send(conn, v, "launch", protocol.ActLaunchFleet, protocol.ActionParams{
			SiteID:  home,
			DestID:  dest,
			ShipIDs: ships[:1],
		})
	}
}

func send(conn *websocket.Conn, v *botView, tag string, kind protocol.ActionKind, p protocol.ActionParams) {
	msg := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		ReqID:           fmt.Sprintf("%s_%d", tag, v.tick),
		Action:          kind,
		Params:          p,
	}
	_ = conn.WriteJSON(msg)
}
