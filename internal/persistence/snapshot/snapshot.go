package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version  int    `json:"version"`
	GalaxyID string `json:"galaxy_id"`
	Tick     uint64 `json:"tick"`
}

// SnapshotV1 is the full persisted simulation state. Map geometry is not
// stored: the universe regenerates from the seed, only ownership and
// specialization overlays travel with the snapshot.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed     int64 `json:"seed"`
	TickRate int   `json:"tick_rate_hz"`

	Sites    []SiteV1                  `json:"sites"`
	Balances map[string]map[string]int `json:"balances"`
	Entities []EntityV1                `json:"entities"`

	Fleets    []FleetV1    `json:"fleets,omitempty"`
	Starbases []StarbaseV1 `json:"starbases,omitempty"`

	Crisis CrisisV1 `json:"crisis"`

	Stances   map[string]string  `json:"stances,omitempty"`
	Proposals []TreatyProposalV1 `json:"proposals,omitempty"`
	Trades    []TradeV1          `json:"trades,omitempty"`

	Research  []ResearchV1        `json:"research,omitempty"`
	DoneTech  map[string][]string `json:"done_tech,omitempty"`
	SpeakerID string              `json:"speaker_id,omitempty"`
	Votes     map[string]string   `json:"votes,omitempty"`

	Eliminated []string          `json:"eliminated,omitempty"`
	EmptySince map[string]uint64 `json:"empty_since,omitempty"`
	WinnerID   string            `json:"winner_id,omitempty"`

	Counters CountersV1 `json:"counters"`
}

type CountersV1 struct {
	NextActor  uint64 `json:"next_actor"`
	NextEntity uint64 `json:"next_entity"`
	NextFleet  uint64 `json:"next_fleet"`
	NextItem   uint64 `json:"next_item"`
	NextTrade  uint64 `json:"next_trade"`
	NextTreaty uint64 `json:"next_treaty"`
}

// SiteV1 holds only the mutable overlay of a site.
type SiteV1 struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id,omitempty"`
	Specialization string `json:"specialization,omitempty"`
	OwnedSince     uint64 `json:"owned_since,omitempty"`
}

type EntityV1 struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	OwnerID   string `json:"owner_id"`
	SiteID    string `json:"site_id,omitempty"`
	InTransit bool   `json:"in_transit,omitempty"`
	HP        int    `json:"hp"`
}

type FleetV1 struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	OriginSiteID  string   `json:"origin_site_id"`
	DestSiteID    string   `json:"dest_site_id"`
	ShipIDs       []string `json:"ship_ids"`
	CargoIDs      []string `json:"cargo_ids,omitempty"`
	DepartureTick uint64   `json:"departure_tick"`
	ArrivalTick   uint64   `json:"arrival_tick"`
	TravelTicks   uint64   `json:"travel_ticks"`
	TravelClass   string   `json:"travel_class"`
	FuelCost      int      `json:"fuel_cost"`
}

type StarbaseV1 struct {
	ID      string `json:"id"`
	SiteID  string `json:"site_id"`
	OwnerID string `json:"owner_id"`
	Tier    int    `json:"tier"`

	HP     int `json:"hp"`
	MaxHP  int `json:"max_hp"`
	Attack int `json:"attack"`

	ModuleSlots int      `json:"module_slots"`
	Modules     []string `json:"modules,omitempty"`

	ConstructionDone uint64 `json:"construction_done,omitempty"`
	Upgrading        bool   `json:"upgrading,omitempty"`
	UpgradeTarget    int    `json:"upgrade_target,omitempty"`
	UpgradeDone      uint64 `json:"upgrade_done,omitempty"`

	Queue []QueueItemV1 `json:"queue,omitempty"`
}

type QueueItemV1 struct {
	ID           string `json:"id"`
	ProducedType string `json:"produced_type"`
	StartTick    uint64 `json:"start_tick"`
	CompleteTick uint64 `json:"complete_tick"`
}

type CrisisV1 struct {
	Phase          string       `json:"phase"`
	Kind           string       `json:"kind,omitempty"`
	WarningTick    uint64       `json:"warning_tick,omitempty"`
	StartTick      uint64       `json:"start_tick,omitempty"`
	LastSpawnTick  uint64       `json:"last_spawn_tick,omitempty"`
	Waves          int          `json:"waves,omitempty"`
	SpawnedCount   int          `json:"spawned_count,omitempty"`
	DestroyedCount int          `json:"destroyed_count,omitempty"`
	SpawnPoints    [][2]float64 `json:"spawn_points,omitempty"`
}

type TreatyProposalV1 struct {
	ID           string `json:"id"`
	From         string `json:"from"`
	To           string `json:"to"`
	Stance       string `json:"stance"`
	ProposedTick uint64 `json:"proposed_tick"`
}

type TradeV1 struct {
	ID          string         `json:"id"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Offer       map[string]int `json:"offer"`
	Request     map[string]int `json:"request"`
	CreatedTick uint64         `json:"created_tick"`
	Accepted    bool           `json:"accepted,omitempty"`
}

type ResearchV1 struct {
	ActorID  string `json:"actor_id"`
	TechID   string `json:"tech_id"`
	DoneTick uint64 `json:"done_tick"`
}

// Encode serializes a snapshot: a JSON header line for cheap inspection,
// then the gob body, the whole stream zstd-compressed.
func Encode(snap SnapshotV1) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return nil, err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Decode(blob []byte) (SnapshotV1, error) {
	var snap SnapshotV1
	dec, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob body carries the header too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, err
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	blob, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o644)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return SnapshotV1{}, err
	}
	return Decode(blob)
}
