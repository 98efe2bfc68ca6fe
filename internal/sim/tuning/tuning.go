package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Galaxy Galaxy `yaml:"galaxy"`
	Travel Travel `yaml:"travel"`
	Crisis Crisis `yaml:"crisis"`
	Sync   Sync   `yaml:"sync"`

	Economy Economy `yaml:"economy"`

	QueueDepthCap        int `yaml:"queue_depth_cap"`
	AbandonTicks         int `yaml:"abandon_ticks"`
	CouncilIntervalTicks int `yaml:"council_interval_ticks"`
	RepairPerTick        int `yaml:"repair_per_tick"`
	HazardChancePermille int `yaml:"hazard_chance_permille"`
	VictorySitePermille  int `yaml:"victory_site_permille"`
}

type Galaxy struct {
	Galaxies         int     `yaml:"galaxies"`
	SystemsPerGalaxy int     `yaml:"systems_per_galaxy"`
	SitesPerSystem   int     `yaml:"sites_per_system"`
	Span             float64 `yaml:"span"`
}

// Travel holds the three-tier travel-time model. All tiers divide by the
// slowest ship's speed in the fleet.
type Travel struct {
	SystemMinTicks  int     `yaml:"system_min_ticks"`
	SystemBaseTicks int     `yaml:"system_base_ticks"`
	GalaxyFactor    float64 `yaml:"galaxy_factor"`
	CrossFactor     float64 `yaml:"cross_factor"`
	MaxTicks        int     `yaml:"max_ticks"`
}

type Crisis struct {
	MinStartTick        uint64 `yaml:"min_start_tick"`
	PollIntervalTicks   uint64 `yaml:"poll_interval_ticks"`
	StartChancePermille int    `yaml:"start_chance_permille"`
	WarningLeadTicks    uint64 `yaml:"warning_lead_ticks"`
	MinWaves            int    `yaml:"min_waves"`
}

type Sync struct {
	ChangeLogCapacity int `yaml:"change_log_capacity"`
	EventLogCapacity  int `yaml:"event_log_capacity"`
	LightPageSize     int `yaml:"light_page_size"`
	// DeltaHorizonTicks caps how far back a delta may reach before the
	// client is resynced with a full payload. 0 falls back to
	// snapshot_every_ticks.
	DeltaHorizonTicks uint64 `yaml:"delta_horizon_ticks"`
}

type Economy struct {
	StartingCredits  int `yaml:"starting_credits"`
	StartingMinerals int `yaml:"starting_minerals"`
	StartingFuel     int `yaml:"starting_fuel"`
	BaseSiteCredits  int `yaml:"base_site_credits"`
	BaseSiteMinerals int `yaml:"base_site_minerals"`
	BaseSiteFuel     int `yaml:"base_site_fuel"`
	BaseSiteResearch int `yaml:"base_site_research"`
	SpecializeBonus  int `yaml:"specialize_bonus_permille"`
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         2,
		SnapshotEveryTicks: 3000,
		Galaxy: Galaxy{
			Galaxies:         2,
			SystemsPerGalaxy: 12,
			SitesPerSystem:   4,
			Span:             1000,
		},
		Travel: Travel{
			SystemMinTicks:  60,
			SystemBaseTicks: 120,
			GalaxyFactor:    2.0,
			CrossFactor:     5.0,
			MaxTicks:        6000,
		},
		Crisis: Crisis{
			MinStartTick:        20000,
			PollIntervalTicks:   500,
			StartChancePermille: 50,
			WarningLeadTicks:    180,
			MinWaves:            3,
		},
		Sync: Sync{
			ChangeLogCapacity: 4096,
			EventLogCapacity:  2048,
			LightPageSize:     200,
		},
		Economy: Economy{
			StartingCredits:  500,
			StartingMinerals: 300,
			StartingFuel:     200,
			BaseSiteCredits:  4,
			BaseSiteMinerals: 3,
			BaseSiteFuel:     2,
			BaseSiteResearch: 1,
			SpecializeBonus:  500,
		},
		QueueDepthCap:        8,
		AbandonTicks:         6000,
		CouncilIntervalTicks: 12000,
		RepairPerTick:        1,
		HazardChancePermille: 2,
		VictorySitePermille:  600,
	}
}
