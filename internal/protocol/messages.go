package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorName       string `json:"actor_name"`
	ResumeActorID   string `json:"resume_actor_id,omitempty"`
	SinceTick       uint64 `json:"since_tick,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ActorID         string       `json:"actor_id"`
	Tick            uint64       `json:"tick"`
	GalaxyParams    GalaxyParams `json:"galaxy_params"`
	Catalogs        CatalogRefs  `json:"catalogs"`
}

type GalaxyParams struct {
	TickRateHz       int   `json:"tick_rate_hz"`
	Galaxies         int   `json:"galaxies"`
	SystemsPerGalaxy int   `json:"systems_per_galaxy"`
	SitesPerSystem   int   `json:"sites_per_system"`
	Seed             int64 `json:"seed"`
}

type CatalogRefs struct {
	UnitsDigest    string `json:"units_digest"`
	TiersDigest    string `json:"tiers_digest"`
	CrisesDigest   string `json:"crises_digest"`
	TechDigest     string `json:"tech_digest"`
	ModulesDigest  string `json:"modules_digest"`
	UnitCount      int    `json:"unit_count"`
	CrisisKinds    int    `json:"crisis_kinds"`
	StarbaseTiers  int    `json:"starbase_tiers"`
	ResearchCount  int    `json:"research_count"`
	ModuleCount    int    `json:"module_count"`
}

// ACT (client -> server): a single action submission.
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id,omitempty"`
	ActorID         string       `json:"actor_id,omitempty"` // overwritten by session identity
	Action          ActionKind   `json:"action"`
	Params          ActionParams `json:"params"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Tick            uint64 `json:"tick"`
	Result          Result `json:"result"`
}

// SYNC (client -> server): request a snapshot or delta.
type SyncMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SinceTick       uint64 `json:"since_tick"`
	Full            bool   `json:"full,omitempty"`
}

// Event is a loosely-shaped simulation event; every event carries "t" (tick)
// and "type". Consumers must tolerate unknown keys.
type Event map[string]any
