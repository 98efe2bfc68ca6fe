package protocol

// ActionKind is the closed set of player-submitted verbs. Adding a kind means
// adding a case to the engine dispatch; unknown kinds fail with E_BAD_REQUEST.
type ActionKind string

const (
	ActBuildStructure  ActionKind = "BUILD_STRUCTURE"
	ActTrainUnit       ActionKind = "TRAIN_UNIT"
	ActLaunchFleet     ActionKind = "LAUNCH_FLEET"
	ActCancelFleet     ActionKind = "CANCEL_FLEET"
	ActStarbaseBuild   ActionKind = "STARBASE_BUILD"
	ActStarbaseUpgrade ActionKind = "STARBASE_UPGRADE"
	ActStarbaseModule  ActionKind = "STARBASE_MODULE"
	ActQueueUnit       ActionKind = "QUEUE_UNIT"
	ActQueueCancel     ActionKind = "QUEUE_CANCEL"
	ActColonize        ActionKind = "COLONIZE"
	ActResearch        ActionKind = "RESEARCH"
	ActSpecialize      ActionKind = "SPECIALIZE"
	ActTreatyPropose   ActionKind = "TREATY_PROPOSE"
	ActTreatyAccept    ActionKind = "TREATY_ACCEPT"
	ActTreatyReject    ActionKind = "TREATY_REJECT"
	ActTradePropose    ActionKind = "TRADE_PROPOSE"
	ActTradeAccept     ActionKind = "TRADE_ACCEPT"
	ActTradeReject     ActionKind = "TRADE_REJECT"
	ActTradeCancel     ActionKind = "TRADE_CANCEL"
	ActCouncilVote     ActionKind = "COUNCIL_VOTE"
)

var knownActions = map[ActionKind]struct{}{
	ActBuildStructure:  {},
	ActTrainUnit:       {},
	ActLaunchFleet:     {},
	ActCancelFleet:     {},
	ActStarbaseBuild:   {},
	ActStarbaseUpgrade: {},
	ActStarbaseModule:  {},
	ActQueueUnit:       {},
	ActQueueCancel:     {},
	ActColonize:        {},
	ActResearch:        {},
	ActSpecialize:      {},
	ActTreatyPropose:   {},
	ActTreatyAccept:    {},
	ActTreatyReject:    {},
	ActTradePropose:    {},
	ActTradeAccept:     {},
	ActTradeReject:     {},
	ActTradeCancel:     {},
	ActCouncilVote:     {},
}

func IsKnownAction(kind ActionKind) bool {
	_, ok := knownActions[kind]
	return ok
}

// ActionParams carries the union of per-kind parameters; each handler reads
// only the fields it names and validates the rest away.
type ActionParams struct {
	SiteID   string `json:"site_id,omitempty"`
	DestID   string `json:"dest_id,omitempty"`
	UnitType string `json:"unit_type,omitempty"`
	ModuleID string `json:"module_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	TechID   string `json:"tech_id,omitempty"`
	FleetID  string `json:"fleet_id,omitempty"`
	TradeID  string `json:"trade_id,omitempty"`
	TreatyID string `json:"treaty_id,omitempty"`

	ShipIDs  []string `json:"ship_ids,omitempty"`
	CargoIDs []string `json:"cargo_ids,omitempty"`

	WithActor string `json:"with_actor,omitempty"`
	Stance    string `json:"stance,omitempty"`

	Offer   map[string]int `json:"offer,omitempty"`
	Request map[string]int `json:"request,omitempty"`

	Specialization string `json:"specialization,omitempty"`
	Candidate      string `json:"candidate,omitempty"`
}

// Result is the structured outcome of a single action. Failures are values;
// nothing in the action layer panics past the engine boundary.
type Result struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`  // E_* code
	Reason string         `json:"reason,omitempty"` // human-readable
	Data   map[string]any `json:"data,omitempty"`
}

func OKResult() Result { return Result{OK: true} }

func OKData(data map[string]any) Result { return Result{OK: true, Data: data} }

func Fail(code, reason string) Result { return Result{Error: code, Reason: reason} }
