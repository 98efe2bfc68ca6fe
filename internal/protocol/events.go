package protocol

// Event kinds emitted by the simulation. The change log and the per-tick event
// slice both use these tags.
const (
	EvTick            = "TICK"
	EvActorFault      = "ACTOR_FAULT"
	EvFleetLaunched   = "FLEET_LAUNCHED"
	EvFleetRecalled   = "FLEET_RECALLED"
	EvFleetArrived    = "FLEET_ARRIVED"
	EvCombat          = "COMBAT"
	EvStarbaseCombat  = "STARBASE_COMBAT"
	EvColonized       = "COLONIZED"
	EvStructureBuilt  = "STRUCTURE_BUILT"
	EvUnitTrained     = "UNIT_TRAINED"
	EvStarbaseBuilt   = "STARBASE_BUILT"
	EvStarbaseUpgrade = "STARBASE_UPGRADED"
	EvStarbaseLost    = "STARBASE_DESTROYED"
	EvQueueComplete   = "QUEUE_COMPLETE"
	EvResearchDone    = "RESEARCH_COMPLETE"
	EvTreatyChanged   = "TREATY_CHANGED"
	EvTradeSettled    = "TRADE_SETTLED"
	EvHazard          = "HAZARD"
	EvCrisisWarning   = "CRISIS_WARNING"
	EvCrisisActive    = "CRISIS_ACTIVE"
	EvCrisisWave      = "CRISIS_WAVE"
	EvCrisisResolved  = "CRISIS_RESOLVED"
	EvCouncilElected  = "COUNCIL_ELECTED"
	EvSiteAbandoned   = "SITE_ABANDONED"
	EvActorEliminated = "ACTOR_ELIMINATED"
	EvActorRespawned  = "ACTOR_RESPAWNED"
	EvVictory         = "VICTORY"
)
