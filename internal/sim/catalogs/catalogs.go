package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Catalogs holds the game-content tables the simulation consumes as data:
// unit stat blocks, starbase tiers, station modules, research and crisis
// kinds. Content is balance, not logic; the engine never hardcodes a stat.
type Catalogs struct {
	Units   UnitCatalog
	Tiers   TierCatalog
	Modules ModuleCatalog
	Tech    TechCatalog
	Crises  CrisisCatalog
}

type UnitCatalog struct {
	Defs   map[string]UnitDef
	IDs    []string // sorted
	Digest string
}

// Unit classes.
const (
	ClassShip      = "SHIP"
	ClassGround    = "GROUND"
	ClassStructure = "STRUCTURE"
)

type UnitDef struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Class       string         `json:"class"` // "SHIP","GROUND","STRUCTURE"
	Speed       int            `json:"speed,omitempty"`
	CargoCap    int            `json:"cargo_capacity,omitempty"`
	Attack      int            `json:"attack"`
	HP          int            `json:"hp"`
	CanColonize bool           `json:"can_colonize,omitempty"`
	BuildTicks  int            `json:"build_ticks"`
	Cost        map[string]int `json:"cost"`
}

// Mobile reports whether the unit is a "space" unit that can crew a fleet.
func (d UnitDef) Mobile() bool { return d.Class == ClassShip }

type TierCatalog struct {
	ByTier map[int]TierDef
	Max    int
	Digest string
}

type TierDef struct {
	Tier        int            `json:"tier"`
	HP          int            `json:"hp"`
	Attack      int            `json:"attack"`
	ModuleSlots int            `json:"module_slots"`
	BuildTicks  int            `json:"build_ticks"`   // tier 1: initial construction; else upgrade from tier-1
	Cost        map[string]int `json:"cost"`
}

type ModuleCatalog struct {
	Defs   map[string]ModuleDef
	Digest string
}

// Module effects.
const (
	ModuleShipyard = "SHIPYARD"
	ModuleDefense  = "DEFENSE"
	ModuleRepair   = "REPAIR"
	ModuleSensor   = "SENSOR"
)

type ModuleDef struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Effect string         `json:"effect"`
	Cost   map[string]int `json:"cost"`
}

type TechCatalog struct {
	Defs   map[string]TechDef
	Digest string
}

type TechDef struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Cost          map[string]int `json:"cost"`
	ResearchTicks int            `json:"research_ticks"`
}

type CrisisCatalog struct {
	Defs   map[string]CrisisKindDef
	IDs    []string // sorted, for deterministic kind rolls
	Digest string
}

// Targeting strategies.
const (
	TargetNearest   = "NEAREST"
	TargetStrongest = "STRONGEST"
	TargetWeakest   = "WEAKEST"
)

type CrisisKindDef struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	SpawnIntervalTicks uint64          `json:"spawn_interval_ticks"`
	HPMultPermille     int             `json:"hp_mult_permille"`
	DamageMultPermille int             `json:"damage_mult_permille"`
	Targeting          string          `json:"targeting"`
	Composition        []UnitCount     `json:"composition"`
	Messages           CrisisMessages  `json:"messages"`
}

type UnitCount struct {
	Unit  string `json:"unit"`
	Count int    `json:"count"`
}

type CrisisMessages struct {
	Warning  string `json:"warning"`
	Active   string `json:"active"`
	Resolved string `json:"resolved"`
}

// Load reads all catalog files from configDir. When a matching schema exists
// under configDir/schemas the raw JSON is validated before decoding, so a bad
// content drop fails at startup instead of mid-simulation.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadUnits(configDir, &c.Units); err != nil {
		return nil, err
	}
	if err := loadTiers(configDir, &c.Tiers); err != nil {
		return nil, err
	}
	if err := loadModules(configDir, &c.Modules); err != nil {
		return nil, err
	}
	if err := loadTech(configDir, &c.Tech); err != nil {
		return nil, err
	}
	if err := loadCrises(configDir, &c.Crises); err != nil {
		return nil, err
	}

	// Cross-table references.
	for id, ck := range c.Crises.Defs {
		for _, uc := range ck.Composition {
			if _, ok := c.Units.Defs[uc.Unit]; !ok {
				return nil, fmt.Errorf("crisis_kinds.json: %s references unknown unit %s", id, uc.Unit)
			}
		}
	}

	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func readValidated(configDir, name string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, name))
	if err != nil {
		return nil, err
	}

	schemaPath := filepath.Join(configDir, "schemas", name+".schema.json")
	if _, err := os.Stat(schemaPath); err == nil {
		s, err := jsonschema.Compile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("%s: compile schema: %w", name, err)
		}
		var doc any
		if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := s.Validate(doc); err != nil {
			return nil, fmt.Errorf("%s: schema: %w", name, err)
		}
	}
	return raw, nil
}

func loadUnits(configDir string, out *UnitCatalog) error {
	raw, err := readValidated(configDir, "units.json")
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []UnitDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("units.json: %w", err)
	}
	out.Defs = map[string]UnitDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("units.json: empty id")
		}
		switch d.Class {
		case ClassShip, ClassGround, ClassStructure:
		default:
			return fmt.Errorf("units.json: %s: bad class %q", d.ID, d.Class)
		}
		if d.Class == ClassShip && d.Speed <= 0 {
			return fmt.Errorf("units.json: %s: ship speed must be positive", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}

func loadTiers(configDir string, out *TierCatalog) error {
	raw, err := readValidated(configDir, "starbase_tiers.json")
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []TierDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("starbase_tiers.json: %w", err)
	}
	out.ByTier = map[int]TierDef{}
	for _, d := range defs {
		if d.Tier <= 0 {
			return fmt.Errorf("starbase_tiers.json: bad tier %d", d.Tier)
		}
		out.ByTier[d.Tier] = d
		if d.Tier > out.Max {
			out.Max = d.Tier
		}
	}
	// Tiers must be contiguous from 1 so the upgrade order is total.
	for t := 1; t <= out.Max; t++ {
		if _, ok := out.ByTier[t]; !ok {
			return fmt.Errorf("starbase_tiers.json: missing tier %d", t)
		}
	}
	return nil
}

func loadModules(configDir string, out *ModuleCatalog) error {
	raw, err := readValidated(configDir, "modules.json")
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ModuleDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("modules.json: %w", err)
	}
	out.Defs = map[string]ModuleDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("modules.json: empty id")
		}
		out.Defs[d.ID] = d
	}
	return nil
}

func loadTech(configDir string, out *TechCatalog) error {
	raw, err := readValidated(configDir, "tech.json")
	if err != nil {
		if os.IsNotExist(err) {
			out.Defs = map[string]TechDef{}
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []TechDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("tech.json: %w", err)
	}
	out.Defs = map[string]TechDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("tech.json: empty id")
		}
		out.Defs[d.ID] = d
	}
	return nil
}

func loadCrises(configDir string, out *CrisisCatalog) error {
	raw, err := readValidated(configDir, "crisis_kinds.json")
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []CrisisKindDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("crisis_kinds.json: %w", err)
	}
	out.Defs = map[string]CrisisKindDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("crisis_kinds.json: empty id")
		}
		switch d.Targeting {
		case TargetNearest, TargetStrongest, TargetWeakest:
		default:
			return fmt.Errorf("crisis_kinds.json: %s: bad targeting %q", d.ID, d.Targeting)
		}
		if d.SpawnIntervalTicks == 0 {
			return fmt.Errorf("crisis_kinds.json: %s: zero spawn interval", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}
