package catalogs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validUnits = `[
  {"id": "corvette", "name": "Corvette", "class": "SHIP", "speed": 3, "attack": 4, "hp": 20, "build_ticks": 120, "cost": {"credits": 40}},
  {"id": "militia", "name": "Militia", "class": "GROUND", "attack": 5, "hp": 10, "build_ticks": 40, "cost": {"credits": 15}},
  {"id": "depot", "name": "Depot", "class": "STRUCTURE", "attack": 0, "hp": 60, "build_ticks": 80, "cost": {"minerals": 50}}
]`

const validTiers = `[
  {"tier": 1, "hp": 200, "attack": 8, "module_slots": 1, "build_ticks": 600, "cost": {"credits": 100}},
  {"tier": 2, "hp": 500, "attack": 20, "module_slots": 2, "build_ticks": 1200, "cost": {"credits": 300}}
]`

const validModules = `[
  {"id": "shipyard", "name": "Shipyard", "effect": "SHIPYARD", "cost": {"credits": 50}}
]`

const validCrises = `[
  {"id": "swarm", "title": "Swarm", "spawn_interval_ticks": 1800, "hp_mult_permille": 1000,
   "damage_mult_permille": 1000, "targeting": "NEAREST",
   "composition": [{"unit": "corvette", "count": 3}],
   "messages": {"warning": "w", "active": "a", "resolved": "r"}}
]`

// writeConfigDir lays out a config directory; empty values skip the file.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if body == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func validConfigDir(t *testing.T, overrides map[string]string) string {
	t.Helper()
	files := map[string]string{
		"units.json":          validUnits,
		"starbase_tiers.json": validTiers,
		"modules.json":        validModules,
		"crisis_kinds.json":   validCrises,
	}
	for name, body := range overrides {
		files[name] = body
	}
	return writeConfigDir(t, files)
}

func TestLoadValidCatalogs(t *testing.T) {
	c, err := Load(validConfigDir(t, nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(c.Units.IDs) != 3 || c.Units.IDs[0] != "corvette" {
		t.Fatalf("unit ids = %v, want sorted with corvette first", c.Units.IDs)
	}
	if def := c.Units.Defs["corvette"]; !def.Mobile() || def.Speed != 3 {
		t.Fatalf("corvette = %+v", def)
	}
	if def := c.Units.Defs["depot"]; def.Mobile() {
		t.Fatalf("structure reported mobile")
	}
	if c.Tiers.Max != 2 || c.Tiers.ByTier[2].HP != 500 {
		t.Fatalf("tiers = %+v", c.Tiers)
	}
	if c.Crises.Defs["swarm"].Targeting != TargetNearest {
		t.Fatalf("crises = %+v", c.Crises)
	}
	if c.Units.Digest == "" || c.Crises.Digest == "" {
		t.Fatalf("digests not computed")
	}
	// tech.json is optional content.
	if len(c.Tech.Defs) != 0 {
		t.Fatalf("tech = %+v, want empty without a file", c.Tech)
	}
}

func TestLoadRejectsBadContent(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]string
		wantIn    string
	}{
		{
			"bad unit class",
			map[string]string{"units.json": `[{"id": "x", "name": "X", "class": "TANK", "attack": 1, "hp": 1, "build_ticks": 1, "cost": {}}]`},
			"units.json",
		},
		{
			"ship without speed",
			map[string]string{"units.json": `[{"id": "x", "name": "X", "class": "SHIP", "attack": 1, "hp": 1, "build_ticks": 1, "cost": {}}]`},
			"units.json",
		},
		{
			"tier gap",
			map[string]string{"starbase_tiers.json": `[
        {"tier": 1, "hp": 200, "attack": 8, "module_slots": 1, "build_ticks": 600, "cost": {}},
        {"tier": 3, "hp": 900, "attack": 30, "module_slots": 3, "build_ticks": 2400, "cost": {}}
      ]`},
			"starbase_tiers.json",
		},
		{
			"bad crisis targeting",
			map[string]string{"crisis_kinds.json": strings.Replace(validCrises, "NEAREST", "RANDOM", 1)},
			"crisis_kinds.json",
		},
		{
			"zero spawn interval",
			map[string]string{"crisis_kinds.json": strings.Replace(validCrises, `"spawn_interval_ticks": 1800`, `"spawn_interval_ticks": 0`, 1)},
			"crisis_kinds.json",
		},
		{
			"crisis references unknown unit",
			map[string]string{"crisis_kinds.json": strings.Replace(validCrises, `"unit": "corvette"`, `"unit": "dreadnought"`, 1)},
			"unknown unit",
		},
	}
	for _, tc := range cases {
		_, err := Load(validConfigDir(t, tc.overrides))
		if err == nil {
			t.Errorf("%s: load succeeded", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantIn) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.wantIn)
		}
	}
}

func TestLoadRequiresCoreFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"starbase_tiers.json": validTiers})
	if _, err := Load(dir); err == nil {
		t.Fatalf("load without units.json succeeded")
	}
}

func TestSchemaValidationRejectsMalformed(t *testing.T) {
	dir := validConfigDir(t, nil)
	if err := os.MkdirAll(filepath.Join(dir, "schemas"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	schema := `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {"type": "object", "required": ["id", "name", "effect"]}
}`
	if err := os.WriteFile(filepath.Join(dir, "schemas", "modules.json.schema.json"), []byte(schema), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "modules.json"), []byte(`[{"id": "shipyard"}]`), 0o644); err != nil {
		t.Fatalf("write modules: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "schema") {
		t.Fatalf("schema violation not surfaced: %v", err)
	}
}
