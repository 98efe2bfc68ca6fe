package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreSane(t *testing.T) {
	d := Defaults()
	if d.TickRateHz <= 0 {
		t.Fatalf("tick rate = %d", d.TickRateHz)
	}
	if d.Galaxy.Galaxies <= 0 || d.Galaxy.SitesPerSystem <= 0 {
		t.Fatalf("galaxy = %+v", d.Galaxy)
	}
	if d.Travel.SystemMinTicks > d.Travel.SystemBaseTicks {
		t.Fatalf("system floor %d above base %d", d.Travel.SystemMinTicks, d.Travel.SystemBaseTicks)
	}
	if d.Travel.GalaxyFactor >= d.Travel.CrossFactor {
		t.Fatalf("cross travel not slower than galaxy travel: %+v", d.Travel)
	}
	if d.Sync.ChangeLogCapacity <= 0 || d.Sync.LightPageSize <= 0 {
		t.Fatalf("sync = %+v", d.Sync)
	}
	if d.VictorySitePermille <= 0 || d.VictorySitePermille > 1000 {
		t.Fatalf("victory threshold = %d", d.VictorySitePermille)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := `
tick_rate_hz: 10
galaxy:
  galaxies: 5
crisis:
  min_start_tick: 999
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 10 {
		t.Fatalf("tick rate = %d, want 10", got.TickRateHz)
	}
	if got.Galaxy.Galaxies != 5 {
		t.Fatalf("galaxies = %d, want 5", got.Galaxy.Galaxies)
	}
	if got.Crisis.MinStartTick != 999 {
		t.Fatalf("crisis min start = %d, want 999", got.Crisis.MinStartTick)
	}

	def := Defaults()
	if got.Galaxy.SitesPerSystem != def.Galaxy.SitesPerSystem {
		t.Fatalf("sites per system = %d, want default %d", got.Galaxy.SitesPerSystem, def.Galaxy.SitesPerSystem)
	}
	if got.Travel != def.Travel {
		t.Fatalf("travel = %+v, want defaults %+v", got.Travel, def.Travel)
	}
	if got.Economy != def.Economy {
		t.Fatalf("economy = %+v, want defaults %+v", got.Economy, def.Economy)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("load of missing file succeeded")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("galaxy: [not a map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("load of malformed yaml succeeded")
	}
}
