// Package galaxy is the spatial index of the simulation: galaxies, systems
// and sites with positions and ownership. It answers topology questions
// (distance, grouping, bounds) and holds no timers or unit state.
package galaxy

import (
	"fmt"
	"math"
	"sort"
)

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type System struct {
	ID       string   `json:"id"`
	GalaxyID string   `json:"galaxy_id"`
	Pos      Vec2     `json:"pos"`
	SiteIDs  []string `json:"site_ids"`
}

type Site struct {
	ID             string `json:"id"`
	SystemID       string `json:"system_id"`
	Name           string `json:"name"`
	OwnerID        string `json:"owner_id,omitempty"`
	Habitable      bool   `json:"habitable"`
	Specialization string `json:"specialization,omitempty"` // MINING, INDUSTRY, SCIENCE, TRADE
	OwnedSince     uint64 `json:"owned_since,omitempty"`
}

// Site specializations.
const (
	SpecMining   = "MINING"
	SpecIndustry = "INDUSTRY"
	SpecScience  = "SCIENCE"
	SpecTrade    = "TRADE"
)

func KnownSpecialization(s string) bool {
	switch s {
	case SpecMining, SpecIndustry, SpecScience, SpecTrade:
		return true
	}
	return false
}

type Universe struct {
	systems map[string]*System
	sites   map[string]*Site

	systemIDs []string // sorted
	siteIDs   []string // sorted
}

func (u *Universe) System(id string) *System { return u.systems[id] }
func (u *Universe) Site(id string) *Site     { return u.sites[id] }

// SystemOf resolves a site's local grouping; nil when the site is unknown.
func (u *Universe) SystemOf(siteID string) *System {
	s := u.sites[siteID]
	if s == nil {
		return nil
	}
	return u.systems[s.SystemID]
}

func (u *Universe) SystemIDs() []string { return u.systemIDs }
func (u *Universe) SiteIDs() []string   { return u.siteIDs }

func (u *Universe) SiteCount() int { return len(u.sites) }

func Distance(a, b Vec2) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Bounds returns the bounding extremes of all system positions.
func (u *Universe) Bounds() (min, max Vec2) {
	first := true
	for _, id := range u.systemIDs {
		p := u.systems[id].Pos
		if first {
			min, max = p, p
			first = false
			continue
		}
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
	}
	return min, max
}

// OwnedSiteIDs returns the site ids owned by actorID, sorted.
func (u *Universe) OwnedSiteIDs(actorID string) []string {
	var out []string
	for _, id := range u.siteIDs {
		if u.sites[id].OwnerID == actorID {
			out = append(out, id)
		}
	}
	return out
}

// OwnerCounts returns site counts per owning actor (unowned sites excluded).
func (u *Universe) OwnerCounts() map[string]int {
	counts := map[string]int{}
	for _, id := range u.siteIDs {
		if o := u.sites[id].OwnerID; o != "" {
			counts[o]++
		}
	}
	return counts
}

func (u *Universe) SetOwner(siteID, actorID string, nowTick uint64) error {
	s := u.sites[siteID]
	if s == nil {
		return fmt.Errorf("unknown site %s", siteID)
	}
	s.OwnerID = actorID
	if actorID == "" {
		s.OwnedSince = 0
		s.Specialization = ""
	} else {
		s.OwnedSince = nowTick
	}
	return nil
}

// HabitableSiteCount counts sites that can be owned at all; the victory
// threshold is a fraction of this figure.
func (u *Universe) HabitableSiteCount() int {
	n := 0
	for _, id := range u.siteIDs {
		if u.sites[id].Habitable {
			n++
		}
	}
	return n
}

// Restore rebuilds a universe from persisted systems and sites, re-deriving
// sorted id slices. Site membership lists are trusted as persisted.
func Restore(systems []*System, sites []*Site) *Universe {
	u := &Universe{
		systems: map[string]*System{},
		sites:   map[string]*Site{},
	}
	for _, s := range systems {
		u.systems[s.ID] = s
		u.systemIDs = append(u.systemIDs, s.ID)
	}
	for _, s := range sites {
		u.sites[s.ID] = s
		u.siteIDs = append(u.siteIDs, s.ID)
	}
	sort.Strings(u.systemIDs)
	sort.Strings(u.siteIDs)
	return u
}

// ExportSystems returns systems in sorted id order.
func (u *Universe) ExportSystems() []*System {
	out := make([]*System, 0, len(u.systemIDs))
	for _, id := range u.systemIDs {
		out = append(out, u.systems[id])
	}
	return out
}

// ExportSites returns sites in sorted id order.
func (u *Universe) ExportSites() []*Site {
	out := make([]*Site, 0, len(u.siteIDs))
	for _, id := range u.siteIDs {
		out = append(out, u.sites[id])
	}
	return out
}
