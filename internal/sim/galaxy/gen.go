package galaxy

import (
	"fmt"
	"sort"
)

type GenConfig struct {
	Seed             int64
	Galaxies         int
	SystemsPerGalaxy int
	SitesPerSystem   int
	Span             float64 // edge length of one galaxy's square footprint
}

// Generate lays out a deterministic universe from the seed. Galaxies are
// placed on a horizontal strip, systems hashed into each galaxy's square,
// sites numbered within their system. Roughly one site in five is barren.
func Generate(cfg GenConfig) *Universe {
	u := &Universe{
		systems: map[string]*System{},
		sites:   map[string]*Site{},
	}

	siteNum := 0
	for g := 0; g < cfg.Galaxies; g++ {
		gid := fmt.Sprintf("GX%d", g+1)
		// Galaxies sit far enough apart that cross-galaxy trips dominate.
		originX := float64(g) * cfg.Span * 3

		for s := 0; s < cfg.SystemsPerGalaxy; s++ {
			sysID := fmt.Sprintf("%s-S%d", gid, s+1)
			hx := hash2(cfg.Seed, g*1000+s, 1)
			hy := hash2(cfg.Seed, g*1000+s, 2)
			pos := Vec2{
				X: originX + float64(hx%uint64(cfg.Span*100))/100,
				Y: float64(hy%uint64(cfg.Span*100)) / 100,
			}
			sys := &System{ID: sysID, GalaxyID: gid, Pos: pos}

			for p := 0; p < cfg.SitesPerSystem; p++ {
				siteNum++
				siteID := fmt.Sprintf("P%d", siteNum)
				habitable := hash2(cfg.Seed, siteNum, 3)%5 != 0
				site := &Site{
					ID:        siteID,
					SystemID:  sysID,
					Name:      fmt.Sprintf("%s %s", sysID, romanNumeral(p+1)),
					Habitable: habitable,
				}
				sys.SiteIDs = append(sys.SiteIDs, siteID)
				u.sites[siteID] = site
				u.siteIDs = append(u.siteIDs, siteID)
			}

			u.systems[sysID] = sys
			u.systemIDs = append(u.systemIDs, sysID)
		}
	}

	sort.Strings(u.systemIDs)
	sort.Strings(u.siteIDs)
	return u
}

func romanNumeral(n int) string {
	numerals := []string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X"}
	if n >= 1 && n <= len(numerals) {
		return numerals[n-1]
	}
	return fmt.Sprintf("%d", n)
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
