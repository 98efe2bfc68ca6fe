package archive

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"starhold.gg/internal/persistence/snapshot"
)

type MatchArchiveMeta struct {
	GalaxyID  string `json:"galaxy_id"`
	WinnerID  string `json:"winner_id"`
	EndTick   uint64 `json:"end_tick"`
	Seed      int64  `json:"seed"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveMatchSnapshot copies a concluded match's final snapshot into
// `galaxyDir/archives/final/`. A snapshot represents a match end only when a
// winner has been declared; anything earlier is left alone.
func ArchiveMatchSnapshot(galaxyDir, snapshotPath string, snap snapshot.SnapshotV1) (archivedPath string, archived bool, err error) {
	if snap.WinnerID == "" {
		return "", false, nil
	}

	archiveDir := filepath.Join(galaxyDir, "archives", "final")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := MatchArchiveMeta{
		GalaxyID:  snap.Header.GalaxyID,
		WinnerID:  snap.WinnerID,
		EndTick:   snap.Header.Tick,
		Seed:      snap.Seed,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
