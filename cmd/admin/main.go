package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"starhold.gg/internal/persistence/snapshot"
	"starhold.gg/internal/sim/engine"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "ticks":
			ticksCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	galaxyID := fs.String("galaxy", "", "galaxy id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "galaxies")
	if *galaxyID != "" {
		base = filepath.Join(base, *galaxyID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// ticksCmd scans the raw tick log and prints one summary line per tick, which
// is the quickest way to eyeball a divergence window before running replay.
func ticksCmd(args []string) {
	fs := flag.NewFlagSet("ticks", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	galaxyID := fs.String("galaxy", "", "galaxy id")
	fromTick := fs.Uint64("from_tick", 0, "first tick to print (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick to print (inclusive, optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*galaxyID) == "" {
		fmt.Fprintln(os.Stderr, "missing -galaxy")
		os.Exit(2)
	}

	dir := filepath.Join(*dataDir, "galaxies", *galaxyID, "ticks")
	ents, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ticks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := printTickFile(filepath.Join(dir, name), *fromTick, *toTick); err != nil {
			fmt.Fprintln(os.Stderr, "ticks:", err)
			os.Exit(1)
		}
	}
}

func printTickFile(path string, fromTick, toTick uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var entry engine.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.Tick < fromTick {
			continue
		}
		if toTick != 0 && entry.Tick > toTick {
			return nil
		}
		fmt.Printf("tick=%d joins=%d actions=%d events=%d digest=%s\n",
			entry.Tick, len(entry.Joins), len(entry.Actions), entry.Events, entry.Digest)
	}
	return sc.Err()
}

// snapshotCmd prints a one-line summary of a snapshot, defaulting to the
// newest one on disk for the galaxy.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	galaxyID := fs.String("galaxy", "", "galaxy id (required unless -snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*galaxyID) == "" {
			fmt.Fprintln(os.Stderr, "missing -galaxy or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshotPath(filepath.Join(*dataDir, "galaxies", *galaxyID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; run the server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d galaxy=%s tick=%d seed=%d sites=%d entities=%d fleets=%d starbases=%d actors=%d crisis=%s path=%s\n",
		snap.Header.Version, snap.Header.GalaxyID, snap.Header.Tick, snap.Seed,
		len(snap.Sites), len(snap.Entities), len(snap.Fleets), len(snap.Starbases), len(snap.Balances),
		snap.Crisis.Phase, path)
}

func latestSnapshotPath(galaxyDir string) string {
	dir := filepath.Join(galaxyDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
