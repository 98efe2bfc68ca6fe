package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	galaxyID := fs.String("galaxy", "", "galaxy id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	fromTick := fs.Uint64("from_tick", 0, "tick lower bound (inclusive, optional)")
	limit := fs.Int("limit", 20, "result limit")
	evType := fs.String("type", "", "event type filter (events)")
	actor := fs.String("actor", "", "actor filter (events)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*galaxyID) == "" {
			fmt.Fprintln(os.Stderr, "missing -galaxy or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "galaxies", *galaxyID, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,seed,sites,entities,fleets,starbases,actors FROM snapshots WHERE tick>=? ORDER BY tick DESC LIMIT ?`, *fromTick, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				Path      string `json:"path"`
				Seed      int64  `json:"seed"`
				Sites     int    `json:"sites"`
				Entities  int    `json:"entities"`
				Fleets    int    `json:"fleets"`
				Starbases int    `json:"starbases"`
				Actors    int    `json:"actors"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Seed, &r.Sites, &r.Entities, &r.Fleets, &r.Starbases, &r.Actors); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,events,actions FROM ticks WHERE tick>=? ORDER BY tick DESC LIMIT ?`, *fromTick, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Digest  string `json:"digest"`
				Events  int    `json:"events"`
				Actions int    `json:"actions"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Events, &r.Actions); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "events":
		query := `SELECT tick,seq,type,actor,site,raw_json FROM events WHERE tick>=?`
		qargs := []any{*fromTick}
		if strings.TrimSpace(*evType) != "" {
			query += ` AND type=?`
			qargs = append(qargs, strings.TrimSpace(*evType))
		}
		if strings.TrimSpace(*actor) != "" {
			query += ` AND actor=?`
			qargs = append(qargs, strings.TrimSpace(*actor))
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int    `json:"seq"`
				Type    string `json:"type"`
				Actor   string `json:"actor,omitempty"`
				Site    string `json:"site,omitempty"`
				RawJSON string `json:"raw_json"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Type, &r.Actor, &r.Site, &r.RawJSON); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "crises":
		rows, err := db.Query(`SELECT tick,phase,kind,recorded_at FROM crises WHERE tick>=? ORDER BY tick DESC LIMIT ?`, *fromTick, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick       int64  `json:"tick"`
				Phase      string `json:"phase"`
				Kind       string `json:"kind,omitempty"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Tick, &r.Phase, &r.Kind, &r.RecordedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-galaxy ID|-db PATH] [-from_tick T] [-limit N] snapshots|ticks|events|crises")
		os.Exit(2)
	}
}
