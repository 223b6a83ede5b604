package main

import (
	"database/sql"
	"encoding/json"
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
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	eventType := fs.String("type", "", "event type filter (events)")
	session := fs.String("session", "", "session filter (commands, audits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "sandbox.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,digest,tiles,bytes FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		must(err, "query")
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64  `json:"tick"`
				Path   string `json:"path"`
				Digest string `json:"digest"`
				Tiles  int    `json:"tiles"`
				Bytes  int64  `json:"bytes"`
			}
			must(rows.Scan(&r.Tick, &r.Path, &r.Digest, &r.Tiles, &r.Bytes), "scan")
			printJSON(r)
		}
		must(rows.Err(), "rows")

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,day_time,commands,events FROM ticks ORDER BY tick DESC LIMIT ?`, *limit)
		must(err, "query")
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Digest   string `json:"digest"`
				DayTime  int    `json:"day_time"`
				Commands int    `json:"commands"`
				Events   int    `json:"events"`
			}
			must(rows.Scan(&r.Tick, &r.Digest, &r.DayTime, &r.Commands, &r.Events), "scan")
			printJSON(r)
		}
		must(rows.Err(), "rows")

	case "events":
		query := `SELECT tick,seq,type,x,y,pitch,action FROM events ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs := []any{*limit}
		if t := strings.TrimSpace(*eventType); t != "" {
			query = `SELECT tick,seq,type,x,y,pitch,action FROM events WHERE type=? ORDER BY tick DESC, seq DESC LIMIT ?`
			qargs = []any{strings.ToUpper(t), *limit}
		}
		rows, err := db.Query(query, qargs...)
		must(err, "query")
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64  `json:"tick"`
				Seq    int    `json:"seq"`
				Type   string `json:"type"`
				X      int    `json:"x"`
				Y      int    `json:"y"`
				Pitch  int    `json:"pitch,omitempty"`
				Action string `json:"action,omitempty"`
			}
			must(rows.Scan(&r.Tick, &r.Seq, &r.Type, &r.X, &r.Y, &r.Pitch, &r.Action), "scan")
			printJSON(r)
		}
		must(rows.Err(), "rows")

	case "commands":
		query := `SELECT tick,seq,session_id,op,x,y FROM commands ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs := []any{*limit}
		if s := strings.TrimSpace(*session); s != "" {
			query = `SELECT tick,seq,session_id,op,x,y FROM commands WHERE session_id=? ORDER BY tick DESC, seq DESC LIMIT ?`
			qargs = []any{s, *limit}
		}
		rows, err := db.Query(query, qargs...)
		must(err, "query")
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int    `json:"seq"`
				Session string `json:"session"`
				Op      string `json:"op"`
				X       int    `json:"x"`
				Y       int    `json:"y"`
			}
			must(rows.Scan(&r.Tick, &r.Seq, &r.Session, &r.Op, &r.X, &r.Y), "scan")
			printJSON(r)
		}
		must(rows.Err(), "rows")

	case "audits":
		query := `SELECT tick,session_id,op,x,y,from_kind,to_kind,reason FROM audits ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs := []any{*limit}
		if s := strings.TrimSpace(*session); s != "" {
			query = `SELECT tick,session_id,op,x,y,from_kind,to_kind,reason FROM audits WHERE session_id=? ORDER BY tick DESC, seq DESC LIMIT ?`
			qargs = []any{s, *limit}
		}
		rows, err := db.Query(query, qargs...)
		must(err, "query")
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64          `json:"tick"`
				Session string         `json:"session"`
				Op      string         `json:"op"`
				X       int            `json:"x"`
				Y       int            `json:"y"`
				From    string         `json:"from,omitempty"`
				To      string         `json:"to,omitempty"`
				Reason  sql.NullString `json:"-"`
				Err     string         `json:"reason,omitempty"`
			}
			must(rows.Scan(&r.Tick, &r.Session, &r.Op, &r.X, &r.Y, &r.From, &r.To, &r.Reason), "scan")
			r.Err = r.Reason.String
			printJSON(r)
		}
		must(rows.Err(), "rows")

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		must(err, "query")
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			must(rows.Scan(&r.Key, &r.Value), "scan")
			printJSON(r)
		}
		must(rows.Err(), "rows")

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-limit N] [-type T] [-session S] snapshots|ticks|events|commands|audits|meta")
		os.Exit(2)
	}
}

func must(err error, what string) {
	if err != nil {
		fmt.Fprintln(os.Stderr, what+":", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
