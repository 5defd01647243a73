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
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/world.db)")
	limit := fs.Int("limit", 20, "result limit (audits)")
	action := fs.String("action", "", "action filter (audits)")
	_ = fs.Parse(args)

	q := "docs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "world.db")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "docs":
		err = listDocs(db)
	case "doc":
		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: admin db doc <key>")
			os.Exit(2)
		}
		err = printDoc(db, fs.Arg(1))
	case "audits":
		err = listAudits(db, *action, *limit)
	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (docs | doc <key> | audits)\n", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

type docRow struct {
	Key       string `json:"key"`
	Bytes     int    `json:"bytes"`
	Items     int    `json:"items"`
	UpdatedAt string `json:"updated_at"`
}

func listDocs(db *sql.DB) error {
	rows, err := db.Query(`SELECT key, body, updated_at FROM documents ORDER BY key`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r docRow
		var body []byte
		if err := rows.Scan(&r.Key, &body, &r.UpdatedAt); err != nil {
			return err
		}
		r.Bytes = len(body)
		var items []json.RawMessage
		if json.Unmarshal(body, &items) == nil {
			r.Items = len(items)
		}
		printJSON(r)
	}
	return rows.Err()
}

func printDoc(db *sql.DB, key string) error {
	var body []byte
	err := db.QueryRow(`SELECT body FROM documents WHERE key=?`, key).Scan(&body)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no document %q", key)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func listAudits(db *sql.DB, action string, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT seq, at, actor, action, target, reason FROM audits`
	var qargs []any
	if action != "" {
		q += ` WHERE action=?`
		qargs = append(qargs, strings.ToUpper(action))
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	qargs = append(qargs, limit)

	rows, err := db.Query(q, qargs...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Seq    int64  `json:"seq"`
			At     string `json:"at"`
			Actor  string `json:"actor"`
			Action string `json:"action"`
			Target string `json:"target,omitempty"`
			Reason string `json:"reason,omitempty"`
		}
		if err := rows.Scan(&r.Seq, &r.At, &r.Actor, &r.Action, &r.Target, &r.Reason); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}
