package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	persistlog "cubeyard.io/internal/persistence/log"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  state     print /admin/v1/state of a running server (loopback only)
  reset     POST /admin/v1/reset?scope=world|chat|players (loopback only)
  audit     print the compressed audit log under -data
  db        query the sqlite store: docs | doc <key> | audits
  remote    authenticate over /v1/ws and run one admin command`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "state":
		stateCmd(args)
	case "reset":
		resetCmd(args)
	case "audit":
		auditCmd(args)
	case "db":
		dbCmd(args)
	case "remote":
		remoteCmd(args)
	default:
		usage()
		os.Exit(2)
	}
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	action := fs.String("action", "", "only entries with this action (e.g. RESET_WORLD)")
	actor := fs.String("actor", "", "only entries by this session id (or SYSTEM)")
	since := fs.Duration("since", 0, "only entries newer than this duration (0 = all)")
	_ = fs.Parse(args)

	entries, err := persistlog.ReadAudit(*dataDir)
	if err != nil {
		// Entries read before the error are still printed.
		fmt.Fprintln(os.Stderr, "read audit:", err)
	}
	var cutoff time.Time
	if *since > 0 {
		cutoff = time.Now().Add(-*since)
	}
	for _, e := range entries {
		if *action != "" && !strings.EqualFold(e.Action, *action) {
			continue
		}
		if *actor != "" && e.Actor != *actor {
			continue
		}
		if !cutoff.IsZero() && e.Time.Before(cutoff) {
			continue
		}
		printJSON(e)
	}
	if err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
