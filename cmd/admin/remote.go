package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cubeyard.io/internal/platform/config"
	"cubeyard.io/internal/protocol"
)

type remoteEnv struct {
	AdminKey string `env:"CY_ADMIN_KEY"`
}

// remoteCommand is one admin frame plus the broadcast that confirms it.
type remoteCommand struct {
	Type   string
	Data   any
	Expect string
}

func parseRemoteCommand(args []string) (remoteCommand, error) {
	if len(args) == 0 {
		return remoteCommand{}, errors.New("missing command")
	}
	need := func(n int) error {
		if len(args) < n+1 {
			return fmt.Errorf("%s needs %d argument(s)", args[0], n)
		}
		return nil
	}
	switch args[0] {
	case "move":
		if err := need(2); err != nil {
			return remoteCommand{}, err
		}
		return remoteCommand{
			Type:   protocol.TypeAdminMove,
			Data:   protocol.AdminMoveReq{Target: args[1], Direction: strings.ToLower(args[2])},
			Expect: protocol.TypePlayerMoved,
		}, nil
	case "message":
		if err := need(1); err != nil {
			return remoteCommand{}, err
		}
		return remoteCommand{Type: protocol.TypeAdminMessage, Data: strings.Join(args[1:], " "), Expect: protocol.TypeReceiveMessage}, nil
	case "remove-block":
		if err := need(1); err != nil {
			return remoteCommand{}, err
		}
		return remoteCommand{Type: protocol.TypeRemoveBlock, Data: args[1], Expect: protocol.TypeBlockRemoved}, nil
	case "reset-world":
		return remoteCommand{Type: protocol.TypeResetWorld, Expect: protocol.TypeWorldReset}, nil
	case "reset-chat":
		return remoteCommand{Type: protocol.TypeResetChat, Expect: protocol.TypeChatReset}, nil
	case "reset-players":
		return remoteCommand{Type: protocol.TypeResetPlayers, Expect: protocol.TypePlayersReset}, nil
	}
	return remoteCommand{}, fmt.Errorf("unknown command %q", args[0])
}

func remoteCmd(args []string) {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	wsURL := fs.String("url", "ws://127.0.0.1:8080/v1/ws", "server ws url")
	key := fs.String("key", "", "admin key (default: $CY_ADMIN_KEY)")
	timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for each reply")
	_ = fs.Parse(args)

	cmd, err := parseRemoteCommand(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "commands: move <id> <north|south|east|west|up|down> | message <text> | remove-block <id> | reset-world | reset-chat | reset-players")
		os.Exit(2)
	}

	if *key == "" {
		_ = config.LoadDotEnv(".env")
		var env remoteEnv
		if err := config.ParseEnv(&env); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		*key = env.AdminKey
	}
	if *key == "" {
		fmt.Fprintln(os.Stderr, "missing -key (or CY_ADMIN_KEY)")
		os.Exit(2)
	}

	if err := runRemote(*wsURL, *key, cmd, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "remote:", err)
		os.Exit(1)
	}
}

func runRemote(wsURL, key string, cmd remoteCommand, timeout time.Duration) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if _, err := awaitFrame(conn, timeout, protocol.TypeInit); err != nil {
		return err
	}
	if err := writeFrame(conn, protocol.TypeAdminAuth, key); err != nil {
		return err
	}
	env, err := awaitFrame(conn, timeout, protocol.TypeAdminAuthSuccess, protocol.TypeAdminAuthFail)
	if err != nil {
		return err
	}
	if env.Type == protocol.TypeAdminAuthFail {
		return errors.New("admin key rejected")
	}

	if err := writeFrame(conn, cmd.Type, cmd.Data); err != nil {
		return err
	}
	env, err = awaitFrame(conn, timeout, cmd.Expect, protocol.TypeRequestRejected)
	if err != nil {
		return err
	}
	if env.Type == protocol.TypeRequestRejected {
		return fmt.Errorf("rejected: %s", env.Data)
	}
	fmt.Printf("%s ok %s\n", cmd.Type, env.Data)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}

func writeFrame(conn *websocket.Conn, typ string, data any) error {
	frame, err := protocol.Encode(typ, data)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// awaitFrame skips unrelated broadcasts until one of the wanted types arrives.
func awaitFrame(conn *websocket.Conn, timeout time.Duration, types ...string) (protocol.Envelope, error) {
	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("waiting for %s: %w", strings.Join(types, "/"), err)
		}
		env, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		for _, t := range types {
			if env.Type == t {
				return env, nil
			}
		}
	}
}
