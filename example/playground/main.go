// Command playground connects to an MCP server, lists its tools, invokes one
// if requested, and prints the execution timeline. Configuration comes from
// PLAYGROUND_* environment variables (a .env file is honored when present).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MegaGrindStone/mcp-playground"
)

func main() {
	var (
		serverURL = flag.String("url", "", "MCP server URL (http, https, ws or wss)")
		command   = flag.String("command", "", "command to launch a stdio MCP server")
		tool      = flag.String("tool", "", "tool to invoke after listing")
		toolArgs  = flag.String("args", "{}", "JSON arguments for the tool invocation")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Load .env: %v", err)
	}

	cfg, err := playground.ConfigFromEnv()
	if err != nil {
		log.Fatalf("Read configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	pg, err := playground.New(cfg, playground.WithLogger(logger))
	if err != nil {
		log.Fatalf("Build playground: %v", err)
	}
	defer pg.Close()

	unsub := pg.On(playground.EventWildcard, func(ev playground.Event) {
		logger.Info("event", "type", ev.Type)
	})
	defer unsub()

	tCfg, err := transportConfig(*serverURL, *command, flag.Args())
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := pg.ConnectWithRetry(ctx, tCfg); err != nil {
		log.Fatalf("Connect: %v", err)
	}
	defer pg.Disconnect(context.Background())

	session, _ := pg.Session()
	fmt.Printf("Connected to %s %s (session %s)\n",
		session.ServerInfo.Name, session.ServerInfo.Version, session.SessionID)

	if pg.HasCapability(playground.KindTool) {
		tools, err := pg.Tools.Load(ctx)
		if err != nil {
			log.Fatalf("List tools: %v", err)
		}
		fmt.Printf("Tools (%d):\n", len(tools))
		for _, t := range tools {
			fmt.Printf("  %-24s %s\n", t.Name, t.Description)
		}
	}

	if *tool != "" {
		exec, err := pg.Tools.Execute(ctx, *tool, json.RawMessage(*toolArgs))
		if err != nil {
			log.Fatalf("Execute %s: %v", *tool, err)
		}
		fmt.Printf("Execution %s finished with status %s in %s\n",
			exec.ID, exec.Status, exec.Duration())
		if exec.Err != "" {
			fmt.Printf("  error: %s\n", exec.Err)
		}
		for _, msg := range exec.Messages {
			fmt.Printf("  %s\n", msg)
		}
	}

	if len(pg.History()) > 0 {
		fmt.Println("History:")
		for _, h := range pg.History() {
			fmt.Printf("  %s %-9s %s %s\n",
				h.StartedAt.Format(time.RFC3339), h.Status, h.Kind, h.Target)
		}
	}
}

func transportConfig(serverURL, command string, args []string) (playground.TransportConfig, error) {
	switch {
	case command != "":
		return playground.TransportConfig{
			Kind:    playground.TransportStdio,
			Command: command,
			Args:    args,
		}, nil
	case strings.HasPrefix(serverURL, "ws://"), strings.HasPrefix(serverURL, "wss://"):
		return playground.TransportConfig{
			Kind: playground.TransportWebSocket,
			URL:  serverURL,
		}, nil
	case serverURL != "":
		return playground.TransportConfig{
			Kind: playground.TransportHTTP,
			URL:  serverURL,
		}, nil
	default:
		return playground.TransportConfig{}, fmt.Errorf("either -url or -command is required")
	}
}
