// Command gpclient is the CLI entry point.
//
// The client role keeps an ESP data channel to a GlobalProtect-compatible
// gateway alive and forwards local TCP/UDP ports through a relay server. The
// relay role is that server.
//
// It can be launched interactively (no flags) or non-interactively via a JSON
// config file (-config) and CLI flags (-role, -relay, -listen, -ws, -pin, -tcp, -udp).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/gpclient/internal/app"
	"github.com/1ureka/gpclient/internal/config"
	"github.com/1ureka/gpclient/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: client or relay")
	configPath := flag.String("config", "", "Path to a JSON config file")
	relayFlag := flag.String("relay", "", "Relay address: host:port, tcp://, ws:// or wss:// (client only)")
	listenFlag := flag.String("listen", "", "Listen address (relay only)")
	wsFlag := flag.Bool("ws", false, "Serve relay clients over WebSocket (relay only)")
	pinFlag := flag.String("pin", "", "PIN required from WebSocket clients, \"auto\" to generate one (relay only)")
	tcpFlag := flag.String("tcp", "", "TCP forward listen=target, e.g. 127.0.0.1:8080=10.0.0.5:80 (client only)")
	udpFlag := flag.String("udp", "", "UDP forward listen=target, e.g. 127.0.0.1:5353=10.0.0.53:53 (client only)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("gpclient v%s", version))
	pterm.Println()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the file.
	if *role != "" {
		cfg.Role = config.Role(*role)
	}
	if *relayFlag != "" {
		cfg.Relay = *relayFlag
	}
	if *listenFlag != "" {
		cfg.Listen = *listenFlag
	}
	if *wsFlag {
		cfg.WebSocket = true
	}
	if *pinFlag != "" {
		cfg.PIN = *pinFlag
	}
	for _, f := range []struct {
		raw  string
		list *[]config.Forward
	}{{*tcpFlag, &cfg.TCPForwards}, {*udpFlag, &cfg.UDPForwards}} {
		if f.raw == "" {
			continue
		}
		fwd, err := parseForward(f.raw)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		*f.list = append(*f.list, fwd)
	}

	if cfg.Role == "" {
		// No role from flags or file → interactive mode.
		runInteractive(cfg)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx)

	var err error
	switch cfg.Role {
	case config.RoleRelay:
		err = app.RunRelay(ctx, cfg)
	case config.RoleClient:
		err = app.RunClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully shut down")
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive fills cfg from prompts when no role was given.
func runInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Client: forward a local port through a relay", "Relay:  serve relay clients"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Relay") {
		cfg.Role = config.RoleRelay
		cfg.Listen = askText("Listen address", config.DefaultRelayListen)
		cfg.WebSocket, _ = pterm.DefaultInteractiveConfirm.
			WithDefaultText("Serve over WebSocket?").
			Show()
		if cfg.WebSocket {
			cfg.PIN = "auto"
		}
		pterm.Println()
		return
	}

	cfg.Role = config.RoleClient
	cfg.Relay = askText("Relay address (host:port or ws://host/relay)", "")
	for {
		fwd, err := parseForward(askText("TCP forward (listen=target, e.g. 127.0.0.1:8080=10.0.0.5:80)", ""))
		if err == nil {
			cfg.TCPForwards = append(cfg.TCPForwards, fwd)
			return
		}
		util.LogWarning("%v", err)
		pterm.Println()
	}
}

// askText prompts until an answer is given. An empty answer selects def
// when def is set.
func askText(prompt, def string) string {
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]", prompt, def)
	}
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		v := strings.TrimSpace(raw)
		if v == "" {
			v = def
		}
		if v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// parseForward splits "listen=target" and checks the target is an ip:port.
func parseForward(raw string) (config.Forward, error) {
	listen, target, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok || listen == "" {
		return config.Forward{}, fmt.Errorf("invalid forward %q: expected listen=target", raw)
	}
	if _, err := netip.ParseAddrPort(target); err != nil {
		return config.Forward{}, fmt.Errorf("invalid forward target %q: %v", target, err)
	}
	return config.Forward{Listen: listen, Target: target}, nil
}
