package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/channel"
	"github.com/kbirk/framebus/pkg/wire"
)

var (
	configPath string
	backend    string
	providerID string
	window     time.Duration
	timeout    time.Duration
	verbose    bool
)

func main() {

	flag.StringVar(&configPath, "config", "", "Path to TOML config file")
	flag.StringVar(&backend, "bus", "", "Bus backend (memory|redis|nats|websocket|libp2p), overrides config")
	flag.StringVar(&providerID, "provider", "", "Query this provider id after discovery")
	flag.DurationVar(&window, "window", 2*time.Second, "How long to listen for provider announcements")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "Per-request timeout")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")

	flag.Parse()

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	magenta := color.New(color.FgMagenta, color.Bold).SprintFunc()
	white := color.New(color.FgWhite, color.Bold).SprintFunc()

	logger := zap.NewNop()
	if verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to create logger: %v\n", err))
			os.Exit(1)
		}
	}

	cfg := &Config{}
	if configPath != "" {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to load config: %v\n", err))
			os.Exit(1)
		}
	}
	if backend != "" {
		cfg.Bus.Backend = backend
	}

	b, teardown, err := cfg.Bus.build(logger)
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to create bus: %v\n", err))
		os.Exit(1)
	}
	defer teardown()

	handshake, err := channel.NewHandshake(channel.HandshakeConfig{
		Bus: b,
		OnProviderAnnounced: func(ann wire.ProviderAnnouncement) {
			name := ann.Name
			if name == "" {
				name = "unnamed"
			}
			os.Stdout.WriteString(fmt.Sprintf("%s %s (%s)\n", magenta("[provider]"), white(ann.ProviderID), name))
		},
		ErrHandler: func(err error) {
			os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Handshake fault: %v\n", err))
		},
		Logger: logger,
	})
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to open handshake channel: %v\n", err))
		os.Exit(1)
	}
	defer handshake.Shutdown()

	// Re-announce halfway through the window to catch slow providers.
	time.Sleep(window / 2)
	if err := handshake.ReRequestProviders(); err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to re-request providers: %v\n", err))
	}
	time.Sleep(window / 2)

	providers := handshake.Providers()
	if len(providers) == 0 {
		os.Stderr.WriteString(red("ERROR: ") + "No providers announced themselves\n")
		os.Exit(1)
	}

	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	os.Stdout.WriteString(green("SUCCESS: ") + fmt.Sprintf("Discovered %d provider(s): %v\n", len(ids), ids))

	if providerID == "" {
		return
	}
	if _, ok := providers[providerID]; !ok {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Provider %q did not announce itself\n", providerID))
		os.Exit(1)
	}

	rpc, err := channel.NewRPC(channel.RPCConfig{
		Bus:        b,
		ProviderID: providerID,
		ErrHandler: func(err error) {
			os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("RPC fault: %v\n", err))
		},
		Logger: logger,
	})
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to open rpc channel: %v\n", err))
		os.Exit(1)
	}
	defer rpc.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	capsFut, err := rpc.GetCapabilities()
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to request capabilities: %v\n", err))
		os.Exit(1)
	}
	caps, err := capsFut.Await(ctx)
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Capabilities request failed: %v\n", err))
		os.Exit(1)
	}
	for _, capability := range caps.Capabilities {
		os.Stdout.WriteString(fmt.Sprintf("    %s %s v%d\n", cyan("[capability]"), white(capability.Name), capability.Version))
	}

	addrFut, err := rpc.GetSignerAddress()
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Failed to request signer address: %v\n", err))
		os.Exit(1)
	}
	addr, err := addrFut.Await(ctx)
	if err != nil {
		os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf("Signer address request failed: %v\n", err))
		os.Exit(1)
	}
	os.Stdout.WriteString(fmt.Sprintf("    %s %s\n", cyan("[signer]"), white(addr.Address.String())))

	os.Stdout.WriteString(green("SUCCESS: ") + fmt.Sprintf("Provider %s responded\n", providerID))
}
