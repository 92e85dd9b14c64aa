// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/paso-modbus/rtu-engine/core"
	"github.com/paso-modbus/rtu-engine/internal/config"
	"github.com/paso-modbus/rtu-engine/internal/gateway"
	localslave "github.com/paso-modbus/rtu-engine/internal/local-slave"
	"github.com/paso-modbus/rtu-engine/internal/local-slave/persistence"
	"github.com/paso-modbus/rtu-engine/transport"
	"github.com/paso-modbus/rtu-engine/transport/rtu"
	rtuovertcp "github.com/paso-modbus/rtu-engine/transport/rtu-over-tcp"
	"github.com/paso-modbus/rtu-engine/transport/tcp"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus Gateway...")

	// Create Gateways
	var gateways []*gateway.Gateway

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, gwCfg := range cfg.Gateways {
		// Create Downstreams and build the slave-id routing table.
		routes := make(map[byte]transport.Downstream)
		var defaultRoute transport.Downstream

		for _, dsCfg := range gwCfg.Downstreams {
			ds, err := newDownstream(dsCfg)
			if err != nil {
				slog.Error("Failed to build downstream", "gateway", gwCfg.Name, "name", dsCfg.Name, "err", err)
				continue
			}

			if dsCfg.SlaveIDs == "" {
				defaultRoute = ds
				continue
			}
			ids, err := gateway.ParseSlaveIDs(dsCfg.SlaveIDs)
			if err != nil {
				slog.Error("Invalid slave_ids", "gateway", gwCfg.Name, "name", dsCfg.Name, "err", err)
				continue
			}
			for _, id := range ids {
				routes[id] = ds
			}
		}

		// Create Upstreams
		var upstreams []transport.Upstream
		for _, usCfg := range gwCfg.Upstreams {
			var us transport.Upstream
			switch usCfg.Type {
			case "tcp":
				us = tcp.NewServer(usCfg.Tcp.Address)
			case "rtu":
				us = rtu.NewServer(usCfg.Serial)
			case "rtu-over-tcp":
				us = rtuovertcp.NewServer(usCfg.Tcp.Address)
			default:
				slog.Error("Unknown upstream type", "type", usCfg.Type, "gateway", gwCfg.Name)
				continue
			}
			upstreams = append(upstreams, us)
		}

		gw := gateway.NewGateway(gwCfg.Name, upstreams, routes, defaultRoute)
		gateways = append(gateways, gw)
	}

	if len(gateways) == 0 {
		slog.Error("No valid gateways configured. Exiting.")
		os.Exit(1)
	}

	// Start Gateways
	var wg sync.WaitGroup
	for _, gw := range gateways {
		wg.Add(1)
		go func(g *gateway.Gateway) {
			defer wg.Done()
			if err := g.Start(ctx); err != nil {
				slog.Error("Gateway stopped with error", "name", g.Name, "err", err)
			}
		}(gw)
	}

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	slog.Info("Goodbye.")
}

// newDownstream builds the transport.Downstream a gateway forwards
// requests to, per the configured downstream type.
func newDownstream(cfg config.DownstreamConfig) (transport.Downstream, error) {
	switch cfg.Type {
	case "tcp":
		return tcp.NewClient(cfg.Tcp.Address), nil
	case "rtu":
		return rtu.NewClient(cfg.Serial), nil
	case "rtu-over-tcp":
		return rtuovertcp.NewClient(cfg.Tcp.Address), nil
	case "local":
		storage, err := newStorage(cfg.Local.Persistence)
		if err != nil {
			return nil, err
		}
		m, err := storage.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load local slave data: %w", err)
		}
		quirks := core.Quirks{RouteFC6ToInputs: cfg.Local.Quirks.RouteFC6ToInputs}
		return localslave.NewLocalSlave(0, m, storage, quirks), nil
	default:
		return nil, fmt.Errorf("unknown downstream type %q", cfg.Type)
	}
}

func newStorage(cfg config.PersistenceConfig) (persistence.Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return persistence.NewMemoryStorage(), nil
	case "file":
		return persistence.NewFileStorage(cfg.Path), nil
	case "mmap":
		return persistence.NewMmapStorage(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
