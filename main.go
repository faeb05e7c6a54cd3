// Copyright (c) 2026 brainelectronics. All rights reserved.
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

	"github.com/brainelectronics/go-modbus/internal/config"
	"github.com/brainelectronics/go-modbus/registers"
	"github.com/brainelectronics/go-modbus/slave"
	"github.com/brainelectronics/go-modbus/transport"
	"github.com/brainelectronics/go-modbus/transport/rtu"
	rtuovertcp "github.com/brainelectronics/go-modbus/transport/rtu-over-tcp"
	"github.com/brainelectronics/go-modbus/transport/tcp"
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

	slog.Info("Starting Modbus responder...")

	// One shared register store backs every listener; a write through
	// the TCP listener is visible to RTU readers and vice versa.
	store := registers.NewStore()
	if cfg.Server.Registers != "" {
		defs, err := registers.LoadDefinitions(cfg.Server.Registers)
		if err != nil {
			slog.Error("Failed to load register definitions", "file", cfg.Server.Registers, "err", err)
			os.Exit(1)
		}
		if err := defs.Apply(store); err != nil {
			slog.Error("Failed to apply register definitions", "file", cfg.Server.Registers, "err", err)
			os.Exit(1)
		}
	}

	units, err := config.ParseUnitIDs(cfg.Server.Units)
	if err != nil {
		slog.Error("Failed to parse unit addresses", "units", cfg.Server.Units, "err", err)
		os.Exit(1)
	}

	handler := slave.New(store).Handle

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create Listeners
	var listeners []transport.Listener
	for _, lsCfg := range cfg.Server.Listeners {
		switch lsCfg.Type {
		case "tcp":
			listeners = append(listeners, &tcp.Server{Address: lsCfg.Tcp.Address})
		case "rtu":
			srv := rtu.NewServer(lsCfg.Serial)
			srv.Units = units
			listeners = append(listeners, srv)
		case "rtu-over-tcp":
			srv := rtuovertcp.NewServer(lsCfg.Tcp.Address)
			srv.Units = units
			listeners = append(listeners, srv)
		default:
			slog.Error("Unknown listener type", "type", lsCfg.Type)
		}
	}

	if len(listeners) == 0 {
		slog.Error("No valid listeners configured. Exiting.")
		os.Exit(1)
	}

	// Start Listeners
	var wg sync.WaitGroup
	for _, ls := range listeners {
		wg.Add(1)
		go func(l transport.Listener) {
			defer wg.Done()
			if err := l.Start(ctx, handler); err != nil {
				slog.Error("Listener stopped with error", "err", err)
			}
		}(ls)
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
