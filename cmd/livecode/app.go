// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLivecode/pkg/logging"
	"github.com/AleutianAI/AleutianLivecode/pkg/ux"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/llm"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/config"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation/store"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/host"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/knowledge"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/telemetry"
)

// shutdownTimeout bounds telemetry flush and metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// base holds what every subcommand needs: config, logger and sessions.
type base struct {
	cfg      config.Config
	logger   *logging.Logger
	db       *store.DB
	sessions *store.SessionStore
}

func openBase(configPath string) (*base, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	lc, err := cfg.Logging.Logger("livecode")
	if err != nil {
		return nil, err
	}
	logger := logging.New(lc)

	db, err := store.OpenDB(cfg.Storage.Store(logger.Slog()))
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &base{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		sessions: store.NewSessionStore(db, logger.Slog()),
	}, nil
}

func (b *base) Close() {
	if err := b.db.Close(); err != nil {
		b.logger.Warn("close session store", "error", err)
	}
	b.logger.Close()
}

// app is a running chat session with its host, gate and model client.
type app struct {
	*base

	host      *host.FileHost
	gate      *apply.Gate
	knowledge *knowledge.CachedProvider
	runner    *agent.Runner

	shutdownTelemetry func(context.Context) error
	metrics           *http.Server

	cancel context.CancelFunc
	group  *errgroup.Group
	gctx   context.Context
}

// openApp wires a runner for sessionID, resuming it from the store when a
// record exists. An empty sessionID starts a new session.
//
// Description:
//
//	Loads config, opens the session database and the pattern file host,
//	builds the apply gate and the completion client, and installs the
//	telemetry exporters. Background work started later by watchHost and
//	serveMetrics runs on an errgroup bound to ctx and stops in Close.
//
// Inputs:
//
//	ctx - Bounds background work.
//	configPath - Config file, or "" for the default.
//	sessionID - Session to resume or create.
//
// Outputs:
//
//	*app - The wired app. Close must be called.
//	error - Non-nil if any collaborator fails to open.
func openApp(ctx context.Context, configPath, sessionID string) (a *app, err error) {
	b, err := openBase(configPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()
	logger := b.logger.Slog()

	fh, err := host.NewFileHost(config.ExpandPath(b.cfg.Host.CodeFile), config.ExpandPath(b.cfg.Host.InventoryFile), logger)
	if err != nil {
		return nil, fmt.Errorf("open pattern file: %w", err)
	}

	gateOpts, err := b.cfg.Apply.GateOptions(logger)
	if err != nil {
		return nil, err
	}
	gate := apply.NewGate(fh, gateOpts...)

	client, err := llm.NewOpenAIClient(b.cfg.LLM.OpenAI(logger))
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, fmt.Errorf("%w: set %s or llm.base_url in the config", err, b.cfg.LLM.APIKeyEnv)
		}
		return nil, err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, b.cfg.Telemetry.Telemetry())
	if err != nil {
		return nil, err
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session, err := b.sessions.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, conversation.ErrSessionNotFound) {
		shutdownTelemetry(context.Background())
		return nil, err
	}

	kp := knowledge.NewCachedProvider(knowledge.HostProvider(fh))
	runner, err := agent.NewRunner(agent.Deps{
		Client:    client,
		Host:      fh,
		Gate:      gate,
		Knowledge: kp,
		Store:     b.sessions,
		Logger:    logger,
	},
		agent.WithConfig(b.cfg.Agent.Runner()),
		agent.WithSessionID(sessionID),
		agent.WithSession(session),
	)
	if err != nil {
		shutdownTelemetry(context.Background())
		return nil, err
	}

	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)
	b.logger.Info("session opened", "session_id", sessionID, "resumed", session != nil, "config", b.cfg.String())

	return &app{
		base:              b,
		host:              fh,
		gate:              gate,
		knowledge:         kp,
		runner:            runner,
		shutdownTelemetry: shutdownTelemetry,
		cancel:            cancel,
		group:             group,
		gctx:              gctx,
	}, nil
}

// watchHost reports edits made to the pattern file outside the session.
func (a *app) watchHost(out *ux.Printer) {
	a.group.Go(func() error {
		return a.host.Watch(a.gctx, func(snap host.Snapshot) {
			a.logger.Info("pattern file changed externally", "hash", snap.Hash)
			out.Muted("Pattern file changed outside the session.")
		})
	})
}

// serveMetrics serves /metrics on addr until Close.
func (a *app) serveMetrics(addr string) error {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		return errors.New("metrics_addr requires telemetry.metric_exporter: prometheus")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.group.Go(func() error {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	a.logger.Info("serving metrics", "addr", addr)
	return nil
}

// Close stops the runner, drops scheduled changes and stops background work.
func (a *app) Close() {
	a.runner.Close()
	if n := a.gate.Scheduler().CancelAll(); n > 0 {
		a.logger.Info("dropped scheduled changes on exit", "count", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	a.cancel()
	if err := a.group.Wait(); err != nil {
		a.logger.Warn("background task failed", "error", err)
	}
	if err := a.shutdownTelemetry(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
	a.base.Close()
}
