// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the livecode YAML configuration.
//
// The embedded defaults.yaml is decoded first and the user file is decoded
// over it, so a user file only needs the keys it changes. The merged result
// is validated with struct tags before use.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLivecode/pkg/logging"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/agent/llm"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation/store"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/telemetry"
)

// Config is the root of livecode.yaml.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Apply     ApplyConfig     `yaml:"apply"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Host      HostConfig      `yaml:"host"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AgentConfig bounds each turn.
type AgentConfig struct {
	TurnTimeout             time.Duration `yaml:"turn_timeout" validate:"gt=0"`
	ToolBudget              int           `yaml:"tool_budget" validate:"gte=1,lte=64"`
	RepairBudget            int           `yaml:"repair_budget" validate:"gte=0,lte=8"`
	KnowledgeLookupsPerTurn int           `yaml:"knowledge_lookups_per_turn" validate:"gte=0,lte=8"`
	ForcedFollowUps         int           `yaml:"forced_follow_ups" validate:"gte=0,lte=4"`
	MaxModelRounds          int           `yaml:"max_model_rounds" validate:"gte=1,lte=64"`
	Temperature             float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	ReasoningEffort         string        `yaml:"reasoning_effort" validate:"omitempty,oneof=minimal low medium high"`
	MaxTokens               int           `yaml:"max_tokens" validate:"gte=0"`
}

// ApplyConfig controls activation timing.
type ApplyConfig struct {
	DefaultCPS       float64       `yaml:"default_cps" validate:"gt=0,lte=10"`
	MinCycle         time.Duration `yaml:"min_cycle" validate:"gte=0"`
	ActivationPolicy string        `yaml:"activation_policy" validate:"omitempty,oneof=replace independent"`
}

// LLMConfig selects the completion endpoint.
type LLMConfig struct {
	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the key. The key
	// itself is never stored in the file.
	APIKeyEnv         string  `yaml:"api_key_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// StorageConfig locates the session database.
type StorageConfig struct {
	Path       string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// HostConfig locates the pattern file and its sound inventory.
type HostConfig struct {
	CodeFile      string `yaml:"code_file" validate:"required"`
	InventoryFile string `yaml:"inventory_file"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// TelemetryConfig selects exporters. MetricsAddr, when set, serves
// /metrics on that address.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	MetricsAddr    string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Runner converts the agent section to turn bounds.
func (c AgentConfig) Runner() agent.Config {
	return agent.Config{
		TurnTimeout:             c.TurnTimeout,
		ToolBudget:              c.ToolBudget,
		RepairBudget:            noneIfZero(c.RepairBudget),
		KnowledgeLookupsPerTurn: noneIfZero(c.KnowledgeLookupsPerTurn),
		ForcedFollowUps:         noneIfZero(c.ForcedFollowUps),
		MaxModelRounds:          c.MaxModelRounds,
		Temperature:             c.Temperature,
		ReasoningEffort:         c.ReasoningEffort,
		MaxTokens:               c.MaxTokens,
	}
}

// noneIfZero maps an explicit zero in the file to the runner's "none"
// value, since the runner treats zero as "use the default".
func noneIfZero(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// GateOptions converts the apply section to gate options.
func (c ApplyConfig) GateOptions(logger *slog.Logger) ([]apply.Option, error) {
	policy, err := apply.ParseActivationPolicy(c.ActivationPolicy)
	if err != nil {
		return nil, err
	}
	opts := []apply.Option{
		apply.WithActivationPolicy(policy),
		apply.WithDefaultCyclesPerSecond(c.DefaultCPS),
		apply.WithMinCycle(c.MinCycle),
	}
	if logger != nil {
		opts = append(opts, apply.WithLogger(logger))
	}
	return opts, nil
}

// OpenAI builds the client configuration, reading the key from the
// environment variable named by APIKeyEnv.
func (c LLMConfig) OpenAI(logger *slog.Logger) llm.OpenAIConfig {
	cfg := llm.OpenAIConfig{
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Logger:            logger,
	}
	if c.APIKeyEnv != "" {
		if key := strings.TrimSpace(os.Getenv(c.APIKeyEnv)); key != "" {
			cfg.APIKey = []byte(key)
		}
	}
	return cfg
}

// Store converts the storage section to a database configuration.
func (c StorageConfig) Store(logger *slog.Logger) store.Config {
	cfg := store.DefaultConfig()
	cfg.Path = ExpandPath(c.Path)
	cfg.InMemory = c.InMemory
	cfg.SyncWrites = c.SyncWrites
	cfg.GCInterval = c.GCInterval
	cfg.Logger = logger
	return cfg
}

// Logger converts the logging section to a logger configuration.
func (c LoggingConfig) Logger(service string) (logging.Config, error) {
	level := logging.LevelInfo
	if c.Level != "" {
		var err error
		if level, err = logging.ParseLevel(c.Level); err != nil {
			return logging.Config{}, err
		}
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.JSON,
		Quiet:   c.Quiet,
	}, nil
}

// Telemetry converts the telemetry section to exporter settings.
func (c TelemetryConfig) Telemetry() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if c.TraceExporter != "" {
		cfg.TraceExporter = c.TraceExporter
	}
	if c.MetricExporter != "" {
		cfg.MetricExporter = c.MetricExporter
	}
	if c.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = c.OTLPEndpoint
	}
	return cfg
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func (c Config) String() string {
	return fmt.Sprintf("model=%s policy=%s storage=%s code=%s",
		c.LLM.Model, c.Apply.ActivationPolicy, c.Storage.Path, c.Host.CodeFile)
}
