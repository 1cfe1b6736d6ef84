// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLivecode/pkg/logging"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/apply"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 120*time.Second, cfg.Agent.TurnTimeout)
	assert.Equal(t, 8, cfg.Agent.ToolBudget)
	assert.Equal(t, 1, cfg.Agent.RepairBudget)
	assert.Equal(t, 0.5, cfg.Apply.DefaultCPS)
	assert.Equal(t, 250*time.Millisecond, cfg.Apply.MinCycle)
	assert.Equal(t, "replace", cfg.Apply.ActivationPolicy)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCInterval)
	require.NoError(t, Validate(cfg))
}

func TestParse_MergesOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
agent:
  tool_budget: 4
apply:
  activation_policy: independent
llm:
  model: local-model
  base_url: http://localhost:11434/v1
`))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Agent.ToolBudget)
	assert.Equal(t, 120*time.Second, cfg.Agent.TurnTimeout, "unset keys keep defaults")
	assert.Equal(t, "independent", cfg.Apply.ActivationPolicy)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown key", yaml: "agent:\n  tool_budgett: 3\n", want: "tool_budgett"},
		{name: "zero tool budget", yaml: "agent:\n  tool_budget: 0\n", want: "ToolBudget"},
		{name: "bad policy", yaml: "apply:\n  activation_policy: queue\n", want: "ActivationPolicy"},
		{name: "bad base url", yaml: "llm:\n  base_url: not a url\n", want: "BaseURL"},
		{name: "missing model", yaml: "llm:\n  model: \"\"\n", want: "Model"},
		{name: "bad level", yaml: "logging:\n  level: loud\n", want: "Level"},
		{name: "bad duration", yaml: "agent:\n  turn_timeout: soon\n", want: "parse config"},
		{name: "storage path required", yaml: "storage:\n  path: \"\"\n", want: "Path"},
		{name: "bad trace exporter", yaml: "telemetry:\n  trace_exporter: zipkin\n", want: "TraceExporter"},
		{name: "otlp needs endpoint", yaml: "telemetry:\n  trace_exporter: otlp\n  otlp_endpoint: \"\"\n", want: "OTLPEndpoint"},
		{name: "bad metrics addr", yaml: "telemetry:\n  metrics_addr: nowhere\n", want: "MetricsAddr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_InMemoryStorageNeedsNoPath(t *testing.T) {
	cfg, err := Parse([]byte("storage:\n  path: \"\"\n  in_memory: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Storage.InMemory)
}

func TestValidate_WrapsErrInvalid(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.Temperature = 3
	assert.ErrorIs(t, Validate(cfg), ErrInvalid)
}

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "livecode.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(defaultsYAML), string(data))
}

func TestLoad_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livecode.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  repair_budget: 2\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Agent.RepairBudget)
}

func TestLoad_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livecode.yaml")
	big := "# " + strings.Repeat("x", MaxFileSize) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(big), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestAgentConfig_Runner(t *testing.T) {
	c := Defaults().Agent
	c.RepairBudget = 0
	c.ForcedFollowUps = 2

	rc := c.Runner()
	assert.Equal(t, c.TurnTimeout, rc.TurnTimeout)
	assert.Equal(t, -1, rc.RepairBudget, "an explicit zero disables repairs")
	assert.Equal(t, 2, rc.ForcedFollowUps)
	assert.Equal(t, c.MaxModelRounds, rc.MaxModelRounds)
}

func TestApplyConfig_GateOptions(t *testing.T) {
	opts, err := ApplyConfig{DefaultCPS: 0.5, ActivationPolicy: "independent"}.GateOptions(nil)
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	_, err = ApplyConfig{ActivationPolicy: "queue"}.GateOptions(nil)
	assert.Error(t, err)

	gate := apply.NewGate(nil, opts...)
	assert.NotNil(t, gate.Scheduler())
}

func TestLLMConfig_OpenAIReadsKeyFromEnv(t *testing.T) {
	t.Setenv("LIVECODE_TEST_KEY", "  sk-test  ")

	cfg := LLMConfig{Model: "m", APIKeyEnv: "LIVECODE_TEST_KEY", RequestsPerSecond: 1, Burst: 3}.OpenAI(nil)
	assert.Equal(t, []byte("sk-test"), cfg.APIKey)
	assert.Equal(t, 3, cfg.Burst)

	cfg = LLMConfig{Model: "m", APIKeyEnv: "LIVECODE_TEST_MISSING"}.OpenAI(nil)
	assert.Empty(t, cfg.APIKey)
}

func TestStorageConfig_Store(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	sc := StorageConfig{Path: "~/sessions", SyncWrites: true, GCInterval: time.Minute}.Store(nil)
	assert.Equal(t, filepath.Join(home, "sessions"), sc.Path)
	assert.True(t, sc.SyncWrites)
	assert.Equal(t, time.Minute, sc.GCInterval)
}

func TestTelemetryConfig_Telemetry(t *testing.T) {
	tc := Defaults().Telemetry.Telemetry()
	assert.Equal(t, "none", tc.TraceExporter)
	assert.Equal(t, "prometheus", tc.MetricExporter)

	tc = TelemetryConfig{TraceExporter: "otlp", OTLPEndpoint: "collector:4317"}.Telemetry()
	assert.Equal(t, "otlp", tc.TraceExporter)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.Equal(t, "prometheus", tc.MetricExporter, "empty fields keep defaults")

	cfg, err := Parse([]byte("telemetry:\n  metrics_addr: 127.0.0.1:9464\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9464", cfg.Telemetry.MetricsAddr)
}

func TestLoggingConfig_Logger(t *testing.T) {
	lc, err := LoggingConfig{Level: "debug", Dir: "/tmp/logs", Quiet: true}.Logger("livecode")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "livecode", lc.Service)
	assert.True(t, lc.Quiet)

	lc, err = LoggingConfig{}.Logger("livecode")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelInfo, lc.Level)

	_, err = LoggingConfig{Level: "loud"}.Logger("livecode")
	assert.Error(t, err)
}
