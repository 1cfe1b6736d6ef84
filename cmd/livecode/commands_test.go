// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLivecode/pkg/validation"
	"github.com/AleutianAI/AleutianLivecode/services/livecode/conversation"
)

const legacyExport = `[
	{"id":"m1","role":"user","content":"make a techno beat"},
	{"id":"m2","role":"assistant","parts":[{"type":"text","text":"Techno is playing."}]}
]`

// writeConfig writes a config that keeps every path under dir. A non-empty
// baseURL lets the OpenAI client start without a key.
func writeConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	path := filepath.Join(dir, "livecode.yaml")
	data := fmt.Sprintf(`storage:
  path: %s
  sync_writes: false
host:
  code_file: %s
logging:
  dir: ""
  quiet: true
telemetry:
  metric_exporter: none
llm:
  base_url: %q
  api_key_env: LIVECODE_TEST_NO_SUCH_KEY
`, filepath.Join(dir, "sessions"), filepath.Join(dir, "pattern.js"), baseURL)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	out, err := execute(t, "", "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	out, err = execute(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "tool_budget: 8")
	assert.Contains(t, out, "activation_policy: replace")
	assert.Contains(t, out, "metric_exporter: none")
}

func TestSessionsCommands(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	export := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(export, []byte(legacyExport), 0o600))

	out, err := execute(t, "", "--config", path, "--plain", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "# No saved sessions.")

	out, err = execute(t, "", "--config", path, "--plain", "sessions", "import", "legacy", export)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: Imported session legacy with 1 branch(es).")

	out, err = execute(t, "", "--config", path, "--plain", "sessions", "list")
	require.NoError(t, err)
	assert.Equal(t, "legacy\n", out)

	out, err = execute(t, "", "--config", path, "--plain", "sessions", "show", "legacy")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] you: make a techno beat")
	assert.Contains(t, out, "    assistant: Techno is playing.")

	out, err = execute(t, "", "--config", path, "--plain", "sessions", "delete", "legacy")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: Deleted session legacy.")

	_, err = execute(t, "", "--config", path, "sessions", "show", "legacy")
	assert.ErrorIs(t, err, conversation.ErrSessionNotFound)
}

func TestSessionsImport_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	export := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(export, []byte("{not json"), 0o600))

	_, err := execute(t, "", "--config", path, "sessions", "import", "bad", export)
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrInvalidSession)
	assert.Contains(t, err.Error(), "is not a session export")
}

func TestCommands_RejectInvalidSessionIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "http://127.0.0.1:1/v1")

	_, err := execute(t, "", "--config", path, "sessions", "show", "../secrets")
	assert.ErrorIs(t, err, validation.ErrInvalidSessionID)

	_, err = execute(t, "", "--config", path, "--session", "my set")
	assert.ErrorIs(t, err, validation.ErrInvalidSessionID)
}

func TestOpenApp_MissingKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	_, err := openApp(context.Background(), path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVECODE_TEST_NO_SUCH_KEY")

	// The failed open released the session database.
	b, err := openBase(path)
	require.NoError(t, err)
	b.Close()
}

func TestOpenApp_ResumesSession(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "http://127.0.0.1:1/v1")

	b, err := openBase(path)
	require.NoError(t, err)
	require.NoError(t, b.sessions.SaveRaw(context.Background(), "s1", []byte(legacyExport)))
	b.Close()

	a, err := openApp(context.Background(), path, "s1")
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "s1", a.runner.SessionID())
	msgs := a.runner.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "make a techno beat", msgs[0].Text())
}

func TestRootCmd_RunsChatOnStdin(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "http://127.0.0.1:1/v1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pattern.js"), []byte(`s("hh*8")`), 0o600))

	out, err := execute(t, "/session\n/code\n/quit\n", "--config", path, "--plain", "--session", "cli-test")
	require.NoError(t, err)

	assert.Contains(t, out, "Aleutian Livecode")
	assert.Contains(t, out, "cli-test")
	assert.Contains(t, out, `s("hh*8")`)
}
