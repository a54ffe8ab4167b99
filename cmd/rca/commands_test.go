// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data, err := filepath.Abs(filepath.Join("..", "..", "services", "rca", "testdata"))
	require.NoError(t, err)
	path := filepath.Join(dir, "rca.yaml")
	body := fmt.Sprintf("server:\n  gin_mode: test\nstore:\n  backend: sqlite\n  path: %s\ndata:\n  dir: %s\ntelemetry:\n  metrics_enabled: false\n",
		filepath.Join(dir, "runs.db"), data)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunStatusList(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "run", "--config", cfg, "--log-level", "error", "--month", "2024-01", "--region", "EMEA", "--comparison", "plan")
	require.NoError(t, err)
	var view datatypes.RunStatusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "rca-202401-EMEA", view.RunID)
	assert.Equal(t, datatypes.StatusCompleted, view.Status)

	out, err = execute(t, "status", "rca-202401-EMEA", "--config", cfg, "--log-level", "error")
	require.NoError(t, err)
	var rec datatypes.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.NotNil(t, rec.Payload)
	assert.Equal(t, datatypes.ComparisonPlan, rec.Payload.Comparison)

	out, err = execute(t, "list", "--config", cfg, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "rca-202401-EMEA")
	assert.Contains(t, out, "1 of 1 runs")
}

func TestRun_Errors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "run", "--config", cfg, "--log-level", "error")
	assert.ErrorContains(t, err, "month")

	_, err = execute(t, "run", "--config", cfg, "--log-level", "error", "--month", "2024-13")
	assert.Error(t, err)

	_, err = execute(t, "status", "missing", "--config", cfg, "--log-level", "error")
	assert.ErrorContains(t, err, "run not found")

	_, err = execute(t, "list", "--config", cfg, "--status", "done")
	assert.ErrorContains(t, err, "unknown status")

	_, err = execute(t, "list", "--log-level", "loud")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestRunCmd_FullSweepHelpNamesEveryDimension(t *testing.T) {
	cmd := newRunCmd(&cliOptions{})
	flag := cmd.Flags().Lookup("full-sweep")
	require.NotNil(t, flag)
	for _, dim := range []string{"region", "BU", "product line", "segment", "metric"} {
		assert.Contains(t, flag.Usage, dim)
	}
}
