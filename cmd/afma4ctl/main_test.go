package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/afma4/internal/fsutil"
	"github.com/banshee-data/afma4/internal/journal"
	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/posfile"
	"github.com/banshee-data/afma4/internal/testutil"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "-version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "afma4ctl dev")
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"-dev", "-no-journal", "dance"}},
		{"bad frame", []string{"-dev", "-no-journal", "get", "polar"}},
		{"move without file", []string{"-dev", "-no-journal", "move"}},
		{"velocity without values", []string{"-dev", "-no-journal", "velocity", "camera"}},
		{"velocity bad number", []string{"-dev", "-no-journal", "velocity", "articular", "x", "0", "0", "0"}},
		{"power bad action", []string{"-dev", "-no-journal", "power", "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.MuteLogs(t)
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, 2, code)
		})
	}
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afma4.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"positioning_velocity": 0}`), 0o644))

	code, _, errOut := runCLI(t, "-config", path, "-dev", "get")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "positioning_velocity")
}

func TestRun_Get(t *testing.T) {
	testutil.MuteLogs(t)

	code, out, errOut := runCLI(t, "-dev", "-no-journal", "get")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "articular: 0.0000 rad, 0.0000 m, 0.0000 rad, 0.0000 rad\n", out)

	code, out, errOut = runCLI(t, "-dev", "-no-journal", "get", "reference")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "reference: ")
}

func TestRun_SaveAndMove(t *testing.T) {
	testutil.MuteLogs(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "journal.db")

	saved := filepath.Join(dir, "home.pos")
	code, _, errOut := runCLI(t, "-dev", "-journal", db, "save", saved)
	require.Equal(t, 0, code, errOut)
	q, err := posfile.ReadFile(fsutil.OSFileSystem{}, saved)
	require.NoError(t, err)
	assert.Equal(t, kinematics.JointVector{}, q)

	target := filepath.Join(dir, "target.pos")
	want := kinematics.JointVector{0.1, 0.05, -0.1, 0.1}
	require.NoError(t, posfile.WriteFile(fsutil.OSFileSystem{}, target, want))

	code, out, errOut := runCLI(t, "-dev", "-journal", db, "move", "-speed", "100", target)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "articular: 0.1000 rad, 0.0500 m, -0.1000 rad, 0.1000 rad\n", out)

	j, err := journal.Open(db)
	require.NoError(t, err)
	defer j.Close()

	sessions, err := j.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	commands, err := j.Commands(sessions[1].ID)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "position", commands[0].Kind)
	assert.InDeltaSlice(t, want.Slice(), commands[0].Joints, 1e-9)
}

func TestRun_VelocityAndPlot(t *testing.T) {
	testutil.MuteLogs(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "journal.db")

	code, out, errOut := runCLI(t, "-dev", "-journal", db,
		"velocity", "-for", "100ms", "-period", "20ms", "articular", "0.1", "0", "0", "0")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "articular: ")

	j, err := journal.Open(db)
	require.NoError(t, err)
	sessions, err := j.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].ID

	commands, err := j.Commands(id)
	require.NoError(t, err)
	assert.NotEmpty(t, commands)
	for _, c := range commands {
		assert.Equal(t, "velocity", c.Kind)
	}

	transitions, err := j.Transitions(id)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(transitions), 2)
	assert.Equal(t, "velocity", transitions[0].To)
	assert.Equal(t, "stop", transitions[1].To)

	samples, err := j.Measurements(id, "velocity")
	require.NoError(t, err)
	assert.NotEmpty(t, samples)
	require.NoError(t, j.Close())

	png := filepath.Join(dir, "velocity.png")
	code, out, errOut = runCLI(t, "-journal", db, "plot", "-kind", "velocity", "latest", png)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "wrote "+png)
	assert.FileExists(t, png)

	html := filepath.Join(dir, "velocity.html")
	code, _, errOut = runCLI(t, "-journal", db, "plot", "-kind", "velocity", id.String(), html)
	require.Equal(t, 0, code, errOut)
	body, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(body), "echarts")

	code, out, errOut = runCLI(t, "-journal", db, "sessions")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, id.String())
}

func TestRun_Power(t *testing.T) {
	testutil.MuteLogs(t)

	code, out, errOut := runCLI(t, "-dev", "-no-journal", "power", "status")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "power: on\n", out)

	code, out, errOut = runCLI(t, "-dev", "-no-journal", "power", "off")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "power: off\n", out)
}

func TestRun_Migrate(t *testing.T) {
	testutil.MuteLogs(t)
	db := filepath.Join(t.TempDir(), "journal.db")

	code, out, errOut := runCLI(t, "-journal", db, "migrate")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "schema version 1 (dirty=false)")
}

func TestRun_PlotEmptyJournal(t *testing.T) {
	testutil.MuteLogs(t)
	db := filepath.Join(t.TempDir(), "journal.db")

	code, _, errOut := runCLI(t, "-journal", db, "plot", "latest", filepath.Join(t.TempDir(), "x.png"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no sessions")
}
