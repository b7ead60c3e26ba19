package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if cfg.GetSerialPort() != DefaultSerialPort {
		t.Errorf("GetSerialPort() = %q, want %q", cfg.GetSerialPort(), DefaultSerialPort)
	}
	if cfg.GetPositioningVelocity() != DefaultPositioningVelocity {
		t.Errorf("GetPositioningVelocity() = %g, want %g", cfg.GetPositioningVelocity(), DefaultPositioningVelocity)
	}
	if cfg.GetStopTimeout() != DefaultStopTimeout {
		t.Errorf("GetStopTimeout() = %v, want %v", cfg.GetStopTimeout(), DefaultStopTimeout)
	}
	assert.True(t, cfg.GetCameraExtrinsic().EqualApprox(kinematics.DefaultCameraExtrinsic(), 1e-12))
	require.NotNil(t, cfg.GetVelocityLimits())
	assert.Equal(t, kinematics.JointVector{0.7, 0.5, 0.7, 0.7}, *cfg.GetVelocityLimits())
}

func TestGetterDefaults(t *testing.T) {
	cfg := &ControllerConfig{}

	assert.Equal(t, DefaultSerialPort, cfg.GetSerialPort())
	assert.Equal(t, serialmux.PortOptions{}, cfg.GetPortOptions())
	assert.Equal(t, 20.0, cfg.GetPositioningVelocity())
	assert.Nil(t, cfg.GetVelocityLimits())
	assert.Equal(t, DefaultJournalPath, cfg.GetJournalPath())
	assert.Equal(t, DefaultStopTimeout, cfg.GetStopTimeout())
	assert.Equal(t, DefaultMoveTimeout, cfg.GetMoveTimeout())
	assert.Equal(t, "rad", cfg.GetAngleUnit())
	assert.True(t, cfg.GetCameraExtrinsic().EqualApprox(kinematics.DefaultCameraExtrinsic(), 0))
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "afma4.json", `{
  "serial_port": "/dev/ttyS1",
  "baud_rate": 57600,
  "parity": "even",
  "positioning_velocity": 40,
  "velocity_limits": [0.2, 0.1, 0.2, 0.2],
  "camera_extrinsic": {"translation": [0.01, 0.02, 0.03], "theta_u": [0, 0, 0.1]},
  "stop_timeout": "250ms",
  "move_timeout": "2m",
  "journal_path": "/var/lib/afma4/journal.db",
  "angle_unit": "deg"
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS1", cfg.GetSerialPort())
	assert.Equal(t, serialmux.PortOptions{BaudRate: 57600, Parity: "even"}, cfg.GetPortOptions())
	assert.Equal(t, 40.0, cfg.GetPositioningVelocity())
	assert.Equal(t, kinematics.JointVector{0.2, 0.1, 0.2, 0.2}, *cfg.GetVelocityLimits())
	assert.Equal(t, 250*time.Millisecond, cfg.GetStopTimeout())
	assert.Equal(t, 2*time.Minute, cfg.GetMoveTimeout())
	assert.Equal(t, "/var/lib/afma4/journal.db", cfg.GetJournalPath())
	assert.Equal(t, "deg", cfg.GetAngleUnit())

	eMc := cfg.GetCameraExtrinsic()
	assert.Equal(t, [3]float64{0.01, 0.02, 0.03}, eMc.Translation())
	tu := eMc.ThetaU()
	assert.InDeltaSlice(t, []float64{0, 0, 0.1}, tu[:], 1e-12)
}

func TestLoadPartial(t *testing.T) {
	cfg, err := Load(writeConfig(t, "partial.json", `{"positioning_velocity": 5}`))
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.GetPositioningVelocity())
	assert.Equal(t, DefaultMoveTimeout, cfg.GetMoveTimeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"baud rate", `{"baud_rate": 12345}`, "unsupported baud rate"},
		{"parity", `{"parity": "mark"}`, "unsupported parity"},
		{"data bits", `{"data_bits": 9}`, "invalid data bits"},
		{"zero velocity", `{"positioning_velocity": 0}`, "positioning_velocity"},
		{"fast velocity", `{"positioning_velocity": 150}`, "positioning_velocity"},
		{"velocity limit", `{"velocity_limits": [0.7, 0, 0.7, 0.7]}`, "velocity_limits[1]"},
		{"stop timeout", `{"stop_timeout": "soon"}`, "invalid stop_timeout"},
		{"negative move timeout", `{"move_timeout": "-1s"}`, "move_timeout must be positive"},
		{"angle unit", `{"angle_unit": "grad"}`, "angle_unit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bad.json", tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsNonJSON(t *testing.T) {
	_, err := Load(writeConfig(t, "afma4.yaml", "{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json extension")
}

func TestLoadRejectsLargeFile(t *testing.T) {
	body := `{"journal_path": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := Load(writeConfig(t, "large.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadMissingAndMalformed(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "broken.json", `{"baud_rate": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config JSON")
}
