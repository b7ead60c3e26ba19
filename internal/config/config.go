package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/serialmux"
	"github.com/banshee-data/afma4/internal/units"
)

// DefaultConfigPath is the path to the canonical controller defaults file.
const DefaultConfigPath = "config/afma4.defaults.json"

// Defaults applied by the Get* accessors when a field is omitted.
const (
	DefaultSerialPort          = "/dev/ttyUSB0"
	DefaultPositioningVelocity = 20.0
	DefaultJournalPath         = "afma4.db"
	DefaultStopTimeout         = 500 * time.Millisecond
	DefaultMoveTimeout         = 60 * time.Second
)

// Extrinsic is the camera pose in the end-effector frame (eMc).
type Extrinsic struct {
	Translation [3]float64 `json:"translation"`
	ThetaU      [3]float64 `json:"theta_u"`
}

// ControllerConfig is the controller configuration file. Every field is
// optional; omitted fields fall back to the defaults above.
type ControllerConfig struct {
	// Serial link
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty"`

	// Motion
	PositioningVelocity *float64    `json:"positioning_velocity,omitempty"` // percent of max speed
	VelocityLimits      *[4]float64 `json:"velocity_limits,omitempty"`      // rad/s, m/s
	CameraExtrinsic     *Extrinsic  `json:"camera_extrinsic,omitempty"`

	// Timeouts, as duration strings like "500ms"
	StopTimeout *string `json:"stop_timeout,omitempty"`
	MoveTimeout *string `json:"move_timeout,omitempty"`

	JournalPath *string `json:"journal_path,omitempty"`
	AngleUnit   *string `json:"angle_unit,omitempty"` // for printed positions
}

// Load reads a ControllerConfig from a JSON file. The file must have a .json
// extension and be under 1MB.
func Load(path string) (*ControllerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ControllerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *ControllerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validDuration(name string, s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// Validate checks that the configured values are usable.
func (c *ControllerConfig) Validate() error {
	if _, err := c.GetPortOptions().Normalize(); err != nil {
		return err
	}

	if c.PositioningVelocity != nil {
		if err := units.Percent(*c.PositioningVelocity).Validate(); err != nil {
			return fmt.Errorf("positioning_velocity: %w", err)
		}
	}

	if c.VelocityLimits != nil {
		for i, v := range c.VelocityLimits {
			if !(v > 0) || math.IsInf(v, 0) {
				return fmt.Errorf("velocity_limits[%d] must be positive, got %g", i, v)
			}
		}
	}

	if err := validDuration("stop_timeout", c.StopTimeout); err != nil {
		return err
	}
	if err := validDuration("move_timeout", c.MoveTimeout); err != nil {
		return err
	}

	if c.AngleUnit != nil && !units.IsValidAngle(*c.AngleUnit) {
		return fmt.Errorf("angle_unit must be one of %v, got %q", units.ValidAngleUnits, *c.AngleUnit)
	}
	return nil
}

// GetSerialPort returns the serial device path or the default.
func (c *ControllerConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetPortOptions returns the configured serial options. Unset values are left
// zero for serialmux.PortOptions.Normalize to fill in.
func (c *ControllerConfig) GetPortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetPositioningVelocity returns the positioning velocity percentage or the default.
func (c *ControllerConfig) GetPositioningVelocity() float64 {
	if c.PositioningVelocity == nil {
		return DefaultPositioningVelocity
	}
	return *c.PositioningVelocity
}

// GetVelocityLimits returns per-joint velocity limits, or nil to keep the
// controller's defaults.
func (c *ControllerConfig) GetVelocityLimits() *kinematics.JointVector {
	if c.VelocityLimits == nil {
		return nil
	}
	l := kinematics.JointVector(*c.VelocityLimits)
	return &l
}

// GetCameraExtrinsic returns the calibrated eMc or the stock mount.
func (c *ControllerConfig) GetCameraExtrinsic() kinematics.Pose {
	if c.CameraExtrinsic == nil {
		return kinematics.DefaultCameraExtrinsic()
	}
	return kinematics.NewPoseFromThetaU(c.CameraExtrinsic.Translation, c.CameraExtrinsic.ThetaU)
}

// GetJournalPath returns the journal database path or the default.
func (c *ControllerConfig) GetJournalPath() string {
	if c.JournalPath == nil || *c.JournalPath == "" {
		return DefaultJournalPath
	}
	return *c.JournalPath
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetStopTimeout returns the emergency stop timeout or the default.
func (c *ControllerConfig) GetStopTimeout() time.Duration {
	return parseDurationOr(c.StopTimeout, DefaultStopTimeout)
}

// GetMoveTimeout returns the position move timeout or the default.
func (c *ControllerConfig) GetMoveTimeout() time.Duration {
	return parseDurationOr(c.MoveTimeout, DefaultMoveTimeout)
}

// GetAngleUnit returns the unit for printed rotational values.
func (c *ControllerConfig) GetAngleUnit() string {
	if c.AngleUnit == nil || *c.AngleUnit == "" {
		return units.Radians
	}
	return *c.AngleUnit
}
