// Package config loads the site controller's JSON configuration file,
// following scheduler/config.go's pattern: a flat struct, a DefaultConfig,
// an alias-struct trick to (de)serialize time.Duration fields as human
// strings, and a Validate that reports the first broken invariant.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config holds every tunable named in the external-interfaces contract.
type Config struct {
	// Cadence
	CycleTime        time.Duration `json:"cycle_time"`         // meter poller + reporter period
	TargetPeriod     time.Duration `json:"target_period"`      // ESS poller period
	ControlInterval  time.Duration `json:"control_interval"`   // regulator period
	MaxParallelPolls int           `json:"max_parallel_polls"` // bounded fan-out cap

	// Control loop
	DeadbandKW       float64       `json:"deadband_kw"`
	KP               float64       `json:"kp"`
	MinWriteInterval time.Duration `json:"min_write_interval"`

	// Breaker
	BreakerCooldown time.Duration `json:"breaker_cooldown"`

	// Field bus
	FieldBusTimeout time.Duration `json:"field_bus_timeout"`
	RegisterMapDir  string        `json:"register_map_dir"`

	// Store
	PostgresConnString string `json:"postgres_conn_string"`

	// Upstream API
	AlteoAPIURL     string        `json:"alteo_api_url"`
	AlteoAPIKey     string        `json:"-"` // loaded from ALTEO_API_KEY, never persisted to disk
	UpstreamTimeout time.Duration `json:"upstream_timeout"`

	// Status/health server
	HealthCheckPort int `json:"health_check_port"` // 0 disables the server

	// Default plant location. Validated on load but not read by the
	// daylight gate, which always uses each plant row's own coordinates.
	DefaultLatitude  float64 `json:"default_latitude"`
	DefaultLongitude float64 `json:"default_longitude"`
}

// DefaultConfig returns a configuration with the spec's default tunables.
func DefaultConfig() *Config {
	return &Config{
		CycleTime:          2 * time.Second,
		TargetPeriod:       2 * time.Second,
		ControlInterval:    1500 * time.Millisecond,
		MaxParallelPolls:   10,
		DeadbandKW:         1.0,
		KP:                 0.3,
		MinWriteInterval:   4 * time.Second,
		BreakerCooldown:    5 * time.Minute,
		FieldBusTimeout:    1200 * time.Millisecond,
		RegisterMapDir:     "registermaps",
		PostgresConnString: "",
		AlteoAPIURL:        "",
		UpstreamTimeout:    5 * time.Second,
		HealthCheckPort:    0,
		DefaultLatitude:    56.9496, // Riga, Latvia
		DefaultLongitude:   24.1052,
	}
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader and validates
// it, including the ALTEO_API_KEY environment variable per §6.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	cfg.AlteoAPIKey = os.Getenv("ALTEO_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks every tunable's range, returning the first violation
// found. A configuration error is fatal at startup per the error taxonomy.
func (c *Config) Validate() error {
	if c.CycleTime <= 0 {
		return fmt.Errorf("cycle_time must be greater than 0, got: %s", c.CycleTime)
	}
	if c.TargetPeriod <= 0 {
		return fmt.Errorf("target_period must be greater than 0, got: %s", c.TargetPeriod)
	}
	if c.ControlInterval <= 0 {
		return fmt.Errorf("control_interval must be greater than 0, got: %s", c.ControlInterval)
	}
	if c.MaxParallelPolls <= 0 {
		return fmt.Errorf("max_parallel_polls must be greater than 0, got: %d", c.MaxParallelPolls)
	}
	if c.DeadbandKW < 0 {
		return fmt.Errorf("deadband_kw must be non-negative, got: %f", c.DeadbandKW)
	}
	if c.KP <= 0 {
		return fmt.Errorf("kp must be greater than 0, got: %f", c.KP)
	}
	if c.MinWriteInterval <= 0 {
		return fmt.Errorf("min_write_interval must be greater than 0, got: %s", c.MinWriteInterval)
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("breaker_cooldown must be greater than 0, got: %s", c.BreakerCooldown)
	}
	if c.FieldBusTimeout < time.Second || c.FieldBusTimeout > 1500*time.Millisecond {
		return fmt.Errorf("field_bus_timeout must be between 1.0s and 1.5s, got: %s", c.FieldBusTimeout)
	}
	if c.RegisterMapDir == "" {
		return fmt.Errorf("register_map_dir cannot be empty")
	}
	if c.PostgresConnString == "" {
		return fmt.Errorf("postgres_conn_string cannot be empty")
	}
	if c.AlteoAPIURL == "" {
		return fmt.Errorf("alteo_api_url cannot be empty")
	}
	if c.AlteoAPIKey == "" {
		return fmt.Errorf("ALTEO_API_KEY environment variable is required")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream_timeout must be greater than 0, got: %s", c.UpstreamTimeout)
	}
	if c.HealthCheckPort < 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("health_check_port must be between 0 and 65535, got: %d", c.HealthCheckPort)
	}
	if c.DefaultLatitude < -90 || c.DefaultLatitude > 90 {
		return fmt.Errorf("default_latitude must be between -90 and 90, got: %f", c.DefaultLatitude)
	}
	if c.DefaultLongitude < -180 || c.DefaultLongitude > 180 {
		return fmt.Errorf("default_longitude must be between -180 and 180, got: %f", c.DefaultLongitude)
	}
	return nil
}

// String renders the config as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// MarshalJSON serializes time.Duration fields as human strings ("2s")
// rather than raw nanosecond integers, matching scheduler/config.go's
// alias-struct shim.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		CycleTime        string `json:"cycle_time"`
		TargetPeriod     string `json:"target_period"`
		ControlInterval  string `json:"control_interval"`
		MinWriteInterval string `json:"min_write_interval"`
		BreakerCooldown  string `json:"breaker_cooldown"`
		FieldBusTimeout  string `json:"field_bus_timeout"`
		UpstreamTimeout  string `json:"upstream_timeout"`
	}{
		Alias:            (*Alias)(c),
		CycleTime:        c.CycleTime.String(),
		TargetPeriod:     c.TargetPeriod.String(),
		ControlInterval:  c.ControlInterval.String(),
		MinWriteInterval: c.MinWriteInterval.String(),
		BreakerCooldown:  c.BreakerCooldown.String(),
		FieldBusTimeout:  c.FieldBusTimeout.String(),
		UpstreamTimeout:  c.UpstreamTimeout.String(),
	})
}

// UnmarshalJSON parses the human-string duration fields back into
// time.Duration, leaving defaults in place when a field is omitted.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		CycleTime        string `json:"cycle_time"`
		TargetPeriod     string `json:"target_period"`
		ControlInterval  string `json:"control_interval"`
		MinWriteInterval string `json:"min_write_interval"`
		BreakerCooldown  string `json:"breaker_cooldown"`
		FieldBusTimeout  string `json:"field_bus_timeout"`
		UpstreamTimeout  string `json:"upstream_timeout"`
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	parse := func(field string, dst *time.Duration) {
		if err != nil || field == "" {
			return
		}
		*dst, err = time.ParseDuration(field)
	}
	parse(aux.CycleTime, &c.CycleTime)
	parse(aux.TargetPeriod, &c.TargetPeriod)
	parse(aux.ControlInterval, &c.ControlInterval)
	parse(aux.MinWriteInterval, &c.MinWriteInterval)
	parse(aux.BreakerCooldown, &c.BreakerCooldown)
	parse(aux.FieldBusTimeout, &c.FieldBusTimeout)
	parse(aux.UpstreamTimeout, &c.UpstreamTimeout)
	if err != nil {
		return fmt.Errorf("invalid duration in config: %w", err)
	}
	return nil
}
