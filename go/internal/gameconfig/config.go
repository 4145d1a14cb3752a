package gameconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Serial frame layout
const (
	DefaultDelimiter           = 33
	DefaultNumberArduinoValues = 7
	High                       = 1
	Low                        = 0
)

// Config holds every game and serial constant. It is passed by value into
// constructors and never mutated after Load.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Game   GameConfig   `yaml:"game"`
	// Database is only used by round history; empty URL disables it.
	Database DatabaseConfig `yaml:"database"`
}

// SerialConfig describes the device and its frame layout.
type SerialConfig struct {
	Port      string `yaml:"port"`
	BaudRate  int    `yaml:"baud_rate"`
	Delimiter byte   `yaml:"delimiter"`
	Fields    int    `yaml:"fields"`
	Format    string `yaml:"format"` // "binary" or "ascii"
}

// GameConfig holds round timing and spatial parameters.
type GameConfig struct {
	RoundTime              time.Duration `yaml:"round_time"`
	WarningTime            time.Duration `yaml:"warning_time"`
	TickInterval           time.Duration `yaml:"tick_interval"`
	FieldWidth             int           `yaml:"field_width"`
	MaxPlayerMovementSpeed int           `yaml:"max_player_movement_speed"`
	MinimumCenterSpacing   int           `yaml:"minimum_center_spacing"`
	BattleThreshold        int           `yaml:"battle_threshold"`
	BeaconFrequency        int           `yaml:"beacon_frequency"`
	CheatingPenaltyTime    int           `yaml:"cheating_penalty_time"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Default returns the constants the arena hardware was built around.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Port:      "/dev/ttyACM0",
			BaudRate:  9600,
			Delimiter: DefaultDelimiter,
			Fields:    DefaultNumberArduinoValues,
			Format:    "binary",
		},
		Game: GameConfig{
			RoundTime:              60 * time.Second,
			WarningTime:            10 * time.Second,
			TickInterval:           100 * time.Millisecond,
			FieldWidth:             1024,
			MaxPlayerMovementSpeed: 3,
			MinimumCenterSpacing:   64,
			BattleThreshold:        128,
			BeaconFrequency:        120,
			CheatingPenaltyTime:    90,
		},
	}
}

// WarningAt is the elapsed round time at which the warning fires.
func (g GameConfig) WarningAt() time.Duration {
	return g.RoundTime - g.WarningTime
}

// Validate checks the invariants the decoder and state machine rely on.
func (c Config) Validate() error {
	var errs []error
	if c.Serial.Fields != DefaultNumberArduinoValues {
		errs = append(errs, fmt.Errorf("serial.fields must be %d, got %d", DefaultNumberArduinoValues, c.Serial.Fields))
	}
	if c.Serial.Delimiter == High || c.Serial.Delimiter == Low {
		errs = append(errs, fmt.Errorf("serial.delimiter %d collides with a field value", c.Serial.Delimiter))
	}
	switch c.Serial.Format {
	case "binary", "ascii":
	default:
		errs = append(errs, fmt.Errorf("serial.format %q is not binary or ascii", c.Serial.Format))
	}
	if c.Game.RoundTime <= 0 {
		errs = append(errs, fmt.Errorf("game.round_time must be positive, got %s", c.Game.RoundTime))
	}
	if c.Game.WarningTime < 0 || c.Game.WarningTime >= c.Game.RoundTime {
		errs = append(errs, fmt.Errorf("game.warning_time %s must be within round time %s", c.Game.WarningTime, c.Game.RoundTime))
	}
	if c.Game.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("game.tick_interval must be positive, got %s", c.Game.TickInterval))
	}
	return errors.Join(errs...)
}

// Load builds a Config from defaults, an optional YAML file and ARENA_*
// environment variables, in that order of precedence (env wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Serial.Port = getEnv("ARENA_SERIAL_PORT", cfg.Serial.Port)
	cfg.Serial.BaudRate = getEnvAsInt("ARENA_SERIAL_BAUD", cfg.Serial.BaudRate)
	cfg.Serial.Format = getEnv("ARENA_SERIAL_FORMAT", cfg.Serial.Format)
	cfg.Game.RoundTime = getEnvAsDuration("ARENA_ROUND_TIME", cfg.Game.RoundTime)
	cfg.Game.WarningTime = getEnvAsDuration("ARENA_WARNING_TIME", cfg.Game.WarningTime)
	cfg.Game.TickInterval = getEnvAsDuration("ARENA_TICK_INTERVAL", cfg.Game.TickInterval)
	cfg.Database.URL = getEnv("ARENA_DATABASE_URL", cfg.Database.URL)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetEnv is exported for the entrypoints, which read a few process-level
// settings (ports, NATS URL) that do not belong in Config.
func GetEnv(key, defaultValue string) string {
	return getEnv(key, defaultValue)
}
