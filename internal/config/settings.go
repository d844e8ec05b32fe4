package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Defaults for optional settings
const (
	DefaultConfigDir       = "./configs"
	DefaultMQTTPort        = 1883
	DefaultMQTTClientID    = "zone-light"
	DefaultAPIPort         = 8080
	DefaultRefreshSchedule = "@every 30s"
)

// Settings are the process-level settings read from the environment
type Settings struct {
	HAURL    string
	HAToken  string
	ReadOnly bool

	ConfigDir string

	MQTTHost     string
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string

	APIPort         int
	HistoryDB       string
	RefreshSchedule string
}

// ZonesFile returns the location of the zone definitions
func (s *Settings) ZonesFile() string {
	return filepath.Join(s.ConfigDir, "zones.yaml")
}

// ButtonMapFile returns the default button map location for a zone
func (s *Settings) ButtonMapFile(zone string) string {
	name := strings.ReplaceAll(strings.ToLower(zone), " ", "_")
	return filepath.Join(s.ConfigDir, name+"_button_map.json")
}

// MQTTEnabled reports whether a broker is configured
func (s *Settings) MQTTEnabled() bool {
	return s.MQTTHost != ""
}

// Load reads a .env file if present and builds Settings from the environment.
// envFiles default to ".env" in the working directory.
func Load(logger *zap.Logger, envFiles ...string) (*Settings, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds Settings from a lookup function
func FromEnv(getenv func(string) string) (*Settings, error) {
	s := &Settings{
		HAURL:           getenv("HA_URL"),
		HAToken:         getenv("HA_TOKEN"),
		ReadOnly:        getenv("READ_ONLY") == "true",
		ConfigDir:       getenv("CONFIG_DIR"),
		MQTTHost:        getenv("MQTT_HOST"),
		MQTTUsername:    getenv("MQTT_USERNAME"),
		MQTTPassword:    getenv("MQTT_PASSWORD"),
		MQTTClientID:    getenv("MQTT_CLIENT_ID"),
		HistoryDB:       getenv("HISTORY_DB"),
		RefreshSchedule: getenv("REFRESH_SCHEDULE"),
	}

	if s.HAURL == "" || s.HAToken == "" {
		return nil, fmt.Errorf("HA_URL and HA_TOKEN environment variables must be set")
	}

	if s.ConfigDir == "" {
		s.ConfigDir = DefaultConfigDir
	}
	if s.MQTTClientID == "" {
		s.MQTTClientID = DefaultMQTTClientID
	}
	if s.RefreshSchedule == "" {
		s.RefreshSchedule = DefaultRefreshSchedule
	}

	var err error
	if s.MQTTPort, err = intSetting(getenv, "MQTT_PORT", DefaultMQTTPort); err != nil {
		return nil, err
	}
	if s.APIPort, err = intSetting(getenv, "API_PORT", DefaultAPIPort); err != nil {
		return nil, err
	}

	return s, nil
}

func intSetting(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > 65535 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}
