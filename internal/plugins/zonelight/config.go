package zonelight

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alxld/new-zone-light/internal/zone"
)

// peerMirror is the peers value that makes the zone follow the peer's brightness
const peerMirror = "mirror"

// TransitionConfig holds per-source transition times in seconds
type TransitionConfig struct {
	Switch       float64 `yaml:"switch"`
	MotionSensor float64 `yaml:"motion_sensor"`
	Default      float64 `yaml:"default"`
}

// ZoneConfig represents the configuration for a single zone
type ZoneConfig struct {
	Name    string      `yaml:"name"`
	Primary string      `yaml:"primary"`
	Others  interface{} `yaml:"others"` // Can be string or []string

	BelowThreshold       interface{}        `yaml:"below_threshold"` // Can be string or []string
	AboveThreshold       interface{}        `yaml:"above_threshold"` // Can be string or []string
	BrightnessThreshold  *int               `yaml:"brightness_threshold"`
	BrightnessMultiplier map[string]float64 `yaml:"brightness_multiplier"`

	// Switch is a ZHA device IEEE address (contains ':') or a zigbee2mqtt device name
	Switch    string `yaml:"switch"`
	ButtonMap string `yaml:"button_map"` // defaults to <config_dir>/<zone>_button_map.json

	MotionSensors               interface{} `yaml:"motion_sensors"`                 // Can be string or []string
	FullBrightnessMotionSensors interface{} `yaml:"full_brightness_motion_sensors"` // Can be string or []string
	MotionDisable               interface{} `yaml:"motion_disable"`                 // Can be string or []string

	// Peers maps a peer light to a brightness or "mirror"
	Peers              map[string]interface{} `yaml:"peers"`
	TrackPeerOffEvents bool                   `yaml:"track_peer_off_events"`
	TurnOffPeers       bool                   `yaml:"turn_off_peers"`

	BrightnessStep         int              `yaml:"brightness_step"`
	MotionSensorBrightness int              `yaml:"motion_sensor_brightness"`
	Transitions            TransitionConfig `yaml:"transitions"`

	// Modes lists the named modes the zone's lights support
	Modes interface{} `yaml:"modes"` // Can be string or []string
}

// GetOthers returns the secondary entities
func (z *ZoneConfig) GetOthers() []string {
	return interfaceToStringSlice(z.Others)
}

// GetMotionSensors returns the normal motion sensors
func (z *ZoneConfig) GetMotionSensors() []string {
	return interfaceToStringSlice(z.MotionSensors)
}

// GetFullBrightnessMotionSensors returns the full-brightness motion sensors
func (z *ZoneConfig) GetFullBrightnessMotionSensors() []string {
	return interfaceToStringSlice(z.FullBrightnessMotionSensors)
}

// GetMotionDisable returns the motion-disable entities
func (z *ZoneConfig) GetMotionDisable() []string {
	return interfaceToStringSlice(z.MotionDisable)
}

// GetModes returns the supported modes, or nil for the driver defaults
func (z *ZoneConfig) GetModes() []string {
	modes := interfaceToStringSlice(z.Modes)
	if len(modes) == 0 {
		return nil
	}
	return modes
}

// IsZHASwitch reports whether the switch is reached through zha_event
func (z *ZoneConfig) IsZHASwitch() bool {
	return strings.Contains(z.Switch, ":")
}

// IsHAMotionSensor reports whether a motion sensor is a Home Assistant
// binary_sensor rather than a zigbee2mqtt device
func IsHAMotionSensor(sensor string) bool {
	return strings.Contains(sensor, "binary_sensor")
}

// ToZone converts the YAML definition into a zone.Config
func (z *ZoneConfig) ToZone() (zone.Config, error) {
	cfg := zone.Config{
		Name:                        z.Name,
		Primary:                     z.Primary,
		Others:                      z.GetOthers(),
		BelowThreshold:              interfaceToStringSlice(z.BelowThreshold),
		AboveThreshold:              interfaceToStringSlice(z.AboveThreshold),
		BrightnessMultiplier:        z.BrightnessMultiplier,
		MotionSensors:               z.GetMotionSensors(),
		FullBrightnessMotionSensors: z.GetFullBrightnessMotionSensors(),
		MotionDisableEntities:       z.GetMotionDisable(),
		TrackPeerOffEvents:          z.TrackPeerOffEvents,
		TurnOffPeers:                z.TurnOffPeers,
		BrightnessStep:              z.BrightnessStep,
		MotionSensorBrightness:      z.MotionSensorBrightness,
		SwitchTransition:            z.Transitions.Switch,
		MotionSensorTransition:      z.Transitions.MotionSensor,
		DefaultTransition:           z.Transitions.Default,
	}
	if z.BrightnessThreshold != nil {
		cfg.HasBrightnessThreshold = true
		cfg.BrightnessThreshold = *z.BrightnessThreshold
		if cfg.BrightnessThreshold <= 0 {
			return cfg, fmt.Errorf("zone %s: brightness_threshold must be within 1..255", z.Name)
		}
	}

	if len(z.Peers) > 0 {
		cfg.PeerTrackers = make(map[string]int, len(z.Peers))
		for peer, v := range z.Peers {
			br, err := peerBrightness(v)
			if err != nil {
				return cfg, fmt.Errorf("zone %s: peer %s: %w", z.Name, peer, err)
			}
			cfg.PeerTrackers[peer] = br
		}
	}
	return cfg, nil
}

func peerBrightness(v interface{}) (int, error) {
	switch b := v.(type) {
	case int:
		return b, nil
	case string:
		if strings.EqualFold(b, peerMirror) {
			return zone.MirrorBrightness, nil
		}
	case nil:
		return zone.MirrorBrightness, nil
	}
	return 0, fmt.Errorf("expected a brightness or %q, got %v", peerMirror, v)
}

// interfaceToStringSlice converts an interface{} that can be string, []string, or nil to []string
func interfaceToStringSlice(val interface{}) []string {
	if val == nil {
		return []string{}
	}

	switch v := val.(type) {
	case string:
		if v == "" {
			return []string{}
		}
		return []string{v}
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				result = append(result, str)
			}
		}
		return result
	case []string:
		return v
	default:
		return []string{}
	}
}

// Config is the top level of zones.yaml
type Config struct {
	Zones []ZoneConfig `yaml:"zones"`
}

// LoadConfig loads zone definitions from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes zone definitions and rejects duplicate or unnamed zones
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(config.Zones))
	for _, z := range config.Zones {
		if z.Name == "" {
			return nil, fmt.Errorf("zone without a name")
		}
		if seen[z.Name] {
			return nil, fmt.Errorf("duplicate zone %s", z.Name)
		}
		seen[z.Name] = true
	}
	return &config, nil
}
