// Package zone implements the arbitration state machine for one logical light
// zone: a primary light plus optional secondaries driven together by switches,
// motion sensors and peer lights.
//
// The Arbitrator is single-owner and not safe for concurrent use. Wrap it in a
// Runner to serialize events arriving from concurrent transports.
package zone

import (
	"fmt"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultBrightnessStep         = 43
	DefaultMotionSensorBrightness = 192
	DefaultSwitchTransition       = 0.2
	DefaultMotionSensorTransition = 0.4
	DefaultTransition             = 0.1
	DefaultMinMireds              = 154
	DefaultMaxMireds              = 500
)

// Mode values reported in RuntimeState.Mode. Any other value is a named
// driver mode set through TurnOnMode.
const (
	ModeOff = "Off"
	ModeOn  = "On"
)

// DefaultEffect is the driver mode used for brightness-curve rendering.
const DefaultEffect = "Normal"

// Source identifies what caused a turn-on or turn-off.
type Source int

const (
	SourceUnspecified Source = iota
	SourceSwitch
	SourceMotionSensor
	SourcePeer
)

func (s Source) String() string {
	switch s {
	case SourceSwitch:
		return "Switch"
	case SourceMotionSensor:
		return "MotionSensor"
	case SourcePeer:
		return "Peer"
	default:
		return "Unspecified"
	}
}

// Config is the static definition of a zone.
type Config struct {
	Name string

	// Primary is the state-of-record entity and the default dispatch target.
	Primary string
	// Others are the secondary entities, in dispatch order.
	Others []string

	// BelowThreshold overrides the below-threshold group (default: Primary).
	BelowThreshold []string
	// AboveThreshold overrides the above-threshold group (default: Others).
	AboveThreshold []string

	BrightnessMultiplier   map[string]float64
	HasBrightnessThreshold bool
	BrightnessThreshold    int

	MotionSensors               []string
	FullBrightnessMotionSensors []string
	MotionDisableEntities       []string

	// PeerTrackers maps a peer light to the brightness this zone turns on at
	// when the peer turns on, or MirrorBrightness.
	PeerTrackers       map[string]int
	TrackPeerOffEvents bool
	TurnOffPeers       bool

	BrightnessStep         int
	MotionSensorBrightness int

	SwitchTransition       float64
	MotionSensorTransition float64
	DefaultTransition      float64
}

// Entities returns the primary followed by the secondaries.
func (c *Config) Entities() []string {
	return append([]string{c.Primary}, c.Others...)
}

func (c *Config) applyDefaults() {
	if c.BrightnessThreshold == 0 {
		c.BrightnessThreshold = DefaultBrightnessThreshold
	}
	if c.BrightnessStep == 0 {
		c.BrightnessStep = DefaultBrightnessStep
	}
	if c.MotionSensorBrightness == 0 {
		c.MotionSensorBrightness = DefaultMotionSensorBrightness
	}
	if c.SwitchTransition == 0 {
		c.SwitchTransition = DefaultSwitchTransition
	}
	if c.MotionSensorTransition == 0 {
		c.MotionSensorTransition = DefaultMotionSensorTransition
	}
	if c.DefaultTransition == 0 {
		c.DefaultTransition = DefaultTransition
	}

	// threshold group members are zone entities even if not listed
	known := map[string]bool{c.Primary: true}
	for _, e := range c.Others {
		known[e] = true
	}
	for _, group := range [][]string{c.BelowThreshold, c.AboveThreshold} {
		for _, e := range group {
			if !known[e] {
				c.Others = append(c.Others, e)
				known[e] = true
			}
		}
	}
}

// Validate checks the invariants of a zone definition.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("zone name cannot be empty")
	}
	if c.Primary == "" {
		return fmt.Errorf("zone %s: at least one entity is required", c.Name)
	}
	if c.BrightnessThreshold < 0 || c.BrightnessThreshold > 255 {
		return fmt.Errorf("zone %s: brightness threshold %d out of range 1..255", c.Name, c.BrightnessThreshold)
	}
	for peer, br := range c.PeerTrackers {
		if br != MirrorBrightness && (br < 0 || br > 255) {
			return fmt.Errorf("zone %s: peer %s brightness %d out of range", c.Name, peer, br)
		}
	}
	return nil
}

// TurnOnRequest carries the optional attributes of a turn-on.
type TurnOnRequest struct {
	Brightness *int
	HSColor    *[2]float64
	RGBColor   *[3]int
	ColorTemp  *int
	ColorMode  string
	Effect     string
	Transition *float64
	Source     Source
}

func (r TurnOnRequest) hasExplicitColor() bool {
	return r.HSColor != nil || r.RGBColor != nil || r.ColorTemp != nil || r.ColorMode != ""
}

// TurnOffRequest carries the optional attributes of a turn-off.
type TurnOffRequest struct {
	Transition *float64
	Source     Source
}

// Ptr returns a pointer to v, for filling optional request fields.
func Ptr[T any](v T) *T {
	return &v
}

// RuntimeState is the zone's commanded state.
type RuntimeState struct {
	IsOn               bool        `json:"is_on"`
	SwitchedOn         bool        `json:"switched_on"`
	Brightness         int         `json:"brightness"`
	BrightnessOverride int         `json:"brightness_override"`
	Mode               string      `json:"mode"`
	Effect             string      `json:"effect"`
	HSColor            *[2]float64 `json:"hs_color,omitempty"`
	RGBColor           *[3]int     `json:"rgb_color,omitempty"`
	ColorTemp          *int        `json:"color_temp,omitempty"`
	MinMireds          int         `json:"min_mireds"`
	MaxMireds          int         `json:"max_mireds"`
}

// ColorDirective is an explicit color instruction forwarded verbatim to a driver.
type ColorDirective struct {
	EntityID   string
	Transition float64
	Brightness *int
	HSColor    *[2]float64
	RGBColor   *[3]int
	ColorTemp  *int
	ColorMode  string
}

// LightDriver renders instructions onto one physical light entity.
type LightDriver interface {
	TurnOn(brightness float64, override int, mode string, transition float64) error
	TurnOnSpecific(d ColorDirective) error
	Disable() error
	DisableAndTurnOff(transition float64) error
	SupportedColorModes() []string
}

// DriverFactory creates the driver for an entity.
type DriverFactory func(entityID string) LightDriver

// Services are the direct host calls the button map and peer handling need.
type Services interface {
	LightOn(entityID string, brightness int) error
	LightOff(entityID string) error
	SceneOn(sceneID string) error
}
