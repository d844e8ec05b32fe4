package shadowstate

import (
	"time"

	"github.com/alxld/new-zone-light/internal/zone"
)

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	ZoneName    string    `json:"zoneName"`
}

// ZoneShadowState is the observable state of one zone: what it has seen and
// what it last did
type ZoneShadowState struct {
	Zone     string        `json:"zone"`
	Inputs   ZoneInputs    `json:"inputs"`
	Outputs  ZoneOutputs   `json:"outputs"`
	Sources  Sources       `json:"sources"`
	Metadata StateMetadata `json:"metadata"`
}

// ZoneInputs tracks current and last-action input values
type ZoneInputs struct {
	Current      zone.Inputs `json:"current"`
	AtLastAction zone.Inputs `json:"atLastAction"`
}

// ZoneOutputs tracks the zone's runtime state and its last transition
type ZoneOutputs struct {
	State            zone.RuntimeState `json:"state"`
	EffectList       []string          `json:"effectList,omitempty"`
	LastActionTime   time.Time         `json:"lastActionTime"`
	LastActionKind   string            `json:"lastActionKind,omitempty"`
	LastActionSource string            `json:"lastActionSource,omitempty"`
	LastError        string            `json:"lastError,omitempty"`
}

// Sources lists what a zone listens to
type Sources struct {
	Entities   []string `json:"entities,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
	Topics     []string `json:"topics,omitempty"`
}

// NewZoneShadowState creates an empty shadow state for a zone
func NewZoneShadowState(name string, now time.Time) *ZoneShadowState {
	return &ZoneShadowState{
		Zone: name,
		Metadata: StateMetadata{
			LastUpdated: now,
			ZoneName:    name,
		},
	}
}
