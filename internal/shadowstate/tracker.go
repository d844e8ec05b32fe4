// Package shadowstate keeps a read-only view of every zone for the HTTP API.
//
// Writers are the zone runners; readers are API handlers. Input snapshots
// handed to a tracker come from zone.Arbitrator.Inputs, which returns fresh
// maps, so they are stored without copying and never mutated afterwards.
package shadowstate

import (
	"sort"
	"sync"

	"github.com/alxld/new-zone-light/internal/clock"
	"github.com/alxld/new-zone-light/internal/zone"
)

// Tracker holds the shadow state of all zones
type Tracker struct {
	mu       sync.RWMutex
	zones    map[string]*ZoneTracker
	registry *SubscriptionRegistry
	clock    clock.Clock
}

// NewTracker creates a new shadow state tracker
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Tracker{
		zones:    make(map[string]*ZoneTracker),
		registry: NewSubscriptionRegistry(),
		clock:    clk,
	}
}

// Registry returns the subscription registry shared by all zones
func (t *Tracker) Registry() *SubscriptionRegistry {
	return t.registry
}

// Zone returns the tracker of a zone, creating it on first use
func (t *Tracker) Zone(name string) *ZoneTracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	zt, ok := t.zones[name]
	if !ok {
		zt = &ZoneTracker{
			state: NewZoneShadowState(name, t.clock.Now()),
			clock: t.clock,
		}
		t.zones[name] = zt
	}
	return zt
}

// Remove forgets a zone
func (t *Tracker) Remove(name string) {
	t.mu.Lock()
	delete(t.zones, name)
	t.mu.Unlock()
	t.registry.Unregister(name)
}

// Names returns the tracked zone names, sorted
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.zones))
	for name := range t.zones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of a zone's shadow state
func (t *Tracker) Get(name string) (*ZoneShadowState, bool) {
	t.mu.RLock()
	zt, ok := t.zones[name]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}

	st := zt.GetState()
	st.Sources = t.registry.Sources(name)
	return st, true
}

// GetAll returns copies of every zone's shadow state
func (t *Tracker) GetAll() map[string]*ZoneShadowState {
	out := make(map[string]*ZoneShadowState)
	for _, name := range t.Names() {
		if st, ok := t.Get(name); ok {
			out[name] = st
		}
	}
	return out
}

// ZoneTracker manages the shadow state of one zone
type ZoneTracker struct {
	mu    sync.RWMutex
	state *ZoneShadowState
	clock clock.Clock
}

// UpdateInputs replaces the current input snapshot
func (zt *ZoneTracker) UpdateInputs(inputs zone.Inputs) {
	zt.mu.Lock()
	defer zt.mu.Unlock()

	zt.state.Inputs.Current = inputs
	zt.state.Metadata.LastUpdated = zt.clock.Now()
}

// UpdateOutputs replaces the runtime state without recording an action,
// used for readback refreshes
func (zt *ZoneTracker) UpdateOutputs(st zone.RuntimeState, effects []string) {
	zt.mu.Lock()
	defer zt.mu.Unlock()

	zt.state.Outputs.State = st
	zt.state.Outputs.EffectList = effects
	zt.state.Metadata.LastUpdated = zt.clock.Now()
}

// RecordTransition records a completed transition together with the inputs
// that led to it
func (zt *ZoneTracker) RecordTransition(tr zone.Transition, inputs zone.Inputs) {
	zt.mu.Lock()
	defer zt.mu.Unlock()

	now := zt.clock.Now()
	zt.state.Inputs.Current = inputs
	zt.state.Inputs.AtLastAction = inputs
	zt.state.Outputs.State = tr.State
	zt.state.Outputs.LastActionTime = now
	zt.state.Outputs.LastActionKind = tr.Kind
	zt.state.Outputs.LastActionSource = tr.Source.String()
	zt.state.Outputs.LastError = ""
	if tr.Err != nil {
		zt.state.Outputs.LastError = tr.Err.Error()
	}
	zt.state.Metadata.LastUpdated = now
}

// GetState returns a copy of the shadow state
func (zt *ZoneTracker) GetState() *ZoneShadowState {
	zt.mu.RLock()
	defer zt.mu.RUnlock()

	cp := *zt.state
	if zt.state.Outputs.EffectList != nil {
		cp.Outputs.EffectList = append([]string(nil), zt.state.Outputs.EffectList...)
	}
	return &cp
}
