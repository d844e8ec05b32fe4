package shadowstate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxld/new-zone-light/internal/clock"
	"github.com/alxld/new-zone-light/internal/zone"
)

var start = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

func TestTrackerZonesAreCreatedOnDemand(t *testing.T) {
	tr := NewTracker(clock.NewMockClock(start))

	_, ok := tr.Get("Office")
	assert.False(t, ok)

	tr.Zone("Office")
	tr.Zone("Kitchen")
	assert.Same(t, tr.Zone("Office"), tr.Zone("Office"))
	assert.Equal(t, []string{"Kitchen", "Office"}, tr.Names())

	st, ok := tr.Get("Office")
	require.True(t, ok)
	assert.Equal(t, "Office", st.Zone)
	assert.Equal(t, start, st.Metadata.LastUpdated)

	tr.Remove("Kitchen")
	assert.Equal(t, []string{"Office"}, tr.Names())
	assert.Len(t, tr.GetAll(), 1)
}

func TestRecordTransition(t *testing.T) {
	clk := clock.NewMockClock(start)
	tr := NewTracker(clk)
	zt := tr.Zone("Office")

	before := zone.Inputs{Occupancy: map[string]bool{"hall": false}}
	zt.UpdateInputs(before)

	clk.Advance(time.Minute)
	inputs := zone.Inputs{Occupancy: map[string]bool{"hall": true}}
	zt.RecordTransition(zone.Transition{
		Zone:   "Office",
		Kind:   zone.TransitionTurnOn,
		Source: zone.SourceMotionSensor,
		State:  zone.RuntimeState{IsOn: true, Brightness: 192},
	}, inputs)

	st, _ := tr.Get("Office")
	assert.Equal(t, inputs, st.Inputs.Current)
	assert.Equal(t, inputs, st.Inputs.AtLastAction)
	assert.Equal(t, 192, st.Outputs.State.Brightness)
	assert.Equal(t, zone.TransitionTurnOn, st.Outputs.LastActionKind)
	assert.Equal(t, "MotionSensor", st.Outputs.LastActionSource)
	assert.Equal(t, start.Add(time.Minute), st.Outputs.LastActionTime)
	assert.Empty(t, st.Outputs.LastError)

	clk.Advance(time.Minute)
	later := zone.Inputs{Occupancy: map[string]bool{"hall": false}}
	zt.UpdateInputs(later)
	zt.RecordTransition(zone.Transition{Kind: zone.TransitionTurnOff, Err: errors.New("light.desk: timeout")}, later)

	st, _ = tr.Get("Office")
	assert.Equal(t, "light.desk: timeout", st.Outputs.LastError)
	assert.Equal(t, "Unspecified", st.Outputs.LastActionSource)
}

func TestUpdateInputsKeepsLastActionSnapshot(t *testing.T) {
	tr := NewTracker(clock.NewMockClock(start))
	zt := tr.Zone("Office")

	acted := zone.Inputs{ButtonMapVersion: 1}
	zt.RecordTransition(zone.Transition{Kind: zone.TransitionButtonMap}, acted)
	zt.UpdateInputs(zone.Inputs{ButtonMapVersion: 2})

	st, _ := tr.Get("Office")
	assert.Equal(t, 2, st.Inputs.Current.ButtonMapVersion)
	assert.Equal(t, 1, st.Inputs.AtLastAction.ButtonMapVersion)
}

func TestUpdateOutputsCopiesEffects(t *testing.T) {
	tr := NewTracker(clock.NewMockClock(start))
	zt := tr.Zone("Office")

	zt.UpdateOutputs(zone.RuntimeState{MinMireds: 154, MaxMireds: 500}, []string{"Normal", "Vivid"})
	st := zt.GetState()
	st.Outputs.EffectList[0] = "changed"

	again := zt.GetState()
	assert.Equal(t, []string{"Normal", "Vivid"}, again.Outputs.EffectList)
	assert.Equal(t, 500, again.Outputs.State.MaxMireds)
	assert.Empty(t, again.Outputs.LastActionKind, "readback is not an action")
}

func TestSubscriptionRegistry(t *testing.T) {
	tr := NewTracker(clock.NewMockClock(start))
	reg := tr.Registry()
	tr.Zone("Office")

	reg.RegisterEntity("Office", "light.kitchen")
	reg.RegisterEntity("Office", "light.kitchen")
	reg.RegisterEventType("Office", "zha_event")
	reg.RegisterTopic("Office", "zigbee2mqtt/Hall Motion")

	st, _ := tr.Get("Office")
	assert.Equal(t, Sources{
		Entities:   []string{"light.kitchen"},
		EventTypes: []string{"zha_event"},
		Topics:     []string{"zigbee2mqtt/Hall Motion"},
	}, st.Sources)

	src := reg.Sources("Office")
	src.Entities[0] = "mutated"
	assert.Equal(t, "light.kitchen", reg.Sources("Office").Entities[0])

	tr.Remove("Office")
	assert.Equal(t, Sources{}, reg.Sources("Office"))
}
