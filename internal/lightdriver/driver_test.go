package lightdriver

import (
	"testing"

	"github.com/alxld/new-zone-light/internal/ha"
	"github.com/alxld/new-zone-light/internal/zone"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDriverTurnOn(t *testing.T) {
	mock := ha.NewMockClient()
	d := New("light.office", mock, zap.NewNop(), false, nil)

	require.NoError(t, d.TurnOn(127.5, 0, zone.DefaultEffect, 0.2))
	assert.True(t, d.Enabled())

	calls := mock.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "light", calls[0].Domain)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, "light.office", calls[0].Data["entity_id"])
	assert.Equal(t, 128, calls[0].Data["brightness"])
	assert.Equal(t, 0.2, calls[0].Data["transition"])
	assert.NotContains(t, calls[0].Data, "effect")

	state, err := mock.GetState("light.office")
	require.NoError(t, err)
	assert.Equal(t, "on", state.State)
}

func TestDriverTurnOnClampsAndModes(t *testing.T) {
	mock := ha.NewMockClient()
	d := New("light.office", mock, zap.NewNop(), false, nil)

	require.NoError(t, d.TurnOn(300, 20, "Vivid", 0))
	calls := mock.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 255, calls[0].Data["brightness"])
	assert.Equal(t, "Vivid", calls[0].Data["effect"])
	assert.NotContains(t, calls[0].Data, "transition")

	assert.Error(t, d.TurnOn(100, 0, "Disco", 0))
	assert.Len(t, mock.GetServiceCalls(), 1)
}

func TestDriverTurnOnZeroTurnsOff(t *testing.T) {
	mock := ha.NewMockClient()
	d := New("light.office", mock, zap.NewNop(), false, nil)

	require.NoError(t, d.TurnOn(0.2, 0, zone.DefaultEffect, 0.4))
	calls := mock.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_off", calls[0].Service)
	assert.Equal(t, 0.4, calls[0].Data["transition"])
}

func TestDriverTurnOnSpecific(t *testing.T) {
	mock := ha.NewMockClient()
	d := New("light.office", mock, zap.NewNop(), false, nil)

	br := 85
	require.NoError(t, d.TurnOnSpecific(zone.ColorDirective{
		EntityID:   "light.office",
		Transition: 0.1,
		Brightness: &br,
		RGBColor:   &[3]int{255, 0, 0},
	}))

	calls := mock.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{255, 0, 0}, calls[0].Data["rgb_color"])
	assert.Equal(t, 85, calls[0].Data["brightness"])
	assert.NotContains(t, calls[0].Data, "hs_color")
}

func TestDriverTurnOnSpecificSendsOneColorAttribute(t *testing.T) {
	mock := ha.NewMockClient()
	d := New("light.x", mock, zap.NewNop(), false, nil)

	ct := 300
	require.NoError(t, d.TurnOnSpecific(zone.ColorDirective{
		EntityID:  "light.x",
		HSColor:   &[2]float64{10, 20},
		ColorTemp: &ct,
		ColorMode: "hs",
	}))

	calls := mock.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []float64{10, 20}, calls[0].Data["hs_color"])
	assert.NotContains(t, calls[0].Data, "color_temp")
	assert.NotContains(t, calls[0].Data, "rgb_color")
}

func TestDriverDisable(t *testing.T) {
	mock := ha.NewMockClient()
	d := New("light.office", mock, zap.NewNop(), false, nil)
	require.NoError(t, d.TurnOn(200, 0, zone.DefaultEffect, 0))

	require.NoError(t, d.Disable())
	assert.False(t, d.Enabled())
	assert.Len(t, mock.GetServiceCalls(), 1, "disable does not touch the light")

	require.NoError(t, d.DisableAndTurnOff(0.2))
	calls := mock.GetServiceCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "turn_off", calls[1].Service)
}

func TestDriverReadOnly(t *testing.T) {
	mock := ha.NewMockClient()
	d := New("light.office", mock, zap.NewNop(), true, nil)

	require.NoError(t, d.TurnOn(200, 0, zone.DefaultEffect, 0))
	require.NoError(t, d.DisableAndTurnOff(0))
	assert.Empty(t, mock.GetServiceCalls())
}

func TestDriverModes(t *testing.T) {
	d := New("light.office", ha.NewMockClient(), zap.NewNop(), false, []string{"Normal", "Candle"})
	modes := d.SupportedColorModes()
	assert.Equal(t, []string{"Normal", "Candle"}, modes)

	modes[0] = "changed"
	assert.Equal(t, "Normal", d.SupportedColorModes()[0])
}

func TestFactory(t *testing.T) {
	f := Factory(ha.NewMockClient(), zap.NewNop(), false, nil)
	d := f("light.lamp")
	assert.Equal(t, DefaultModes, d.SupportedColorModes())
	assert.Equal(t, "light.lamp", d.(*Driver).EntityID())
}

func TestServices(t *testing.T) {
	mock := ha.NewMockClient()
	s := NewServices(mock, zap.NewNop(), false)

	require.NoError(t, s.LightOn("light.lamp", 90))
	require.NoError(t, s.LightOff("light.hall"))
	require.NoError(t, s.SceneOn("scene.movie"))

	calls := mock.GetServiceCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, 90, calls[0].Data["brightness"])
	assert.Equal(t, "turn_off", calls[1].Service)
	assert.Equal(t, "scene", calls[2].Domain)
	assert.Equal(t, "scene.movie", calls[2].Data["entity_id"])

	ro := NewServices(mock, zap.NewNop(), true)
	mock.ClearServiceCalls()
	require.NoError(t, ro.SceneOn("scene.movie"))
	assert.Empty(t, mock.GetServiceCalls())
}
