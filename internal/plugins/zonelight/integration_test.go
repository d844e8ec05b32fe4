package zonelight

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alxld/new-zone-light/internal/ha"
	"github.com/alxld/new-zone-light/internal/shadowstate"
	"github.com/alxld/new-zone-light/internal/testutil"
	"github.com/alxld/new-zone-light/internal/zone"
)

// The WebSocket client and server log from their own goroutines after a
// test returns, so these tests use a development logger instead of zaptest.

const testToken = "test_token"

// brightnessOf reads the brightness of the latest turn_on for an entity
func brightnessOf(server *testutil.MockHAServer, entityID string) (float64, bool) {
	call := server.FindServiceCall("light", "turn_on", entityID)
	if call == nil {
		return 0, false
	}
	b, ok := call.ServiceData["brightness"].(float64)
	return b, ok
}

func TestZoneOverWebSocket(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	server := testutil.NewMockHAServer(testToken, logger)
	defer server.Close()

	server.SetState("light.office", "off", nil)
	server.SetState("binary_sensor.office_motion", "off", nil)
	server.SetState("input_boolean.office_motion_off", "off", nil)

	client := ha.NewClient(server.URL(), testToken, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	tracker := shadowstate.NewTracker(nil)
	m, err := NewManager(ZoneConfig{
		Name:          "Office",
		Primary:       "light.office",
		Switch:        "00:11:22:33",
		MotionSensors: "binary_sensor.office_motion",
		MotionDisable: "input_boolean.office_motion_off",
	}, filepath.Join(t.TempDir(), "absent.json"), Deps{
		HA:      client,
		Tracker: tracker,
		Logger:  logger,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	server.SetState("binary_sensor.office_motion", "on", nil)
	assert.Eventually(t, func() bool {
		b, ok := brightnessOf(server, "light.office")
		return ok && b == 192
	}, 2*time.Second, 10*time.Millisecond, "motion turns the light on at the motion brightness")

	assert.Eventually(t, func() bool {
		st := server.GetState("light.office")
		return st != nil && st.State == "on"
	}, 2*time.Second, 10*time.Millisecond)

	server.FireEvent("zha_event", map[string]interface{}{
		"device_ieee": "00:11:22:33",
		"command":     "on_press",
	})
	assert.Eventually(t, func() bool {
		b, ok := brightnessOf(server, "light.office")
		return ok && b == 255
	}, 2*time.Second, 10*time.Millisecond, "the switch takes the light to full brightness")

	var st zone.RuntimeState
	require.NoError(t, m.Runner().Do(context.Background(), func(a *zone.Arbitrator) error {
		st = a.State()
		return nil
	}))
	assert.True(t, st.IsOn)
	assert.True(t, st.SwitchedOn)
	assert.Equal(t, 255, st.Brightness)

	shadow, ok := tracker.Get("Office")
	require.True(t, ok)
	assert.Equal(t, []string{"zha_event"}, shadow.Sources.EventTypes)
	assert.ElementsMatch(t, []string{"binary_sensor.office_motion", "input_boolean.office_motion_off"}, shadow.Sources.Entities)
}

func TestZoneMotionDisabledOverWebSocket(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	server := testutil.NewMockHAServer(testToken, logger)
	defer server.Close()

	server.SetState("light.office", "off", nil)
	server.SetState("input_boolean.office_motion_off", "on", nil)

	client := ha.NewClient(server.URL(), testToken, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	m, err := NewManager(ZoneConfig{
		Name:          "Office",
		Primary:       "light.office",
		MotionSensors: "binary_sensor.office_motion",
		MotionDisable: "input_boolean.office_motion_off",
	}, filepath.Join(t.TempDir(), "absent.json"), Deps{
		HA:      client,
		Tracker: shadowstate.NewTracker(nil),
		Logger:  logger,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	server.SetState("binary_sensor.office_motion", "on", nil)

	// the motion event is processed once the runner has seen the occupancy
	assert.Eventually(t, func() bool {
		var occupied bool
		_ = m.Runner().Do(context.Background(), func(a *zone.Arbitrator) error {
			occupied = a.Inputs().Occupancy["binary_sensor.office_motion"]
			return nil
		})
		return occupied
	}, 2*time.Second, 10*time.Millisecond)

	assert.Nil(t, server.FindServiceCall("light", "turn_on", "light.office"), "motion is ignored while disabled")
}

func TestClientRejectsBadToken(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	server := testutil.NewMockHAServer(testToken, logger)
	defer server.Close()

	client := ha.NewClient(server.URL(), "wrong", logger)
	assert.Error(t, client.Connect())
}
