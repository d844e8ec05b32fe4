package zonelight

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/alxld/new-zone-light/internal/clock"
	"github.com/alxld/new-zone-light/internal/ha"
	"github.com/alxld/new-zone-light/internal/mqtt"
	"github.com/alxld/new-zone-light/internal/shadowstate"
	"github.com/alxld/new-zone-light/internal/zone"
)

type fakeSubscription struct {
	broker *fakeBroker
	topic  string
}

func (s *fakeSubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.handlers, s.topic)
	s.broker.unsubscribed = append(s.broker.unsubscribed, s.topic)
	return nil
}

type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Subscribe(topic string, handler mqtt.MessageHandler) (mqtt.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return &fakeSubscription{broker: b, topic: topic}, nil
}

func (b *fakeBroker) publish(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	require.NotNil(t, h, "no subscription for %s", topic)
	_ = h(topic, []byte(payload))
}

type fakeHistory struct {
	mu          sync.Mutex
	transitions []zone.Transition
}

func (h *fakeHistory) Record(t zone.Transition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitions = append(h.transitions, t)
	return nil
}

func (h *fakeHistory) kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.transitions))
	for _, t := range h.transitions {
		out = append(out, t.Kind)
	}
	return out
}

type env struct {
	client  *ha.MockClient
	broker  *fakeBroker
	tracker *shadowstate.Tracker
	history *fakeHistory
	manager *Manager
}

func startZone(t *testing.T, zc ZoneConfig, buttonMap string) *env {
	t.Helper()
	e := &env{
		client:  ha.NewMockClient(),
		broker:  newFakeBroker(),
		tracker: shadowstate.NewTracker(clock.NewMockClock(time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC))),
		history: &fakeHistory{},
	}
	return e.start(t, zc, buttonMap)
}

func (e *env) start(t *testing.T, zc ZoneConfig, buttonMap string) *env {
	t.Helper()
	if buttonMap == "" {
		buttonMap = filepath.Join(t.TempDir(), "absent.json")
	}
	m, err := NewManager(zc, buttonMap, Deps{
		HA:      e.client,
		MQTT:    e.broker,
		Tracker: e.tracker,
		History: e.history,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	e.manager = m
	return e
}

// sync waits until everything submitted so far has been processed
func (e *env) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, e.manager.Runner().Do(context.Background(), func(*zone.Arbitrator) error { return nil }))
}

func (e *env) lightCalls() []ha.ServiceCall {
	var out []ha.ServiceCall
	for _, c := range e.client.GetServiceCalls() {
		if c.Domain == "light" || c.Domain == "scene" {
			out = append(out, c)
		}
	}
	return out
}

func (e *env) state(t *testing.T) zone.RuntimeState {
	t.Helper()
	var st zone.RuntimeState
	require.NoError(t, e.manager.Runner().Do(context.Background(), func(a *zone.Arbitrator) error {
		st = a.State()
		return nil
	}))
	return st
}

func TestZHASwitch(t *testing.T) {
	e := startZone(t, ZoneConfig{Name: "Office", Primary: "light.office", Switch: "00:11:22:33"}, "")

	e.client.FireEvent("zha_event", json.RawMessage(`{"device_ieee":"aa:bb","command":"on_press"}`))
	e.client.FireEvent("zha_event", json.RawMessage(`{"device_ieee":"00:11:22:33"}`))
	e.sync(t)
	assert.Empty(t, e.lightCalls(), "other devices and malformed events are ignored")

	e.client.FireEvent("zha_event", json.RawMessage(`{"device_ieee":"00:11:22:33","command":"on_press"}`))
	e.sync(t)

	calls := e.lightCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, "light.office", calls[0].Data["entity_id"])
	assert.Equal(t, 255, calls[0].Data["brightness"])

	st := e.state(t)
	assert.True(t, st.IsOn)
	assert.True(t, st.SwitchedOn)

	shadow, ok := e.tracker.Get("Office")
	require.True(t, ok)
	assert.Equal(t, []string{"zha_event"}, shadow.Sources.EventTypes)
	assert.Equal(t, zone.TransitionTurnOn, shadow.Outputs.LastActionKind)
	assert.Equal(t, "Switch", shadow.Outputs.LastActionSource)
}

func TestMQTTSwitchAndMotion(t *testing.T) {
	e := startZone(t, ZoneConfig{
		Name:          "Office",
		Primary:       "light.office",
		Switch:        "Office Switch",
		MotionSensors: "Office Motion",
	}, "")

	e.broker.publish(t, "zigbee2mqtt/Office Motion", `{"occupancy": true}`)
	e.sync(t)
	calls := e.lightCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 192, calls[0].Data["brightness"])
	assert.Equal(t, 0.4, calls[0].Data["transition"])
	assert.False(t, e.state(t).SwitchedOn)

	e.broker.publish(t, "zigbee2mqtt/Office Switch/action", "up_press")
	e.sync(t)
	assert.Equal(t, 235, e.state(t).Brightness)

	e.broker.publish(t, "zigbee2mqtt/Office Switch/action", `{"action": "off_press"}`)
	e.sync(t)
	st := e.state(t)
	assert.True(t, st.IsOn, "switch off with motion active hands back to motion")
	assert.False(t, st.SwitchedOn)
	assert.Equal(t, 192, st.Brightness)

	e.broker.publish(t, "zigbee2mqtt/Office Motion", `{"occupancy": false}`)
	e.sync(t)
	assert.False(t, e.state(t).IsOn)

	shadow, _ := e.tracker.Get("Office")
	assert.ElementsMatch(t, []string{"zigbee2mqtt/Office Switch/action", "zigbee2mqtt/Office Motion"}, shadow.Sources.Topics)
	assert.Equal(t, map[string]bool{"Office Motion": false}, shadow.Inputs.Current.Occupancy)
	assert.Equal(t, []string{
		zone.TransitionTurnOn, zone.TransitionTurnOn, zone.TransitionTurnOn, zone.TransitionTurnOff,
	}, e.history.kinds())
}

func TestHAMotionSensorAndMotionDisable(t *testing.T) {
	client := ha.NewMockClient()
	client.SetState("input_boolean.movie", "on", nil)

	e := &env{
		client:  client,
		broker:  newFakeBroker(),
		tracker: shadowstate.NewTracker(nil),
		history: &fakeHistory{},
	}
	e.start(t, ZoneConfig{
		Name:                        "Lounge",
		Primary:                     "light.lounge",
		FullBrightnessMotionSensors: "binary_sensor.lounge_door",
		MotionDisable:               "input_boolean.movie",
	}, "")

	client.SimulateStateChange("binary_sensor.lounge_door", "on")
	e.sync(t)
	assert.Empty(t, e.lightCalls(), "motion disable is seeded from Home Assistant")

	client.SimulateStateChange("binary_sensor.lounge_door", "off")
	client.SimulateStateChange("input_boolean.movie", "off")
	client.SimulateStateChange("binary_sensor.lounge_door", "on")
	e.sync(t)

	st := e.state(t)
	assert.True(t, st.IsOn)
	assert.Equal(t, 255, st.Brightness, "full-brightness sensor")
}

func TestPeerMirror(t *testing.T) {
	e := startZone(t, ZoneConfig{
		Name:               "Office",
		Primary:            "light.office",
		Peers:              map[string]interface{}{"light.hall": "mirror"},
		TrackPeerOffEvents: true,
	}, "")

	e.client.SetState("light.hall", "on", map[string]interface{}{"brightness": 100})
	e.sync(t)
	st := e.state(t)
	assert.True(t, st.IsOn)
	assert.Equal(t, 100, st.Brightness)

	e.client.SetState("light.hall", "off", nil)
	e.sync(t)
	assert.False(t, e.state(t).IsOn)
}

func TestButtonMapReloadAndReadback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "office_button_map.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"on-hold": [[["Scene", "scene.relax"]], [["Brightness", "light.lamp", 0]]]}`), 0o644))

	client := ha.NewMockClient()
	client.SetState("light.office", "off", map[string]interface{}{"min_mireds": 153, "max_mireds": 454})
	e := &env{client: client, broker: newFakeBroker(), tracker: shadowstate.NewTracker(nil), history: &fakeHistory{}}
	e.start(t, ZoneConfig{Name: "Office", Primary: "light.office", Switch: "Office Switch"}, path)
	e.sync(t)

	shadow, _ := e.tracker.Get("Office")
	assert.Equal(t, 1, shadow.Inputs.Current.ButtonMapVersion)
	assert.Equal(t, 153, shadow.Outputs.State.MinMireds)
	assert.Equal(t, 454, shadow.Outputs.State.MaxMireds)
	assert.Equal(t, []string{"Normal", "Vivid", "Bright"}, shadow.Outputs.EffectList)

	e.broker.publish(t, "zigbee2mqtt/Office Switch/action", "on_hold")
	e.sync(t)
	calls := e.lightCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "scene", calls[0].Domain)
	assert.Equal(t, "scene.relax", calls[0].Data["entity_id"])

	e.broker.publish(t, "zigbee2mqtt/Office Switch/action", "on_hold")
	e.sync(t)
	calls = e.lightCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "turn_off", calls[1].Service)
	assert.Equal(t, "light.lamp", calls[1].Data["entity_id"])
	assert.Contains(t, e.history.kinds(), zone.TransitionButtonMap)

	// a newer file with a parse error keeps the previous map
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte(`{"on-hold": [[`), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))
	e.manager.Refresh()
	e.sync(t)
	shadow, _ = e.tracker.Get("Office")
	assert.Equal(t, 1, shadow.Inputs.Current.ButtonMapVersion)
}

func TestConcurrentRefreshKeepsNewestMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "office_button_map.json")
	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.WriteFile(path, []byte(`{"on-hold": [[["Scene", "scene.first"]]]}`), 0o644))
	require.NoError(t, os.Chtimes(path, base, base))

	e := startZone(t, ZoneConfig{Name: "Office", Primary: "light.office", Switch: "Office Switch"}, path)
	e.sync(t)

	later := base.Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte(`{"on-hold": [[["Scene", "scene.second"]]]}`), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.manager.Refresh()
		}()
	}
	wg.Wait()
	e.sync(t)

	shadow, _ := e.tracker.Get("Office")
	assert.Equal(t, 2, shadow.Inputs.Current.ButtonMapVersion)

	e.broker.publish(t, "zigbee2mqtt/Office Switch/action", "on_hold")
	e.sync(t)
	calls := e.lightCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "scene.second", calls[0].Data["entity_id"])
}

func TestMissingMQTTDisablesInputs(t *testing.T) {
	client := ha.NewMockClient()
	m, err := NewManager(ZoneConfig{
		Name:          "Office",
		Primary:       "light.office",
		Switch:        "Office Switch",
		MotionSensors: "Office Motion",
	}, filepath.Join(t.TempDir(), "absent.json"), Deps{HA: client, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NoError(t, m.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)
}

func TestStopUnsubscribes(t *testing.T) {
	e := startZone(t, ZoneConfig{Name: "Office", Primary: "light.office", Switch: "Office Switch"}, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.manager.Stop(ctx)

	assert.Equal(t, []string{"zigbee2mqtt/Office Switch/action"}, e.broker.unsubscribed)
	assert.ErrorIs(t, e.manager.Runner().Submit(func(*zone.Arbitrator) {}), zone.ErrRunnerClosed)
}

func TestNewManagerErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewManager(ZoneConfig{Name: "Office"}, "", Deps{HA: ha.NewMockClient(), Logger: logger})
	assert.Error(t, err, "primary is required")

	_, err = NewManager(ZoneConfig{Name: "Office", Primary: "light.office"}, "", Deps{Logger: logger})
	assert.Error(t, err, "Home Assistant client is required")

	m, err := NewManager(ZoneConfig{Name: "Office", Primary: "light.office"}, "",
		Deps{HA: ha.NewMockClient(), Logger: logger, RefreshSchedule: "every now and then"})
	require.NoError(t, err)
	assert.Error(t, m.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)
}

func TestSet(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleZones))
	require.NoError(t, err)

	dir := t.TempDir()
	s, err := NewSet(cfg, func(name string) string { return filepath.Join(dir, name+".json") }, Deps{
		HA:     ha.NewMockClient(),
		MQTT:   newFakeBroker(),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Office", "Kitchen"}, s.Names())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	r, ok := s.Runner("Kitchen")
	require.True(t, ok)
	assert.NoError(t, r.Do(ctx, func(a *zone.Arbitrator) error { return nil }))
	_, ok = s.Runner("Garage")
	assert.False(t, ok)

	s.Stop(ctx)
}
