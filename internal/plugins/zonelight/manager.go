// Package zonelight wires zones to their inputs: switches, motion sensors,
// motion-disable entities and peer lights, plus the periodic button map
// reload and primary readback.
package zonelight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/alxld/new-zone-light/internal/ha"
	"github.com/alxld/new-zone-light/internal/lightdriver"
	"github.com/alxld/new-zone-light/internal/mqtt"
	"github.com/alxld/new-zone-light/internal/shadowstate"
	"github.com/alxld/new-zone-light/internal/zone"
)

// zhaEventType is the Home Assistant bus event carrying ZHA remote commands
const zhaEventType = "zha_event"

// TransitionRecorder persists zone transitions
type TransitionRecorder interface {
	Record(t zone.Transition) error
}

// Deps are the shared collaborators of every zone manager
type Deps struct {
	HA ha.HAClient
	// MQTT may be nil when no broker is configured
	MQTT    mqtt.Subscriber
	Topics  mqtt.Topics
	Tracker *shadowstate.Tracker
	// History may be nil when history is disabled
	History         TransitionRecorder
	Logger          *zap.Logger
	ReadOnly        bool
	RefreshSchedule string
	QueueSize       int
}

// Manager runs one zone
type Manager struct {
	cfg       ZoneConfig
	deps      Deps
	logger    *zap.Logger
	zone      *zone.Arbitrator
	runner    *zone.Runner
	buttonMap *zone.ButtonMapFile
	shadow    *shadowstate.ZoneTracker
	cron      *cron.Cron

	// refreshMu keeps a cron refresh from overlapping the one run at start
	refreshMu sync.Mutex

	mu       sync.Mutex
	haSubs   []ha.Subscription
	mqttSubs []mqtt.Subscription
}

// NewManager builds a zone from its YAML definition. buttonMapPath is used
// when the definition does not name a button map file.
func NewManager(zc ZoneConfig, buttonMapPath string, deps Deps) (*Manager, error) {
	cfg, err := zc.ToZone()
	if err != nil {
		return nil, err
	}
	if deps.HA == nil {
		return nil, fmt.Errorf("zone %s: Home Assistant client is required", zc.Name)
	}

	logger := deps.Logger.Named("zonelight").With(zap.String("zone", zc.Name))
	modes := zc.GetModes()
	if modes == nil {
		modes = lightdriver.DefaultModes
	}

	arb, err := zone.NewArbitrator(cfg,
		lightdriver.Factory(deps.HA, deps.Logger, deps.ReadOnly, modes),
		lightdriver.NewServices(deps.HA, deps.Logger, deps.ReadOnly),
		deps.Logger)
	if err != nil {
		return nil, err
	}

	if zc.ButtonMap != "" {
		buttonMapPath = zc.ButtonMap
	}
	if deps.RefreshSchedule == "" {
		deps.RefreshSchedule = "@every 30s"
	}

	m := &Manager{
		cfg:       zc,
		deps:      deps,
		logger:    logger,
		zone:      arb,
		runner:    zone.NewRunner(arb, deps.Logger, deps.QueueSize),
		buttonMap: zone.NewButtonMapFile(buttonMapPath),
		cron:      cron.New(),
	}
	if deps.Tracker != nil {
		m.shadow = deps.Tracker.Zone(zc.Name)
	}
	arb.OnTransition(m.handleTransition)

	return m, nil
}

// Name returns the zone name
func (m *Manager) Name() string {
	return m.cfg.Name
}

// Runner returns the goroutine that owns the zone
func (m *Manager) Runner() *zone.Runner {
	return m.runner
}

// Start subscribes to every input of the zone and schedules the refresh
func (m *Manager) Start() error {
	m.logger.Info("Starting zone",
		zap.String("primary", m.cfg.Primary),
		zap.String("switch", m.cfg.Switch),
		zap.String("button_map", m.buttonMap.Path()))

	m.runner.Start()
	m.submit("init", func(a *zone.Arbitrator) error {
		if m.shadow != nil {
			m.shadow.UpdateOutputs(a.State(), a.EffectList())
		}
		return nil
	})

	if err := m.subscribeSwitch(); err != nil {
		return err
	}
	if err := m.subscribeMotionSensors(); err != nil {
		return err
	}
	if err := m.subscribeMotionDisable(); err != nil {
		return err
	}
	if err := m.subscribePeers(); err != nil {
		return err
	}

	if _, err := m.cron.AddFunc(m.deps.RefreshSchedule, m.Refresh); err != nil {
		return fmt.Errorf("zone %s: invalid refresh schedule %q: %w", m.cfg.Name, m.deps.RefreshSchedule, err)
	}
	m.cron.Start()
	m.Refresh()

	m.logger.Info("Zone started")
	return nil
}

// Stop unsubscribes all inputs and stops the zone's goroutine
func (m *Manager) Stop(ctx context.Context) {
	m.logger.Info("Stopping zone")

	cronDone := m.cron.Stop()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
	}

	m.mu.Lock()
	for _, sub := range m.haSubs {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Debug("Unsubscribe failed", zap.Error(err))
		}
	}
	for _, sub := range m.mqttSubs {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Debug("Unsubscribe failed", zap.Error(err))
		}
	}
	m.haSubs = nil
	m.mqttSubs = nil
	m.mu.Unlock()

	m.runner.Stop(ctx)
	m.logger.Info("Zone stopped")
}

// Refresh reloads the button map if its file changed and reads back the
// primary light's color attributes. File and network reads happen on the
// caller's goroutine; only the results are handed to the zone.
func (m *Manager) Refresh() {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	res, err := m.buttonMap.Reload()
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.logger.Debug("No button map file", zap.String("path", m.buttonMap.Path()))
	case err != nil:
		m.logger.Warn("Button map reload failed, keeping previous map",
			zap.String("path", m.buttonMap.Path()),
			zap.Error(err))
	}
	for _, skipped := range res.Skipped {
		m.logger.Warn("Skipped button map command", zap.Error(skipped))
	}
	if res.Changed {
		m.submit("button_map", func(a *zone.Arbitrator) error {
			a.SetButtonMap(res.Map, res.Version)
			return nil
		})
	}

	st, err := m.deps.HA.GetState(m.cfg.Primary)
	if err != nil {
		m.logger.Debug("Primary readback failed",
			zap.String("entity_id", m.cfg.Primary),
			zap.Error(err))
		return
	}
	attrs := st.Attributes
	m.submit("readback", func(a *zone.Arbitrator) error {
		a.ApplyReadback(attrs)
		if m.shadow != nil {
			m.shadow.UpdateOutputs(a.State(), a.EffectList())
		}
		return nil
	})
}

func (m *Manager) subscribeSwitch() error {
	sw := m.cfg.Switch
	if sw == "" {
		return nil
	}

	if m.cfg.IsZHASwitch() {
		sub, err := m.deps.HA.SubscribeEvents(zhaEventType, func(_ string, data json.RawMessage) {
			ev, err := zone.ParseZHAEvent(data)
			if err != nil {
				m.logger.Debug("Ignoring zha_event", zap.Error(err))
				return
			}
			if ev.DeviceIEEE != sw {
				return
			}
			m.submit("switch", func(a *zone.Arbitrator) error { return a.HandleSwitch(ev.Command) })
		})
		if err != nil {
			return fmt.Errorf("zone %s: failed to subscribe to %s: %w", m.cfg.Name, zhaEventType, err)
		}
		m.addHASub(sub)
		m.register(func(r *shadowstate.SubscriptionRegistry) { r.RegisterEventType(m.cfg.Name, zhaEventType) })
		return nil
	}

	return m.subscribeMQTT(m.deps.Topics.SwitchAction(sw), func(_ string, payload []byte) error {
		token, err := zone.ParseSwitchAction(payload)
		if err != nil {
			return err
		}
		m.submit("switch", func(a *zone.Arbitrator) error { return a.HandleSwitch(token) })
		return nil
	})
}

func (m *Manager) subscribeMotionSensors() error {
	sensors := append(m.cfg.GetMotionSensors(), m.cfg.GetFullBrightnessMotionSensors()...)
	for _, sensor := range sensors {
		sensor := sensor

		if IsHAMotionSensor(sensor) {
			if err := m.subscribeEntity(sensor, func(st *ha.State) {
				occupied := st.State == "on"
				m.submit("motion", func(a *zone.Arbitrator) error { return a.HandleMotion(sensor, occupied) })
			}); err != nil {
				return err
			}
			continue
		}

		if err := m.subscribeMQTT(m.deps.Topics.Device(sensor), func(_ string, payload []byte) error {
			occupied, err := zone.ParseOccupancy(payload)
			if err != nil {
				return err
			}
			m.submit("motion", func(a *zone.Arbitrator) error { return a.HandleMotion(sensor, occupied) })
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) subscribeMotionDisable() error {
	for _, entity := range m.cfg.GetMotionDisable() {
		entity := entity
		if err := m.subscribeEntity(entity, func(st *ha.State) {
			on := st.State == "on"
			m.submit("motion_disable", func(a *zone.Arbitrator) error { return a.HandleMotionDisable(entity, on) })
		}); err != nil {
			return err
		}

		// seed the current value so motion is suppressed from the start
		if st, err := m.deps.HA.GetState(entity); err == nil && st != nil {
			on := st.State == "on"
			m.submit("motion_disable", func(a *zone.Arbitrator) error { return a.HandleMotionDisable(entity, on) })
		}
	}
	return nil
}

func (m *Manager) subscribePeers() error {
	for peer := range m.cfg.Peers {
		peer := peer
		if err := m.subscribeEntity(peer, func(st *ha.State) {
			ev := zone.EntityEvent{EntityID: peer, NewState: st.State, Attributes: st.Attributes}
			m.submit("peer", func(a *zone.Arbitrator) error { return a.HandlePeer(ev) })
		}); err != nil {
			return err
		}
	}
	return nil
}

// subscribeEntity subscribes to state changes of an entity. Removals
// (nil new state) are ignored.
func (m *Manager) subscribeEntity(entityID string, handler func(st *ha.State)) error {
	sub, err := m.deps.HA.SubscribeStateChanges(entityID, func(_ string, _, newState *ha.State) {
		if newState == nil {
			return
		}
		handler(newState)
	})
	if err != nil {
		return fmt.Errorf("zone %s: failed to subscribe to %s: %w", m.cfg.Name, entityID, err)
	}
	m.addHASub(sub)
	m.register(func(r *shadowstate.SubscriptionRegistry) { r.RegisterEntity(m.cfg.Name, entityID) })
	return nil
}

// subscribeMQTT subscribes to a zigbee2mqtt topic. Without a broker the input
// is skipped with a warning.
func (m *Manager) subscribeMQTT(topic string, handler mqtt.MessageHandler) error {
	if m.deps.MQTT == nil {
		m.logger.Warn("MQTT is not configured, input disabled", zap.String("topic", topic))
		return nil
	}

	sub, err := m.deps.MQTT.Subscribe(topic, handler)
	if err != nil {
		return fmt.Errorf("zone %s: failed to subscribe to %s: %w", m.cfg.Name, topic, err)
	}
	m.mu.Lock()
	m.mqttSubs = append(m.mqttSubs, sub)
	m.mu.Unlock()
	m.register(func(r *shadowstate.SubscriptionRegistry) { r.RegisterTopic(m.cfg.Name, topic) })
	return nil
}

func (m *Manager) addHASub(sub ha.Subscription) {
	m.mu.Lock()
	m.haSubs = append(m.haSubs, sub)
	m.mu.Unlock()
}

func (m *Manager) register(fn func(r *shadowstate.SubscriptionRegistry)) {
	if m.deps.Tracker != nil {
		fn(m.deps.Tracker.Registry())
	}
}

// submit queues work for the zone. Errors are logged on the zone's goroutine
// and the shadow inputs are refreshed after every input.
func (m *Manager) submit(what string, fn func(a *zone.Arbitrator) error) {
	err := m.runner.Submit(func(a *zone.Arbitrator) {
		if err := fn(a); err != nil {
			m.logError(what, err)
		}
		if m.shadow != nil {
			m.shadow.UpdateInputs(a.Inputs())
		}
	})
	if err != nil {
		m.logger.Debug("Dropped input for stopped zone", zap.String("input", what), zap.Error(err))
	}
}

func (m *Manager) logError(what string, err error) {
	switch {
	case errors.Is(err, zone.ErrUnknownSensor),
		errors.Is(err, zone.ErrUnknownEntity),
		errors.Is(err, zone.ErrMalformedPayload):
		m.logger.Warn("Ignored input", zap.String("input", what), zap.Error(err))
	case errors.Is(err, zone.ErrUnrecognizedCommand):
		m.logger.Warn("Unrecognized command", zap.String("input", what), zap.Error(err))
	default:
		m.logger.Error("Zone input failed", zap.String("input", what), zap.Error(err))
	}
}

// handleTransition runs on the zone's goroutine after every state change
func (m *Manager) handleTransition(t zone.Transition) {
	if m.shadow != nil {
		m.shadow.RecordTransition(t, m.zone.Inputs())
	}
	if m.deps.History != nil {
		if err := m.deps.History.Record(t); err != nil {
			m.logger.Warn("Failed to record transition", zap.Error(err))
		}
	}
}
