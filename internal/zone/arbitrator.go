package zone

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transition kinds reported to observers.
const (
	TransitionTurnOn    = "turn_on"
	TransitionTurnOff   = "turn_off"
	TransitionMode      = "mode"
	TransitionButtonMap = "button_map"
)

// Transition describes one completed state change of a zone.
type Transition struct {
	Zone   string
	Kind   string
	Source Source
	State  RuntimeState
	Err    error
}

// Inputs is a snapshot of everything the arbitrator has observed.
type Inputs struct {
	Occupancy               map[string]bool      `json:"occupancy"`
	FullBrightnessOccupancy map[string]bool      `json:"full_brightness_occupancy"`
	MotionDisable           map[string]bool      `json:"motion_disable"`
	Peers                   map[string]PeerState `json:"peers"`
	ButtonCounters          map[string]int       `json:"button_counters"`
	ButtonMapVersion        int                  `json:"button_map_version"`
}

// Arbitrator owns the runtime state of one zone and decides, for every input
// event, which instructions its light drivers receive.
type Arbitrator struct {
	cfg      Config
	logger   *zap.Logger
	factory  DriverFactory
	services Services

	drivers map[string]LightDriver

	state       RuntimeState
	preOverride int

	occupancy     *Occupancy
	motionDisable map[string]bool
	peers         *PeerTracker
	counters      *ButtonCounters

	buttonMap        ButtonMap
	buttonMapVersion int

	observers []func(Transition)
}

// NewArbitrator creates the arbitrator for a zone. A driver is created for
// every zone entity up front; button map targets get theirs on first use.
func NewArbitrator(cfg Config, factory DriverFactory, services Services, logger *zap.Logger) (*Arbitrator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("zone %s: driver factory is required", cfg.Name)
	}

	a := &Arbitrator{
		cfg:           cfg,
		logger:        logger.Named("zone").With(zap.String("zone", cfg.Name)),
		factory:       factory,
		services:      services,
		drivers:       make(map[string]LightDriver),
		occupancy:     NewOccupancy(cfg.MotionSensors, cfg.FullBrightnessMotionSensors),
		motionDisable: make(map[string]bool, len(cfg.MotionDisableEntities)),
		peers:         NewPeerTracker(cfg.PeerTrackers),
		counters:      NewButtonCounters(),
		buttonMap:     ButtonMap{},
		state: RuntimeState{
			Mode:      ModeOff,
			Effect:    ModeOff,
			MinMireds: DefaultMinMireds,
			MaxMireds: DefaultMaxMireds,
		},
	}
	for _, e := range cfg.MotionDisableEntities {
		a.motionDisable[e] = false
	}
	for _, e := range cfg.Entities() {
		a.drivers[e] = factory(e)
	}
	return a, nil
}

// Name returns the zone name.
func (a *Arbitrator) Name() string {
	return a.cfg.Name
}

// Config returns the zone definition with defaults applied.
func (a *Arbitrator) Config() Config {
	return a.cfg
}

// State returns a copy of the runtime state.
func (a *Arbitrator) State() RuntimeState {
	return a.state
}

// Inputs returns a copy of the observed inputs.
func (a *Arbitrator) Inputs() Inputs {
	md := make(map[string]bool, len(a.motionDisable))
	for k, v := range a.motionDisable {
		md[k] = v
	}
	return Inputs{
		Occupancy:               a.occupancy.Snapshot(GroupNormal),
		FullBrightnessOccupancy: a.occupancy.Snapshot(GroupFullBrightness),
		MotionDisable:           md,
		Peers:                   a.peers.Snapshot(),
		ButtonCounters:          a.counters.Snapshot(),
		ButtonMapVersion:        a.buttonMapVersion,
	}
}

// OnTransition registers an observer called after every state change.
// Observers run on the arbitrator's goroutine and must not block.
func (a *Arbitrator) OnTransition(fn func(Transition)) {
	a.observers = append(a.observers, fn)
}

// EffectList returns the modes the primary driver supports.
func (a *Arbitrator) EffectList() []string {
	return a.drivers[a.cfg.Primary].SupportedColorModes()
}

// SetButtonMap installs a freshly loaded button map. Counters pointing past
// the end of a shortened list wrap on the next hold. A version older than the
// installed one is ignored.
func (a *Arbitrator) SetButtonMap(m ButtonMap, version int) {
	if version < a.buttonMapVersion {
		a.logger.Debug("Ignoring stale button map",
			zap.Int("version", version),
			zap.Int("current", a.buttonMapVersion))
		return
	}
	if m == nil {
		m = ButtonMap{}
	}
	a.buttonMap = m
	a.buttonMapVersion = version
	a.logger.Info("Button map updated",
		zap.Int("version", version),
		zap.Int("actions", len(m)))
}

// TurnOn turns the zone on. Without an explicit brightness the previous
// brightness is kept, or full brightness if there was none. Any explicit
// color attribute switches every target to explicit-color mode.
func (a *Arbitrator) TurnOn(req TurnOnRequest) error {
	st := &a.state
	if req.Brightness != nil {
		st.Brightness = clampBrightness(*req.Brightness)
	} else if st.Brightness == 0 {
		st.Brightness = 255
	}
	if req.Source != SourceMotionSensor {
		st.SwitchedOn = true
	}

	explicit := req.hasExplicitColor()
	effect := DefaultEffect
	if req.Effect != "" {
		explicit = false
		effect = req.Effect
	}
	st.IsOn = true
	st.Mode = ModeOn
	st.Effect = effect
	if explicit {
		st.HSColor = req.HSColor
		st.RGBColor = req.RGBColor
		st.ColorTemp = req.ColorTemp
	}

	transition := a.transitionFor(req.Transition, req.Source)
	below, above := a.belowTargets(), a.aboveTargets()

	belowBr, aboveBr := float64(st.Brightness), 0.0
	if a.cfg.HasBrightnessThreshold {
		belowBr, aboveBr = Split(st.Brightness, a.cfg.BrightnessThreshold)
	}

	a.logger.Debug("Dispatching turn on",
		zap.String("source", req.Source.String()),
		zap.Int("brightness", st.Brightness),
		zap.Int("override", st.BrightnessOverride),
		zap.Bool("explicit_color", explicit),
		zap.Float64("below", belowBr),
		zap.Float64("above", aboveBr))

	var errs error

	selected := make(map[string]bool, len(below)+len(above))
	for _, e := range below {
		selected[e] = true
	}
	if a.cfg.HasBrightnessThreshold {
		for _, e := range above {
			selected[e] = true
		}
	}
	for _, e := range a.cfg.Others {
		if !selected[e] {
			errs = multierr.Append(errs, a.dispatch(e, "disable", a.driver(e).Disable()))
		}
	}

	if a.cfg.HasBrightnessThreshold {
		for _, e := range above {
			errs = multierr.Append(errs, a.renderOn(e, aboveBr, explicit, effect, transition, req, true))
		}
	}
	for _, e := range primaryLast(below, a.cfg.Primary) {
		errs = multierr.Append(errs, a.renderOn(e, belowBr, explicit, effect, transition, req, false))
	}

	a.notify(TransitionTurnOn, req.Source, errs)
	return errs
}

func (a *Arbitrator) renderOn(entity string, groupBr float64, explicit bool, effect string, transition float64, req TurnOnRequest, aboveGroup bool) error {
	d := a.driver(entity)
	if explicit {
		return a.dispatch(entity, "turn_on_specific", d.TurnOnSpecific(ColorDirective{
			EntityID:   entity,
			Transition: transition,
			Brightness: req.Brightness,
			HSColor:    req.HSColor,
			RGBColor:   req.RGBColor,
			ColorTemp:  req.ColorTemp,
			ColorMode:  req.ColorMode,
		}))
	}
	if aboveGroup && groupBr == 0 {
		return a.dispatch(entity, "disable_and_turn_off", d.DisableAndTurnOff(transition))
	}
	br := applyMultiplier(groupBr, entity, a.cfg.BrightnessMultiplier)
	return a.dispatch(entity, "turn_on", d.TurnOn(br, a.state.BrightnessOverride, effect, transition))
}

// TurnOff turns the zone off, unless it was switched on while motion is
// active, in which case control is handed back to the motion sensors.
func (a *Arbitrator) TurnOff(req TurnOffRequest) error {
	occupied := a.occupancy.Aggregate(GroupNormal)
	full := a.occupancy.Aggregate(GroupFullBrightness)

	if !a.state.SwitchedOn || (!occupied && !full) {
		return a.turnOffNow(req)
	}

	a.state.SwitchedOn = false
	if a.motionDisabled() {
		return a.turnOffNow(req)
	}

	br := a.cfg.MotionSensorBrightness
	if full {
		br = 255
	}
	a.logger.Info("Switch released zone to motion control",
		zap.String("source", req.Source.String()),
		zap.Int("brightness", br))
	return a.TurnOn(TurnOnRequest{Brightness: &br, Source: SourceMotionSensor})
}

func (a *Arbitrator) turnOffNow(req TurnOffRequest) error {
	st := &a.state
	st.IsOn = false
	st.SwitchedOn = false
	st.Brightness = 0
	st.BrightnessOverride = 0
	st.Mode = ModeOff
	st.Effect = ModeOff
	a.preOverride = 0

	transition := a.transitionFor(req.Transition, req.Source)
	a.logger.Debug("Dispatching turn off",
		zap.String("source", req.Source.String()),
		zap.Float64("transition", transition))

	var errs error
	for _, e := range a.cfg.Others {
		errs = multierr.Append(errs, a.dispatch(e, "disable_and_turn_off", a.driver(e).DisableAndTurnOff(transition)))
	}
	errs = multierr.Append(errs, a.dispatch(a.cfg.Primary, "disable_and_turn_off", a.driver(a.cfg.Primary).DisableAndTurnOff(transition)))

	a.notify(TransitionTurnOff, req.Source, errs)
	return errs
}

// StepUp raises the brightness by one step. Past full brightness the excess
// accumulates in the brightness override.
func (a *Arbitrator) StepUp(source Source) error {
	st := &a.state
	step := a.cfg.BrightnessStep
	if st.Brightness >= 255-step {
		if st.BrightnessOverride == 0 {
			a.preOverride = st.Brightness
		}
		st.BrightnessOverride += st.Brightness + step - 255
		st.Brightness = 255
	} else {
		st.Brightness += step
	}
	br := st.Brightness
	return a.TurnOn(TurnOnRequest{Brightness: &br, Source: source})
}

// StepDown clears an active override, restoring the brightness it started
// from, or lowers the brightness by one step. At or below one step the zone
// turns off.
func (a *Arbitrator) StepDown(source Source) error {
	st := &a.state
	if st.BrightnessOverride > 0 {
		st.BrightnessOverride = 0
		if a.preOverride > 0 {
			st.Brightness = a.preOverride
		}
		a.preOverride = 0
		br := st.Brightness
		return a.TurnOn(TurnOnRequest{Brightness: &br, Source: source})
	}

	// a step that would land on 0 turns off rather than leaving the zone
	// on at brightness 0
	if st.Brightness <= a.cfg.BrightnessStep {
		return a.TurnOff(TurnOffRequest{Source: source})
	}
	st.Brightness -= a.cfg.BrightnessStep
	br := st.Brightness
	return a.TurnOn(TurnOnRequest{Brightness: &br, Source: source})
}

// TurnOnMode switches the zone to a named driver mode at full brightness.
// Secondaries are disabled; only the primary renders the mode.
func (a *Arbitrator) TurnOnMode(mode string) error {
	st := &a.state
	st.IsOn = true
	st.SwitchedOn = true
	st.Brightness = 255
	st.Mode = mode
	st.Effect = mode

	transition := a.cfg.DefaultTransition
	var errs error
	for _, e := range a.cfg.Others {
		errs = multierr.Append(errs, a.dispatch(e, "disable", a.driver(e).Disable()))
	}
	errs = multierr.Append(errs, a.dispatch(a.cfg.Primary, "turn_on",
		a.driver(a.cfg.Primary).TurnOn(255, st.BrightnessOverride, mode, transition)))

	a.notify(TransitionMode, SourceUnspecified, errs)
	return errs
}

// HandleSwitch interprets one switch action token and performs the resulting
// actions in order. A failing action does not stop the remaining ones.
func (a *Arbitrator) HandleSwitch(token string) error {
	actions, err := Interpret(token, a.buttonMap, a.counters)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}

	a.logger.Info("Switch action",
		zap.String("action", token),
		zap.Int("commands", len(actions)))

	var errs error
	mapped := false
	for _, act := range actions {
		switch act.(type) {
		case SwitchOn, StepUp, StepDown, SwitchOff:
		default:
			mapped = true
		}
		errs = multierr.Append(errs, a.execute(act))
	}
	if mapped {
		a.notify(TransitionButtonMap, SourceSwitch, errs)
	}
	return errs
}

func (a *Arbitrator) execute(act Action) error {
	switch act.(type) {
	case SwitchOn:
		a.state.BrightnessOverride = 0
		a.preOverride = 0
		br := 255
		return a.TurnOn(TurnOnRequest{Brightness: &br, Source: SourceSwitch})
	case StepUp:
		return a.StepUp(SourceSwitch)
	case StepDown:
		return a.StepDown(SourceSwitch)
	case SwitchOff:
		return a.TurnOff(TurnOffRequest{Source: SourceSwitch})
	}

	// button map primitives leave the zone in switched-on control
	a.state.SwitchedOn = true

	switch c := act.(type) {
	case Brightness:
		if c.Value == 0 {
			return a.service(c.Entity, "light_off", a.services.LightOff(c.Entity))
		}
		return a.service(c.Entity, "light_on", a.services.LightOn(c.Entity, c.Value))

	case SetMode:
		d := a.driver(c.Entity)
		transition := a.cfg.DefaultTransition
		switch c.Mode {
		case SetModeDisable:
			return a.dispatch(c.Entity, "disable", d.Disable())
		case SetModeOff:
			return a.dispatch(c.Entity, "disable_and_turn_off", d.DisableAndTurnOff(transition))
		case "":
			return a.dispatch(c.Entity, "turn_on", d.TurnOn(float64(c.Brightness), 0, DefaultEffect, transition))
		}
		if !contains(d.SupportedColorModes(), c.Mode) {
			return fmt.Errorf("%w: %s does not support mode %q", ErrUnrecognizedCommand, c.Entity, c.Mode)
		}
		return a.dispatch(c.Entity, "turn_on", d.TurnOn(255, 0, c.Mode, transition))

	case Color:
		rgb := [3]int{c.R, c.G, c.B}
		br := (c.R + c.G + c.B) / 3
		return a.dispatch(c.Entity, "turn_on_specific", a.driver(c.Entity).TurnOnSpecific(ColorDirective{
			EntityID:   c.Entity,
			Transition: a.cfg.DefaultTransition,
			Brightness: &br,
			RGBColor:   &rgb,
		}))

	case Scene:
		return a.service(c.ID, "scene_on", a.services.SceneOn(c.ID))
	}

	return fmt.Errorf("%w: %s", ErrUnrecognizedCommand, act.Kind())
}

// HandleMotion records a motion sensor report and applies the motion rule:
// occupancy turns the zone on unless a switch owns it or motion is disabled,
// and the last sensor clearing turns it off.
func (a *Arbitrator) HandleMotion(sensorID string, occupied bool) error {
	group, ok := a.occupancy.GroupOf(sensorID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}
	changed, err := a.occupancy.Set(group, sensorID, occupied)
	if err != nil || !changed {
		return err
	}

	a.logger.Debug("Occupancy changed",
		zap.String("sensor", sensorID),
		zap.String("group", group.String()),
		zap.Bool("occupied", occupied))

	if a.state.SwitchedOn {
		return nil
	}

	if a.occupancy.Any() {
		if a.motionDisabled() {
			a.logger.Debug("Motion ignored while motion disable is active", zap.String("sensor", sensorID))
			return nil
		}
		br := a.cfg.MotionSensorBrightness
		if a.occupancy.Aggregate(GroupFullBrightness) {
			br = 255
		}
		return a.TurnOn(TurnOnRequest{Brightness: &br, Source: SourceMotionSensor})
	}

	return a.TurnOff(TurnOffRequest{Source: SourceMotionSensor})
}

// HandleMotionDisable records the state of a motion-disable entity.
func (a *Arbitrator) HandleMotionDisable(entityID string, on bool) error {
	if _, ok := a.motionDisable[entityID]; !ok {
		return fmt.Errorf("%w: %s is not a motion disable entity", ErrUnknownEntity, entityID)
	}
	if a.motionDisable[entityID] != on {
		a.logger.Info("Motion disable changed",
			zap.String("entity_id", entityID),
			zap.Bool("on", on))
	}
	a.motionDisable[entityID] = on
	return nil
}

// HandlePeer applies a peer light state change.
func (a *Arbitrator) HandlePeer(ev EntityEvent) error {
	if !a.peers.Tracks(ev.EntityID) {
		return fmt.Errorf("%w: %s is not a tracked peer", ErrUnknownEntity, ev.EntityID)
	}

	switch ev.NewState {
	case "on":
		reported, ok := ev.Brightness()
		if !ok {
			reported = 255
		}
		target := a.peers.On(ev.EntityID, reported)
		a.logger.Info("Peer turned on",
			zap.String("peer", ev.EntityID),
			zap.Int("reported", reported),
			zap.Int("target", target))

		errs := a.TurnOn(TurnOnRequest{Brightness: &target, Source: SourcePeer})
		if a.cfg.TurnOffPeers {
			errs = multierr.Append(errs, a.service(ev.EntityID, "light_off", a.services.LightOff(ev.EntityID)))
		}
		return errs

	case "off":
		if !a.cfg.TrackPeerOffEvents {
			return nil
		}
		a.peers.Off(ev.EntityID)
		if a.peers.AnyOn() {
			return nil
		}
		a.logger.Info("Last peer turned off", zap.String("peer", ev.EntityID))
		return a.TurnOff(TurnOffRequest{Source: SourcePeer})
	}
	return nil
}

// ApplyReadback copies color attributes reported for the primary entity into
// the runtime state. Missing mired bounds fall back to the defaults.
func (a *Arbitrator) ApplyReadback(attrs map[string]interface{}) {
	st := &a.state
	if hs, ok := floatPair(attrs, "hs_color"); ok {
		st.HSColor = hs
	}
	if rgb, ok := intTriple(attrs, "rgb_color"); ok {
		st.RGBColor = rgb
	}
	if ct, ok := intAttr(attrs, "color_temp"); ok {
		st.ColorTemp = &ct
	}
	st.MinMireds = DefaultMinMireds
	if v, ok := intAttr(attrs, "min_mireds"); ok {
		st.MinMireds = v
	}
	st.MaxMireds = DefaultMaxMireds
	if v, ok := intAttr(attrs, "max_mireds"); ok {
		st.MaxMireds = v
	}
}

func (a *Arbitrator) driver(entity string) LightDriver {
	d, ok := a.drivers[entity]
	if !ok {
		d = a.factory(entity)
		a.drivers[entity] = d
	}
	return d
}

func (a *Arbitrator) belowTargets() []string {
	if len(a.cfg.BelowThreshold) > 0 {
		return a.cfg.BelowThreshold
	}
	return []string{a.cfg.Primary}
}

func (a *Arbitrator) aboveTargets() []string {
	if len(a.cfg.AboveThreshold) > 0 {
		return a.cfg.AboveThreshold
	}
	return a.cfg.Others
}

func (a *Arbitrator) motionDisabled() bool {
	for _, on := range a.motionDisable {
		if on {
			return true
		}
	}
	return false
}

func (a *Arbitrator) transitionFor(explicit *float64, source Source) float64 {
	if explicit != nil {
		return *explicit
	}
	switch source {
	case SourceSwitch:
		return a.cfg.SwitchTransition
	case SourceMotionSensor:
		return a.cfg.MotionSensorTransition
	default:
		return a.cfg.DefaultTransition
	}
}

func (a *Arbitrator) dispatch(entity, op string, err error) error {
	if err != nil {
		a.logger.Warn("Light driver call failed",
			zap.String("entity_id", entity),
			zap.String("op", op),
			zap.Error(err))
		return fmt.Errorf("%s %s: %w", op, entity, err)
	}
	return nil
}

func (a *Arbitrator) service(target, op string, err error) error {
	if err != nil {
		a.logger.Warn("Service call failed",
			zap.String("target", target),
			zap.String("op", op),
			zap.Error(err))
		return fmt.Errorf("%s %s: %w", op, target, err)
	}
	return nil
}

func (a *Arbitrator) notify(kind string, source Source, err error) {
	t := Transition{
		Zone:   a.cfg.Name,
		Kind:   kind,
		Source: source,
		State:  a.state,
		Err:    err,
	}
	for _, fn := range a.observers {
		fn(t)
	}
}

func primaryLast(entities []string, primary string) []string {
	out := make([]string, 0, len(entities))
	hasPrimary := false
	for _, e := range entities {
		if e == primary {
			hasPrimary = true
			continue
		}
		out = append(out, e)
	}
	if hasPrimary {
		out = append(out, primary)
	}
	return out
}

func clampBrightness(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
