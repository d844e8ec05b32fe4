package zone

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type call struct {
	Entity     string
	Op         string
	Brightness float64
	Override   int
	Mode       string
	Transition float64
	Directive  *ColorDirective
}

// recorder captures driver and service calls in the order they happen.
type recorder struct {
	calls []call
	fail  map[string]error
	modes []string
}

func newRecorder() *recorder {
	return &recorder{
		fail:  map[string]error{},
		modes: []string{"Normal", "Vivid", "Bright"},
	}
}

func (r *recorder) factory(entity string) LightDriver {
	return &fakeDriver{entity: entity, rec: r}
}

func (r *recorder) add(c call) error {
	r.calls = append(r.calls, c)
	return r.fail[c.Entity]
}

func (r *recorder) reset() {
	r.calls = nil
}

func (r *recorder) ops() []string {
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Op+" "+c.Entity)
	}
	return out
}

func (r *recorder) LightOn(entityID string, brightness int) error {
	return r.add(call{Entity: entityID, Op: "light_on", Brightness: float64(brightness)})
}

func (r *recorder) LightOff(entityID string) error {
	return r.add(call{Entity: entityID, Op: "light_off"})
}

func (r *recorder) SceneOn(sceneID string) error {
	return r.add(call{Entity: sceneID, Op: "scene_on"})
}

type fakeDriver struct {
	entity string
	rec    *recorder
}

func (d *fakeDriver) TurnOn(brightness float64, override int, mode string, transition float64) error {
	return d.rec.add(call{Entity: d.entity, Op: "turn_on", Brightness: brightness, Override: override, Mode: mode, Transition: transition})
}

func (d *fakeDriver) TurnOnSpecific(cd ColorDirective) error {
	return d.rec.add(call{Entity: d.entity, Op: "turn_on_specific", Transition: cd.Transition, Directive: &cd})
}

func (d *fakeDriver) Disable() error {
	return d.rec.add(call{Entity: d.entity, Op: "disable"})
}

func (d *fakeDriver) DisableAndTurnOff(transition float64) error {
	return d.rec.add(call{Entity: d.entity, Op: "disable_and_turn_off", Transition: transition})
}

func (d *fakeDriver) SupportedColorModes() []string {
	return d.rec.modes
}

func newTestZone(t *testing.T, cfg Config) (*Arbitrator, *recorder) {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "office"
	}
	if cfg.Primary == "" {
		cfg.Primary = "light.office"
	}
	rec := newRecorder()
	a, err := NewArbitrator(cfg, rec.factory, rec, zaptest.NewLogger(t))
	require.NoError(t, err)
	return a, rec
}

var errDriver = errors.New("driver unavailable")
