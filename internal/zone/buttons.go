package zone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ButtonActions lists the canonical switch actions that carry a cycle counter.
var ButtonActions = []string{
	"on-press", "on-hold",
	"up-press", "up-hold",
	"down-press", "down-hold",
	"off-press", "off-hold",
}

// Action is one primitive instruction produced by the switch path. The set of
// implementations is closed: the fixed press intents plus the four button map
// primitives.
type Action interface {
	Kind() string
}

// SwitchOn turns the zone on at full brightness.
type SwitchOn struct{}

// StepUp raises the zone brightness by one step.
type StepUp struct{}

// StepDown lowers the zone brightness by one step.
type StepDown struct{}

// SwitchOff turns the zone off, subject to motion priority.
type SwitchOff struct{}

// Brightness sets a light directly through Home Assistant, bypassing its
// driver. A value of 0 turns the light off.
type Brightness struct {
	Entity string
	Value  int
}

// SetMode values that are not color mode names.
const (
	SetModeDisable = "Disable"
	SetModeOff     = "Off"
)

// SetMode drives an entity's Light Driver. Mode is SetModeDisable,
// SetModeOff, a supported color mode name, or empty when Brightness carries
// a plain brightness value.
type SetMode struct {
	Entity     string
	Mode       string
	Brightness int
}

// Color turns an entity on at an explicit RGB color.
type Color struct {
	Entity  string
	R, G, B int
}

// Scene activates a Home Assistant scene.
type Scene struct {
	ID string
}

func (SwitchOn) Kind() string   { return "SwitchOn" }
func (StepUp) Kind() string     { return "StepUp" }
func (StepDown) Kind() string   { return "StepDown" }
func (SwitchOff) Kind() string  { return "SwitchOff" }
func (Brightness) Kind() string { return "Brightness" }
func (SetMode) Kind() string    { return "RightLight" }
func (Color) Kind() string      { return "Color" }
func (Scene) Kind() string      { return "Scene" }

// CommandList is one cycle entry of a button: the actions fired together.
type CommandList []Action

// ButtonMap maps a canonical button action to the command lists it cycles
// through on successive presses.
type ButtonMap map[string][]CommandList

// CanonicalAction normalizes a switch token so that "on_hold" and "on-hold"
// address the same counter and map entry.
func CanonicalAction(token string) string {
	return strings.ReplaceAll(strings.TrimSpace(token), "_", "-")
}

// ParseButtonMap decodes a button map document. Structural problems with the
// document, including two keys naming the same action, are fatal and wrapped
// in ErrMapLoad. Individual commands with an unknown tag or bad arguments are
// dropped from their list and reported in skipped, wrapped in
// ErrUnrecognizedCommand.
func ParseButtonMap(data []byte) (ButtonMap, []error, error) {
	var raw map[string][][]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMapLoad, err)
	}

	keys := make(map[string]string, len(raw))
	for key := range raw {
		action := CanonicalAction(key)
		if other, dup := keys[action]; dup {
			return nil, nil, fmt.Errorf("%w: %q and %q both map to %s", ErrMapLoad, other, key, action)
		}
		keys[action] = key
	}

	var skipped []error
	m := make(ButtonMap, len(raw))
	for key, lists := range raw {
		action := CanonicalAction(key)
		decoded := make([]CommandList, 0, len(lists))
		for i, list := range lists {
			cl := make(CommandList, 0, len(list))
			for j, cmd := range list {
				a, err := decodeCommand(cmd)
				if err != nil {
					skipped = append(skipped, fmt.Errorf("%s[%d][%d]: %w", action, i, j, err))
					continue
				}
				cl = append(cl, a)
			}
			decoded = append(decoded, cl)
		}
		m[action] = decoded
	}
	return m, skipped, nil
}

func decodeCommand(data json.RawMessage) (Action, error) {
	var parts []interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&parts); err != nil || len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedCommand, string(data))
	}

	tag, ok := parts[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: tag is not a string: %s", ErrUnrecognizedCommand, string(data))
	}
	args := parts[1:]

	bad := func(why string) error {
		return fmt.Errorf("%w: %s %s: %s", ErrUnrecognizedCommand, tag, why, string(data))
	}

	switch tag {
	case "Brightness":
		if len(args) != 2 {
			return nil, bad("expects entity and value")
		}
		ent, ok := args[0].(string)
		val, vok := asInt(args[1])
		if !ok || !vok {
			return nil, bad("bad arguments")
		}
		return Brightness{Entity: ent, Value: val}, nil

	case "RightLight", "SetMode":
		if len(args) != 2 {
			return nil, bad("expects entity and mode or value")
		}
		ent, ok := args[0].(string)
		if !ok {
			return nil, bad("entity is not a string")
		}
		if s, isStr := args[1].(string); isStr {
			return SetMode{Entity: ent, Mode: s}, nil
		}
		val, vok := asInt(args[1])
		if !vok {
			return nil, bad("value is neither a mode nor a number")
		}
		if val == 0 {
			return SetMode{Entity: ent, Mode: SetModeOff}, nil
		}
		return SetMode{Entity: ent, Brightness: val}, nil

	case "Color":
		if len(args) != 4 {
			return nil, bad("expects entity, r, g, b")
		}
		ent, ok := args[0].(string)
		r, rok := asInt(args[1])
		g, gok := asInt(args[2])
		b, bok := asInt(args[3])
		if !ok || !rok || !gok || !bok {
			return nil, bad("bad arguments")
		}
		return Color{Entity: ent, R: r, G: g, B: b}, nil

	case "Scene":
		if len(args) != 1 {
			return nil, bad("expects a scene id")
		}
		id, ok := args[0].(string)
		if !ok {
			return nil, bad("scene id is not a string")
		}
		return Scene{ID: id}, nil
	}

	return nil, fmt.Errorf("%w: unknown tag %q", ErrUnrecognizedCommand, tag)
}

func asInt(v interface{}) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// ButtonCounters holds the cycle index of every button action. At most one
// counter is non-zero at a time.
type ButtonCounters struct {
	counts map[string]int
}

// NewButtonCounters creates counters for the canonical actions, all at zero.
func NewButtonCounters() *ButtonCounters {
	c := &ButtonCounters{counts: make(map[string]int, len(ButtonActions))}
	for _, a := range ButtonActions {
		c.counts[a] = 0
	}
	return c
}

// Get returns the current cycle index for an action.
func (c *ButtonCounters) Get(action string) int {
	return c.counts[CanonicalAction(action)]
}

// Clear zeroes every counter.
func (c *ButtonCounters) Clear() {
	for k := range c.counts {
		c.counts[k] = 0
	}
}

// NonZero returns how many counters are currently non-zero.
func (c *ButtonCounters) NonZero() int {
	n := 0
	for _, v := range c.counts {
		if v != 0 {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all counters.
func (c *ButtonCounters) Snapshot() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Interpret resolves a switch token into the actions to perform, advancing the
// button counters. Releases produce nothing. Presses map to the fixed intents.
// Holds select the next command list from the button map; a hold with no
// configured list produces nothing.
func Interpret(token string, m ButtonMap, c *ButtonCounters) ([]Action, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty switch action", ErrMalformedPayload)
	}
	if strings.Contains(token, "release") {
		return nil, nil
	}

	action := CanonicalAction(token)
	if strings.Contains(action, "hold") {
		lists := m[action]
		if len(lists) == 0 {
			return nil, nil
		}

		idx := c.counts[action]
		if idx >= len(lists) {
			// map was reloaded with fewer entries
			idx = 0
		}
		next := idx + 1
		if next >= len(lists) {
			next = 0
		}
		c.Clear()
		c.counts[action] = next

		return append([]Action(nil), lists[idx]...), nil
	}

	switch {
	case strings.HasPrefix(action, "on"):
		c.Clear()
		return []Action{SwitchOn{}}, nil
	case strings.HasPrefix(action, "up"):
		c.Clear()
		return []Action{StepUp{}}, nil
	case strings.HasPrefix(action, "down"):
		c.Clear()
		return []Action{StepDown{}}, nil
	case strings.HasPrefix(action, "off"):
		c.Clear()
		return []Action{SwitchOff{}}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized switch action %q", ErrMalformedPayload, token)
}
