package zone

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityEvent is a state change reported for a peer light or a
// motion-disable entity.
type EntityEvent struct {
	EntityID   string
	NewState   string
	Attributes map[string]interface{}
}

// Brightness returns the brightness attribute, if reported.
func (e EntityEvent) Brightness() (int, bool) {
	return intAttr(e.Attributes, "brightness")
}

// ZHAEvent is the data of a zha_event bus event.
type ZHAEvent struct {
	DeviceIEEE string `json:"device_ieee"`
	Command    string `json:"command"`
}

// ParseZHAEvent decodes zha_event data.
func ParseZHAEvent(data []byte) (ZHAEvent, error) {
	var ev ZHAEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if ev.DeviceIEEE == "" || ev.Command == "" {
		return ev, fmt.Errorf("%w: zha_event without device_ieee or command", ErrMalformedPayload)
	}
	return ev, nil
}

// ParseSwitchAction extracts the action token from a zigbee2mqtt action
// payload. Both the raw token and a JSON object with an "action" field are
// accepted.
func ParseSwitchAction(payload []byte) (string, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var body struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		s = body.Action
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return "", fmt.Errorf("%w: empty switch action", ErrMalformedPayload)
	}
	return s, nil
}

// ParseOccupancy decodes the occupancy field of a zigbee2mqtt sensor payload.
func ParseOccupancy(payload []byte) (bool, error) {
	var body struct {
		Occupancy *bool `json:"occupancy"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if body.Occupancy == nil {
		return false, fmt.Errorf("%w: missing occupancy", ErrMalformedPayload)
	}
	return *body.Occupancy, nil
}

func intAttr(attrs map[string]interface{}, key string) (int, bool) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return int(f), err == nil
	}
	return 0, false
}

func floatPair(attrs map[string]interface{}, key string) (*[2]float64, bool) {
	list, ok := attrs[key].([]interface{})
	if !ok || len(list) != 2 {
		return nil, false
	}
	var out [2]float64
	for i, v := range list {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return &out, true
}

func intTriple(attrs map[string]interface{}, key string) (*[3]int, bool) {
	list, ok := attrs[key].([]interface{})
	if !ok || len(list) != 3 {
		return nil, false
	}
	var out [3]int
	for i, v := range list {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out[i] = int(f)
	}
	return &out, true
}
