package mqtt

import "strings"

// DefaultBaseTopic is the zigbee2mqtt base topic
const DefaultBaseTopic = "zigbee2mqtt"

// Topics builds zigbee2mqtt topic names under a base topic
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultBaseTopic
	}
	return strings.TrimSuffix(t.Base, "/")
}

// Device returns the state topic of a device, e.g. zigbee2mqtt/Hall Motion
func (t Topics) Device(name string) string {
	return t.base() + "/" + name
}

// SwitchAction returns the action topic of a remote, e.g. zigbee2mqtt/Office Switch/action
func (t Topics) SwitchAction(name string) string {
	return t.base() + "/" + name + "/action"
}
