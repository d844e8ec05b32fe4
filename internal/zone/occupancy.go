package zone

import "fmt"

// SensorGroup selects one of the two occupancy sensor groups of a zone.
type SensorGroup int

const (
	// GroupNormal sensors turn the zone on at the motion sensor brightness.
	GroupNormal SensorGroup = iota
	// GroupFullBrightness sensors turn the zone on at full brightness.
	GroupFullBrightness
)

func (g SensorGroup) String() string {
	switch g {
	case GroupNormal:
		return "normal"
	case GroupFullBrightness:
		return "full_brightness"
	default:
		return fmt.Sprintf("group(%d)", int(g))
	}
}

func (g SensorGroup) other() SensorGroup {
	if g == GroupNormal {
		return GroupFullBrightness
	}
	return GroupNormal
}

// Occupancy tracks the last reported value of every motion sensor in the two
// sensor groups. It is owned by the arbitrator and is not safe for concurrent use.
type Occupancy struct {
	groups [2]map[string]bool
}

// NewOccupancy creates an occupancy aggregator with every sensor unoccupied.
func NewOccupancy(normal, fullBrightness []string) *Occupancy {
	o := &Occupancy{}
	o.groups[GroupNormal] = make(map[string]bool, len(normal))
	o.groups[GroupFullBrightness] = make(map[string]bool, len(fullBrightness))
	for _, id := range normal {
		o.groups[GroupNormal][id] = false
	}
	for _, id := range fullBrightness {
		o.groups[GroupFullBrightness][id] = false
	}
	return o
}

// GroupOf returns the group a sensor belongs to. Sensors listed in both groups
// report GroupNormal.
func (o *Occupancy) GroupOf(sensorID string) (SensorGroup, bool) {
	if _, ok := o.groups[GroupNormal][sensorID]; ok {
		return GroupNormal, true
	}
	if _, ok := o.groups[GroupFullBrightness][sensorID]; ok {
		return GroupFullBrightness, true
	}
	return GroupNormal, false
}

// Set records a sensor value. If the sensor is not a member of group but is a
// member of the other group, it is recorded there. It reports whether the stored
// value changed; an unchanged value must not trigger arbitration.
func (o *Occupancy) Set(group SensorGroup, sensorID string, value bool) (bool, error) {
	values := o.groups[group]
	if _, ok := values[sensorID]; !ok {
		values = o.groups[group.other()]
		if _, ok := values[sensorID]; !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
		}
	}

	if values[sensorID] == value {
		return false, nil
	}
	values[sensorID] = value
	return true, nil
}

// Aggregate returns the OR of every sensor in the group. An empty group is false.
func (o *Occupancy) Aggregate(group SensorGroup) bool {
	for _, v := range o.groups[group] {
		if v {
			return true
		}
	}
	return false
}

// Any reports whether either group is occupied.
func (o *Occupancy) Any() bool {
	return o.Aggregate(GroupNormal) || o.Aggregate(GroupFullBrightness)
}

// Snapshot returns a copy of the per-sensor values of a group.
func (o *Occupancy) Snapshot(group SensorGroup) map[string]bool {
	out := make(map[string]bool, len(o.groups[group]))
	for k, v := range o.groups[group] {
		out[k] = v
	}
	return out
}
