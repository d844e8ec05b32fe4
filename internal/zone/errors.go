package zone

import "errors"

// Errors returned by the zone arbitrator and its helpers.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownSensor is returned when a motion sensor is not a member of
	// either configured sensor group. The event is dropped.
	ErrUnknownSensor = errors.New("zone: unknown motion sensor")

	// ErrUnrecognizedCommand is returned for a button map entry whose tag or
	// arguments cannot be interpreted. Only that entry is skipped.
	ErrUnrecognizedCommand = errors.New("zone: unrecognized button map command")

	// ErrMapLoad is returned when the button map file is missing or cannot be
	// parsed. The previously loaded map stays active.
	ErrMapLoad = errors.New("zone: button map load failed")

	// ErrMalformedPayload is returned when an event payload is missing
	// required fields. The event is dropped without mutating state.
	ErrMalformedPayload = errors.New("zone: malformed event payload")

	// ErrUnknownEntity is returned for state events from entities this zone
	// does not track.
	ErrUnknownEntity = errors.New("zone: untracked entity")
)
