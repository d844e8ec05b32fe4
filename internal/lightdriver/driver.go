// Package lightdriver renders zone instructions onto Home Assistant light
// entities.
package lightdriver

import (
	"fmt"
	"math"
	"sync"

	"github.com/alxld/new-zone-light/internal/ha"
	"github.com/alxld/new-zone-light/internal/zone"

	"go.uber.org/zap"
)

// DefaultModes are the driver modes offered when a zone configures none
var DefaultModes = []string{zone.DefaultEffect, "Vivid", "Bright"}

// Driver controls one light entity through light.turn_on / light.turn_off.
// A disabled driver has released the entity; the next TurnOn claims it again.
type Driver struct {
	entityID string
	client   ha.HAClient
	logger   *zap.Logger
	readOnly bool
	modes    []string

	mu      sync.Mutex
	enabled bool
}

// New creates a driver for an entity
func New(entityID string, client ha.HAClient, logger *zap.Logger, readOnly bool, modes []string) *Driver {
	if len(modes) == 0 {
		modes = DefaultModes
	}
	return &Driver{
		entityID: entityID,
		client:   client,
		logger:   logger.Named("driver").With(zap.String("entity_id", entityID)),
		readOnly: readOnly,
		modes:    modes,
	}
}

// Factory returns a zone.DriverFactory that builds Drivers sharing one client
func Factory(client ha.HAClient, logger *zap.Logger, readOnly bool, modes []string) zone.DriverFactory {
	return func(entityID string) zone.LightDriver {
		return New(entityID, client, logger, readOnly, modes)
	}
}

// EntityID returns the controlled entity
func (d *Driver) EntityID() string {
	return d.entityID
}

// Enabled reports whether the driver currently claims its entity
func (d *Driver) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *Driver) setEnabled(v bool) {
	d.mu.Lock()
	d.enabled = v
	d.mu.Unlock()
}

// TurnOn renders a brightness in the given mode. "Normal" sends plain
// brightness; any other mode is sent as the light effect. A brightness that
// rounds to zero turns the light off.
func (d *Driver) TurnOn(brightness float64, override int, mode string, transition float64) error {
	d.setEnabled(true)

	br := int(math.Round(brightness))
	if br > 255 {
		br = 255
	}
	if br <= 0 {
		return d.call("turn_off", offData(d.entityID, transition),
			zap.Float64("brightness", brightness),
			zap.String("mode", mode))
	}

	data := ha.LightServiceData(d.entityID, br, transition)
	if mode != "" && mode != zone.DefaultEffect {
		if !d.supports(mode) {
			return fmt.Errorf("light %s: unsupported mode %q", d.entityID, mode)
		}
		data["effect"] = mode
	}
	return d.call("turn_on", data,
		zap.Int("brightness", br),
		zap.Int("override", override),
		zap.String("mode", mode))
}

// TurnOnSpecific forwards an explicit color directive
func (d *Driver) TurnOnSpecific(cd zone.ColorDirective) error {
	d.setEnabled(true)

	data := map[string]interface{}{"entity_id": d.entityID}
	if cd.Transition > 0 {
		data["transition"] = cd.Transition
	}
	if cd.Brightness != nil {
		data["brightness"] = *cd.Brightness
	}
	// Home Assistant rejects more than one color attribute per call, so only
	// the first of hs, rgb and color_temp is sent
	switch {
	case cd.HSColor != nil:
		data["hs_color"] = []float64{cd.HSColor[0], cd.HSColor[1]}
	case cd.RGBColor != nil:
		data["rgb_color"] = []int{cd.RGBColor[0], cd.RGBColor[1], cd.RGBColor[2]}
	case cd.ColorTemp != nil:
		data["color_temp"] = *cd.ColorTemp
	}
	return d.call("turn_on", data, zap.String("color_mode", cd.ColorMode))
}

// Disable releases the entity without changing it
func (d *Driver) Disable() error {
	d.setEnabled(false)
	d.logger.Debug("Driver disabled")
	return nil
}

// DisableAndTurnOff releases the entity and turns it off
func (d *Driver) DisableAndTurnOff(transition float64) error {
	d.setEnabled(false)
	return d.call("turn_off", offData(d.entityID, transition))
}

// SupportedColorModes returns the modes TurnOn accepts
func (d *Driver) SupportedColorModes() []string {
	return append([]string(nil), d.modes...)
}

func (d *Driver) supports(mode string) bool {
	for _, m := range d.modes {
		if m == mode {
			return true
		}
	}
	return false
}

func (d *Driver) call(service string, data map[string]interface{}, fields ...zap.Field) error {
	fields = append(fields, zap.String("service", "light."+service), zap.Any("data", data))
	if d.readOnly {
		d.logger.Info("READ-ONLY: Would call light service", fields...)
		return nil
	}

	d.logger.Debug("Calling light service", fields...)
	if err := d.client.CallService("light", service, data); err != nil {
		return fmt.Errorf("light.%s %s: %w", service, d.entityID, err)
	}
	return nil
}

func offData(entityID string, transition float64) map[string]interface{} {
	data := map[string]interface{}{"entity_id": entityID}
	if transition > 0 {
		data["transition"] = transition
	}
	return data
}
