package lightdriver

import (
	"fmt"

	"github.com/alxld/new-zone-light/internal/ha"

	"go.uber.org/zap"
)

// Services performs direct Home Assistant calls that bypass the drivers
type Services struct {
	client   ha.HAClient
	logger   *zap.Logger
	readOnly bool
}

// NewServices creates the service adapter
func NewServices(client ha.HAClient, logger *zap.Logger, readOnly bool) *Services {
	return &Services{
		client:   client,
		logger:   logger.Named("services"),
		readOnly: readOnly,
	}
}

// LightOn turns a light on at a brightness
func (s *Services) LightOn(entityID string, brightness int) error {
	return s.call("light", "turn_on", ha.LightServiceData(entityID, brightness, 0))
}

// LightOff turns a light off
func (s *Services) LightOff(entityID string) error {
	return s.call("light", "turn_off", map[string]interface{}{"entity_id": entityID})
}

// SceneOn activates a scene
func (s *Services) SceneOn(sceneID string) error {
	return s.call("scene", "turn_on", map[string]interface{}{"entity_id": sceneID})
}

func (s *Services) call(domain, service string, data map[string]interface{}) error {
	if s.readOnly {
		s.logger.Info("READ-ONLY: Would call service",
			zap.String("service", domain+"."+service),
			zap.Any("data", data))
		return nil
	}

	s.logger.Debug("Calling service",
		zap.String("service", domain+"."+service),
		zap.Any("data", data))
	if err := s.client.CallService(domain, service, data); err != nil {
		return fmt.Errorf("%s.%s: %w", domain, service, err)
	}
	return nil
}
